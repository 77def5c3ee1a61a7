package pairbuffer

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	chatModels "parley/internal/domain/models/chat"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func useMessage(id, name string) chatModels.Message {
	return chatModels.Message{
		Role: chatModels.RoleAssistant,
		Content: []chatModels.ContentBlock{
			chatModels.NewTextBlock(chatModels.ToolCalledText),
			chatModels.NewToolUseBlock(id, name, map[string]interface{}{}),
		},
	}
}

func resultMessage(id string) chatModels.Message {
	return chatModels.Message{
		Role: chatModels.RoleUser,
		Content: []chatModels.ContentBlock{
			chatModels.NewTextBlock(chatModels.ToolResultText),
			chatModels.NewToolResultBlock(id, []chatModels.ContentBlock{chatModels.NewTextBlock("out")}, false),
		},
	}
}

func TestBuffer_UseThenResultPairs(t *testing.T) {
	b := New(time.Minute, testLogger())

	if pair := b.BufferUse("t1", useMessage("t1", "demo")); pair != nil {
		t.Fatalf("unexpected pair on first use: %+v", pair)
	}
	if b.PendingUseCount() != 1 {
		t.Fatalf("expected 1 pending use, got %d", b.PendingUseCount())
	}

	pair := b.BufferResult("t1", resultMessage("t1"))
	if pair == nil {
		t.Fatal("expected pair on matching result")
	}
	if pair.ToolUseID != "t1" {
		t.Errorf("wrong pair id: %s", pair.ToolUseID)
	}

	// Both entries are consumed.
	if b.PendingUseCount() != 0 {
		t.Errorf("pending use not removed")
	}
	pairs, expired := b.Flush()
	if len(pairs) != 0 || len(expired) != 0 {
		t.Errorf("expected empty flush, got %d pairs %d expired", len(pairs), len(expired))
	}
}

func TestBuffer_ResultThenUsePairs(t *testing.T) {
	b := New(time.Minute, testLogger())

	if pair := b.BufferResult("t2", resultMessage("t2")); pair != nil {
		t.Fatalf("unexpected pair on orphan result: %+v", pair)
	}

	pair := b.BufferUse("t2", useMessage("t2", "demo"))
	if pair == nil {
		t.Fatal("expected pair when use meets waiting result")
	}
	if pair.ToolUseID != "t2" {
		t.Errorf("wrong pair id: %s", pair.ToolUseID)
	}
}

func TestBuffer_FlushOrdersByEnqueueTime(t *testing.T) {
	b := New(time.Minute, testLogger())

	b.BufferUse("a", useMessage("a", "first"))
	time.Sleep(5 * time.Millisecond)
	b.BufferUse("b", useMessage("b", "second"))

	// Results deposited out of order.
	b.mu.Lock()
	b.pendingResult["b"] = resultMessage("b")
	b.pendingResult["a"] = resultMessage("a")
	b.mu.Unlock()

	pairs, _ := b.Flush()
	if len(pairs) != 2 {
		t.Fatalf("expected 2 pairs, got %d", len(pairs))
	}
	if pairs[0].ToolUseID != "a" || pairs[1].ToolUseID != "b" {
		t.Errorf("pairs out of enqueue order: %s, %s", pairs[0].ToolUseID, pairs[1].ToolUseID)
	}
}

func TestBuffer_ExpiresUnansweredUses(t *testing.T) {
	b := New(10*time.Millisecond, testLogger())

	b.BufferUse("old", useMessage("old", "demo"))
	time.Sleep(30 * time.Millisecond)

	pairs, expired := b.Flush()
	if len(pairs) != 0 {
		t.Errorf("expected no pairs, got %d", len(pairs))
	}
	if len(expired) != 1 || expired[0].ToolUseID != "old" {
		t.Fatalf("expected expiry of 'old', got %+v", expired)
	}

	// Expired entries are gone for good.
	if pair := b.BufferResult("old", resultMessage("old")); pair != nil {
		t.Errorf("expired use must not pair: %+v", pair)
	}
}

func TestBuffer_ResultsNeverExpire(t *testing.T) {
	b := New(10*time.Millisecond, testLogger())

	b.BufferResult("r1", resultMessage("r1"))
	time.Sleep(30 * time.Millisecond)

	if pairs, expired := b.Flush(); len(pairs) != 0 || len(expired) != 0 {
		t.Fatalf("results must not expire: %d pairs %d expired", len(pairs), len(expired))
	}

	// A late use still pairs.
	if pair := b.BufferUse("r1", useMessage("r1", "demo")); pair == nil {
		t.Error("expected waiting result to pair with late use")
	}
}

func TestBuffer_PendingToolNames(t *testing.T) {
	b := New(time.Minute, testLogger())

	b.BufferUse("a", useMessage("a", "search"))
	time.Sleep(5 * time.Millisecond)
	b.BufferUse("b", useMessage("b", "demo"))

	names := b.PendingToolNames()
	if len(names) != 2 || names[0] != "search" || names[1] != "demo" {
		t.Errorf("unexpected pending names: %v", names)
	}
}

// TestBuffer_ExactlyOncePairing checks the exactly-once property under
// concurrent use/result deposits in arbitrary order.
func TestBuffer_ExactlyOncePairing(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("each id pairs exactly once", prop.ForAll(
		func(n int, useFirstMask []bool) bool {
			b := New(time.Minute, testLogger())

			var wg sync.WaitGroup
			var mu sync.Mutex
			seen := make(map[string]int)

			record := func(pair *Pair) {
				if pair == nil {
					return
				}
				mu.Lock()
				seen[pair.ToolUseID]++
				mu.Unlock()
			}

			for i := 0; i < n; i++ {
				id := fmt.Sprintf("t%d", i)
				useFirst := i < len(useFirstMask) && useFirstMask[i]

				wg.Add(2)
				go func(id string, useFirst bool) {
					defer wg.Done()
					if useFirst {
						record(b.BufferUse(id, useMessage(id, "demo")))
					} else {
						record(b.BufferResult(id, resultMessage(id)))
					}
				}(id, useFirst)
				go func(id string, useFirst bool) {
					defer wg.Done()
					if useFirst {
						record(b.BufferResult(id, resultMessage(id)))
					} else {
						record(b.BufferUse(id, useMessage(id, "demo")))
					}
				}(id, useFirst)
			}
			wg.Wait()

			pairs, _ := b.Flush()
			for _, p := range pairs {
				record(&p)
			}

			if len(seen) != n {
				return false
			}
			for _, count := range seen {
				if count != 1 {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 20),
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}
