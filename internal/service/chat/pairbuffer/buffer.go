// Package pairbuffer pairs tool_use blocks with their tool_result
// counterparts by tool-use id, without blocking the conversation while
// tools run.
package pairbuffer

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	chatModels "parley/internal/domain/models/chat"
)

// DefaultTimeout is the pair expiry applied when none is configured.
const DefaultTimeout = 5 * time.Minute

// Pair is a matched tool_use / tool_result couple, ready to send.
type Pair struct {
	ToolUseID string
	Use       chatModels.Message // assistant message holding the tool_use
	Result    chatModels.Message // user message holding the tool_result

	enqueuedAt time.Time
}

// Expired reports a tool_use that waited past the timeout without a
// result. Expired entries are discarded; they never reach the model.
type Expired struct {
	ToolUseID string
	Use       chatModels.Message
	Age       time.Duration
}

// pendingUse is one buffered outbound tool call.
type pendingUse struct {
	message    chatModels.Message
	enqueuedAt time.Time
}

// Buffer is the thread-safe pairing queue. One mutex guards both maps;
// pairs are returned to the caller rather than delivered via callback so
// nothing user-provided ever runs under the lock.
type Buffer struct {
	mu sync.Mutex

	pendingUse    map[string]pendingUse
	pendingResult map[string]chatModels.Message

	timeout time.Duration
	logger  *slog.Logger
}

// New creates a Buffer. timeout <= 0 selects DefaultTimeout.
func New(timeout time.Duration, logger *slog.Logger) *Buffer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Buffer{
		pendingUse:    make(map[string]pendingUse),
		pendingResult: make(map[string]chatModels.Message),
		timeout:       timeout,
		logger:        logger,
	}
}

// BufferUse stores an assistant tool_use message under its id. If the
// matching result already arrived the completed pair is returned and both
// entries are removed; otherwise nil.
func (b *Buffer) BufferUse(id string, msg chatModels.Message) *Pair {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()

	if result, ok := b.pendingResult[id]; ok {
		delete(b.pendingResult, id)
		return &Pair{ToolUseID: id, Use: msg, Result: result, enqueuedAt: now}
	}

	b.pendingUse[id] = pendingUse{message: msg, enqueuedAt: now}
	return nil
}

// BufferResult stores a user tool_result message under its id. If the
// matching use is waiting the completed pair is returned and both entries
// are removed; otherwise nil. Unmatched results never expire on their own.
func (b *Buffer) BufferResult(id string, msg chatModels.Message) *Pair {
	b.mu.Lock()
	defer b.mu.Unlock()

	if use, ok := b.pendingUse[id]; ok {
		delete(b.pendingUse, id)
		return &Pair{ToolUseID: id, Use: use.message, Result: msg, enqueuedAt: use.enqueuedAt}
	}

	b.pendingResult[id] = msg
	return nil
}

// Flush returns all id-matched pairs in ascending enqueue order and drops
// them, plus every timed-out unanswered tool_use (removed and reported).
func (b *Buffer) Flush() ([]Pair, []Expired) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	var pairs []Pair
	var expired []Expired

	for id, use := range b.pendingUse {
		if result, ok := b.pendingResult[id]; ok {
			pairs = append(pairs, Pair{
				ToolUseID:  id,
				Use:        use.message,
				Result:     result,
				enqueuedAt: use.enqueuedAt,
			})
			delete(b.pendingUse, id)
			delete(b.pendingResult, id)
			continue
		}

		if age := now.Sub(use.enqueuedAt); age > b.timeout {
			expired = append(expired, Expired{ToolUseID: id, Use: use.message, Age: age})
			delete(b.pendingUse, id)
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].enqueuedAt.Before(pairs[j].enqueuedAt)
	})

	if len(expired) > 0 {
		for _, e := range expired {
			b.logger.Warn("tool pair expired",
				"tool_use_id", e.ToolUseID,
				"age", e.Age,
			)
		}
	}

	return pairs, expired
}

// PendingToolNames snapshots the tool names of every buffered tool_use, in
// ascending enqueue order, for the outstanding-tool notice.
func (b *Buffer) PendingToolNames() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	type entry struct {
		name string
		at   time.Time
	}
	var entries []entry

	for _, use := range b.pendingUse {
		for _, block := range use.message.Content {
			if block.Kind == chatModels.BlockKindToolUse {
				entries = append(entries, entry{name: block.ToolName, at: use.enqueuedAt})
			}
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].at.Before(entries[j].at) })

	var names []string
	for _, e := range entries {
		names = append(names, e.name)
	}
	return names
}

// PendingUseCount returns how many tool calls await results.
func (b *Buffer) PendingUseCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pendingUse)
}
