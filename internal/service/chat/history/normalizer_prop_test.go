package history

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	chatModels "parley/internal/domain/models/chat"
)

// decodeHistory maps a byte seed onto a message list, covering the shapes
// the normalizer has to survive: doubled roles, placeholders, empty
// bodies, dangling tool calls and orphan results.
func decodeHistory(seed []uint8) []chatModels.Message {
	var msgs []chatModels.Message

	for i, b := range seed {
		switch b % 8 {
		case 0:
			msgs = append(msgs, chatModels.NewUserText(fmt.Sprintf("user %d", i)))
		case 1:
			msgs = append(msgs, chatModels.NewAssistantText(fmt.Sprintf("assistant %d", i)))
		case 2:
			msgs = append(msgs, chatModels.NewUserTextPlaceholder())
		case 3:
			msgs = append(msgs, chatModels.NewAssistantPlaceholder())
		case 4:
			// Assistant turn ending in a tool call.
			msgs = append(msgs, chatModels.Message{
				Role: chatModels.RoleAssistant,
				Content: []chatModels.ContentBlock{
					chatModels.NewTextBlock("calling"),
					chatModels.NewToolUseBlock(fmt.Sprintf("t%d", i), "demo", map[string]interface{}{}),
				},
			})
		case 5:
			// User turn answering a (possibly nonexistent) tool call.
			msgs = append(msgs, chatModels.Message{
				Role: chatModels.RoleUser,
				Content: []chatModels.ContentBlock{
					chatModels.NewTextBlock("result"),
					chatModels.NewToolResultBlock(fmt.Sprintf("t%d", i-1),
						[]chatModels.ContentBlock{chatModels.NewTextBlock("out")}, false),
				},
			})
		case 6:
			// Empty message, dropped by cleaning.
			msgs = append(msgs, chatModels.Message{
				Role:    chatModels.RoleUser,
				Content: []chatModels.ContentBlock{chatModels.NewTextBlock("  ")},
			})
		case 7:
			// Duplicate text bodies within one message.
			msgs = append(msgs, chatModels.Message{
				Role: chatModels.RoleUser,
				Content: []chatModels.ContentBlock{
					chatModels.NewTextBlock("dup"),
					chatModels.NewTextBlock("dup"),
				},
			})
		}
	}

	return msgs
}

// holds checks the universal properties without failing the test directly.
func holds(msgs []chatModels.Message) bool {
	if len(msgs) == 0 {
		return true
	}
	if msgs[0].Role != chatModels.RoleUser {
		return false
	}
	if msgs[len(msgs)-1].Role != chatModels.RoleAssistant {
		return false
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Role == msgs[i-1].Role {
			return false
		}
		if isTextPlaceholder(msgs[i]) && isTextPlaceholder(msgs[i-1]) {
			return false
		}
	}
	for i, m := range msgs {
		if m.Role == chatModels.RoleAssistant {
			for _, id := range m.ToolUseIDs() {
				if i+1 >= len(msgs) || !containsToolResult(msgs[i+1], id) {
					return false
				}
			}
		}
		if m.Role == chatModels.RoleUser {
			for _, id := range m.ToolResultIDs() {
				if i == 0 || !containsToolUse(msgs[i-1], id) {
					return false
				}
			}
		}
	}
	return true
}

func TestNormalizeProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	logger := testLogger()

	properties.Property("normalized history satisfies the canonical invariants", prop.ForAll(
		func(seed []uint8) bool {
			return holds(Normalize(decodeHistory(seed), logger))
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.Property("normalize is idempotent", prop.ForAll(
		func(seed []uint8) bool {
			once := Normalize(decodeHistory(seed), logger)
			twice := Normalize(once, logger)

			if len(once) != len(twice) {
				return false
			}
			for i := range once {
				if once[i].Role != twice[i].Role || once[i].FirstText() != twice[i].FirstText() {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}
