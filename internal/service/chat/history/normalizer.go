// Package history repairs persisted conversation history so it always
// alternates user/assistant, opens with a user message, closes with an
// assistant message, and pairs every tool_use with its tool_result.
package history

import (
	"log/slog"
	"strings"

	chatModels "parley/internal/domain/models/chat"
)

// Normalize deterministically repairs a loaded history. It never fails:
// input beyond repair yields an empty history and a warning log.
//
// A history that already verifies (first user, last assistant, strict
// alternation, no adjacent placeholders, complete tool pairing) is
// returned unchanged, which makes Normalize idempotent: its own output
// always verifies.
func Normalize(msgs []chatModels.Message, logger *slog.Logger) []chatModels.Message {
	if verify(msgs) {
		return msgs
	}

	out := clean(msgs)
	out = collapseRepeats(out)
	out = enforceAlternation(out)
	out = removeSandwiches(out)
	out = collapseRuns(out)
	out = removePlaceholderRuns(out)
	out = bookend(out)
	out = repairToolPairing(out)
	out = verifyOrRebuild(out, logger)

	return out
}

// clean drops messages with no non-empty content; within a message it
// drops empty text blocks and deduplicates identical text bodies,
// preserving the first occurrence.
func clean(msgs []chatModels.Message) []chatModels.Message {
	var out []chatModels.Message

	for _, m := range msgs {
		seen := make(map[string]bool)
		var blocks []chatModels.ContentBlock

		for _, b := range m.Content {
			if b.Kind == chatModels.BlockKindText {
				if strings.TrimSpace(b.Text) == "" {
					continue
				}
				if seen[b.Text] {
					continue
				}
				seen[b.Text] = true
			}
			blocks = append(blocks, b)
		}

		if len(blocks) == 0 {
			continue
		}
		m.Content = blocks
		out = append(out, m)
	}

	return out
}

// collapseRepeats drops the `A - placeholder - A` pattern: the same
// message repeated around a wedged placeholder collapses to the newer A.
func collapseRepeats(msgs []chatModels.Message) []chatModels.Message {
	var out []chatModels.Message

	for i := 0; i < len(msgs); i++ {
		if i+2 < len(msgs) &&
			msgs[i+1].IsPlaceholder() &&
			msgs[i].Role == msgs[i+2].Role &&
			sameContent(msgs[i], msgs[i+2]) {
			// Skip the older copy and the placeholder; the newer copy is
			// picked up on the next iteration.
			i++
			continue
		}
		out = append(out, msgs[i])
	}

	return out
}

// enforceAlternation inserts an opposite-role placeholder between any two
// consecutive same-role messages. Two consecutive assistant messages where
// the first ends with a tool_use get a user tool_result placeholder
// answering that id.
func enforceAlternation(msgs []chatModels.Message) []chatModels.Message {
	var out []chatModels.Message

	for i, m := range msgs {
		out = append(out, m)

		if i+1 >= len(msgs) || msgs[i+1].Role != m.Role {
			continue
		}

		switch m.Role {
		case chatModels.RoleAssistant:
			if m.EndsWithToolUse() {
				out = append(out, chatModels.NewUserToolResultPlaceholder(m.LastToolUse().ToolUseID))
			} else {
				out = append(out, chatModels.NewUserTextPlaceholder())
			}
		default:
			out = append(out, chatModels.NewAssistantPlaceholder())
		}
	}

	return out
}

// removeSandwiches deletes every `placeholder - real - placeholder`
// triple: a real message wedged between artifacts is unreliable.
func removeSandwiches(msgs []chatModels.Message) []chatModels.Message {
	var out []chatModels.Message

	for i := 0; i < len(msgs); i++ {
		if i+2 < len(msgs) &&
			msgs[i].IsPlaceholder() &&
			!msgs[i+1].IsPlaceholder() &&
			msgs[i+2].IsPlaceholder() {
			i += 2
			continue
		}
		out = append(out, msgs[i])
	}

	return out
}

// collapseRuns collapses consecutive same-role messages to the last
// element of each run.
func collapseRuns(msgs []chatModels.Message) []chatModels.Message {
	var out []chatModels.Message

	for i := 0; i < len(msgs); i++ {
		if i+1 < len(msgs) && msgs[i+1].Role == msgs[i].Role {
			continue
		}
		out = append(out, msgs[i])
	}

	return out
}

// removePlaceholderRuns enforces "no two adjacent placeholders", keeping
// the first of each run. Placeholders carrying a tool_result are exempt:
// they answer a real tool_use and removing them would break pairing.
func removePlaceholderRuns(msgs []chatModels.Message) []chatModels.Message {
	var out []chatModels.Message

	for i := 0; i < len(msgs); i++ {
		out = append(out, msgs[i])
		if !isTextPlaceholder(msgs[i]) {
			continue
		}
		for i+1 < len(msgs) && isTextPlaceholder(msgs[i+1]) {
			i++
		}
	}

	return out
}

// isTextPlaceholder reports a pure filler message: a placeholder with no
// tool_result payload.
func isTextPlaceholder(m chatModels.Message) bool {
	return m.IsPlaceholder() && len(m.ToolResultIDs()) == 0
}

// bookend brackets the history with valid endpoints: user first,
// assistant last, and a dangling final tool_use answered.
func bookend(msgs []chatModels.Message) []chatModels.Message {
	if len(msgs) == 0 {
		return msgs
	}

	if msgs[0].Role == chatModels.RoleAssistant {
		msgs = append([]chatModels.Message{chatModels.NewUserTextPlaceholder()}, msgs...)
	}

	last := msgs[len(msgs)-1]
	switch {
	case last.Role == chatModels.RoleUser:
		msgs = append(msgs, chatModels.NewAssistantPlaceholder())
	case last.Role == chatModels.RoleAssistant && len(last.ToolUseIDs()) > 0:
		// Nothing can follow the final message, so every tool_use in it
		// is unanswered.
		msgs = append(msgs,
			toolResultsPlaceholder(last.ToolUseIDs()),
			chatModels.NewAssistantPlaceholder(),
		)
	}

	return msgs
}

// toolResultsPlaceholder builds one user filler message answering every
// given tool_use id.
func toolResultsPlaceholder(ids []string) chatModels.Message {
	blocks := []chatModels.ContentBlock{chatModels.NewTextBlock(chatModels.PlaceholderUserToolResult)}
	for _, id := range ids {
		blocks = append(blocks, chatModels.NewToolResultBlock(
			id,
			[]chatModels.ContentBlock{chatModels.NewTextBlock(chatModels.PlaceholderUserToolResult)},
			false,
		))
	}
	return chatModels.Message{Role: chatModels.RoleUser, Content: blocks, Placeholder: true}
}

// repairToolPairing completes the tool invariants: every assistant
// tool_use gets a matching tool_result in the following user message, and
// user tool_result blocks without a matching preceding tool_use are
// dropped.
func repairToolPairing(msgs []chatModels.Message) []chatModels.Message {
	for i := range msgs {
		if msgs[i].Role != chatModels.RoleUser {
			continue
		}

		// Ids offered by the directly preceding assistant message.
		offered := make(map[string]bool)
		if i > 0 && msgs[i-1].Role == chatModels.RoleAssistant {
			for _, id := range msgs[i-1].ToolUseIDs() {
				offered[id] = true
			}
		}

		// Drop orphan tool_result blocks.
		var blocks []chatModels.ContentBlock
		for _, b := range msgs[i].Content {
			if b.Kind == chatModels.BlockKindToolResult && !offered[b.ToolUseID] {
				continue
			}
			blocks = append(blocks, b)
		}
		if len(blocks) == 0 {
			blocks = []chatModels.ContentBlock{chatModels.NewTextBlock(chatModels.PlaceholderUserText)}
			msgs[i].Placeholder = true
		}

		// Answer unanswered tool_use ids.
		answered := make(map[string]bool)
		for _, b := range blocks {
			if b.Kind == chatModels.BlockKindToolResult {
				answered[b.ToolUseID] = true
			}
		}
		if i > 0 && msgs[i-1].Role == chatModels.RoleAssistant {
			for _, id := range msgs[i-1].ToolUseIDs() {
				if answered[id] {
					continue
				}
				blocks = append(blocks, chatModels.NewToolResultBlock(
					id,
					[]chatModels.ContentBlock{chatModels.NewTextBlock(chatModels.PlaceholderUserToolResult)},
					false,
				))
			}
		}

		msgs[i].Content = blocks
	}

	return msgs
}

// verifyOrRebuild is the final gate. When verification fails the
// non-alternating tail is discarded from the first user message onward and
// an assistant placeholder appended if needed; input with no usable user
// message yields an empty history.
func verifyOrRebuild(msgs []chatModels.Message, logger *slog.Logger) []chatModels.Message {
	if verify(msgs) {
		return msgs
	}

	// Find the first user message.
	start := -1
	for i, m := range msgs {
		if m.Role == chatModels.RoleUser {
			start = i
			break
		}
	}
	if start == -1 {
		logger.Warn("history beyond repair, discarding", "messages", len(msgs))
		return nil
	}

	// Keep only messages that continue strict alternation.
	var out []chatModels.Message
	expect := chatModels.RoleUser
	for _, m := range msgs[start:] {
		if m.Role != expect {
			continue
		}
		out = append(out, m)
		if expect == chatModels.RoleUser {
			expect = chatModels.RoleAssistant
		} else {
			expect = chatModels.RoleUser
		}
	}

	if len(out) == 0 {
		logger.Warn("history beyond repair, discarding", "messages", len(msgs))
		return nil
	}
	if out[len(out)-1].Role == chatModels.RoleUser {
		out = append(out, chatModels.NewAssistantPlaceholder())
	}

	if !verify(out) {
		logger.Warn("history still invalid after rebuild, discarding", "messages", len(msgs))
		return nil
	}
	return out
}

// verify checks the full canonical property set: user first, assistant
// last, strict alternation, no two adjacent placeholders, and complete
// tool pairing in both directions.
func verify(msgs []chatModels.Message) bool {
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
		switch m.Role {
		case chatModels.RoleAssistant:
			for _, id := range m.ToolUseIDs() {
				if i+1 >= len(msgs) || !containsToolResult(msgs[i+1], id) {
					return false
				}
			}
		case chatModels.RoleUser:
			for _, id := range m.ToolResultIDs() {
				if i == 0 || !containsToolUse(msgs[i-1], id) {
					return false
				}
			}
		}
	}

	return true
}

func containsToolResult(m chatModels.Message, id string) bool {
	for _, rid := range m.ToolResultIDs() {
		if rid == id {
			return true
		}
	}
	return false
}

func containsToolUse(m chatModels.Message, id string) bool {
	for _, uid := range m.ToolUseIDs() {
		if uid == id {
			return true
		}
	}
	return false
}

// sameContent compares two messages by their rendered block content.
func sameContent(a, b chatModels.Message) bool {
	if len(a.Content) != len(b.Content) {
		return false
	}
	for i := range a.Content {
		if !sameBlock(a.Content[i], b.Content[i]) {
			return false
		}
	}
	return true
}

func sameBlock(a, b chatModels.ContentBlock) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case chatModels.BlockKindText:
		return a.Text == b.Text
	case chatModels.BlockKindThinking:
		return a.Thinking == b.Thinking && a.Signature == b.Signature
	case chatModels.BlockKindRedactedThinking:
		return a.Redacted == b.Redacted
	case chatModels.BlockKindToolUse:
		return a.ToolUseID == b.ToolUseID && a.ToolName == b.ToolName
	case chatModels.BlockKindToolResult:
		return a.ToolUseID == b.ToolUseID && a.IsError == b.IsError
	case chatModels.BlockKindImage:
		return a.Source != nil && b.Source != nil && a.Source.Data == b.Source.Data
	default:
		return false
	}
}
