package chat

import (
	"strings"
	"time"
)

// Role constants
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is a role paired with an ordered, non-empty list of content blocks.
//
// Invariants enforced by the normalizer and the orchestrator:
//   - a tool_result block is never the first block of a message
//   - a tool_use block is never the first block of a message
//     (a text block is synthesized in front when needed)
//
// Placeholder tags messages synthesized to preserve alternation. The legacy
// sentinel-prefix detection (IsPlaceholder) still works on persisted data
// that predates the field.
type Message struct {
	ID          string         `json:"id,omitempty"`
	Role        string         `json:"role"`
	Content     []ContentBlock `json:"content"`
	Placeholder bool           `json:"placeholder,omitempty"`
	CreatedAt   time.Time      `json:"created_at,omitempty"`
}

// NewUserText creates a single-text-block user message.
func NewUserText(text string) Message {
	return Message{Role: RoleUser, Content: []ContentBlock{NewTextBlock(text)}}
}

// NewAssistantText creates a single-text-block assistant message.
func NewAssistantText(text string) Message {
	return Message{Role: RoleAssistant, Content: []ContentBlock{NewTextBlock(text)}}
}

// FirstText returns the body of the first text block, or "".
func (m Message) FirstText() string {
	for _, b := range m.Content {
		if b.Kind == BlockKindText {
			return b.Text
		}
	}
	return ""
}

// HasToolUse reports whether any block is a tool_use.
func (m Message) HasToolUse() bool {
	for _, b := range m.Content {
		if b.Kind == BlockKindToolUse {
			return true
		}
	}
	return false
}

// ToolUseIDs returns the ids of all tool_use blocks in order.
func (m Message) ToolUseIDs() []string {
	var ids []string
	for _, b := range m.Content {
		if b.Kind == BlockKindToolUse {
			ids = append(ids, b.ToolUseID)
		}
	}
	return ids
}

// ToolResultIDs returns the ids of all tool_result blocks in order.
func (m Message) ToolResultIDs() []string {
	var ids []string
	for _, b := range m.Content {
		if b.Kind == BlockKindToolResult {
			ids = append(ids, b.ToolUseID)
		}
	}
	return ids
}

// LastToolUse returns the last tool_use block, or nil.
func (m Message) LastToolUse() *ContentBlock {
	for i := len(m.Content) - 1; i >= 0; i-- {
		if m.Content[i].Kind == BlockKindToolUse {
			return &m.Content[i]
		}
	}
	return nil
}

// EndsWithToolUse reports whether the final block is a tool_use.
func (m Message) EndsWithToolUse() bool {
	if len(m.Content) == 0 {
		return false
	}
	return m.Content[len(m.Content)-1].Kind == BlockKindToolUse
}

// IsPlaceholder reports whether the message is a synthetic alternation
// filler: either tagged explicitly or carrying the legacy sentinel prefix
// in its sole textual content.
func (m Message) IsPlaceholder() bool {
	if m.Placeholder {
		return true
	}
	return strings.HasPrefix(m.FirstText(), PlaceholderPrefix)
}

// IsKeepAlivePing reports whether the message is a cache keep-alive ping.
// Ping turns (both directions) are excluded from the persistent store.
func (m Message) IsKeepAlivePing() bool {
	return strings.Contains(m.FirstText(), KeepAliveMarker)
}

// HasContent reports whether the message carries at least one non-empty block.
func (m Message) HasContent() bool {
	for _, b := range m.Content {
		if b.Kind == BlockKindText && strings.TrimSpace(b.Text) == "" {
			continue
		}
		return true
	}
	return false
}
