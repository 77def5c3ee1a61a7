package chat

import (
	"encoding/json"
	"fmt"
)

// Block kind constants - the discriminator for ContentBlock
const (
	BlockKindText             = "text"
	BlockKindImage            = "image"
	BlockKindThinking         = "thinking"
	BlockKindRedactedThinking = "redacted_thinking"
	BlockKindToolUse          = "tool_use"
	BlockKindToolResult       = "tool_result"
)

// Cache TTL hints accepted by the provider
const (
	CacheTTL5Min  = "5m"
	CacheTTL1Hour = "1h"
)

// CacheControl marks a block as a prompt-cache breakpoint.
// The prefix up to and including the marked block becomes a cacheable segment.
type CacheControl struct {
	Type string `json:"type"` // always "ephemeral"
	TTL  string `json:"ttl,omitempty"`
}

// EphemeralCache returns a cache marker with the given TTL hint ("" for provider default).
func EphemeralCache(ttl string) *CacheControl {
	return &CacheControl{Type: "ephemeral", TTL: ttl}
}

// ImageSource holds base64-encoded image data for image blocks.
type ImageSource struct {
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// ContentBlock is one typed fragment of a message. Kind discriminates which
// fields are populated:
//
//	text:              Text
//	image:             Source
//	thinking:          Thinking, Signature
//	redacted_thinking: Redacted (opaque server blob)
//	tool_use:          ToolUseID, ToolName, Input
//	tool_result:       ToolUseID, Nested (text/image blocks), IsError
//
// CacheControl is optional on every kind.
type ContentBlock struct {
	Kind string

	Text string

	Source *ImageSource

	Thinking  string
	Signature string

	Redacted string

	ToolUseID string
	ToolName  string
	Input     map[string]interface{}

	Nested  []ContentBlock
	IsError bool

	CacheControl *CacheControl
}

// NewTextBlock creates a text block.
func NewTextBlock(text string) ContentBlock {
	return ContentBlock{Kind: BlockKindText, Text: text}
}

// NewImageBlock creates a base64 image block.
func NewImageBlock(mediaType, data string) ContentBlock {
	return ContentBlock{Kind: BlockKindImage, Source: &ImageSource{MediaType: mediaType, Data: data}}
}

// NewToolUseBlock creates a tool_use block.
func NewToolUseBlock(id, name string, input map[string]interface{}) ContentBlock {
	return ContentBlock{Kind: BlockKindToolUse, ToolUseID: id, ToolName: name, Input: input}
}

// NewToolResultBlock creates a tool_result block wrapping nested content.
func NewToolResultBlock(toolUseID string, nested []ContentBlock, isError bool) ContentBlock {
	return ContentBlock{Kind: BlockKindToolResult, ToolUseID: toolUseID, Nested: nested, IsError: isError}
}

// wireBlock is the provider wire shape for a content block. ContentBlock
// (de)serializes through it so the tagged struct stays the single in-memory
// representation.
type wireBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	Source *ImageSource `json:"source,omitempty"`

	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	Data string `json:"data,omitempty"`

	ID    string                 `json:"id,omitempty"`
	Name  string                 `json:"name,omitempty"`
	Input map[string]interface{} `json:"input,omitempty"`

	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`

	CacheControl *CacheControl `json:"cache_control,omitempty"`
}

// MarshalJSON renders the block in the provider wire format.
func (b ContentBlock) MarshalJSON() ([]byte, error) {
	w := wireBlock{Type: b.Kind, CacheControl: b.CacheControl}

	switch b.Kind {
	case BlockKindText:
		w.Text = b.Text

	case BlockKindImage:
		w.Source = b.Source

	case BlockKindThinking:
		w.Thinking = b.Thinking
		w.Signature = b.Signature

	case BlockKindRedactedThinking:
		w.Data = b.Redacted

	case BlockKindToolUse:
		w.ID = b.ToolUseID
		w.Name = b.ToolName
		input := b.Input
		if input == nil {
			// Providers reject tool_use without an input object
			input = map[string]interface{}{}
		}
		w.Input = input

	case BlockKindToolResult:
		w.ToolUseID = b.ToolUseID
		w.IsError = b.IsError
		if len(b.Nested) > 0 {
			nested, err := json.Marshal(b.Nested)
			if err != nil {
				return nil, fmt.Errorf("marshal tool_result content: %w", err)
			}
			w.Content = nested
		}

	default:
		return nil, fmt.Errorf("unknown block kind: %q", b.Kind)
	}

	return json.Marshal(w)
}

// UnmarshalJSON parses a block from the provider wire format.
func (b *ContentBlock) UnmarshalJSON(data []byte) error {
	var w wireBlock
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*b = ContentBlock{Kind: w.Type, CacheControl: w.CacheControl}

	switch w.Type {
	case BlockKindText:
		b.Text = w.Text

	case BlockKindImage:
		b.Source = w.Source

	case BlockKindThinking:
		b.Thinking = w.Thinking
		b.Signature = w.Signature

	case BlockKindRedactedThinking:
		b.Redacted = w.Data

	case BlockKindToolUse:
		b.ToolUseID = w.ID
		b.ToolName = w.Name
		b.Input = w.Input

	case BlockKindToolResult:
		b.ToolUseID = w.ToolUseID
		b.IsError = w.IsError
		if len(w.Content) > 0 {
			var nested []ContentBlock
			if err := json.Unmarshal(w.Content, &nested); err != nil {
				// Some stores hold tool_result content as a bare string
				var s string
				if serr := json.Unmarshal(w.Content, &s); serr != nil {
					return fmt.Errorf("unmarshal tool_result content: %w", err)
				}
				nested = []ContentBlock{NewTextBlock(s)}
			}
			b.Nested = nested
		}

	default:
		return fmt.Errorf("unknown block kind: %q", w.Type)
	}

	return nil
}
