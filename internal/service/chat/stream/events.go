// Package stream implements the provider streaming transport: the HTTP
// request, the SSE line framing, and the typed event decoder the turn
// assembler consumes.
package stream

import (
	"encoding/json"
	"fmt"

	chatModels "parley/internal/domain/models/chat"
)

// Kind discriminates decoded stream events.
type Kind string

// Decoded event kinds
const (
	MessageStart      Kind = "message_start"
	ContentBlockStart Kind = "content_block_start"
	ContentBlockDelta Kind = "content_block_delta"
	ContentBlockStop  Kind = "content_block_stop"
	MessageDelta      Kind = "message_delta"
	MessageStop       Kind = "message_stop"
	Ping              Kind = "ping"
	ErrorEvent        Kind = "error"
)

// Delta subtypes within content_block_delta
const (
	DeltaText      = "text_delta"
	DeltaThinking  = "thinking_delta"
	DeltaInputJSON = "input_json_delta"
	DeltaSignature = "signature_delta"
)

// Delta is the incremental payload of a content_block_delta event. Type
// selects which field is populated.
type Delta struct {
	Type        string
	Text        string
	Thinking    string
	PartialJSON string
	Signature   string
}

// Event is one decoded stream event.
type Event struct {
	Kind  Kind
	Index int

	// content_block_start
	BlockKind string
	ToolUseID string
	ToolName  string
	Redacted  string // redacted_thinking arrives whole on block start

	// content_block_delta
	Delta *Delta

	// message_delta
	StopReason string

	// message_start / message_delta
	Usage *chatModels.Usage

	// error
	ErrKind   string
	ErrDetail string

	// Raw is the undecoded data payload. The assembler republishes the
	// message_start payload as the JSON of the MessageStart bus event.
	Raw string
}

// ProtocolError reports a malformed SSE frame or an event referencing an
// index that never started.
type ProtocolError struct {
	Detail string
	Cause  error
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Detail, e.Cause)
	}
	return fmt.Sprintf("protocol error: %s", e.Detail)
}

func (e *ProtocolError) Unwrap() error { return e.Cause }

// wireEvent is the JSON envelope of one SSE data payload. Type
// discriminates which optional fields are populated.
type wireEvent struct {
	Type         string       `json:"type"`
	Index        int          `json:"index"`
	Message      *wireMessage `json:"message,omitempty"`
	ContentBlock *wireBlock   `json:"content_block,omitempty"`
	Delta        *wireDelta   `json:"delta,omitempty"`
	Usage        *wireUsage   `json:"usage,omitempty"`
	Error        *wireError   `json:"error,omitempty"`
}

type wireMessage struct {
	ID    string     `json:"id"`
	Model string     `json:"model"`
	Usage *wireUsage `json:"usage,omitempty"`
}

type wireBlock struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Data      string `json:"data,omitempty"`
	Signature string `json:"signature,omitempty"`
}

type wireDelta struct {
	Type         string `json:"type,omitempty"`
	Text         string `json:"text,omitempty"`
	Thinking     string `json:"thinking,omitempty"`
	PartialJSON  string `json:"partial_json,omitempty"`
	Signature    string `json:"signature,omitempty"`
	StopReason   string `json:"stop_reason,omitempty"`
	StopSequence string `json:"stop_sequence,omitempty"`
}

type wireUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

type wireError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (u *wireUsage) toModel() *chatModels.Usage {
	if u == nil {
		return nil
	}
	return &chatModels.Usage{
		InputTokens:              u.InputTokens,
		OutputTokens:             u.OutputTokens,
		CacheCreationInputTokens: u.CacheCreationInputTokens,
		CacheReadInputTokens:     u.CacheReadInputTokens,
	}
}

// unmarshalWireEvent parses one data payload. A missing type field is a
// protocol error.
func unmarshalWireEvent(payload string) (*wireEvent, error) {
	var event wireEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return nil, err
	}
	if event.Type == "" {
		return nil, fmt.Errorf("missing type field")
	}
	return &event, nil
}
