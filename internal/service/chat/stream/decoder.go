package stream

import (
	"context"
	"fmt"
	"io"
)

// Decoder turns SSE data payloads into typed events. It tracks which block
// indices have started so deltas for unknown indices fail fast instead of
// corrupting assembly downstream.
//
// Not safe for concurrent use; one goroutine pulls Next until io.EOF.
type Decoder struct {
	scanner *Scanner
	started map[int]bool
	done    bool
}

// NewDecoder creates a Decoder over an SSE stream.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		scanner: NewScanner(r),
		started: make(map[int]bool),
	}
}

// Next returns the next decoded event.
//
//   - io.EOF at end of stream, after a server error event, or after
//     message_stop
//   - ctx.Err() when the caller cancelled; checked on every read
//   - *ProtocolError for malformed frames or out-of-order indices
//
// A server "error" event is returned once as an ErrorEvent; decoding then
// terminates.
func (d *Decoder) Next(ctx context.Context) (*Event, error) {
	if d.done {
		return nil, io.EOF
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		payload, err := d.scanner.Next()
		if err == io.EOF {
			d.done = true
			return nil, io.EOF
		}
		if err != nil {
			return nil, err
		}

		wire, parseErr := unmarshalWireEvent(payload)
		if parseErr != nil {
			return nil, &ProtocolError{Detail: "unparseable frame", Cause: parseErr}
		}

		event, decodeErr := d.decode(wire)
		if decodeErr != nil {
			return nil, decodeErr
		}
		if event == nil {
			// Unknown event type, skipped for forward compatibility.
			continue
		}
		event.Raw = payload
		return event, nil
	}
}

// decode maps one wire envelope to a typed event and enforces index order.
func (d *Decoder) decode(wire *wireEvent) (*Event, error) {
	switch wire.Type {
	case "message_start":
		event := &Event{Kind: MessageStart}
		if wire.Message != nil {
			event.Usage = wire.Message.Usage.toModel()
		}
		return event, nil

	case "content_block_start":
		if wire.ContentBlock == nil {
			return nil, &ProtocolError{Detail: fmt.Sprintf("content_block_start %d without content_block", wire.Index)}
		}
		d.started[wire.Index] = true
		return &Event{
			Kind:      ContentBlockStart,
			Index:     wire.Index,
			BlockKind: wire.ContentBlock.Type,
			ToolUseID: wire.ContentBlock.ID,
			ToolName:  wire.ContentBlock.Name,
			Redacted:  wire.ContentBlock.Data,
		}, nil

	case "content_block_delta":
		if !d.started[wire.Index] {
			return nil, &ProtocolError{Detail: fmt.Sprintf("delta for index %d before content_block_start", wire.Index)}
		}
		if wire.Delta == nil {
			return nil, &ProtocolError{Detail: fmt.Sprintf("content_block_delta %d without delta", wire.Index)}
		}
		return &Event{
			Kind:  ContentBlockDelta,
			Index: wire.Index,
			Delta: &Delta{
				Type:        wire.Delta.Type,
				Text:        wire.Delta.Text,
				Thinking:    wire.Delta.Thinking,
				PartialJSON: wire.Delta.PartialJSON,
				Signature:   wire.Delta.Signature,
			},
		}, nil

	case "content_block_stop":
		if !d.started[wire.Index] {
			return nil, &ProtocolError{Detail: fmt.Sprintf("stop for index %d before content_block_start", wire.Index)}
		}
		return &Event{Kind: ContentBlockStop, Index: wire.Index}, nil

	case "message_delta":
		event := &Event{Kind: MessageDelta, Usage: wire.Usage.toModel()}
		if wire.Delta != nil {
			event.StopReason = wire.Delta.StopReason
		}
		return event, nil

	case "message_stop":
		d.done = true
		return &Event{Kind: MessageStop}, nil

	case "ping":
		return &Event{Kind: Ping}, nil

	case "error":
		d.done = true
		event := &Event{Kind: ErrorEvent, ErrKind: "unknown", ErrDetail: "unknown stream error"}
		if wire.Error != nil {
			event.ErrKind = wire.Error.Type
			event.ErrDetail = wire.Error.Message
		}
		return event, nil

	default:
		return nil, nil
	}
}
