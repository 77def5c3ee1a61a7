package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

// sseStream builds an SSE body from data payloads.
func sseStream(payloads ...string) io.Reader {
	var b strings.Builder
	for _, p := range payloads {
		b.WriteString("data: ")
		b.WriteString(p)
		b.WriteString("\n\n")
	}
	return strings.NewReader(b.String())
}

func collectEvents(t *testing.T, d *Decoder) []*Event {
	t.Helper()
	var events []*Event
	for {
		event, err := d.Next(context.Background())
		if err == io.EOF {
			return events
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		events = append(events, event)
	}
}

func TestDecoder_FullTurnSequence(t *testing.T) {
	d := NewDecoder(sseStream(
		`{"type":"message_start","message":{"id":"msg_1","model":"m","usage":{"input_tokens":12,"output_tokens":0}}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"text"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hello"}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"t1","name":"demo"}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"sample_data\":\"x\"}"}}`,
		`{"type":"content_block_stop","index":1}`,
		`{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":9}}`,
		`{"type":"message_stop"}`,
	))

	events := collectEvents(t, d)

	wantKinds := []Kind{
		MessageStart,
		ContentBlockStart, ContentBlockDelta, ContentBlockStop,
		ContentBlockStart, ContentBlockDelta, ContentBlockStop,
		MessageDelta, MessageStop,
	}
	if len(events) != len(wantKinds) {
		t.Fatalf("expected %d events, got %d", len(wantKinds), len(events))
	}
	for i, kind := range wantKinds {
		if events[i].Kind != kind {
			t.Errorf("event %d: expected %s, got %s", i, kind, events[i].Kind)
		}
	}

	if events[0].Usage == nil || events[0].Usage.InputTokens != 12 {
		t.Errorf("message_start usage not decoded: %+v", events[0].Usage)
	}
	if events[4].ToolUseID != "t1" || events[4].ToolName != "demo" {
		t.Errorf("tool_use start not decoded: %+v", events[4])
	}
	if events[7].StopReason != "tool_use" {
		t.Errorf("stop reason not decoded: %q", events[7].StopReason)
	}
	if events[7].Usage == nil || events[7].Usage.OutputTokens != 9 {
		t.Errorf("message_delta usage not decoded: %+v", events[7].Usage)
	}
}

func TestDecoder_ProtocolErrorOnBadJSON(t *testing.T) {
	d := NewDecoder(sseStream(`{not json`))

	_, err := d.Next(context.Background())
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
}

func TestDecoder_ProtocolErrorOnDeltaBeforeStart(t *testing.T) {
	d := NewDecoder(sseStream(
		`{"type":"message_start"}`,
		`{"type":"content_block_delta","index":3,"delta":{"type":"text_delta","text":"x"}}`,
	))

	if _, err := d.Next(context.Background()); err != nil {
		t.Fatalf("message_start failed: %v", err)
	}

	_, err := d.Next(context.Background())
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("expected ProtocolError for unstarted index, got %v", err)
	}
}

func TestDecoder_ServerErrorTerminates(t *testing.T) {
	d := NewDecoder(sseStream(
		`{"type":"error","error":{"type":"overloaded_error","message":"busy"}}`,
		`{"type":"ping"}`,
	))

	event, err := d.Next(context.Background())
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if event.Kind != ErrorEvent || event.ErrKind != "overloaded_error" || event.ErrDetail != "busy" {
		t.Errorf("error event not decoded: %+v", event)
	}

	if _, err := d.Next(context.Background()); err != io.EOF {
		t.Errorf("expected EOF after error event, got %v", err)
	}
}

func TestDecoder_UnknownEventTypesSkipped(t *testing.T) {
	d := NewDecoder(sseStream(
		`{"type":"future_event"}`,
		`{"type":"ping"}`,
	))

	event, err := d.Next(context.Background())
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if event.Kind != Ping {
		t.Errorf("expected the unknown event to be skipped, got %s", event.Kind)
	}
}

func TestDecoder_CancellationObservedOnNextRead(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := NewDecoder(sseStream(`{"type":"ping"}`))
	if _, err := d.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
