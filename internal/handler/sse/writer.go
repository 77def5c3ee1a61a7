// Package sse writes streaming-bus events to HTTP clients as
// Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"

	chatModels "parley/internal/domain/models/chat"
)

// EventWriter serializes bus events onto one SSE connection.
type EventWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewEventWriter prepares the connection: sets SSE headers and returns a
// writer, or false when the ResponseWriter cannot flush.
func NewEventWriter(w http.ResponseWriter) (*EventWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")

	return &EventWriter{w: w, flusher: flusher}, true
}

// WriteEvent writes one bus event as a data record and flushes.
func (e *EventWriter) WriteEvent(event chatModels.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	e.flusher.Flush()
	return nil
}

// WriteKeepAlive writes an SSE comment line and flushes. Returns an error
// when the connection is gone.
func (e *EventWriter) WriteKeepAlive() error {
	if _, err := fmt.Fprintf(e.w, ": keepalive\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	e.flusher.Flush()
	return nil
}
