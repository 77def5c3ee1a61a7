package handler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	chatModels "parley/internal/domain/models/chat"
)

func TestBroadcaster_FansOutToAllClients(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := NewBroadcaster(logger)

	bus := make(chan chatModels.Event)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx, bus)

	first := b.AddClient("c1")
	second := b.AddClient("c2")

	bus <- chatModels.Event{Kind: chatModels.EventStatus, Content: "hello"}

	for name, ch := range map[string]<-chan chatModels.Event{"c1": first, "c2": second} {
		select {
		case event := <-ch:
			if event.Kind != chatModels.EventStatus || event.Content != "hello" {
				t.Errorf("%s received wrong event: %+v", name, event)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s did not receive the event", name)
		}
	}
}

func TestBroadcaster_RemoveClientClosesChannel(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := NewBroadcaster(logger)

	ch := b.AddClient("c1")
	b.RemoveClient("c1")

	select {
	case _, open := <-ch:
		if open {
			t.Error("expected closed channel after removal")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}

	// Removing twice is safe.
	b.RemoveClient("c1")
}
