package handler

import (
	"context"
	"log/slog"
	"sync"

	chatModels "parley/internal/domain/models/chat"
)

// clientBuffer bounds each SSE client's event channel. Slow clients drop
// events rather than stalling the bus drain.
const clientBuffer = 256

// Broadcaster drains the orchestrator event bus and fans events out to
// every connected SSE client.
type Broadcaster struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[string]chan chatModels.Event
}

// NewBroadcaster creates a Broadcaster.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		logger:  logger,
		clients: make(map[string]chan chatModels.Event),
	}
}

// Run drains the bus until the context ends. Call in its own goroutine.
func (b *Broadcaster) Run(ctx context.Context, events <-chan chatModels.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			b.broadcast(event)
		}
	}
}

// AddClient registers an SSE client and returns its event channel.
func (b *Broadcaster) AddClient(clientID string) <-chan chatModels.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan chatModels.Event, clientBuffer)
	b.clients[clientID] = ch
	return ch
}

// RemoveClient unregisters an SSE client and closes its channel.
func (b *Broadcaster) RemoveClient(clientID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, exists := b.clients[clientID]; exists {
		close(ch)
		delete(b.clients, clientID)
	}
}

// broadcast delivers one event to every client, dropping on full buffers.
func (b *Broadcaster) broadcast(event chatModels.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for clientID, ch := range b.clients {
		select {
		case ch <- event:
		default:
			b.logger.Warn("client event buffer full, dropping",
				"client_id", clientID,
				"kind", event.Kind,
			)
		}
	}
}
