package chat

import (
	"log/slog"

	chatModels "parley/internal/domain/models/chat"
)

// busCapacity bounds the streaming event channel. Publication never
// blocks: when the consumer falls this far behind, events are dropped
// with a warning so stream throughput stays independent of UI latency.
const busCapacity = 1024

// Bus is the ordered streaming-event channel between the orchestrator and
// its front-end consumer.
type Bus struct {
	events chan chatModels.Event
	logger *slog.Logger
}

// NewBus creates a Bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		events: make(chan chatModels.Event, busCapacity),
		logger: logger,
	}
}

// Events returns the receive side. The consumer is free to drop event
// kinds it does not render.
func (b *Bus) Events() <-chan chatModels.Event {
	return b.events
}

// Publish enqueues an event without blocking the producer.
func (b *Bus) Publish(event chatModels.Event) {
	select {
	case b.events <- event:
	default:
		b.logger.Warn("event bus full, dropping event", "kind", event.Kind)
	}
}
