package chat

import (
	"context"

	chatModels "parley/internal/domain/models/chat"
)

// LoadOptions bounds a history load from the store.
type LoadOptions struct {
	// Limit caps how many of the most recent messages are returned.
	// Zero means the store default.
	Limit int

	// TruncateChars, when positive, truncates text bodies to this many
	// characters, appending the fixed truncation suffix.
	TruncateChars int
}

// MessageStore persists conversation messages. Implementations return the
// most recent N messages in ascending time order regardless of how the
// underlying query pages.
type MessageStore interface {
	// AppendMessage persists one message with its ordered content blocks.
	AppendMessage(ctx context.Context, msg *chatModels.Message) error

	// LoadRecent returns the most recent messages in ascending time order.
	LoadRecent(ctx context.Context, opts LoadOptions) ([]chatModels.Message, error)
}
