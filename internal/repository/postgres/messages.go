package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	chatModels "parley/internal/domain/models/chat"
	chatRepo "parley/internal/domain/repositories/chat"
)

// TruncationSuffix is appended to text bodies cut at the load limit.
const TruncationSuffix = "… [truncated]"

// defaultLoadLimit caps history loads when the caller passes no limit.
const defaultLoadLimit = 200

// MessageRepository implements the MessageStore interface on PostgreSQL.
// Messages are stored one row each, content as a JSONB array of blocks in
// the wire shape.
type MessageRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewMessageRepository creates a MessageRepository.
func NewMessageRepository(config *RepositoryConfig) chatRepo.MessageStore {
	return &MessageRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// AppendMessage persists one message with its ordered content blocks.
func (r *MessageRepository) AppendMessage(ctx context.Context, msg *chatModels.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	content, err := json.Marshal(msg.Content)
	if err != nil {
		return fmt.Errorf("marshal content: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, role, placeholder, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, r.tables.Messages)

	if _, err := r.pool.Exec(ctx, query,
		msg.ID,
		msg.Role,
		msg.Placeholder,
		content,
		msg.CreatedAt,
	); err != nil {
		if IsPgDuplicateError(err) {
			return fmt.Errorf("message %s already stored: %w", msg.ID, err)
		}
		return fmt.Errorf("append message: %w", err)
	}

	return nil
}

// LoadRecent returns the most recent messages in ascending time order.
// The query pages newest-first; the result is reversed before returning.
func (r *MessageRepository) LoadRecent(ctx context.Context, opts chatRepo.LoadOptions) ([]chatModels.Message, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLoadLimit
	}

	query := fmt.Sprintf(`
		SELECT id, role, placeholder, content, created_at
		FROM %s
		ORDER BY created_at DESC
		LIMIT $1
	`, r.tables.Messages)

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	var msgs []chatModels.Message
	for rows.Next() {
		var (
			msg     chatModels.Message
			content []byte
		)
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Placeholder, &content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}

		if err := json.Unmarshal(content, &msg.Content); err != nil {
			// A corrupt row should not sink the whole load.
			r.logger.Warn("skipping unreadable message row", "id", msg.ID, "error", err)
			continue
		}

		if opts.TruncateChars > 0 {
			truncateMessage(&msg, opts.TruncateChars)
		}

		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	// Reverse newest-first into ascending time order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	return msgs, nil
}

// truncateMessage caps text bodies, appending the truncation suffix.
func truncateMessage(msg *chatModels.Message, maxChars int) {
	for i := range msg.Content {
		truncateBlock(&msg.Content[i], maxChars)
	}
}

func truncateBlock(block *chatModels.ContentBlock, maxChars int) {
	if block.Kind == chatModels.BlockKindText {
		if runes := []rune(block.Text); len(runes) > maxChars {
			block.Text = string(runes[:maxChars]) + TruncationSuffix
		}
	}
	for i := range block.Nested {
		truncateBlock(&block.Nested[i], maxChars)
	}
}
