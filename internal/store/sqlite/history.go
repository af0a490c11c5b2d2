package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"chatrelay-backend/internal/models"
	"chatrelay-backend/internal/store"
)

const historyColumns = `
SELECT m.role, v.content
FROM messages m
JOIN message_variants v ON v.id = m.active_variant_id AND v.message_id = m.id
WHERE m.conversation_id = ? AND m.deleted_at IS NULL AND v.content <> ''
`

func (s *SQLiteStore) FullHistory(ctx context.Context, conversationID uuid.UUID) ([]models.ContextEntry, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	return s.history(ctx, "FullHistory", historyColumns+`ORDER BY m.created_at, m.id`, conversationID)
}

func (s *SQLiteStore) HistoryBefore(ctx context.Context, messageID uuid.UUID) ([]models.ContextEntry, error) {
	return s.historyAround(ctx, "HistoryBefore", `<`, messageID)
}

func (s *SQLiteStore) HistoryThrough(ctx context.Context, messageID uuid.UUID) ([]models.ContextEntry, error) {
	return s.historyAround(ctx, "HistoryThrough", `<=`, messageID)
}

func (s *SQLiteStore) historyAround(ctx context.Context, op, cmp string, messageID uuid.UUID) ([]models.ContextEntry, error) {
	var (
		convID    uuid.UUID
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT m.conversation_id, m.created_at
		 FROM messages m JOIN conversations c ON c.id = m.conversation_id
		 WHERE m.id = ? AND m.deleted_at IS NULL AND c.deleted_at IS NULL`, messageID).Scan(&convID, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, s.wrap(op, err)
	}
	query := historyColumns + `AND (m.created_at, m.id) ` + cmp + ` (?, ?) ORDER BY m.created_at, m.id`
	return s.history(ctx, op, query, convID, createdAt, messageID)
}

func (s *SQLiteStore) history(ctx context.Context, op, query string, args ...any) ([]models.ContextEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.wrap(op, err)
	}
	defer rows.Close()

	entries := []models.ContextEntry{}
	for rows.Next() {
		var e models.ContextEntry
		if err := rows.Scan(&e.Role, &e.Content); err != nil {
			return nil, s.wrap(op, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap(op, err)
	}
	return entries, nil
}
