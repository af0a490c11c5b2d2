package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"chatrelay-backend/internal/models"
	"chatrelay-backend/internal/store"
)

const historyColumns = `
SELECT m.role, v.content
FROM messages m
JOIN message_variants v ON v.id = m.active_variant_id AND v.message_id = m.id
WHERE m.conversation_id = $1 AND m.deleted_at IS NULL AND v.content <> ''
`

const fullHistory = `-- name: FullHistory :many` + historyColumns + `ORDER BY m.created_at, m.id;`

const historyBefore = `-- name: HistoryBefore :many` + historyColumns +
	`AND (m.created_at, m.id) < ($2::timestamptz, $3::uuid)
ORDER BY m.created_at, m.id;`

const historyThrough = `-- name: HistoryThrough :many` + historyColumns +
	`AND (m.created_at, m.id) <= ($2::timestamptz, $3::uuid)
ORDER BY m.created_at, m.id;`

const historyTarget = `-- name: HistoryTarget :one
SELECT m.conversation_id, m.created_at
FROM messages m
JOIN conversations c ON c.id = m.conversation_id
WHERE m.id = $1 AND m.deleted_at IS NULL AND c.deleted_at IS NULL;
`

func (s *PostgresStore) FullHistory(ctx context.Context, conversationID uuid.UUID) ([]models.ContextEntry, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	return s.history(ctx, "FullHistory", fullHistory, conversationID)
}

func (s *PostgresStore) HistoryBefore(ctx context.Context, messageID uuid.UUID) ([]models.ContextEntry, error) {
	return s.historyAround(ctx, "HistoryBefore", historyBefore, messageID)
}

func (s *PostgresStore) HistoryThrough(ctx context.Context, messageID uuid.UUID) ([]models.ContextEntry, error) {
	return s.historyAround(ctx, "HistoryThrough", historyThrough, messageID)
}

func (s *PostgresStore) historyAround(ctx context.Context, op, query string, messageID uuid.UUID) ([]models.ContextEntry, error) {
	var (
		convID    uuid.UUID
		createdAt time.Time
	)
	if err := s.db.QueryRow(ctx, historyTarget, messageID).Scan(&convID, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, s.wrap(op, err)
	}
	return s.history(ctx, op, query, convID, createdAt, messageID)
}

func (s *PostgresStore) history(ctx context.Context, op, query string, args ...any) ([]models.ContextEntry, error) {
	rows, err := s.db.Query(ctx, query, args...)
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
