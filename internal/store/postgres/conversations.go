package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"chatrelay-backend/internal/models"
	"chatrelay-backend/internal/store"
)

const createConversation = `-- name: CreateConversation :one
INSERT INTO conversations (id, title, created_at, updated_at)
VALUES ($1, $2, $3, $3)
RETURNING id, title, created_at, updated_at, deleted_at;
`

func (s *PostgresStore) CreateConversation(ctx context.Context, title *string) (*models.Conversation, error) {
	var c models.Conversation
	err := s.db.QueryRow(ctx, createConversation, store.NewID(), title, s.now()).Scan(
		&c.ID,
		&c.Title,
		&c.CreatedAt,
		&c.UpdatedAt,
		&c.DeletedAt,
	)
	if err != nil {
		return nil, s.wrap("CreateConversation", err)
	}
	s.logger.Debug().Stringer("conversation_id", c.ID).Msg("conversation created")
	return &c, nil
}

const getConversation = `-- name: GetConversation :one
SELECT id, title, created_at, updated_at, deleted_at
FROM conversations
WHERE id = $1 AND deleted_at IS NULL;
`

func (s *PostgresStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	var c models.Conversation
	err := s.db.QueryRow(ctx, getConversation, id).Scan(
		&c.ID,
		&c.Title,
		&c.CreatedAt,
		&c.UpdatedAt,
		&c.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, s.wrap("GetConversation", err)
	}
	return &c, nil
}

const listConversations = `-- name: ListConversations :many
SELECT id, title, created_at, updated_at, deleted_at
FROM conversations
WHERE deleted_at IS NULL
ORDER BY updated_at DESC, id DESC;
`

func (s *PostgresStore) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	rows, err := s.db.Query(ctx, listConversations)
	if err != nil {
		return nil, s.wrap("ListConversations", err)
	}
	defer rows.Close()

	items := []models.Conversation{}
	for rows.Next() {
		var c models.Conversation
		if err := rows.Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt, &c.DeletedAt); err != nil {
			return nil, s.wrap("ListConversations", err)
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("ListConversations", err)
	}
	return items, nil
}

const renameConversation = `-- name: RenameConversation :exec
UPDATE conversations SET title = $2, updated_at = $3
WHERE id = $1 AND deleted_at IS NULL;
`

func (s *PostgresStore) RenameConversation(ctx context.Context, id uuid.UUID, title *string) error {
	return s.execOne(ctx, "RenameConversation", renameConversation, id, title, s.now())
}

const touchConversation = `-- name: TouchConversation :exec
UPDATE conversations SET updated_at = $2
WHERE id = $1 AND deleted_at IS NULL;
`

func (s *PostgresStore) TouchConversation(ctx context.Context, id uuid.UUID) error {
	return s.execOne(ctx, "TouchConversation", touchConversation, id, s.now())
}

const softDeleteConversation = `-- name: SoftDeleteConversation :exec
UPDATE conversations SET deleted_at = $2, updated_at = $2
WHERE id = $1 AND deleted_at IS NULL;
`

func (s *PostgresStore) SoftDeleteConversation(ctx context.Context, id uuid.UUID) error {
	return s.execOne(ctx, "SoftDeleteConversation", softDeleteConversation, id, s.now())
}

const countUserMessages = `-- name: CountUserMessages :one
SELECT count(*) FROM messages
WHERE conversation_id = $1 AND role = 'user' AND deleted_at IS NULL;
`

func (s *PostgresStore) CountUserMessages(ctx context.Context, conversationID uuid.UUID) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, countUserMessages, conversationID).Scan(&n); err != nil {
		return 0, s.wrap("CountUserMessages", err)
	}
	return n, nil
}

// execOne runs an update that must affect exactly one row.
func (s *PostgresStore) execOne(ctx context.Context, op, query string, args ...any) error {
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return s.wrap(op, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
