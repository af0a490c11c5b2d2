package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"chatrelay-backend/internal/models"
	"chatrelay-backend/internal/store"
)

const conversationColumns = `id, title, created_at, updated_at, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*models.Conversation, error) {
	var (
		c                models.Conversation
		created, updated int64
		deleted          sql.NullInt64
	)
	if err := row.Scan(&c.ID, &c.Title, &created, &updated, &deleted); err != nil {
		return nil, err
	}
	c.CreatedAt = fromTS(created)
	c.UpdatedAt = fromTS(updated)
	c.DeletedAt = fromNullTS(deleted)
	return &c, nil
}

func (s *SQLiteStore) CreateConversation(ctx context.Context, title *string) (*models.Conversation, error) {
	now := s.now()
	c := &models.Conversation{ID: store.NewID(), Title: title, CreatedAt: now, UpdatedAt: now}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		c.ID, title, ts(now), ts(now))
	if err != nil {
		return nil, s.wrap("CreateConversation", err)
	}
	s.logger.Debug().Stringer("conversation_id", c.ID).Msg("conversation created")
	return c, nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	c, err := scanConversation(s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ? AND deleted_at IS NULL`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, s.wrap("GetConversation", err)
	}
	return c, nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE deleted_at IS NULL ORDER BY updated_at DESC, id DESC`)
	if err != nil {
		return nil, s.wrap("ListConversations", err)
	}
	defer rows.Close()

	items := []models.Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, s.wrap("ListConversations", err)
		}
		items = append(items, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("ListConversations", err)
	}
	return items, nil
}

func (s *SQLiteStore) RenameConversation(ctx context.Context, id uuid.UUID, title *string) error {
	return s.execOne(ctx, "RenameConversation",
		`UPDATE conversations SET title = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		title, ts(s.now()), id)
}

const touchConversation = `UPDATE conversations SET updated_at = ? WHERE id = ? AND deleted_at IS NULL`

func (s *SQLiteStore) TouchConversation(ctx context.Context, id uuid.UUID) error {
	return s.execOne(ctx, "TouchConversation", touchConversation, ts(s.now()), id)
}

func (s *SQLiteStore) SoftDeleteConversation(ctx context.Context, id uuid.UUID) error {
	now := ts(s.now())
	return s.execOne(ctx, "SoftDeleteConversation",
		`UPDATE conversations SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		now, now, id)
}

func (s *SQLiteStore) CountUserMessages(ctx context.Context, conversationID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM messages WHERE conversation_id = ? AND role = 'user' AND deleted_at IS NULL`,
		conversationID).Scan(&n)
	if err != nil {
		return 0, s.wrap("CountUserMessages", err)
	}
	return n, nil
}
