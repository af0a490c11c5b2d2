package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"chatrelay-backend/internal/models"
	"chatrelay-backend/internal/store"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const lockConversation = `-- name: LockConversation :one
SELECT id FROM conversations WHERE id = $1 AND deleted_at IS NULL FOR SHARE;
`

const insertMessage = `-- name: InsertMessage :exec
INSERT INTO messages (id, conversation_id, role, created_at, parent_message_id, active_variant_id)
VALUES ($1, $2, $3, $4, $5, $6);
`

const insertVariant = `-- name: InsertVariant :exec
INSERT INTO message_variants (id, message_id, content, reasoning, created_at, kind, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7);
`

// CreateSlotWithContent inserts the slot and its first variant in one
// transaction. The deferred pointer constraint is checked at commit.
func (s *PostgresStore) CreateSlotWithContent(ctx context.Context, arg store.CreateSlotParams) (store.SlotResult, error) {
	res := store.SlotResult{MessageID: store.NewID(), VariantID: store.NewID()}
	if arg.Kind == "" {
		arg.Kind = models.KindOriginal
	}
	now := s.now()

	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		var convID uuid.UUID
		if err := tx.QueryRow(ctx, lockConversation, arg.ConversationID).Scan(&convID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return store.ErrNotFound
			}
			return err
		}
		if _, err := tx.Exec(ctx, insertMessage, res.MessageID, arg.ConversationID, arg.Role, now, arg.ParentMessageID, res.VariantID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, insertVariant, res.VariantID, res.MessageID, arg.Content, arg.Reasoning, now, arg.Kind, arg.Metadata); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, touchConversation, arg.ConversationID, now); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.SlotResult{}, err
		}
		return store.SlotResult{}, s.wrap("CreateSlotWithContent", err)
	}

	s.logger.Debug().
		Stringer("conversation_id", arg.ConversationID).
		Stringer("message_id", res.MessageID).
		Str("role", string(arg.Role)).
		Msg("slot created")
	return res, nil
}

const selectMessageWithContent = `
SELECT m.id, m.conversation_id, m.role, m.created_at, m.deleted_at, m.parent_message_id, m.active_variant_id,
       v.content, v.reasoning,
       (SELECT count(*) FROM message_variants c WHERE c.message_id = m.id)
FROM messages m
LEFT JOIN message_variants v ON v.id = m.active_variant_id AND v.message_id = m.id
`

const getMessage = `-- name: GetMessage :one` + selectMessageWithContent + `WHERE m.id = $1;`

func scanMessage(row pgx.Row) (*models.MessageWithContent, error) {
	var m models.MessageWithContent
	err := row.Scan(
		&m.ID,
		&m.ConversationID,
		&m.Role,
		&m.CreatedAt,
		&m.DeletedAt,
		&m.ParentMessageID,
		&m.ActiveVariantID,
		&m.Content,
		&m.Reasoning,
		&m.VariantCount,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, id uuid.UUID) (*models.MessageWithContent, error) {
	m, err := scanMessage(s.db.QueryRow(ctx, getMessage, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, s.wrap("GetMessage", err)
	}
	return m, nil
}

const softDeleteMessage = `-- name: SoftDeleteMessage :exec
UPDATE messages SET deleted_at = $2
WHERE id = $1 AND deleted_at IS NULL;
`

func (s *PostgresStore) SoftDeleteMessage(ctx context.Context, id uuid.UUID) error {
	return s.execOne(ctx, "SoftDeleteMessage", softDeleteMessage, id, s.now())
}

const listActiveForConversation = `-- name: ListActiveForConversation :many` + selectMessageWithContent + `
WHERE m.conversation_id = $1 AND m.deleted_at IS NULL
ORDER BY m.created_at, m.id;`

func (s *PostgresStore) ListActiveForConversation(ctx context.Context, conversationID uuid.UUID) ([]models.MessageWithContent, error) {
	rows, err := s.db.Query(ctx, listActiveForConversation, conversationID)
	if err != nil {
		return nil, s.wrap("ListActiveForConversation", err)
	}
	defer rows.Close()

	items := []models.MessageWithContent{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, s.wrap("ListActiveForConversation", fmt.Errorf("scan: %w", err))
		}
		items = append(items, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("ListActiveForConversation", err)
	}
	return items, nil
}
