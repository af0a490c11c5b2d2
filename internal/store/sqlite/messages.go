package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"chatrelay-backend/internal/models"
	"chatrelay-backend/internal/store"
)

const insertVariant = `INSERT INTO message_variants (id, message_id, content, reasoning, created_at, kind, metadata)
VALUES (?, ?, ?, ?, ?, ?, ?)`

func (s *SQLiteStore) CreateSlotWithContent(ctx context.Context, arg store.CreateSlotParams) (store.SlotResult, error) {
	res := store.SlotResult{MessageID: store.NewID(), VariantID: store.NewID()}
	if arg.Kind == "" {
		arg.Kind = models.KindOriginal
	}
	now := ts(s.now())

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var convID uuid.UUID
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM conversations WHERE id = ? AND deleted_at IS NULL`, arg.ConversationID).Scan(&convID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (id, conversation_id, role, created_at, parent_message_id, active_variant_id)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			res.MessageID, arg.ConversationID, string(arg.Role), now, arg.ParentMessageID, res.VariantID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, insertVariant,
			res.VariantID, res.MessageID, arg.Content, arg.Reasoning, now, string(arg.Kind), nullJSON(arg.Metadata)); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, touchConversation, now, arg.ConversationID)
		return err
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

func scanMessage(row rowScanner) (*models.MessageWithContent, error) {
	var (
		m       models.MessageWithContent
		created int64
		deleted sql.NullInt64
	)
	err := row.Scan(
		&m.ID,
		&m.ConversationID,
		&m.Role,
		&created,
		&deleted,
		&m.ParentMessageID,
		&m.ActiveVariantID,
		&m.Content,
		&m.Reasoning,
		&m.VariantCount,
	)
	if err != nil {
		return nil, err
	}
	m.CreatedAt = fromTS(created)
	m.DeletedAt = fromNullTS(deleted)
	return &m, nil
}

func (s *SQLiteStore) GetMessage(ctx context.Context, id uuid.UUID) (*models.MessageWithContent, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx, selectMessageWithContent+`WHERE m.id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, s.wrap("GetMessage", err)
	}
	return m, nil
}

func (s *SQLiteStore) SoftDeleteMessage(ctx context.Context, id uuid.UUID) error {
	return s.execOne(ctx, "SoftDeleteMessage",
		`UPDATE messages SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`, ts(s.now()), id)
}

func (s *SQLiteStore) ListActiveForConversation(ctx context.Context, conversationID uuid.UUID) ([]models.MessageWithContent, error) {
	rows, err := s.db.QueryContext(ctx, selectMessageWithContent+
		`WHERE m.conversation_id = ? AND m.deleted_at IS NULL ORDER BY m.created_at, m.id`, conversationID)
	if err != nil {
		return nil, s.wrap("ListActiveForConversation", err)
	}
	defer rows.Close()

	items := []models.MessageWithContent{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, s.wrap("ListActiveForConversation", err)
		}
		items = append(items, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("ListActiveForConversation", err)
	}
	return items, nil
}
