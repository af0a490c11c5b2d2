package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"chatrelay-backend/internal/models"
	"chatrelay-backend/internal/store"
)

// currentPointer reads the active pointer of a non-deleted slot. Writers are
// serialized by the single connection, so no row lock is needed.
func currentPointer(ctx context.Context, tx *sql.Tx, messageID uuid.UUID) (*uuid.UUID, error) {
	var current *uuid.UUID
	err := tx.QueryRowContext(ctx,
		`SELECT active_variant_id FROM messages WHERE id = ? AND deleted_at IS NULL`, messageID).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return current, nil
}

const setActivePointer = `UPDATE messages SET active_variant_id = ? WHERE id = ?`

const countVariants = `SELECT count(*) FROM message_variants WHERE message_id = ?`

func sameID(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (s *SQLiteStore) CreateFirstVariant(ctx context.Context, arg store.VariantParams) (uuid.UUID, error) {
	id := store.NewID()
	if arg.Kind == "" {
		arg.Kind = models.KindOriginal
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := currentPointer(ctx, tx, arg.MessageID)
		if err != nil {
			return err
		}
		if current != nil {
			return store.ErrAlreadyInitialized
		}
		if _, err := tx.ExecContext(ctx, insertVariant,
			id, arg.MessageID, arg.Content, arg.Reasoning, ts(s.now()), string(arg.Kind), nullJSON(arg.Metadata)); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, setActivePointer, id, arg.MessageID)
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrAlreadyInitialized) {
			return uuid.Nil, err
		}
		return uuid.Nil, s.wrap("CreateFirstVariant", err)
	}
	return id, nil
}

func (s *SQLiteStore) AddVariant(ctx context.Context, arg store.AddVariantParams) (store.AddVariantResult, error) {
	res := store.AddVariantResult{VariantID: store.NewID()}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := currentPointer(ctx, tx, arg.MessageID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, insertVariant,
			res.VariantID, arg.MessageID, arg.Content, arg.Reasoning, ts(s.now()), string(arg.Kind), nullJSON(arg.Metadata)); err != nil {
			return err
		}
		if arg.SetActive && (arg.ExpectedActiveID == nil || sameID(current, arg.ExpectedActiveID)) {
			if _, err := tx.ExecContext(ctx, setActivePointer, res.VariantID, arg.MessageID); err != nil {
				return err
			}
			res.Active = true
		}
		return tx.QueryRowContext(ctx, countVariants, arg.MessageID).Scan(&res.VariantCount)
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.AddVariantResult{}, err
		}
		return store.AddVariantResult{}, s.wrap("AddVariant", err)
	}

	s.logger.Debug().
		Stringer("message_id", arg.MessageID).
		Stringer("variant_id", res.VariantID).
		Str("kind", string(arg.Kind)).
		Bool("active", res.Active).
		Msg("variant added")
	return res, nil
}

func (s *SQLiteStore) ListVariants(ctx context.Context, messageID uuid.UUID) ([]models.Variant, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM messages WHERE id = ?)`, messageID).Scan(&exists); err != nil {
		return nil, s.wrap("ListVariants", err)
	}
	if !exists {
		return nil, store.ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, message_id, content, reasoning, created_at, kind, metadata
		 FROM message_variants WHERE message_id = ? ORDER BY created_at, id`, messageID)
	if err != nil {
		return nil, s.wrap("ListVariants", err)
	}
	defer rows.Close()

	items := []models.Variant{}
	for rows.Next() {
		var (
			v        models.Variant
			created  int64
			metadata sql.NullString
		)
		if err := rows.Scan(&v.ID, &v.MessageID, &v.Content, &v.Reasoning, &created, &v.Kind, &metadata); err != nil {
			return nil, s.wrap("ListVariants", err)
		}
		v.CreatedAt = fromTS(created)
		v.Metadata = fromNullJSON(metadata)
		items = append(items, v)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("ListVariants", err)
	}
	return items, nil
}

func (s *SQLiteStore) SetActiveVariant(ctx context.Context, messageID, variantID uuid.UUID, expected *uuid.UUID) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := currentPointer(ctx, tx, messageID)
		if err != nil {
			return err
		}
		var owner uuid.UUID
		if err := tx.QueryRowContext(ctx, `SELECT message_id FROM message_variants WHERE id = ?`, variantID).Scan(&owner); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return err
		}
		if owner != messageID {
			return store.ErrVariantMismatch
		}
		if expected != nil && !sameID(current, expected) {
			return store.ErrActiveVariantConflict
		}
		_, err = tx.ExecContext(ctx, setActivePointer, variantID, messageID)
		return err
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrVariantMismatch), errors.Is(err, store.ErrActiveVariantConflict):
		return err
	default:
		return s.wrap("SetActiveVariant", err)
	}
}

func (s *SQLiteStore) CountVariants(ctx context.Context, messageID uuid.UUID) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, countVariants, messageID).Scan(&n); err != nil {
		return 0, s.wrap("CountVariants", err)
	}
	return n, nil
}
