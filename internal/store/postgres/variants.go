package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"chatrelay-backend/internal/models"
	"chatrelay-backend/internal/store"
)

const lockMessagePointer = `-- name: LockMessagePointer :one
SELECT active_variant_id FROM messages
WHERE id = $1 AND deleted_at IS NULL
FOR UPDATE;
`

const setActivePointer = `-- name: SetActivePointer :exec
UPDATE messages SET active_variant_id = $2 WHERE id = $1;
`

const countVariants = `-- name: CountVariants :one
SELECT count(*) FROM message_variants WHERE message_id = $1;
`

// lockPointer takes a row lock on the slot so pointer updates on the same
// slot serialize. Returns store.ErrNotFound for missing or deleted slots.
func lockPointer(ctx context.Context, q querier, messageID uuid.UUID) (*uuid.UUID, error) {
	var current *uuid.UUID
	if err := q.QueryRow(ctx, lockMessagePointer, messageID).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return current, nil
}

func sameID(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (s *PostgresStore) CreateFirstVariant(ctx context.Context, arg store.VariantParams) (uuid.UUID, error) {
	id := store.NewID()
	if arg.Kind == "" {
		arg.Kind = models.KindOriginal
	}

	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		current, err := lockPointer(ctx, tx, arg.MessageID)
		if err != nil {
			return err
		}
		if current != nil {
			return store.ErrAlreadyInitialized
		}
		if _, err := tx.Exec(ctx, insertVariant, id, arg.MessageID, arg.Content, arg.Reasoning, s.now(), arg.Kind, arg.Metadata); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, setActivePointer, arg.MessageID, id)
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

// AddVariant appends a variant. The pointer moves only when SetActive is set
// and, if given, ExpectedActiveID still matches; otherwise the variant is
// kept inactive and Active is false.
func (s *PostgresStore) AddVariant(ctx context.Context, arg store.AddVariantParams) (store.AddVariantResult, error) {
	res := store.AddVariantResult{VariantID: store.NewID()}

	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		current, err := lockPointer(ctx, tx, arg.MessageID)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, insertVariant, res.VariantID, arg.MessageID, arg.Content, arg.Reasoning, s.now(), arg.Kind, arg.Metadata); err != nil {
			return err
		}
		if arg.SetActive && (arg.ExpectedActiveID == nil || sameID(current, arg.ExpectedActiveID)) {
			if _, err := tx.Exec(ctx, setActivePointer, arg.MessageID, res.VariantID); err != nil {
				return err
			}
			res.Active = true
		}
		return tx.QueryRow(ctx, countVariants, arg.MessageID).Scan(&res.VariantCount)
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

const messageExists = `-- name: MessageExists :one
SELECT EXISTS (SELECT 1 FROM messages WHERE id = $1);
`

const listVariants = `-- name: ListVariants :many
SELECT id, message_id, content, reasoning, created_at, kind, metadata
FROM message_variants
WHERE message_id = $1
ORDER BY created_at, id;
`

// ListVariants returns variants of the slot, including soft-deleted slots.
func (s *PostgresStore) ListVariants(ctx context.Context, messageID uuid.UUID) ([]models.Variant, error) {
	var exists bool
	if err := s.db.QueryRow(ctx, messageExists, messageID).Scan(&exists); err != nil {
		return nil, s.wrap("ListVariants", err)
	}
	if !exists {
		return nil, store.ErrNotFound
	}

	rows, err := s.db.Query(ctx, listVariants, messageID)
	if err != nil {
		return nil, s.wrap("ListVariants", err)
	}
	defer rows.Close()

	items := []models.Variant{}
	for rows.Next() {
		var v models.Variant
		if err := rows.Scan(&v.ID, &v.MessageID, &v.Content, &v.Reasoning, &v.CreatedAt, &v.Kind, &v.Metadata); err != nil {
			return nil, s.wrap("ListVariants", err)
		}
		items = append(items, v)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("ListVariants", err)
	}
	return items, nil
}

const variantOwner = `-- name: VariantOwner :one
SELECT message_id FROM message_variants WHERE id = $1;
`

func (s *PostgresStore) SetActiveVariant(ctx context.Context, messageID, variantID uuid.UUID, expected *uuid.UUID) error {
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		current, err := lockPointer(ctx, tx, messageID)
		if err != nil {
			return err
		}
		var owner uuid.UUID
		if err := tx.QueryRow(ctx, variantOwner, variantID).Scan(&owner); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
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
		_, err = tx.Exec(ctx, setActivePointer, messageID, variantID)
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

func (s *PostgresStore) CountVariants(ctx context.Context, messageID uuid.UUID) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, countVariants, messageID).Scan(&n); err != nil {
		return 0, s.wrap("CountVariants", err)
	}
	return n, nil
}
