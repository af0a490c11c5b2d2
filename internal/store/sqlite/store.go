// Package sqlite is the embedded store backend. It runs on the pure-Go
// modernc.org/sqlite driver, so no cgo toolchain is needed.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"chatrelay-backend/internal/store"
)

// Compile-time check to ensure SQLiteStore implements store.Store
var _ store.Store = (*SQLiteStore)(nil)

//go:embed schema.sql
var schema string

const pragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

type SQLiteStore struct {
	db     *sql.DB
	now    store.Clock
	logger zerolog.Logger
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithClock overrides the time source used for created/updated timestamps.
func WithClock(c store.Clock) Option {
	return func(s *SQLiteStore) { s.now = c }
}

// Open opens (creating if needed) the database at path and applies the
// schema. The special path ":memory:" opens a private in-memory database.
func Open(ctx context.Context, path string, logger zerolog.Logger, opts ...Option) (*SQLiteStore, error) {
	var dsn string
	if path == ":memory:" {
		dsn = "file::memory:?" + pragmas
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		dsn = "file:" + path + "?" + pragmas + "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// SQLite has a single writer; one connection keeps transactions serialized
	// and an in-memory database alive for the life of the pool.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite database: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		now:    store.SystemClock,
		logger: logger.With().Str("component", "sqlite_store").Logger(),
	}
	for _, o := range opts {
		o(s)
	}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies the embedded schema. It is idempotent.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return s.wrap("migrate", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) wrap(op string, err error) error {
	s.logger.Error().Err(err).Str("op", op).Msg("database error")
	return fmt.Errorf("database error in %s: %w", op, err)
}

// withTx runs fn in a transaction, committing when it returns nil.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// execOne runs an update that must affect exactly one row.
func (s *SQLiteStore) execOne(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return s.wrap(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.wrap(op, err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Timestamps are stored as Unix nanoseconds.

func ts(t time.Time) int64 {
	return t.UnixNano()
}

func fromTS(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func fromNullTS(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromTS(n.Int64)
	return &t
}

func nullJSON(m json.RawMessage) any {
	if len(m) == 0 {
		return nil
	}
	return string(m)
}

func fromNullJSON(s sql.NullString) json.RawMessage {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.RawMessage(s.String)
}
