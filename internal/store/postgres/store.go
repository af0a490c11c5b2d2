package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"chatrelay-backend/internal/store"
)

// Compile-time check to ensure PostgresStore implements store.Store
var _ store.Store = (*PostgresStore)(nil)

//go:embed schema.sql
var schema string

type PostgresStore struct {
	db     *pgxpool.Pool
	now    store.Clock
	logger zerolog.Logger
}

// Option configures a PostgresStore.
type Option func(*PostgresStore)

// WithClock overrides the time source used for created/updated timestamps.
func WithClock(c store.Clock) Option {
	return func(s *PostgresStore) { s.now = c }
}

func NewPostgresStore(db *pgxpool.Pool, logger zerolog.Logger, opts ...Option) *PostgresStore {
	s := &PostgresStore{
		db:     db,
		now:    store.SystemClock,
		logger: logger.With().Str("component", "postgres_store").Logger(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Connect opens a pool and verifies it with a ping.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// Migrate applies the embedded schema. It is idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return s.wrap("migrate", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

// wrap logs driver detail for PostgreSQL errors and returns a wrapped error.
func (s *PostgresStore) wrap(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		s.logger.Error().
			Str("op", op).
			Str("code", pgErr.Code).
			Str("detail", pgErr.Detail).
			Str("constraint", pgErr.ConstraintName).
			Msg(pgErr.Message)
	} else {
		s.logger.Error().Err(err).Str("op", op).Msg("database error")
	}
	return fmt.Errorf("database error in %s: %w", op, err)
}
