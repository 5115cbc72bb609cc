package bunstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/PyNishanth/taskq-system/backoff"
	"github.com/PyNishanth/taskq-system/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// migrations holds one idempotent schema script per version, applied in
// order. Never reorder or edit a shipped entry, append a new one.
var migrations = []string{
	// 001: jobs table and claim/sweep indexes, shared with the pgx backend.
	`CREATE TABLE IF NOT EXISTS taskq_jobs (
		id              TEXT PRIMARY KEY,
		name            TEXT NOT NULL,
		queue           TEXT NOT NULL DEFAULT 'default',
		payload         BYTEA,
		state           TEXT NOT NULL DEFAULT 'queued',
		attempt_count   INTEGER NOT NULL DEFAULT 0,
		max_attempts    INTEGER NOT NULL DEFAULT 3,
		next_run_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		timeout         BIGINT NOT NULL DEFAULT 0,
		last_error      TEXT NOT NULL DEFAULT '',
		locked_by       TEXT,
		lock_expiry     TIMESTAMPTZ,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_taskq_jobs_claim
		ON taskq_jobs (queue, next_run_at ASC, created_at ASC)
		WHERE state IN ('queued', 'retrying');

	CREATE INDEX IF NOT EXISTS idx_taskq_jobs_lease
		ON taskq_jobs (lock_expiry)
		WHERE state = 'running';

	CREATE INDEX IF NOT EXISTS idx_taskq_jobs_state
		ON taskq_jobs (state, updated_at);`,
}

// Store implements store.Store on a *bun.DB with PostgreSQL dialect.
type Store struct {
	db       *bun.DB
	strategy backoff.Strategy
	logger   *slog.Logger
	closeFn  func() error
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithBackoff sets the retry delay strategy applied inside Fail.
func WithBackoff(strategy backoff.Strategy) Option {
	return func(s *Store) { s.strategy = strategy }
}

// New creates a Bun store. The caller owns the db lifecycle; the Store
// will not close it on Close().
func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{
		db:       db,
		strategy: backoff.DefaultStrategy(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewFromDSN opens a Postgres connection via pgdriver and wraps it in a
// Bun store that owns the connection.
func NewFromDSN(dsn string, opts ...Option) *Store {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	s := New(db, opts...)
	s.closeFn = db.Close
	return s
}

// DB returns the underlying *bun.DB for advanced usage.
func (s *Store) DB() *bun.DB { return s.db }

// Migrate applies schema scripts beyond the recorded version, in order.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS taskq_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("taskq/bun: create migrations table: %w", err)
	}

	var current int
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM taskq_migrations`,
	).Scan(&current)
	if err != nil {
		return fmt.Errorf("taskq/bun: read schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		version := i + 1
		if _, err := s.db.ExecContext(ctx, migrations[i]); err != nil {
			return fmt.Errorf("taskq/bun: apply migration %d: %w", version, err)
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO taskq_migrations (version) VALUES (?)`, version,
		); err != nil {
			return fmt.Errorf("taskq/bun: record migration %d: %w", version, err)
		}
		s.logger.Info("applied migration", slog.Int("version", version))
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection if this Store created it via NewFromDSN.
func (s *Store) Close() error {
	if s.closeFn != nil {
		return s.closeFn()
	}
	return nil
}
