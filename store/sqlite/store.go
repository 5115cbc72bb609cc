package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/mattn/go-sqlite3"

	taskq "github.com/PyNishanth/taskq-system"
	"github.com/PyNishanth/taskq-system/backoff"
	"github.com/PyNishanth/taskq-system/store"
)

// Ensure Store implements store.Store at compile time.
var _ store.Store = (*Store)(nil)

// Store is a SQLite implementation of store.Store on database/sql with
// the mattn/go-sqlite3 driver. Claiming uses a single UPDATE with a
// subquery, which SQLite executes atomically; multi-step operations run
// under BEGIN IMMEDIATE so the row cannot change between read and write.
type Store struct {
	db       *sql.DB
	strategy backoff.Strategy
	logger   *slog.Logger
	ownsDB   bool
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithBackoff sets the retry delay strategy applied inside Fail.
func WithBackoff(strategy backoff.Strategy) Option {
	return func(s *Store) {
		s.strategy = strategy
	}
}

// New wraps an existing database handle. The caller owns the *sql.DB
// lifecycle -- the Store will not close it on Close().
func New(db *sql.DB, opts ...Option) *Store {
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

// Open opens a SQLite database at path with the connection settings the
// store needs: WAL journaling, a busy timeout, and immediate write
// transactions. The returned Store owns the handle and closes it.
func Open(path string, opts ...Option) (*Store, error) {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_busy_timeout", "5000")
	q.Set("_txlock", "immediate")
	q.Set("_foreign_keys", "on")
	q.Set("_loc", "UTC")

	db, err := sql.Open("sqlite3", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("taskq/sqlite: open %s: %w", path, err)
	}

	s := New(db, opts...)
	s.ownsDB = true
	return s, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate applies any schema versions newer than PRAGMA user_version.
func (s *Store) Migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("%w: read sqlite user_version: %v", taskq.ErrMigrationFailed, err)
	}

	for i := version; i < len(migrations); i++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("%w: begin sqlite migration %d: %v", taskq.ErrMigrationFailed, i+1, err)
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%w: apply sqlite migration %d: %v", taskq.ErrMigrationFailed, i+1, err)
		}
		// PRAGMA takes no placeholders.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, i+1)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%w: bump sqlite user_version: %v", taskq.ErrMigrationFailed, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("%w: commit sqlite migration %d: %v", taskq.ErrMigrationFailed, i+1, err)
		}
		s.logger.Debug("applied sqlite migration", "version", i+1)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database handle if this Store opened it.
func (s *Store) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

// ── helpers ──────────────────────────────────────────────────────

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isDuplicateKey checks if a SQLite error is a unique constraint violation.
func isDuplicateKey(err error) bool {
	var serr sqlite3.Error
	if !errors.As(err, &serr) {
		return false
	}
	return serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		serr.ExtendedCode == sqlite3.ErrConstraintUnique
}
