package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/PyNishanth/taskq-system/backoff"
	"github.com/PyNishanth/taskq-system/store"
)

// colJobs is the jobs collection name.
const colJobs = "taskq_jobs"

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store implements store.Store on a MongoDB database.
type Store struct {
	db       *mongod.Database
	strategy backoff.Strategy
	logger   *slog.Logger
	closeFn  func(ctx context.Context) error
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

// New creates a MongoDB store. The caller owns the client lifecycle;
// the Store will not disconnect it on Close().
func New(db *mongod.Database, opts ...Option) *Store {
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

// NewFromURI connects to MongoDB and returns a Store that owns the
// client and disconnects it on Close.
func NewFromURI(ctx context.Context, uri, database string, opts ...Option) (*Store, error) {
	client, err := mongod.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("taskq/mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("taskq/mongo: ping: %w", err)
	}
	s := New(client.Database(database), opts...)
	s.closeFn = client.Disconnect
	return s, nil
}

// DB returns the underlying database handle for advanced usage.
func (s *Store) DB() *mongod.Database { return s.db }

// jobs returns the jobs collection.
func (s *Store) jobs() *mongod.Collection {
	return s.db.Collection(colJobs)
}

// Migrate creates the claim and sweep indexes.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := []mongod.IndexModel{
		// Claim index: eligible jobs ordered by next run time.
		{Keys: bson.D{
			{Key: "queue", Value: 1},
			{Key: "state", Value: 1},
			{Key: "next_run_at", Value: 1},
			{Key: "created_at", Value: 1},
		}},
		// Lease sweep index.
		{Keys: bson.D{
			{Key: "state", Value: 1},
			{Key: "lock_expiry", Value: 1},
		}},
		// Retention and counts.
		{Keys: bson.D{
			{Key: "state", Value: 1},
			{Key: "updated_at", Value: 1},
		}},
	}
	if _, err := s.jobs().Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("taskq/mongo: migrate indexes: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// Close disconnects the client if this Store created it via NewFromURI.
func (s *Store) Close() error {
	if s.closeFn != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.closeFn(ctx)
	}
	return nil
}

// ── helpers ──────────────────────────────────────────────────────

// isNoDocuments returns true when err indicates no documents found.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// isDuplicateKey checks if a MongoDB error is a duplicate key violation.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "duplicate key") ||
		strings.Contains(err.Error(), "E11000")
}
