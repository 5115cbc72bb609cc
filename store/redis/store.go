// Package redis implements store.Store using Redis for high-throughput
// workloads without a relational database. Jobs are stored as Hashes,
// claimable work sits in per-queue Sorted Sets scored by next run time,
// and running jobs sit in one Sorted Set scored by lease expiry. Every
// multi-key state change runs as a Lua script, so claims and reports
// are atomic on the server.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/PyNishanth/taskq-system/backoff"
	"github.com/PyNishanth/taskq-system/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithBackoff sets the retry delay strategy applied inside Fail.
func WithBackoff(strategy backoff.Strategy) Option {
	return func(s *Store) { s.strategy = strategy }
}

// Store implements store.Store backed by Redis.
type Store struct {
	client   goredis.Cmdable
	strategy backoff.Strategy
	logger   *slog.Logger
	closeFn  func() error
}

// New creates a new Redis-backed store. The caller owns the Redis
// client lifecycle.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:   client,
		strategy: backoff.DefaultStrategy(),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NewFromURL connects to the Redis instance named by a redis:// URL.
// The returned Store owns the client and closes it.
func NewFromURL(url string, opts ...Option) (*Store, error) {
	ropts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("taskq/redis: parse url: %w", err)
	}
	client := goredis.NewClient(ropts)
	s := New(client, opts...)
	s.closeFn = client.Close
	return s, nil
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.Cmdable { return s.client }

// Migrate is a no-op for Redis (schemaless).
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client if this Store created it via NewFromURL.
func (s *Store) Close() error {
	if s.closeFn != nil {
		return s.closeFn()
	}
	return nil
}
