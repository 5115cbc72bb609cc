package taskq

import (
	"fmt"
	"time"
)

// Config holds configuration for the Dispatcher.
type Config struct {
	// Concurrency is the number of jobs processed concurrently.
	Concurrency int

	// Queues is the list of queues this dispatcher will poll.
	Queues []string

	// PollInterval is how often to poll for new jobs when the previous
	// poll came back empty.
	PollInterval time.Duration

	// LeaseDuration is how long a claimed job stays owned by its worker
	// before it is eligible for reclaim.
	LeaseDuration time.Duration

	// HeartbeatInterval is how often running jobs extend their lease.
	// It must be shorter than LeaseDuration.
	HeartbeatInterval time.Duration

	// ReclaimInterval is how often expired leases are swept back into
	// the queue.
	ReclaimInterval time.Duration

	// DefaultMaxAttempts is the attempt budget stamped on jobs enqueued
	// without an explicit one.
	DefaultMaxAttempts int

	// DefaultTimeout is the per-attempt wall clock budget stamped on
	// jobs enqueued without an explicit one.
	DefaultTimeout time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// RetentionPeriod is how long succeeded jobs are kept before the
	// janitor deletes them. Zero disables retention sweeps.
	RetentionPeriod time.Duration

	// RetentionInterval is how often the janitor runs.
	RetentionInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:        4,
		Queues:             []string{"default"},
		PollInterval:       1 * time.Second,
		LeaseDuration:      30 * time.Second,
		HeartbeatInterval:  10 * time.Second,
		ReclaimInterval:    15 * time.Second,
		DefaultMaxAttempts: 3,
		DefaultTimeout:     5 * time.Minute,
		ShutdownTimeout:    30 * time.Second,
		RetentionPeriod:    0,
		RetentionInterval:  5 * time.Minute,
	}
}

// Validate checks that the interval relationships hold. A heartbeat or
// reclaim interval at or above the lease duration would let healthy jobs
// lose their lease mid-run.
func (c Config) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("taskq: concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.LeaseDuration <= 0 {
		return fmt.Errorf("taskq: lease duration must be positive, got %s", c.LeaseDuration)
	}
	if c.HeartbeatInterval >= c.LeaseDuration {
		return fmt.Errorf("taskq: heartbeat interval %s must be shorter than lease duration %s",
			c.HeartbeatInterval, c.LeaseDuration)
	}
	if c.ReclaimInterval <= 0 {
		return fmt.Errorf("taskq: reclaim interval must be positive, got %s", c.ReclaimInterval)
	}
	if c.DefaultMaxAttempts < 1 {
		return fmt.Errorf("taskq: default max attempts must be at least 1, got %d", c.DefaultMaxAttempts)
	}
	return nil
}
