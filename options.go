package taskq

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Dispatcher.
type Option func(*Dispatcher) error

// Storer is the minimal store interface held by the Dispatcher.
// It covers lifecycle operations only. The full composite interface
// (store.Store) is used in subsystem layers that don't create import
// cycles. Implementations satisfy store.Store which embeds the job
// store.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// poolRunner is an internal interface for worker pool lifecycle.
type poolRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// hookEmitter is an internal interface for hook lifecycle events.
type hookEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Dispatcher is the central coordinator for job processing: it owns the
// store, the worker pool and the lifecycle configuration.
//
// Create one with New() and functional options. The Dispatcher holds
// references to subsystem components via internal interfaces to avoid
// import cycles. Use engine.Build to wire everything together.
type Dispatcher struct {
	config Config
	logger *slog.Logger
	store  Storer
	hooks  hookEmitter
	pool   poolRunner

	// started tracks whether Start has been called.
	started bool
}

// New creates a new Dispatcher with the given options.
func New(opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	if err := d.config.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Logger returns the dispatcher's logger.
func (d *Dispatcher) Logger() *slog.Logger { return d.logger }

// Store returns the dispatcher's store.
func (d *Dispatcher) Store() Storer { return d.store }

// Config returns a copy of the dispatcher's configuration.
func (d *Dispatcher) Config() Config { return d.config }

// SetPool sets the worker pool (called by the engine package).
func (d *Dispatcher) SetPool(p poolRunner) { d.pool = p }

// SetHooks sets the hook emitter (called by the engine package).
func (d *Dispatcher) SetHooks(h hookEmitter) { d.hooks = h }

// Start begins job processing.
func (d *Dispatcher) Start(ctx context.Context) error {
	if d.pool == nil {
		return ErrNoStore
	}
	if d.started {
		return ErrAlreadyRunning
	}
	if err := d.pool.Start(ctx); err != nil {
		return err
	}
	d.started = true
	return nil
}

// Stop gracefully shuts down the dispatcher: it drains the worker pool,
// notifies hooks, and closes the store.
func (d *Dispatcher) Stop(ctx context.Context) error {
	if d.pool != nil && d.started {
		if err := d.pool.Stop(ctx); err != nil {
			d.logger.Error("pool stop error", "error", err)
		}
		d.started = false
	}
	if d.hooks != nil {
		d.hooks.EmitShutdown(ctx)
	}
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// WithConcurrency sets the number of concurrent job processors.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) error {
		d.config.Concurrency = n
		return nil
	}
}

// WithQueues sets the queues the dispatcher will poll.
func WithQueues(queues []string) Option {
	return func(d *Dispatcher) error {
		d.config.Queues = queues
		return nil
	}
}

// WithLogger sets the structured logger for the dispatcher.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) error {
		d.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the dispatcher.
// The store must implement Storer at minimum; typically it will be a
// store.Store which also carries the job operations.
func WithStore(s Storer) Option {
	return func(d *Dispatcher) error {
		d.store = s
		return nil
	}
}

// WithConfig replaces the whole configuration. Options applied after it
// override individual fields.
func WithConfig(cfg Config) Option {
	return func(d *Dispatcher) error {
		d.config = cfg
		return nil
	}
}

// WithPollInterval sets how often idle workers poll for jobs.
func WithPollInterval(interval time.Duration) Option {
	return func(d *Dispatcher) error {
		d.config.PollInterval = interval
		return nil
	}
}

// WithLeaseDuration sets how long a claim holds a job before reclaim.
func WithLeaseDuration(lease time.Duration) Option {
	return func(d *Dispatcher) error {
		d.config.LeaseDuration = lease
		return nil
	}
}

// WithHeartbeatInterval sets how often running jobs extend their lease.
func WithHeartbeatInterval(interval time.Duration) Option {
	return func(d *Dispatcher) error {
		d.config.HeartbeatInterval = interval
		return nil
	}
}

// WithReclaimInterval sets how often expired leases are swept.
func WithReclaimInterval(interval time.Duration) Option {
	return func(d *Dispatcher) error {
		d.config.ReclaimInterval = interval
		return nil
	}
}

// WithDefaultMaxAttempts sets the attempt budget for jobs enqueued
// without one.
func WithDefaultMaxAttempts(n int) Option {
	return func(d *Dispatcher) error {
		d.config.DefaultMaxAttempts = n
		return nil
	}
}

// WithDefaultTimeout sets the per-attempt budget for jobs enqueued
// without one.
func WithDefaultTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) error {
		d.config.DefaultTimeout = timeout
		return nil
	}
}

// WithShutdownTimeout sets the graceful shutdown budget.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) error {
		d.config.ShutdownTimeout = timeout
		return nil
	}
}

// WithRetention enables janitor sweeps that delete succeeded jobs older
// than period, checked every sweepEvery.
func WithRetention(period, sweepEvery time.Duration) Option {
	return func(d *Dispatcher) error {
		d.config.RetentionPeriod = period
		d.config.RetentionInterval = sweepEvery
		return nil
	}
}
