// Package engine wires the taskq subsystems together: it builds the hook
// registry, job registry, middleware chain, queue manager, and worker
// pool around a Dispatcher, and exposes the enqueue and inspection
// operations.
//
// This package exists to break the import cycle: the root taskq package
// defines the configuration and errors imported by every subsystem and
// so cannot import those packages back. The engine package sits above
// all subsystem packages and below the application layer.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	taskq "github.com/PyNishanth/taskq-system"
	"github.com/PyNishanth/taskq-system/dlq"
	"github.com/PyNishanth/taskq-system/hook"
	"github.com/PyNishanth/taskq-system/id"
	"github.com/PyNishanth/taskq-system/job"
	mw "github.com/PyNishanth/taskq-system/middleware"
	"github.com/PyNishanth/taskq-system/queue"
	"github.com/PyNishanth/taskq-system/run"
	"github.com/PyNishanth/taskq-system/worker"
)

// Engine wraps a Dispatcher with typed subsystem access. Use Build() to
// create one from a Dispatcher.
type Engine struct {
	d          *taskq.Dispatcher
	hooks      *hook.Registry
	registry   *job.Registry
	jobStore   job.Store
	dlqService *dlq.Service
	pool       *worker.Pool
	runner     run.Runner
	mws        []mw.Middleware
	logger     *slog.Logger

	// Queue subsystem.
	queueConfigs []queue.Config
	queueManager *queue.Manager

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithHook registers a lifecycle hook with the engine.
func WithHook(h hook.Hook) Option {
	return func(eng *Engine) {
		eng.hooks.Register(h)
	}
}

// WithMiddleware appends middleware to the engine's chain, inside the
// default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithRunner replaces the fallback runner for unnamed jobs. The default
// is run.Shell, which executes the payload as a command line.
func WithRunner(r run.Runner) Option {
	return func(eng *Engine) {
		eng.runner = r
	}
}

// WithQueueConfig registers queue-level rate limiting and concurrency
// configurations. Queues not listed have no limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) {
		eng.queueConfigs = append(eng.queueConfigs, configs...)
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Dispatcher. The Dispatcher's
// store must implement job.Store.
func Build(d *taskq.Dispatcher, opts ...Option) (*Engine, error) {
	logger := d.Logger()
	store := d.Store()

	if store == nil {
		return nil, taskq.ErrNoStore
	}
	js, ok := store.(job.Store)
	if !ok {
		return nil, fmt.Errorf("taskq: store %T does not implement job.Store", store)
	}

	eng := &Engine{
		d:        d,
		hooks:    hook.NewRegistry(logger),
		registry: job.NewRegistry(),
		jobStore: js,
		logger:   logger,
	}

	for _, opt := range opts {
		opt(eng)
	}

	eng.dlqService = dlq.NewService(js)

	// Named jobs dispatch through the handler registry; unnamed jobs run
	// their payload as a shell command unless a custom runner was given.
	if eng.runner == nil {
		eng.runner = run.NewShell(logger)
	}
	router := run.NewRouter(run.NewHandlers(eng.registry), eng.runner)
	config := d.Config()

	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer("github.com/PyNishanth/taskq-system"))
	} else {
		tracingMw = mw.Tracing()
	}

	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter("github.com/PyNishanth/taskq-system"))
	} else {
		metricsMw = mw.Metrics()
	}

	// Default stack: recover outermost, then tracing, metrics, logging,
	// timeout innermost so the deadline excludes observability overhead.
	allMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Timeout(config.DefaultTimeout),
	}
	allMws = append(allMws, eng.mws...)

	executor := worker.NewExecutor(js, router, eng.hooks, logger, allMws...)

	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(config.Concurrency),
		worker.WithPoolQueues(config.Queues),
		worker.WithPollInterval(config.PollInterval),
		worker.WithLeaseDuration(config.LeaseDuration),
		worker.WithHeartbeatInterval(config.HeartbeatInterval),
		worker.WithReclaimInterval(config.ReclaimInterval),
	}
	if config.RetentionPeriod > 0 {
		poolOpts = append(poolOpts, worker.WithRetention(config.RetentionPeriod, config.RetentionInterval, false))
	}
	if len(eng.queueConfigs) > 0 {
		eng.queueManager = queue.NewManager(eng.queueConfigs...)
		poolOpts = append(poolOpts, worker.WithQueueManager(eng.queueManager))
	}

	eng.pool = worker.NewPool(js, executor, eng.hooks, logger, poolOpts...)

	// Wire back into the Dispatcher.
	d.SetPool(eng.pool)
	d.SetHooks(eng.hooks)

	return eng, nil
}

// Register registers a typed job definition with the engine. Returns
// ErrHandlerExists if the name is taken.
func Register[T any](eng *Engine, def *job.Definition[T]) error {
	return job.RegisterDefinition(eng.registry, def)
}

// Enqueue marshals a typed payload and enqueues a named job for it.
func Enqueue[T any](ctx context.Context, eng *Engine, name string, payload T, opts ...job.Option) (*job.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for job %q: %w", name, err)
	}
	return eng.EnqueueRaw(ctx, name, data, opts...)
}

// EnqueueCommand enqueues an unnamed job whose payload is a command line
// executed by the shell runner.
func (eng *Engine) EnqueueCommand(ctx context.Context, command string, opts ...job.Option) (*job.Job, error) {
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("taskq: empty command")
	}
	return eng.EnqueueRaw(ctx, "", []byte(command), opts...)
}

// EnqueueRaw enqueues a job with a pre-serialized payload. The attempt
// budget and timeout default from the dispatcher configuration; options
// override per job.
func (eng *Engine) EnqueueRaw(ctx context.Context, name string, payload []byte, opts ...job.Option) (*job.Job, error) {
	config := eng.d.Config()

	jobOpts := job.DefaultOptions()
	jobOpts.MaxAttempts = config.DefaultMaxAttempts
	jobOpts.Timeout = config.DefaultTimeout
	for _, opt := range opts {
		opt(&jobOpts)
	}

	j := job.New(name, payload, jobOpts)
	if err := eng.jobStore.Create(ctx, j); err != nil {
		return nil, err
	}

	eng.hooks.EmitJobEnqueued(ctx, j)
	eng.logger.Debug("job enqueued",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.String("queue", j.Queue))
	return j, nil
}

// Get retrieves a job by ID.
func (eng *Engine) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return eng.jobStore.Get(ctx, jobID)
}

// List returns jobs matching the filter in creation order.
func (eng *Engine) List(ctx context.Context, f job.Filter) ([]*job.Job, error) {
	return eng.jobStore.List(ctx, f)
}

// Stats summarizes the job population by state.
type Stats struct {
	Queued    int64 `json:"queued"`
	Running   int64 `json:"running"`
	Retrying  int64 `json:"retrying"`
	Succeeded int64 `json:"succeeded"`
	Dead      int64 `json:"dead"`
	Total     int64 `json:"total"`
}

// Stats returns per-state job counts.
func (eng *Engine) Stats(ctx context.Context) (Stats, error) {
	counts, err := eng.jobStore.Counts(ctx)
	if err != nil {
		return Stats{}, err
	}
	s := Stats{
		Queued:    counts[job.StateQueued],
		Running:   counts[job.StateRunning],
		Retrying:  counts[job.StateRetrying],
		Succeeded: counts[job.StateSucceeded],
		Dead:      counts[job.StateDead],
	}
	s.Total = s.Queued + s.Running + s.Retrying + s.Succeeded + s.Dead
	return s, nil
}

// Requeue moves a dead job back to queued with a fresh attempt budget
// and notifies hooks.
func (eng *Engine) Requeue(ctx context.Context, jobID id.JobID) error {
	if err := eng.jobStore.Requeue(ctx, jobID); err != nil {
		return err
	}
	j, err := eng.jobStore.Get(ctx, jobID)
	if err != nil {
		// The requeue itself succeeded; the hook just misses its payload.
		eng.logger.Warn("requeued job not readable for hooks",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()))
		return nil
	}
	eng.hooks.EmitJobRequeued(ctx, j)
	return nil
}

// Start begins job processing.
func (eng *Engine) Start(ctx context.Context) error {
	return eng.d.Start(ctx)
}

// Stop gracefully shuts down the engine. When ctx carries no deadline
// the configured shutdown timeout bounds the drain.
func (eng *Engine) Stop(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, eng.d.Config().ShutdownTimeout)
		defer cancel()
	}
	return eng.d.Stop(ctx)
}

// Hooks returns the hook registry.
func (eng *Engine) Hooks() *hook.Registry { return eng.hooks }

// Registry returns the job handler registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Dispatcher returns the underlying Dispatcher.
func (eng *Engine) Dispatcher() *taskq.Dispatcher { return eng.d }

// DLQ returns the dead letter queue service.
func (eng *Engine) DLQ() *dlq.Service { return eng.dlqService }

// QueueManager returns the queue manager, or nil when no queue configs
// were provided.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queueManager }
