// Package worker provides the job execution engine: an Executor that
// runs one attempt through middleware and reports the outcome back to
// the store, and a Pool of claim loops with heartbeat, reclaim, and
// retention maintenance.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	taskq "github.com/PyNishanth/taskq-system"
	"github.com/PyNishanth/taskq-system/hook"
	"github.com/PyNishanth/taskq-system/id"
	"github.com/PyNishanth/taskq-system/job"
	"github.com/PyNishanth/taskq-system/middleware"
	"github.com/PyNishanth/taskq-system/run"
)

// reportRetries is how many times a store write is retried before the
// outcome is abandoned to the reclaim path.
const (
	reportRetries = 3
	reportBackoff = 250 * time.Millisecond
)

// Executor runs a single claimed job through the middleware chain and
// the runner, then reports the outcome: Complete on success, Fail
// otherwise, with the retry decision applied inside the store.
type Executor struct {
	store  job.Store
	runner run.Runner
	hooks  *hook.Registry
	mw     middleware.Middleware
	logger *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	store job.Store,
	runner run.Runner,
	hooks *hook.Registry,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		store:  store,
		runner: runner,
		hooks:  hooks,
		mw:     middleware.Chain(mws...),
		logger: logger,
	}
}

// Process executes one attempt of a claimed job and records the result.
// The job must be in StateRunning under a lease held by workerID. A
// report that comes back ErrLeaseLost is dropped: the lease expired
// mid-run and the reclaim sweep already rescheduled the job, so this
// worker's result no longer counts.
func (e *Executor) Process(ctx context.Context, j *job.Job, workerID id.WorkerID) {
	start := time.Now()

	terminal := func(ctx context.Context) error {
		return e.runner.Run(ctx, j).Err()
	}
	err := e.mw(ctx, j, terminal)
	outcome := run.FromError(err)
	elapsed := time.Since(start)

	// Reporting must survive the job context being cancelled by the
	// timeout middleware or shutdown.
	e.report(context.WithoutCancel(ctx), j, workerID, outcome, elapsed)
}

func (e *Executor) report(ctx context.Context, j *job.Job, workerID id.WorkerID, outcome run.Outcome, elapsed time.Duration) {
	if outcome.OK() {
		err := e.withRetry(ctx, func() error {
			return e.store.Complete(ctx, j.ID, workerID)
		})
		switch {
		case errors.Is(err, taskq.ErrLeaseLost):
			e.logger.Debug("success report dropped, lease lost",
				slog.String("job_id", j.ID.String()))
		case err != nil:
			e.logger.Error("failed to record job success",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()))
		default:
			e.hooks.EmitJobSucceeded(ctx, j, elapsed)
			e.logger.Info("job succeeded",
				slog.String("job_id", j.ID.String()),
				slog.String("job_name", j.Name),
				slog.Duration("elapsed", elapsed))
		}
		return
	}

	cause := outcome.Message()
	if outcome.Kind() == run.KindTimeout && cause == "" {
		cause = "execution timed out"
	}

	var updated *job.Job
	err := e.withRetry(ctx, func() error {
		var failErr error
		updated, failErr = e.store.Fail(ctx, j.ID, workerID, cause)
		return failErr
	})
	switch {
	case errors.Is(err, taskq.ErrLeaseLost):
		e.logger.Debug("failure report dropped, lease lost",
			slog.String("job_id", j.ID.String()))
		return
	case err != nil:
		e.logger.Error("failed to record job failure",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()))
		return
	}

	switch updated.State {
	case job.StateRetrying:
		e.hooks.EmitJobRetrying(ctx, updated, updated.AttemptCount, updated.NextRunAt)
		e.logger.Warn("job attempt failed, retry scheduled",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.Int("attempt", updated.AttemptCount),
			slog.Int("max_attempts", updated.MaxAttempts),
			slog.Time("next_run_at", updated.NextRunAt),
			slog.String("cause", cause))
	case job.StateDead:
		e.hooks.EmitJobDead(ctx, updated, cause)
		e.logger.Error("job moved to dead letter queue",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.Int("attempt_count", updated.AttemptCount),
			slog.String("cause", cause))
	}
}

// withRetry retries transient store errors. ErrLeaseLost and lifecycle
// errors are final: retrying them cannot change the answer.
func (e *Executor) withRetry(ctx context.Context, op func() error) error {
	var err error
	for i := range reportRetries {
		err = op()
		if err == nil ||
			errors.Is(err, taskq.ErrLeaseLost) ||
			errors.Is(err, taskq.ErrJobNotFound) ||
			errors.Is(err, taskq.ErrInvalidTransition) ||
			errors.Is(err, taskq.ErrStoreClosed) {
			return err
		}
		if i < reportRetries-1 {
			select {
			case <-ctx.Done():
				return err
			case <-time.After(reportBackoff << i):
			}
		}
	}
	return err
}
