// Package hook defines the lifecycle hook system for taskq. Hooks are
// notified of job lifecycle events (enqueued, started, succeeded, dead,
// etc.) and can react to them, for example audit trails or notifications.
//
// Each lifecycle event is a separate interface so hooks opt in only to
// the events they care about.
package hook

import (
	"context"
	"time"

	"github.com/PyNishanth/taskq-system/job"
)

// Hook is the base interface all hooks must implement.
type Hook interface {
	// Name returns a unique human-readable name for the hook.
	Name() string
}

// JobEnqueued is called after a job is successfully enqueued.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a worker claims a job and begins executing it.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobSucceeded is called after a job finishes successfully.
type JobSucceeded interface {
	OnJobSucceeded(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobRetrying is called when an attempt fails but budget remains; the job
// is scheduled for another run at nextRunAt.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error
}

// JobDead is called when a job exhausts its attempt budget and lands in
// the dead letter queue.
type JobDead interface {
	OnJobDead(ctx context.Context, j *job.Job, cause string) error
}

// JobRequeued is called when an operator moves a dead job back to queued.
type JobRequeued interface {
	OnJobRequeued(ctx context.Context, j *job.Job) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
