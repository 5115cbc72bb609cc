package job

import (
	"context"
	"time"

	"github.com/PyNishanth/taskq-system/id"
)

// Filter controls which jobs List returns and how many.
type Filter struct {
	// States filters by job state. Empty means all states.
	States []State
	// Queue filters by queue name. Empty means all queues.
	Queue string
	// CreatedAfter keeps jobs created at or after the given time.
	CreatedAfter time.Time
	// CreatedBefore keeps jobs created before the given time.
	CreatedBefore time.Time
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
}

// Store defines the persistence contract for jobs.
//
// Claiming and outcome reporting are single atomic operations: two workers
// calling ClaimNext concurrently never receive the same job, and a worker
// whose lease has lapsed gets ErrLeaseLost instead of overwriting state
// written by whoever holds the job now. Implementations apply the retry
// policy inside Fail so that a failed job lands in retrying or dead without
// any observable intermediate state.
type Store interface {
	// Create persists a new job. The job must be in StateQueued.
	// Returns ErrJobAlreadyExists if the ID is taken.
	Create(ctx context.Context, j *Job) error

	// Get retrieves a job by ID. Returns ErrJobNotFound if absent.
	Get(ctx context.Context, jobID id.JobID) (*Job, error)

	// List returns jobs matching the filter, ordered by creation time
	// ascending.
	List(ctx context.Context, f Filter) ([]*Job, error)

	// ClaimNext atomically claims the eligible job with the earliest
	// NextRunAt (ties broken by creation order), marks it running, records
	// the worker as lease holder until now+lease, and increments the
	// attempt counter. An empty queues slice claims from any queue.
	// Returns ErrNoJob when nothing is eligible.
	ClaimNext(ctx context.Context, workerID id.WorkerID, queues []string, lease time.Duration) (*Job, error)

	// ExtendLease pushes the lease expiry of a running job owned by
	// workerID to now+lease. Returns ErrLeaseLost if the worker no longer
	// owns the job.
	ExtendLease(ctx context.Context, jobID id.JobID, workerID id.WorkerID, lease time.Duration) error

	// Complete marks a running job owned by workerID as succeeded and
	// releases the lease. Returns ErrLeaseLost if the worker no longer
	// owns the job.
	Complete(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error

	// Fail records a failed attempt for a running job owned by workerID
	// and applies the retry policy in the same step: the job moves to
	// retrying with a backoff delay if attempts remain, otherwise to dead.
	// Returns the updated job, or ErrLeaseLost if the worker no longer
	// owns it.
	Fail(ctx context.Context, jobID id.JobID, workerID id.WorkerID, cause string) (*Job, error)

	// ReclaimExpired sweeps running jobs whose lease expired before now.
	// Each becomes immediately eligible for retry without the attempt
	// counter changing (the crashed attempt was counted at claim), or dead
	// if that attempt was the last one. Returns the number of jobs swept.
	ReclaimExpired(ctx context.Context, now time.Time) (int, error)

	// Requeue moves a dead job back to queued with a fresh attempt budget.
	// Returns ErrInvalidTransition if the job is not dead.
	Requeue(ctx context.Context, jobID id.JobID) error

	// Delete removes a job by ID. Returns ErrJobNotFound if absent.
	Delete(ctx context.Context, jobID id.JobID) error

	// DeleteOlder removes jobs in the given states whose last update is
	// before cutoff, at most limit of them (limit <= 0 means no limit).
	// Returns the number deleted.
	DeleteOlder(ctx context.Context, states []State, cutoff time.Time, limit int) (int, error)

	// Counts returns the number of jobs per state.
	Counts(ctx context.Context) (map[State]int64, error)
}
