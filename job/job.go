package job

import (
	"time"

	"github.com/PyNishanth/taskq-system/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StateQueued means the job is waiting to be picked up by a worker.
	StateQueued State = "queued"
	// StateRunning means a worker holds the lease and is executing the job.
	StateRunning State = "running"
	// StateRetrying means the job failed and is scheduled for another attempt.
	StateRetrying State = "retrying"
	// StateSucceeded means the job finished successfully.
	StateSucceeded State = "succeeded"
	// StateDead means the job exhausted its attempt budget and sits in the
	// dead letter queue until an operator intervenes.
	StateDead State = "dead"
)

// States lists every valid state, useful for filters and CLI validation.
var States = []State{StateQueued, StateRunning, StateRetrying, StateSucceeded, StateDead}

// Valid reports whether s is one of the defined states.
func (s State) Valid() bool {
	switch s {
	case StateQueued, StateRunning, StateRetrying, StateSucceeded, StateDead:
		return true
	}
	return false
}

// Terminal reports whether s is a resting state that no worker activity
// can leave. Only an operator requeue moves a job out of StateDead.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateDead
}

// Job represents a unit of work to be processed by a worker.
//
// AttemptCount counts claims, not failures: it is incremented the moment a
// worker takes the lease, so a crashed attempt is already paid for when the
// job comes back. It never decreases except through an operator requeue,
// which resets it to zero.
type Job struct {
	ID           id.JobID      `json:"id"`
	Queue        string        `json:"queue"`
	Name         string        `json:"name,omitempty"`
	Payload      []byte        `json:"payload,omitempty"`
	State        State         `json:"state"`
	AttemptCount int           `json:"attempt_count"`
	MaxAttempts  int           `json:"max_attempts"`
	NextRunAt    time.Time     `json:"next_run_at"`
	Timeout      time.Duration `json:"timeout,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
	LockedBy     id.WorkerID   `json:"locked_by,omitempty"`
	LockExpiry   *time.Time    `json:"lock_expiry,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// New builds a queued job from a name, payload, and options. The returned
// job is ready to persist: it has an ID, timestamps, and a NextRunAt of
// now unless the options schedule it later.
func New(name string, payload []byte, opts Options) *Job {
	now := time.Now().UTC()
	runAt := opts.RunAt
	if runAt.IsZero() {
		runAt = now
	}
	return &Job{
		ID:          id.NewJobID(),
		Queue:       opts.Queue,
		Name:        name,
		Payload:     payload,
		State:       StateQueued,
		MaxAttempts: opts.MaxAttempts,
		NextRunAt:   runAt,
		Timeout:     opts.Timeout,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Eligible reports whether the job may be claimed at the given instant.
func (j *Job) Eligible(now time.Time) bool {
	if j.State != StateQueued && j.State != StateRetrying {
		return false
	}
	return !j.NextRunAt.After(now)
}

// LeaseActive reports whether the job is running under a lease that has
// not yet expired at the given instant.
func (j *Job) LeaseActive(now time.Time) bool {
	return j.State == StateRunning && j.LockExpiry != nil && j.LockExpiry.After(now)
}

// OwnedBy reports whether workerID holds a live lease on the job. A worker
// whose lease expired no longer owns the job even if LockedBy still names
// it; another worker may have reclaimed the job in the meantime.
func (j *Job) OwnedBy(workerID id.WorkerID, now time.Time) bool {
	return j.LeaseActive(now) && j.LockedBy.String() == workerID.String()
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	c := *j
	if j.Payload != nil {
		c.Payload = append([]byte(nil), j.Payload...)
	}
	if j.LockExpiry != nil {
		expiry := *j.LockExpiry
		c.LockExpiry = &expiry
	}
	return &c
}
