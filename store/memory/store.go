// Package memory provides a fully in-memory job store. Safe for
// concurrent access. Intended for unit testing and development; it is
// the reference implementation of the store consistency contract.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	taskq "github.com/PyNishanth/taskq-system"
	"github.com/PyNishanth/taskq-system/backoff"
	"github.com/PyNishanth/taskq-system/id"
	"github.com/PyNishanth/taskq-system/job"
	"github.com/PyNishanth/taskq-system/store"
)

// Ensure Store implements store.Store at compile time.
var _ store.Store = (*Store)(nil)

// Store is an in-memory implementation of store.Store. Every operation
// runs under one mutex, which is what makes claim and fail atomic here;
// the database backends get the same effect from their transactions.
type Store struct {
	mu sync.RWMutex

	jobs     map[string]*job.Job
	strategy backoff.Strategy
	closed   bool
}

// Option configures the memory store.
type Option func(*Store)

// WithBackoff sets the retry delay strategy applied inside Fail.
func WithBackoff(s backoff.Strategy) Option {
	return func(m *Store) {
		m.strategy = s
	}
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	m := &Store{
		jobs:     make(map[string]*job.Job),
		strategy: backoff.DefaultStrategy(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping reports whether the store is open.
func (m *Store) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return taskq.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Further operations fail with
// ErrStoreClosed.
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// Create persists a new job in queued state.
func (m *Store) Create(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return taskq.ErrStoreClosed
	}

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return taskq.ErrJobAlreadyExists
	}

	cp := j.Clone()
	now := time.Now().UTC()
	if cp.State == "" {
		cp.State = job.StateQueued
	}
	if cp.NextRunAt.IsZero() {
		cp.NextRunAt = now
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = now
	}
	m.jobs[key] = cp
	return nil
}

// Get retrieves a job by ID.
func (m *Store) Get(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, taskq.ErrStoreClosed
	}

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, taskq.ErrJobNotFound
	}
	return j.Clone(), nil
}

// List returns jobs matching the filter, ordered by creation time.
func (m *Store) List(_ context.Context, f job.Filter) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, taskq.ErrStoreClosed
	}

	stateSet := make(map[job.State]struct{}, len(f.States))
	for _, s := range f.States {
		stateSet[s] = struct{}{}
	}

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if len(stateSet) > 0 {
			if _, ok := stateSet[j.State]; !ok {
				continue
			}
		}
		if f.Queue != "" && j.Queue != f.Queue {
			continue
		}
		if !f.CreatedAfter.IsZero() && j.CreatedAt.Before(f.CreatedAfter) {
			continue
		}
		if !f.CreatedBefore.IsZero() && !j.CreatedAt.Before(f.CreatedBefore) {
			continue
		}
		result = append(result, j.Clone())
	}

	// TypeIDs are K-sortable, so the ID tiebreak preserves creation order
	// even for jobs created in the same wall clock instant.
	sort.Slice(result, func(i, k int) bool {
		if !result[i].CreatedAt.Equal(result[k].CreatedAt) {
			return result[i].CreatedAt.Before(result[k].CreatedAt)
		}
		return result[i].ID.String() < result[k].ID.String()
	})

	if f.Offset > 0 {
		if f.Offset >= len(result) {
			return nil, nil
		}
		result = result[f.Offset:]
	}
	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}

	return result, nil
}

// ClaimNext atomically claims the eligible job with the earliest
// NextRunAt, marks it running under a lease, and spends one attempt.
func (m *Store) ClaimNext(_ context.Context, workerID id.WorkerID, queues []string, lease time.Duration) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, taskq.ErrStoreClosed
	}

	queueSet := make(map[string]struct{}, len(queues))
	for _, q := range queues {
		queueSet[q] = struct{}{}
	}

	now := time.Now().UTC()

	var next *job.Job
	for _, j := range m.jobs {
		if !j.Eligible(now) {
			continue
		}
		if len(queueSet) > 0 {
			if _, ok := queueSet[j.Queue]; !ok {
				continue
			}
		}
		if next == nil || claimBefore(j, next) {
			next = j
		}
	}
	if next == nil {
		return nil, taskq.ErrNoJob
	}

	expiry := now.Add(lease)
	next.State = job.StateRunning
	next.LockedBy = workerID
	next.LockExpiry = &expiry
	next.AttemptCount++
	next.UpdatedAt = now

	return next.Clone(), nil
}

// claimBefore orders claim candidates: earliest NextRunAt first, then
// creation order.
func claimBefore(a, b *job.Job) bool {
	if !a.NextRunAt.Equal(b.NextRunAt) {
		return a.NextRunAt.Before(b.NextRunAt)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

// ExtendLease pushes the lease expiry of a running job owned by workerID.
func (m *Store) ExtendLease(_ context.Context, jobID id.JobID, workerID id.WorkerID, lease time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return taskq.ErrStoreClosed
	}

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return taskq.ErrJobNotFound
	}

	now := time.Now().UTC()
	if !j.OwnedBy(workerID, now) {
		return taskq.ErrLeaseLost
	}

	expiry := now.Add(lease)
	j.LockExpiry = &expiry
	j.UpdatedAt = now
	return nil
}

// Complete marks a running job owned by workerID as succeeded.
func (m *Store) Complete(_ context.Context, jobID id.JobID, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return taskq.ErrStoreClosed
	}

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return taskq.ErrJobNotFound
	}

	now := time.Now().UTC()
	if !j.OwnedBy(workerID, now) {
		return taskq.ErrLeaseLost
	}
	if err := job.ValidateTransition(j.State, job.StateSucceeded); err != nil {
		return err
	}

	j.State = job.StateSucceeded
	j.LastError = ""
	clearLease(j)
	j.UpdatedAt = now
	return nil
}

// Fail records a failed attempt and applies the retry policy in the same
// step: backoff into retrying while budget remains, dead once it is spent.
func (m *Store) Fail(_ context.Context, jobID id.JobID, workerID id.WorkerID, cause string) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, taskq.ErrStoreClosed
	}

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, taskq.ErrJobNotFound
	}

	now := time.Now().UTC()
	if !j.OwnedBy(workerID, now) {
		return nil, taskq.ErrLeaseLost
	}

	if backoff.ShouldRetry(j.AttemptCount, j.MaxAttempts) {
		if err := job.ValidateTransition(j.State, job.StateRetrying); err != nil {
			return nil, err
		}
		j.State = job.StateRetrying
		j.NextRunAt = now.Add(m.strategy.Delay(j.AttemptCount))
	} else {
		if err := job.ValidateTransition(j.State, job.StateDead); err != nil {
			return nil, err
		}
		j.State = job.StateDead
	}

	j.LastError = cause
	clearLease(j)
	j.UpdatedAt = now
	return j.Clone(), nil
}

// ReclaimExpired sweeps running jobs whose lease expired before now. The
// crashed attempt was already counted at claim, so the counter stays put;
// a job whose budget that attempt spent goes straight to dead.
func (m *Store) ReclaimExpired(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, taskq.ErrStoreClosed
	}

	count := 0
	for _, j := range m.jobs {
		if j.State != job.StateRunning || j.LockExpiry == nil || j.LockExpiry.After(now) {
			continue
		}

		if backoff.ShouldRetry(j.AttemptCount, j.MaxAttempts) {
			j.State = job.StateRetrying
			j.NextRunAt = now
		} else {
			j.State = job.StateDead
			j.LastError = "lease expired"
		}
		clearLease(j)
		j.UpdatedAt = now
		count++
	}
	return count, nil
}

// Requeue moves a dead job back to queued with a fresh attempt budget.
func (m *Store) Requeue(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return taskq.ErrStoreClosed
	}

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return taskq.ErrJobNotFound
	}
	if err := job.ValidateTransition(j.State, job.StateQueued); err != nil {
		return err
	}

	now := time.Now().UTC()
	j.State = job.StateQueued
	j.AttemptCount = 0
	j.NextRunAt = now
	j.LastError = ""
	clearLease(j)
	j.UpdatedAt = now
	return nil
}

// Delete removes a job by ID.
func (m *Store) Delete(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return taskq.ErrStoreClosed
	}

	key := jobID.String()
	if _, ok := m.jobs[key]; !ok {
		return taskq.ErrJobNotFound
	}
	delete(m.jobs, key)
	return nil
}

// DeleteOlder removes jobs in the given states last updated before cutoff.
func (m *Store) DeleteOlder(_ context.Context, states []job.State, cutoff time.Time, limit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, taskq.ErrStoreClosed
	}

	stateSet := make(map[job.State]struct{}, len(states))
	for _, s := range states {
		stateSet[s] = struct{}{}
	}

	count := 0
	for key, j := range m.jobs {
		if limit > 0 && count >= limit {
			break
		}
		if _, ok := stateSet[j.State]; !ok {
			continue
		}
		if !j.UpdatedAt.Before(cutoff) {
			continue
		}
		delete(m.jobs, key)
		count++
	}
	return count, nil
}

// Counts returns the number of jobs per state.
func (m *Store) Counts(_ context.Context) (map[job.State]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, taskq.ErrStoreClosed
	}

	counts := make(map[job.State]int64, len(job.States))
	for _, j := range m.jobs {
		counts[j.State]++
	}
	return counts, nil
}

// clearLease releases job ownership.
func clearLease(j *job.Job) {
	j.LockedBy = id.Nil
	j.LockExpiry = nil
}
