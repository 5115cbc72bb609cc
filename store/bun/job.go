package bunstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	taskq "github.com/PyNishanth/taskq-system"
	"github.com/PyNishanth/taskq-system/backoff"
	"github.com/PyNishanth/taskq-system/id"
	"github.com/PyNishanth/taskq-system/job"
)

// Create persists a new job in queued state.
func (s *Store) Create(ctx context.Context, j *job.Job) error {
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
	cp.UpdatedAt = now

	_, err := s.db.NewInsert().Model(toJobModel(cp)).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return taskq.ErrJobAlreadyExists
		}
		return fmt.Errorf("taskq/bun: create job: %w", err)
	}
	return nil
}

// Get retrieves a job by ID.
func (s *Store) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	m := new(jobModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", jobID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, taskq.ErrJobNotFound
		}
		return nil, fmt.Errorf("taskq/bun: get job: %w", err)
	}
	return fromJobModel(m)
}

// List returns jobs matching the filter, oldest first.
func (s *Store) List(ctx context.Context, f job.Filter) ([]*job.Job, error) {
	var models []jobModel
	q := s.db.NewSelect().Model(&models)

	if len(f.States) > 0 {
		states := make([]string, len(f.States))
		for i, st := range f.States {
			states[i] = string(st)
		}
		q = q.Where("state = ANY(?)", pgdialect.Array(states))
	}
	if f.Queue != "" {
		q = q.Where("queue = ?", f.Queue)
	}
	if !f.CreatedAfter.IsZero() {
		q = q.Where("created_at > ?", f.CreatedAfter)
	}
	if !f.CreatedBefore.IsZero() {
		q = q.Where("created_at < ?", f.CreatedBefore)
	}

	q = q.Order("created_at ASC", "id ASC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("taskq/bun: list jobs: %w", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, err := fromJobModel(&models[i])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// ClaimNext atomically claims the next eligible job for workerID. The
// inner SELECT takes a row lock with SKIP LOCKED so concurrent claimers
// pick distinct rows without waiting on each other.
func (s *Store) ClaimNext(ctx context.Context, workerID id.WorkerID, queues []string, lease time.Duration) (*job.Job, error) {
	if queues == nil {
		queues = []string{}
	}
	m := new(jobModel)
	err := s.db.NewRaw(`
		WITH claimed AS (
			SELECT id FROM taskq_jobs
			WHERE state IN ('queued', 'retrying')
			  AND next_run_at <= NOW()
			  AND (cardinality(?0::text[]) = 0 OR queue = ANY(?0))
			ORDER BY next_run_at ASC, created_at ASC, id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE taskq_jobs j
		SET state = 'running', locked_by = ?1,
		    lock_expiry = NOW() + make_interval(secs => ?2),
		    attempt_count = j.attempt_count + 1, updated_at = NOW()
		FROM claimed
		WHERE j.id = claimed.id
		RETURNING j.*`,
		pgdialect.Array(queues), workerID.String(), lease.Seconds(),
	).Scan(ctx, m)
	if err != nil {
		if isNoRows(err) {
			return nil, taskq.ErrNoJob
		}
		return nil, fmt.Errorf("taskq/bun: claim job: %w", err)
	}
	return fromJobModel(m)
}

// ExtendLease pushes the lease expiry forward for a job the worker
// still holds.
func (s *Store) ExtendLease(ctx context.Context, jobID id.JobID, workerID id.WorkerID, lease time.Duration) error {
	res, err := s.db.NewUpdate().
		TableExpr("taskq_jobs").
		Set("lock_expiry = NOW() + make_interval(secs => ?)", lease.Seconds()).
		Set("updated_at = NOW()").
		Where("id = ?", jobID.String()).
		Where("state = 'running'").
		Where("locked_by = ?", workerID.String()).
		Where("lock_expiry > NOW()").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("taskq/bun: extend lease: %w", err)
	}
	return s.guardOutcome(ctx, res, jobID)
}

// Complete marks a job the worker still holds as succeeded.
func (s *Store) Complete(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	res, err := s.db.NewUpdate().
		TableExpr("taskq_jobs").
		Set("state = 'succeeded'").
		Set("last_error = ''").
		Set("locked_by = NULL").
		Set("lock_expiry = NULL").
		Set("updated_at = NOW()").
		Where("id = ?", jobID.String()).
		Where("state = 'running'").
		Where("locked_by = ?", workerID.String()).
		Where("lock_expiry > NOW()").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("taskq/bun: complete job: %w", err)
	}
	return s.guardOutcome(ctx, res, jobID)
}

// Fail records a failed attempt and atomically applies the retry
// decision inside one transaction holding the row lock.
func (s *Store) Fail(ctx context.Context, jobID id.JobID, workerID id.WorkerID, cause string) (*job.Job, error) {
	now := time.Now().UTC()
	var updated *job.Job

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		m := new(jobModel)
		err := tx.NewSelect().Model(m).
			Where("id = ?", jobID.String()).
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			if isNoRows(err) {
				return taskq.ErrJobNotFound
			}
			return fmt.Errorf("taskq/bun: fail read: %w", err)
		}
		j, err := fromJobModel(m)
		if err != nil {
			return err
		}
		if !j.OwnedBy(workerID, now) {
			return taskq.ErrLeaseLost
		}

		next := job.StateDead
		if backoff.ShouldRetry(j.AttemptCount, j.MaxAttempts) {
			next = job.StateRetrying
			j.NextRunAt = now.Add(s.strategy.Delay(j.AttemptCount))
		}
		if err := job.ValidateTransition(j.State, next); err != nil {
			return err
		}
		j.State = next
		j.LastError = cause
		j.LockedBy = id.Nil
		j.LockExpiry = nil
		j.UpdatedAt = now

		_, err = tx.NewUpdate().
			TableExpr("taskq_jobs").
			Set("state = ?", string(j.State)).
			Set("last_error = ?", j.LastError).
			Set("next_run_at = ?", j.NextRunAt).
			Set("locked_by = NULL").
			Set("lock_expiry = NULL").
			Set("updated_at = ?", now).
			Where("id = ?", jobID.String()).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("taskq/bun: fail write: %w", err)
		}
		updated = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ReclaimExpired returns every job whose lease expired at or before now
// to the retry queue, or moves it to dead when its attempt budget is
// already spent.
func (s *Store) ReclaimExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.NewRaw(`
		UPDATE taskq_jobs
		SET state       = CASE WHEN attempt_count < max_attempts THEN 'retrying' ELSE 'dead' END,
		    last_error  = CASE WHEN attempt_count < max_attempts THEN last_error ELSE 'lease expired' END,
		    next_run_at = CASE WHEN attempt_count < max_attempts THEN ?0 ELSE next_run_at END,
		    locked_by = NULL, lock_expiry = NULL, updated_at = ?0
		WHERE state = 'running' AND lock_expiry IS NOT NULL AND lock_expiry <= ?0`,
		now.UTC(),
	).Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("taskq/bun: reclaim expired: %w", err)
	}
	n, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return int(n), nil
}

// Requeue returns a dead job to the queue with a fresh attempt budget.
func (s *Store) Requeue(ctx context.Context, jobID id.JobID) error {
	now := time.Now().UTC()

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var state string
		err := tx.NewSelect().
			TableExpr("taskq_jobs").
			Column("state").
			Where("id = ?", jobID.String()).
			For("UPDATE").
			Scan(ctx, &state)
		if err != nil {
			if isNoRows(err) {
				return taskq.ErrJobNotFound
			}
			return fmt.Errorf("taskq/bun: requeue read: %w", err)
		}
		if err := job.ValidateTransition(job.State(state), job.StateQueued); err != nil {
			return err
		}

		_, err = tx.NewUpdate().
			TableExpr("taskq_jobs").
			Set("state = 'queued'").
			Set("attempt_count = 0").
			Set("last_error = ''").
			Set("next_run_at = ?", now).
			Set("locked_by = NULL").
			Set("lock_expiry = NULL").
			Set("updated_at = ?", now).
			Where("id = ?", jobID.String()).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("taskq/bun: requeue write: %w", err)
		}
		return nil
	})
}

// Delete removes a job by ID.
func (s *Store) Delete(ctx context.Context, jobID id.JobID) error {
	res, err := s.db.NewDelete().
		TableExpr("taskq_jobs").
		Where("id = ?", jobID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("taskq/bun: delete job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return taskq.ErrJobNotFound
	}
	return nil
}

// DeleteOlder removes jobs in the given states whose last update is
// before cutoff. A limit of zero or less removes all matches.
func (s *Store) DeleteOlder(ctx context.Context, states []job.State, cutoff time.Time, limit int) (int, error) {
	if len(states) == 0 {
		return 0, nil
	}
	list := make([]string, len(states))
	for i, st := range states {
		list[i] = string(st)
	}

	var (
		res sql.Result
		err error
	)
	if limit > 0 {
		res, err = s.db.NewRaw(`
			DELETE FROM taskq_jobs WHERE id IN (
				SELECT id FROM taskq_jobs
				WHERE state = ANY(?0) AND updated_at < ?1
				ORDER BY updated_at ASC
				LIMIT ?2
			)`,
			pgdialect.Array(list), cutoff.UTC(), limit,
		).Exec(ctx)
	} else {
		res, err = s.db.NewRaw(
			`DELETE FROM taskq_jobs WHERE state = ANY(?0) AND updated_at < ?1`,
			pgdialect.Array(list), cutoff.UTC(),
		).Exec(ctx)
	}
	if err != nil {
		return 0, fmt.Errorf("taskq/bun: delete older: %w", err)
	}
	n, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return int(n), nil
}

// Counts returns the number of jobs per state.
func (s *Store) Counts(ctx context.Context) (map[job.State]int64, error) {
	var rows []struct {
		State string `bun:"state"`
		N     int64  `bun:"n"`
	}
	err := s.db.NewSelect().
		TableExpr("taskq_jobs").
		ColumnExpr("state, COUNT(*) AS n").
		GroupExpr("state").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("taskq/bun: count jobs: %w", err)
	}

	counts := make(map[job.State]int64, len(rows))
	for _, r := range rows {
		counts[job.State(r.State)] = r.N
	}
	return counts, nil
}

// guardOutcome maps a guarded UPDATE that matched no rows to the right
// error: the job is gone, or the caller no longer owns it.
func (s *Store) guardOutcome(ctx context.Context, res sql.Result, jobID id.JobID) error {
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows > 0 {
		return nil
	}
	exists, err := s.db.NewSelect().
		TableExpr("taskq_jobs").
		Where("id = ?", jobID.String()).
		Exists(ctx)
	if err != nil {
		return fmt.Errorf("taskq/bun: ownership check: %w", err)
	}
	if !exists {
		return taskq.ErrJobNotFound
	}
	return taskq.ErrLeaseLost
}
