package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	taskq "github.com/PyNishanth/taskq-system"
	"github.com/PyNishanth/taskq-system/backoff"
	"github.com/PyNishanth/taskq-system/id"
	"github.com/PyNishanth/taskq-system/job"
)

// jobColumns is the column list shared by every SELECT and RETURNING
// clause. scanJob reads rows in this order.
const jobColumns = `id, name, queue, payload, state, attempt_count, max_attempts,
	next_run_at, timeout, last_error, locked_by, lock_expiry, created_at, updated_at`

// Create persists a new job.
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

	var lockedBy *string
	if !cp.LockedBy.IsNil() {
		v := cp.LockedBy.String()
		lockedBy = &v
	}

	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO taskq_jobs (%s) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13, $14
		)`, jobColumns),
		cp.ID.String(), cp.Name, cp.Queue, cp.Payload, string(cp.State),
		cp.AttemptCount, cp.MaxAttempts, cp.NextRunAt, cp.Timeout.Nanoseconds(),
		cp.LastError, lockedBy, cp.LockExpiry, cp.CreatedAt, cp.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return taskq.ErrJobAlreadyExists
		}
		return fmt.Errorf("taskq/postgres: create job: %w", err)
	}
	return nil
}

// Get retrieves a job by ID.
func (s *Store) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM taskq_jobs WHERE id = $1`, jobColumns),
		jobID.String(),
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, taskq.ErrJobNotFound
		}
		return nil, fmt.Errorf("taskq/postgres: get job: %w", err)
	}
	return j, nil
}

// List returns jobs matching the filter, oldest first.
func (s *Store) List(ctx context.Context, filter job.Filter) ([]*job.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM taskq_jobs WHERE 1=1`, jobColumns)
	args := []any{}
	argIdx := 1

	if len(filter.States) > 0 {
		states := make([]string, len(filter.States))
		for i, st := range filter.States {
			states[i] = string(st)
		}
		query += fmt.Sprintf(" AND state = ANY($%d)", argIdx)
		args = append(args, states)
		argIdx++
	}
	if filter.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, filter.Queue)
		argIdx++
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(" AND created_at > $%d", argIdx)
		args = append(args, filter.CreatedAfter)
		argIdx++
	}
	if !filter.CreatedBefore.IsZero() {
		query += fmt.Sprintf(" AND created_at < $%d", argIdx)
		args = append(args, filter.CreatedBefore)
		argIdx++
	}

	query += " ORDER BY created_at ASC, id ASC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
		argIdx++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("taskq/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// ClaimNext atomically claims the next eligible job for workerID. The
// inner SELECT takes a row lock with SKIP LOCKED so concurrent claimers
// pick distinct rows without waiting on each other.
func (s *Store) ClaimNext(ctx context.Context, workerID id.WorkerID, queues []string, lease time.Duration) (*job.Job, error) {
	if queues == nil {
		queues = []string{}
	}
	row := s.pool.QueryRow(ctx, `
		WITH claimed AS (
			SELECT id FROM taskq_jobs
			WHERE state IN ('queued', 'retrying')
			  AND next_run_at <= NOW()
			  AND (cardinality($3::text[]) = 0 OR queue = ANY($3))
			ORDER BY next_run_at ASC, created_at ASC, id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE taskq_jobs j
		SET state = 'running', locked_by = $1,
		    lock_expiry = NOW() + make_interval(secs => $2),
		    attempt_count = j.attempt_count + 1, updated_at = NOW()
		FROM claimed
		WHERE j.id = claimed.id
		RETURNING
			j.id, j.name, j.queue, j.payload, j.state, j.attempt_count, j.max_attempts,
			j.next_run_at, j.timeout, j.last_error, j.locked_by, j.lock_expiry,
			j.created_at, j.updated_at`,
		workerID.String(), lease.Seconds(), queues,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, taskq.ErrNoJob
		}
		return nil, fmt.Errorf("taskq/postgres: claim job: %w", err)
	}
	return j, nil
}

// ExtendLease pushes the lease expiry forward for a job the worker
// still holds.
func (s *Store) ExtendLease(ctx context.Context, jobID id.JobID, workerID id.WorkerID, lease time.Duration) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE taskq_jobs
		SET lock_expiry = NOW() + make_interval(secs => $3), updated_at = NOW()
		WHERE id = $1 AND state = 'running' AND locked_by = $2 AND lock_expiry > NOW()`,
		jobID.String(), workerID.String(), lease.Seconds(),
	)
	if err != nil {
		return fmt.Errorf("taskq/postgres: extend lease: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.ownershipOutcome(ctx, jobID)
	}
	return nil
}

// Complete marks a job the worker still holds as succeeded.
func (s *Store) Complete(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE taskq_jobs
		SET state = 'succeeded', last_error = '',
		    locked_by = NULL, lock_expiry = NULL, updated_at = NOW()
		WHERE id = $1 AND state = 'running' AND locked_by = $2 AND lock_expiry > NOW()`,
		jobID.String(), workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("taskq/postgres: complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.ownershipOutcome(ctx, jobID)
	}
	return nil
}

// Fail records a failed attempt and atomically applies the retry
// decision. The row lock taken by SELECT FOR UPDATE holds the job still
// between the ownership check and the state write.
func (s *Store) Fail(ctx context.Context, jobID id.JobID, workerID id.WorkerID, cause string) (*job.Job, error) {
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("taskq/postgres: begin fail: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	row := tx.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM taskq_jobs WHERE id = $1 FOR UPDATE`, jobColumns),
		jobID.String(),
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, taskq.ErrJobNotFound
		}
		return nil, fmt.Errorf("taskq/postgres: fail read: %w", err)
	}
	if !j.OwnedBy(workerID, now) {
		return nil, taskq.ErrLeaseLost
	}

	next := job.StateDead
	if backoff.ShouldRetry(j.AttemptCount, j.MaxAttempts) {
		next = job.StateRetrying
		j.NextRunAt = now.Add(s.strategy.Delay(j.AttemptCount))
	}
	if err := job.ValidateTransition(j.State, next); err != nil {
		return nil, err
	}
	j.State = next
	j.LastError = cause
	j.LockedBy = id.Nil
	j.LockExpiry = nil
	j.UpdatedAt = now

	_, err = tx.Exec(ctx, `
		UPDATE taskq_jobs
		SET state = $2, last_error = $3, next_run_at = $4,
		    locked_by = NULL, lock_expiry = NULL, updated_at = $5
		WHERE id = $1`,
		jobID.String(), string(j.State), j.LastError, j.NextRunAt, now,
	)
	if err != nil {
		return nil, fmt.Errorf("taskq/postgres: fail write: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("taskq/postgres: fail commit: %w", err)
	}
	return j, nil
}

// ReclaimExpired returns every job whose lease expired at or before now
// to the retry queue, or moves it to dead when its attempt budget is
// already spent.
func (s *Store) ReclaimExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE taskq_jobs
		SET state       = CASE WHEN attempt_count < max_attempts THEN 'retrying' ELSE 'dead' END,
		    last_error  = CASE WHEN attempt_count < max_attempts THEN last_error ELSE 'lease expired' END,
		    next_run_at = CASE WHEN attempt_count < max_attempts THEN $1 ELSE next_run_at END,
		    locked_by = NULL, lock_expiry = NULL, updated_at = $1
		WHERE state = 'running' AND lock_expiry IS NOT NULL AND lock_expiry <= $1`,
		now.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("taskq/postgres: reclaim expired: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Requeue returns a dead job to the queue with a fresh attempt budget.
func (s *Store) Requeue(ctx context.Context, jobID id.JobID) error {
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("taskq/postgres: begin requeue: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	var state string
	err = tx.QueryRow(ctx,
		`SELECT state FROM taskq_jobs WHERE id = $1 FOR UPDATE`, jobID.String(),
	).Scan(&state)
	if err != nil {
		if isNoRows(err) {
			return taskq.ErrJobNotFound
		}
		return fmt.Errorf("taskq/postgres: requeue read: %w", err)
	}
	if err := job.ValidateTransition(job.State(state), job.StateQueued); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE taskq_jobs
		SET state = 'queued', attempt_count = 0, next_run_at = $2, last_error = '',
		    locked_by = NULL, lock_expiry = NULL, updated_at = $2
		WHERE id = $1`,
		jobID.String(), now,
	)
	if err != nil {
		return fmt.Errorf("taskq/postgres: requeue write: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("taskq/postgres: requeue commit: %w", err)
	}
	return nil
}

// Delete removes a job by ID.
func (s *Store) Delete(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM taskq_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("taskq/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
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

	query := `DELETE FROM taskq_jobs WHERE state = ANY($1) AND updated_at < $2`
	args := []any{list, cutoff.UTC()}
	if limit > 0 {
		query = `
			DELETE FROM taskq_jobs WHERE id IN (
				SELECT id FROM taskq_jobs
				WHERE state = ANY($1) AND updated_at < $2
				ORDER BY updated_at ASC
				LIMIT $3
			)`
		args = append(args, limit)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("taskq/postgres: delete older: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Counts returns the number of jobs per state.
func (s *Store) Counts(ctx context.Context) (map[job.State]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT state, COUNT(*) FROM taskq_jobs GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("taskq/postgres: count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[job.State]int64)
	for rows.Next() {
		var (
			state string
			n     int64
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("taskq/postgres: count scan: %w", err)
		}
		counts[job.State(state)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("taskq/postgres: iterate counts: %w", err)
	}
	return counts, nil
}

// ── scanning ─────────────────────────────────────────────────────

// scanJob scans a single job row in jobColumns order.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j          job.Job
		idStr      string
		stateStr   string
		timeoutNs  int64
		lockedBy   *string
		lockExpiry *time.Time
	)
	err := row.Scan(
		&idStr, &j.Name, &j.Queue, &j.Payload, &stateStr,
		&j.AttemptCount, &j.MaxAttempts, &j.NextRunAt, &timeoutNs,
		&j.LastError, &lockedBy, &lockExpiry, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.State = job.State(stateStr)
	j.Timeout = time.Duration(timeoutNs)

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("taskq/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	if lockedBy != nil && *lockedBy != "" {
		parsedWorker, workerErr := id.ParseWorkerID(*lockedBy)
		if workerErr == nil {
			j.LockedBy = parsedWorker
		}
	}
	if lockExpiry != nil {
		t := lockExpiry.UTC()
		j.LockExpiry = &t
	}
	j.NextRunAt = j.NextRunAt.UTC()
	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("taskq/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("taskq/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}

// ── helpers ──────────────────────────────────────────────────────

// ownershipOutcome maps a guarded UPDATE that matched no rows to the
// right error: the job is gone, or the caller no longer owns it.
func (s *Store) ownershipOutcome(ctx context.Context, jobID id.JobID) error {
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM taskq_jobs WHERE id = $1`, jobID.String()).Scan(&one)
	if isNoRows(err) {
		return taskq.ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("taskq/postgres: ownership check: %w", err)
	}
	return taskq.ErrLeaseLost
}
