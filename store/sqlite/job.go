package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	taskq "github.com/PyNishanth/taskq-system"
	"github.com/PyNishanth/taskq-system/backoff"
	"github.com/PyNishanth/taskq-system/id"
	"github.com/PyNishanth/taskq-system/job"
)

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

	query := fmt.Sprintf(
		`INSERT INTO taskq_jobs (%s) VALUES (%s)`,
		jobColumns, placeholders(14),
	)
	if _, err := s.db.ExecContext(ctx, query, insertArgs(cp)...); err != nil {
		if isDuplicateKey(err) {
			return taskq.ErrJobAlreadyExists
		}
		return fmt.Errorf("taskq/sqlite: create job: %w", err)
	}
	return nil
}

// Get retrieves a job by ID.
func (s *Store) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM taskq_jobs WHERE id = ?`, jobColumns)
	j, err := scanJob(s.db.QueryRowContext(ctx, query, jobID.String()))
	if err != nil {
		if isNoRows(err) {
			return nil, taskq.ErrJobNotFound
		}
		return nil, fmt.Errorf("taskq/sqlite: get job: %w", err)
	}
	return j, nil
}

// List returns jobs matching the filter, oldest first.
func (s *Store) List(ctx context.Context, filter job.Filter) ([]*job.Job, error) {
	var (
		conds []string
		args  []any
	)
	if len(filter.States) > 0 {
		conds = append(conds, fmt.Sprintf("state IN (%s)", placeholders(len(filter.States))))
		for _, st := range filter.States {
			args = append(args, string(st))
		}
	}
	if filter.Queue != "" {
		conds = append(conds, "queue = ?")
		args = append(args, filter.Queue)
	}
	if !filter.CreatedAfter.IsZero() {
		conds = append(conds, "created_at > ?")
		args = append(args, filter.CreatedAfter.UTC())
	}
	if !filter.CreatedBefore.IsZero() {
		conds = append(conds, "created_at < ?")
		args = append(args, filter.CreatedBefore.UTC())
	}

	query := fmt.Sprintf(`SELECT %s FROM taskq_jobs`, jobColumns)
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	// SQLite requires a LIMIT clause to use OFFSET; -1 means unbounded.
	limit := -1
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("taskq/sqlite: list jobs: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	var jobs []*job.Job
	for rows.Next() {
		j, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("taskq/sqlite: list scan: %w", scanErr)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("taskq/sqlite: list jobs: %w", err)
	}
	return jobs, nil
}

// ClaimNext atomically claims the next eligible job for workerID. The
// subquery picks the winner and the enclosing UPDATE runs as one
// statement, so two workers can never claim the same row.
func (s *Store) ClaimNext(ctx context.Context, workerID id.WorkerID, queues []string, lease time.Duration) (*job.Job, error) {
	now := time.Now().UTC()

	queueCond := ""
	args := []any{workerID.String(), now.Add(lease), now}
	if len(queues) > 0 {
		queueCond = fmt.Sprintf("AND queue IN (%s)", placeholders(len(queues)))
		for _, q := range queues {
			args = append(args, q)
		}
	}
	args = append(args, now)

	query := fmt.Sprintf(`
		UPDATE taskq_jobs
		SET state = 'running', locked_by = ?, lock_expiry = ?,
		    attempt_count = attempt_count + 1, updated_at = ?
		WHERE id = (
			SELECT id FROM taskq_jobs
			WHERE state IN ('queued', 'retrying')
			  %s
			  AND next_run_at <= ?
			ORDER BY next_run_at ASC, created_at ASC, id ASC
			LIMIT 1
		)
		RETURNING %s`,
		queueCond, jobColumns,
	)

	j, err := scanJob(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if isNoRows(err) {
			return nil, taskq.ErrNoJob
		}
		return nil, fmt.Errorf("taskq/sqlite: claim job: %w", err)
	}
	return j, nil
}

// ExtendLease pushes the lease expiry forward for a job the worker
// still holds.
func (s *Store) ExtendLease(ctx context.Context, jobID id.JobID, workerID id.WorkerID, lease time.Duration) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE taskq_jobs
		SET lock_expiry = ?, updated_at = ?
		WHERE id = ? AND state = 'running' AND locked_by = ? AND lock_expiry > ?`,
		now.Add(lease), now, jobID.String(), workerID.String(), now,
	)
	if err != nil {
		return fmt.Errorf("taskq/sqlite: extend lease: %w", err)
	}
	return s.ownershipOutcome(ctx, res, jobID)
}

// Complete marks a job the worker still holds as succeeded.
func (s *Store) Complete(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE taskq_jobs
		SET state = 'succeeded', last_error = '',
		    locked_by = NULL, lock_expiry = NULL, updated_at = ?
		WHERE id = ? AND state = 'running' AND locked_by = ? AND lock_expiry > ?`,
		now, jobID.String(), workerID.String(), now,
	)
	if err != nil {
		return fmt.Errorf("taskq/sqlite: complete job: %w", err)
	}
	return s.ownershipOutcome(ctx, res, jobID)
}

// Fail records a failed attempt and atomically applies the retry
// decision: back to retrying with a backoff delay while budget remains,
// dead once it is spent. The read and write share one immediate
// transaction.
func (s *Store) Fail(ctx context.Context, jobID id.JobID, workerID id.WorkerID, cause string) (*job.Job, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("taskq/sqlite: begin fail: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	query := fmt.Sprintf(`SELECT %s FROM taskq_jobs WHERE id = ?`, jobColumns)
	j, err := scanJob(tx.QueryRowContext(ctx, query, jobID.String()))
	if err != nil {
		if isNoRows(err) {
			return nil, taskq.ErrJobNotFound
		}
		return nil, fmt.Errorf("taskq/sqlite: fail read: %w", err)
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

	_, err = tx.ExecContext(ctx, `
		UPDATE taskq_jobs
		SET state = ?, last_error = ?, next_run_at = ?,
		    locked_by = NULL, lock_expiry = NULL, updated_at = ?
		WHERE id = ?`,
		string(j.State), j.LastError, j.NextRunAt, now, jobID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("taskq/sqlite: fail write: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("taskq/sqlite: fail commit: %w", err)
	}
	return j, nil
}

// ReclaimExpired returns every job whose lease expired at or before now
// to the retry queue, or moves it to dead when its attempt budget is
// already spent. One statement, so a racing worker either reports
// before the sweep or loses its lease.
func (s *Store) ReclaimExpired(ctx context.Context, now time.Time) (int, error) {
	now = now.UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE taskq_jobs
		SET state       = CASE WHEN attempt_count < max_attempts THEN 'retrying' ELSE 'dead' END,
		    last_error  = CASE WHEN attempt_count < max_attempts THEN last_error ELSE 'lease expired' END,
		    next_run_at = CASE WHEN attempt_count < max_attempts THEN ? ELSE next_run_at END,
		    locked_by = NULL, lock_expiry = NULL, updated_at = ?
		WHERE state = 'running' AND lock_expiry IS NOT NULL AND lock_expiry <= ?`,
		now, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("taskq/sqlite: reclaim expired: %w", err)
	}
	n, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return int(n), nil
}

// Requeue returns a dead job to the queue with a fresh attempt budget.
func (s *Store) Requeue(ctx context.Context, jobID id.JobID) error {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("taskq/sqlite: begin requeue: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var state string
	err = tx.QueryRowContext(ctx, `SELECT state FROM taskq_jobs WHERE id = ?`, jobID.String()).Scan(&state)
	if err != nil {
		if isNoRows(err) {
			return taskq.ErrJobNotFound
		}
		return fmt.Errorf("taskq/sqlite: requeue read: %w", err)
	}
	if err := job.ValidateTransition(job.State(state), job.StateQueued); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE taskq_jobs
		SET state = 'queued', attempt_count = 0, next_run_at = ?, last_error = '',
		    locked_by = NULL, lock_expiry = NULL, updated_at = ?
		WHERE id = ?`,
		now, now, jobID.String(),
	)
	if err != nil {
		return fmt.Errorf("taskq/sqlite: requeue write: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("taskq/sqlite: requeue commit: %w", err)
	}
	return nil
}

// Delete removes a job by ID.
func (s *Store) Delete(ctx context.Context, jobID id.JobID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM taskq_jobs WHERE id = ?`, jobID.String())
	if err != nil {
		return fmt.Errorf("taskq/sqlite: delete job: %w", err)
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

	stateList := placeholders(len(states))
	args := make([]any, 0, len(states)+2)
	for _, st := range states {
		args = append(args, string(st))
	}
	args = append(args, cutoff.UTC())

	query := fmt.Sprintf(
		`DELETE FROM taskq_jobs WHERE state IN (%s) AND updated_at < ?`, stateList)
	if limit > 0 {
		query = fmt.Sprintf(`
			DELETE FROM taskq_jobs WHERE id IN (
				SELECT id FROM taskq_jobs
				WHERE state IN (%s) AND updated_at < ?
				ORDER BY updated_at ASC
				LIMIT ?
			)`, stateList)
		args = append(args, limit)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("taskq/sqlite: delete older: %w", err)
	}
	n, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return int(n), nil
}

// Counts returns the number of jobs per state.
func (s *Store) Counts(ctx context.Context) (map[job.State]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM taskq_jobs GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("taskq/sqlite: count jobs: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	counts := make(map[job.State]int64)
	for rows.Next() {
		var (
			state string
			n     int64
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("taskq/sqlite: count scan: %w", err)
		}
		counts[job.State(state)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("taskq/sqlite: count jobs: %w", err)
	}
	return counts, nil
}

// ── helpers ──────────────────────────────────────────────────────

// ownershipOutcome maps a guarded UPDATE that matched no rows to the
// right error: the job is gone, or the caller no longer owns it.
func (s *Store) ownershipOutcome(ctx context.Context, res sql.Result, jobID id.JobID) error {
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows > 0 {
		return nil
	}
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM taskq_jobs WHERE id = ?`, jobID.String()).Scan(&one)
	if isNoRows(err) {
		return taskq.ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("taskq/sqlite: ownership check: %w", err)
	}
	return taskq.ErrLeaseLost
}

// placeholders returns n comma-joined SQL placeholders.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
