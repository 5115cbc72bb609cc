package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/PyNishanth/taskq-system/id"
	"github.com/PyNishanth/taskq-system/job"
)

// jobColumns is the canonical column order used by every SELECT and
// RETURNING clause in this package. scanJob depends on it.
const jobColumns = `id, name, queue, payload, state, attempt_count, max_attempts,
	next_run_at, timeout, last_error, locked_by, lock_expiry, created_at, updated_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanJob reads one row in jobColumns order into a job.Job.
func scanJob(r rowScanner) (*job.Job, error) {
	var (
		j          job.Job
		rawID      string
		state      string
		timeout    int64
		lockedBy   sql.NullString
		lockExpiry sql.NullTime
	)
	err := r.Scan(
		&rawID, &j.Name, &j.Queue, &j.Payload, &state,
		&j.AttemptCount, &j.MaxAttempts, &j.NextRunAt, &timeout,
		&j.LastError, &lockedBy, &lockExpiry, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.ID, err = id.ParseJobID(rawID)
	if err != nil {
		return nil, fmt.Errorf("taskq/sqlite: parse job id %q: %w", rawID, err)
	}
	j.State = job.State(state)
	j.Timeout = time.Duration(timeout)

	if lockedBy.Valid && lockedBy.String != "" {
		worker, wErr := id.ParseWorkerID(lockedBy.String)
		if wErr == nil {
			j.LockedBy = worker
		}
	}
	if lockExpiry.Valid {
		t := lockExpiry.Time.UTC()
		j.LockExpiry = &t
	}
	j.NextRunAt = j.NextRunAt.UTC()
	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()

	return &j, nil
}

// insertArgs returns the VALUES arguments for a new job row, matching
// jobColumns order.
func insertArgs(j *job.Job) []any {
	var lockedBy any
	if !j.LockedBy.IsNil() {
		lockedBy = j.LockedBy.String()
	}
	var lockExpiry any
	if j.LockExpiry != nil {
		lockExpiry = j.LockExpiry.UTC()
	}
	return []any{
		j.ID.String(), j.Name, j.Queue, j.Payload, string(j.State),
		j.AttemptCount, j.MaxAttempts, j.NextRunAt.UTC(), int64(j.Timeout),
		j.LastError, lockedBy, lockExpiry, j.CreatedAt.UTC(), j.UpdatedAt.UTC(),
	}
}
