package bunstore

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/PyNishanth/taskq-system/id"
	"github.com/PyNishanth/taskq-system/job"
)

// jobModel maps job.Job onto the taskq_jobs table. Timeout is stored as
// nanoseconds so the column stays driver-agnostic.
type jobModel struct {
	bun.BaseModel `bun:"table:taskq_jobs"`

	ID           string     `bun:"id,pk"`
	Name         string     `bun:"name,notnull"`
	Queue        string     `bun:"queue,notnull,default:'default'"`
	Payload      []byte     `bun:"payload,type:bytea"`
	State        string     `bun:"state,notnull,default:'queued'"`
	AttemptCount int        `bun:"attempt_count,notnull,default:0"`
	MaxAttempts  int        `bun:"max_attempts,notnull,default:3"`
	NextRunAt    time.Time  `bun:"next_run_at,notnull,default:current_timestamp"`
	Timeout      int64      `bun:"timeout,notnull,default:0"`
	LastError    string     `bun:"last_error,notnull,default:''"`
	LockedBy     *string    `bun:"locked_by"`
	LockExpiry   *time.Time `bun:"lock_expiry"`
	CreatedAt    time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt    time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

func toJobModel(j *job.Job) *jobModel {
	m := &jobModel{
		ID:           j.ID.String(),
		Name:         j.Name,
		Queue:        j.Queue,
		Payload:      j.Payload,
		State:        string(j.State),
		AttemptCount: j.AttemptCount,
		MaxAttempts:  j.MaxAttempts,
		NextRunAt:    j.NextRunAt,
		Timeout:      j.Timeout.Nanoseconds(),
		LastError:    j.LastError,
		LockExpiry:   j.LockExpiry,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
	}
	if !j.LockedBy.IsNil() {
		v := j.LockedBy.String()
		m.LockedBy = &v
	}
	return m
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("taskq/bun: parse job id %q: %w", m.ID, err)
	}

	j := &job.Job{
		ID:           parsedID,
		Name:         m.Name,
		Queue:        m.Queue,
		Payload:      m.Payload,
		State:        job.State(m.State),
		AttemptCount: m.AttemptCount,
		MaxAttempts:  m.MaxAttempts,
		NextRunAt:    m.NextRunAt.UTC(),
		Timeout:      time.Duration(m.Timeout),
		LastError:    m.LastError,
		CreatedAt:    m.CreatedAt.UTC(),
		UpdatedAt:    m.UpdatedAt.UTC(),
	}
	if m.LockedBy != nil && *m.LockedBy != "" {
		if parsedWorker, wErr := id.ParseWorkerID(*m.LockedBy); wErr == nil {
			j.LockedBy = parsedWorker
		}
	}
	if m.LockExpiry != nil {
		t := m.LockExpiry.UTC()
		j.LockExpiry = &t
	}
	return j, nil
}
