package mongo

import (
	"fmt"
	"time"

	"github.com/PyNishanth/taskq-system/id"
	"github.com/PyNishanth/taskq-system/job"
)

// jobModel is the BSON document shape for a job. Timeout is stored as
// nanoseconds; the job ID string is the document key.
type jobModel struct {
	ID           string     `bson:"_id"`
	Name         string     `bson:"name"`
	Queue        string     `bson:"queue"`
	Payload      []byte     `bson:"payload,omitempty"`
	State        string     `bson:"state"`
	AttemptCount int        `bson:"attempt_count"`
	MaxAttempts  int        `bson:"max_attempts"`
	NextRunAt    time.Time  `bson:"next_run_at"`
	Timeout      int64      `bson:"timeout"`
	LastError    string     `bson:"last_error"`
	LockedBy     string     `bson:"locked_by,omitempty"`
	LockExpiry   *time.Time `bson:"lock_expiry,omitempty"`
	CreatedAt    time.Time  `bson:"created_at"`
	UpdatedAt    time.Time  `bson:"updated_at"`
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
		m.LockedBy = j.LockedBy.String()
	}
	return m
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("taskq/mongo: parse job id %q: %w", m.ID, err)
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
	if m.LockedBy != "" {
		if parsedWorker, wErr := id.ParseWorkerID(m.LockedBy); wErr == nil {
			j.LockedBy = parsedWorker
		}
	}
	if m.LockExpiry != nil {
		t := m.LockExpiry.UTC()
		j.LockExpiry = &t
	}
	return j, nil
}
