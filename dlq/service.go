package dlq

import (
	"context"
	"fmt"

	taskq "github.com/PyNishanth/taskq-system"
	"github.com/PyNishanth/taskq-system/id"
	"github.com/PyNishanth/taskq-system/job"
)

// Service provides high-level DLQ operations over the job store.
type Service struct {
	store job.Store
}

// NewService creates a DLQ service.
func NewService(store job.Store) *Service {
	return &Service{store: store}
}

// List returns dead jobs in creation order. Zero limit means no limit.
func (s *Service) List(ctx context.Context, limit, offset int) ([]*job.Job, error) {
	return s.store.List(ctx, job.Filter{
		States: []job.State{job.StateDead},
		Limit:  limit,
		Offset: offset,
	})
}

// Get retrieves a single dead job. Returns ErrJobNotFound for unknown
// IDs and for jobs that are not dead, so operators cannot address live
// jobs through the DLQ surface.
func (s *Service) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.State != job.StateDead {
		return nil, fmt.Errorf("job %s is %s, not dead: %w", jobID, j.State, taskq.ErrJobNotFound)
	}
	return j, nil
}

// Requeue moves a dead job back to queued with a fresh attempt budget.
// The job becomes immediately eligible for claiming.
func (s *Service) Requeue(ctx context.Context, jobID id.JobID) error {
	return s.store.Requeue(ctx, jobID)
}

// Purge permanently deletes a dead job. Returns ErrInvalidTransition if
// the job is not dead; live jobs cannot be purged.
func (s *Service) Purge(ctx context.Context, jobID id.JobID) error {
	j, err := s.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if j.State != job.StateDead {
		return fmt.Errorf("purge job %s in state %s: %w", jobID, j.State, taskq.ErrInvalidTransition)
	}
	return s.store.Delete(ctx, jobID)
}

// PurgeAll permanently deletes every dead job and returns how many were
// removed. Deletion runs in bounded batches so one call never holds a
// store lock across the whole DLQ.
func (s *Service) PurgeAll(ctx context.Context) (int, error) {
	const batch = 500

	total := 0
	for {
		dead, err := s.List(ctx, batch, 0)
		if err != nil {
			return total, err
		}
		if len(dead) == 0 {
			return total, nil
		}
		for _, j := range dead {
			if err := s.store.Delete(ctx, j.ID); err != nil {
				return total, err
			}
			total++
		}
		if len(dead) < batch {
			return total, nil
		}
	}
}

// Count returns the number of jobs currently in the DLQ.
func (s *Service) Count(ctx context.Context) (int64, error) {
	counts, err := s.store.Counts(ctx)
	if err != nil {
		return 0, err
	}
	return counts[job.StateDead], nil
}
