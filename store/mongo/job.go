package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

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

	if _, err := s.jobs().InsertOne(ctx, toJobModel(cp)); err != nil {
		if isDuplicateKey(err) {
			return taskq.ErrJobAlreadyExists
		}
		return fmt.Errorf("taskq/mongo: create job: %w", err)
	}
	return nil
}

// Get retrieves a job by ID.
func (s *Store) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var m jobModel
	err := s.jobs().FindOne(ctx, bson.M{"_id": jobID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, taskq.ErrJobNotFound
		}
		return nil, fmt.Errorf("taskq/mongo: get job: %w", err)
	}
	return fromJobModel(&m)
}

// List returns jobs matching the filter, oldest first.
func (s *Store) List(ctx context.Context, f job.Filter) ([]*job.Job, error) {
	filter := bson.M{}
	if len(f.States) > 0 {
		states := make([]string, len(f.States))
		for i, st := range f.States {
			states[i] = string(st)
		}
		filter["state"] = bson.M{"$in": states}
	}
	if f.Queue != "" {
		filter["queue"] = f.Queue
	}
	created := bson.M{}
	if !f.CreatedAfter.IsZero() {
		created["$gt"] = f.CreatedAfter
	}
	if !f.CreatedBefore.IsZero() {
		created["$lt"] = f.CreatedBefore
	}
	if len(created) > 0 {
		filter["created_at"] = created
	}

	findOpts := options.Find().SetSort(bson.D{
		{Key: "created_at", Value: 1},
		{Key: "_id", Value: 1},
	})
	if f.Limit > 0 {
		findOpts.SetLimit(int64(f.Limit))
	}
	if f.Offset > 0 {
		findOpts.SetSkip(int64(f.Offset))
	}

	cursor, err := s.jobs().Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("taskq/mongo: list jobs: %w", err)
	}
	defer cursor.Close(ctx)

	var models []jobModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("taskq/mongo: list jobs decode: %w", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, convErr
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// ClaimNext atomically claims the next eligible job for workerID.
// FindOneAndUpdate is atomic per document, so two workers never receive
// the same job.
func (s *Store) ClaimNext(ctx context.Context, workerID id.WorkerID, queues []string, lease time.Duration) (*job.Job, error) {
	now := time.Now().UTC()

	filter := bson.M{
		"state":       bson.M{"$in": []string{string(job.StateQueued), string(job.StateRetrying)}},
		"next_run_at": bson.M{"$lte": now},
	}
	if len(queues) > 0 {
		filter["queue"] = bson.M{"$in": queues}
	}

	update := bson.M{
		"$set": bson.M{
			"state":       string(job.StateRunning),
			"locked_by":   workerID.String(),
			"lock_expiry": now.Add(lease),
			"updated_at":  now,
		},
		"$inc": bson.M{"attempt_count": 1},
	}

	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetSort(bson.D{
			{Key: "next_run_at", Value: 1},
			{Key: "created_at", Value: 1},
			{Key: "_id", Value: 1},
		})

	var m jobModel
	err := s.jobs().FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, taskq.ErrNoJob
		}
		return nil, fmt.Errorf("taskq/mongo: claim job: %w", err)
	}
	return fromJobModel(&m)
}

// ownershipFilter matches a job only while workerID holds a live lease
// on it.
func ownershipFilter(jobID id.JobID, workerID id.WorkerID, now time.Time) bson.M {
	return bson.M{
		"_id":         jobID.String(),
		"state":       string(job.StateRunning),
		"locked_by":   workerID.String(),
		"lock_expiry": bson.M{"$gt": now},
	}
}

// ExtendLease pushes the lease expiry forward for a job the worker
// still holds.
func (s *Store) ExtendLease(ctx context.Context, jobID id.JobID, workerID id.WorkerID, lease time.Duration) error {
	now := time.Now().UTC()
	res, err := s.jobs().UpdateOne(ctx,
		ownershipFilter(jobID, workerID, now),
		bson.M{"$set": bson.M{
			"lock_expiry": now.Add(lease),
			"updated_at":  now,
		}},
	)
	if err != nil {
		return fmt.Errorf("taskq/mongo: extend lease: %w", err)
	}
	if res.MatchedCount == 0 {
		return s.ownershipOutcome(ctx, jobID)
	}
	return nil
}

// Complete marks a job the worker still holds as succeeded.
func (s *Store) Complete(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	now := time.Now().UTC()
	res, err := s.jobs().UpdateOne(ctx,
		ownershipFilter(jobID, workerID, now),
		bson.M{
			"$set": bson.M{
				"state":      string(job.StateSucceeded),
				"last_error": "",
				"updated_at": now,
			},
			"$unset": bson.M{"locked_by": "", "lock_expiry": ""},
		},
	)
	if err != nil {
		return fmt.Errorf("taskq/mongo: complete job: %w", err)
	}
	if res.MatchedCount == 0 {
		return s.ownershipOutcome(ctx, jobID)
	}
	return nil
}

// Fail records a failed attempt and applies the retry decision. The
// write re-checks the lease in its filter, so a worker that lost the
// job between read and write gets ErrLeaseLost instead of clobbering
// the reclaimer's state.
func (s *Store) Fail(ctx context.Context, jobID id.JobID, workerID id.WorkerID, cause string) (*job.Job, error) {
	now := time.Now().UTC()

	j, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
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

	res, err := s.jobs().UpdateOne(ctx,
		ownershipFilter(jobID, workerID, now),
		bson.M{
			"$set": bson.M{
				"state":       string(j.State),
				"last_error":  j.LastError,
				"next_run_at": j.NextRunAt,
				"updated_at":  now,
			},
			"$unset": bson.M{"locked_by": "", "lock_expiry": ""},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("taskq/mongo: fail job: %w", err)
	}
	if res.MatchedCount == 0 {
		return nil, s.ownershipOutcome(ctx, jobID)
	}
	return j, nil
}

// ReclaimExpired returns every job whose lease expired at or before now
// to the retry queue, or moves it to dead when its attempt budget is
// already spent. The pipeline update computes the branch server-side so
// the sweep stays a single round trip.
func (s *Store) ReclaimExpired(ctx context.Context, now time.Time) (int, error) {
	now = now.UTC()
	retryable := bson.M{"$lt": bson.A{"$attempt_count", "$max_attempts"}}

	res, err := s.jobs().UpdateMany(ctx,
		bson.M{
			"state":       string(job.StateRunning),
			"lock_expiry": bson.M{"$lte": now},
		},
		mongod.Pipeline{
			{{Key: "$set", Value: bson.M{
				"state": bson.M{"$cond": bson.A{
					retryable, string(job.StateRetrying), string(job.StateDead),
				}},
				"last_error": bson.M{"$cond": bson.A{
					retryable, "$last_error", "lease expired",
				}},
				"next_run_at": bson.M{"$cond": bson.A{
					retryable, now, "$next_run_at",
				}},
				"updated_at": now,
			}}},
			{{Key: "$unset", Value: bson.A{"locked_by", "lock_expiry"}}},
		},
	)
	if err != nil {
		return 0, fmt.Errorf("taskq/mongo: reclaim expired: %w", err)
	}
	return int(res.ModifiedCount), nil
}

// Requeue returns a dead job to the queue with a fresh attempt budget.
func (s *Store) Requeue(ctx context.Context, jobID id.JobID) error {
	now := time.Now().UTC()

	j, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if err := job.ValidateTransition(j.State, job.StateQueued); err != nil {
		return err
	}

	res, err := s.jobs().UpdateOne(ctx,
		bson.M{"_id": jobID.String(), "state": string(job.StateDead)},
		bson.M{
			"$set": bson.M{
				"state":         string(job.StateQueued),
				"attempt_count": 0,
				"last_error":    "",
				"next_run_at":   now,
				"updated_at":    now,
			},
			"$unset": bson.M{"locked_by": "", "lock_expiry": ""},
		},
	)
	if err != nil {
		return fmt.Errorf("taskq/mongo: requeue job: %w", err)
	}
	if res.MatchedCount == 0 {
		// Raced with a state change since the read.
		return taskq.ErrInvalidTransition
	}
	return nil
}

// Delete removes a job by ID.
func (s *Store) Delete(ctx context.Context, jobID id.JobID) error {
	res, err := s.jobs().DeleteOne(ctx, bson.M{"_id": jobID.String()})
	if err != nil {
		return fmt.Errorf("taskq/mongo: delete job: %w", err)
	}
	if res.DeletedCount == 0 {
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
	filter := bson.M{
		"state":      bson.M{"$in": list},
		"updated_at": bson.M{"$lt": cutoff.UTC()},
	}

	if limit <= 0 {
		res, err := s.jobs().DeleteMany(ctx, filter)
		if err != nil {
			return 0, fmt.Errorf("taskq/mongo: delete older: %w", err)
		}
		return int(res.DeletedCount), nil
	}

	// Bounded delete: collect the oldest ids first, then remove them.
	cursor, err := s.jobs().Find(ctx, filter,
		options.Find().
			SetSort(bson.D{{Key: "updated_at", Value: 1}}).
			SetLimit(int64(limit)).
			SetProjection(bson.M{"_id": 1}),
	)
	if err != nil {
		return 0, fmt.Errorf("taskq/mongo: delete older find: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return 0, fmt.Errorf("taskq/mongo: delete older decode: %w", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}

	res, err := s.jobs().DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return 0, fmt.Errorf("taskq/mongo: delete older: %w", err)
	}
	return int(res.DeletedCount), nil
}

// Counts returns the number of jobs per state.
func (s *Store) Counts(ctx context.Context) (map[job.State]int64, error) {
	cursor, err := s.jobs().Aggregate(ctx, mongod.Pipeline{
		{{Key: "$group", Value: bson.M{
			"_id": "$state",
			"n":   bson.M{"$sum": 1},
		}}},
	})
	if err != nil {
		return nil, fmt.Errorf("taskq/mongo: count jobs: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		State string `bson:"_id"`
		N     int64  `bson:"n"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("taskq/mongo: count decode: %w", err)
	}

	counts := make(map[job.State]int64, len(rows))
	for _, r := range rows {
		counts[job.State(r.State)] = r.N
	}
	return counts, nil
}

// ownershipOutcome maps a guarded update that matched no documents to
// the right error: the job is gone, or the caller no longer owns it.
func (s *Store) ownershipOutcome(ctx context.Context, jobID id.JobID) error {
	err := s.jobs().FindOne(ctx,
		bson.M{"_id": jobID.String()},
		options.FindOne().SetProjection(bson.M{"_id": 1}),
	).Err()
	if isNoDocuments(err) {
		return taskq.ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("taskq/mongo: ownership check: %w", err)
	}
	return taskq.ErrLeaseLost
}
