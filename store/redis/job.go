package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	taskq "github.com/PyNishanth/taskq-system"
	"github.com/PyNishanth/taskq-system/id"
	"github.com/PyNishanth/taskq-system/job"
)

// Create stores the job as a Hash and indexes it for claiming and
// listing.
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

	jID := cp.ID.String()
	key := jobKey(jID)

	// HSETNX on the id field doubles as the duplicate check.
	created, err := s.client.HSetNX(ctx, key, "id", jID).Result()
	if err != nil {
		return fmt.Errorf("taskq/redis: create check exists: %w", err)
	}
	if !created {
		return taskq.ErrJobAlreadyExists
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(cp))
	pipe.SAdd(ctx, queuesKey, cp.Queue)
	pipe.ZAdd(ctx, jobsByCreatedKey, goredis.Z{Score: unixMilli(cp.CreatedAt), Member: jID})
	switch cp.State {
	case job.StateQueued, job.StateRetrying:
		pipe.ZAdd(ctx, eligibleKey(cp.Queue), goredis.Z{Score: unixMilli(cp.NextRunAt), Member: jID})
	case job.StateRunning:
		if cp.LockExpiry != nil {
			pipe.ZAdd(ctx, runningKey, goredis.Z{Score: unixMilli(*cp.LockExpiry), Member: jID})
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("taskq/redis: create job: %w", err)
	}
	return nil
}

// Get retrieves a job by ID.
func (s *Store) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// List returns jobs matching the filter in creation order. The
// creation-time zset narrows the scan; state and queue filters apply
// per job.
func (s *Store) List(ctx context.Context, filter job.Filter) ([]*job.Job, error) {
	rng := &goredis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if !filter.CreatedAfter.IsZero() {
		rng.Min = "(" + strconv.FormatFloat(unixMilli(filter.CreatedAfter), 'f', -1, 64)
	}
	if !filter.CreatedBefore.IsZero() {
		rng.Max = "(" + strconv.FormatFloat(unixMilli(filter.CreatedBefore), 'f', -1, 64)
	}

	ids, err := s.client.ZRangeByScore(ctx, jobsByCreatedKey, rng).Result()
	if err != nil {
		return nil, fmt.Errorf("taskq/redis: list zrange: %w", err)
	}

	var stateSet map[job.State]struct{}
	if len(filter.States) > 0 {
		stateSet = make(map[job.State]struct{}, len(filter.States))
		for _, st := range filter.States {
			stateSet[st] = struct{}{}
		}
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue // skip concurrently deleted
		}
		if stateSet != nil {
			if _, ok := stateSet[j.State]; !ok {
				continue
			}
		}
		if filter.Queue != "" && j.Queue != filter.Queue {
			continue
		}
		jobs = append(jobs, j)
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(jobs) {
			return nil, nil
		}
		jobs = jobs[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(jobs) {
		jobs = jobs[:filter.Limit]
	}
	return jobs, nil
}

// ClaimNext atomically claims the next eligible job for workerID. With
// no queue restriction every known queue is tried in name order.
func (s *Store) ClaimNext(ctx context.Context, workerID id.WorkerID, queues []string, lease time.Duration) (*job.Job, error) {
	if len(queues) == 0 {
		known, err := s.client.SMembers(ctx, queuesKey).Result()
		if err != nil {
			return nil, fmt.Errorf("taskq/redis: claim list queues: %w", err)
		}
		sort.Strings(known)
		queues = known
	}

	now := time.Now().UTC()
	expiry := now.Add(lease)

	for _, q := range queues {
		res, err := claimScript.Run(ctx, s.client,
			[]string{eligibleKey(q), runningKey},
			msArg(now), workerID.String(), msArg(expiry), isoArg(expiry), isoArg(now), keyPrefix+"job:",
		).Result()
		if errors.Is(err, goredis.Nil) {
			continue // nothing eligible in this queue
		}
		if err != nil {
			return nil, fmt.Errorf("taskq/redis: claim job: %w", err)
		}

		flat, ok := res.([]interface{})
		if !ok {
			return nil, fmt.Errorf("taskq/redis: claim job: unexpected reply %T", res)
		}
		return mapToJob(flatToMap(flat))
	}
	return nil, taskq.ErrNoJob
}

// ExtendLease pushes the lease expiry forward for a job the worker
// still holds.
func (s *Store) ExtendLease(ctx context.Context, jobID id.JobID, workerID id.WorkerID, lease time.Duration) error {
	now := time.Now().UTC()
	expiry := now.Add(lease)
	res, err := extendScript.Run(ctx, s.client,
		[]string{jobKey(jobID.String()), runningKey},
		jobID.String(), workerID.String(), msArg(now), msArg(expiry), isoArg(expiry), isoArg(now),
	).Text()
	if err != nil {
		return fmt.Errorf("taskq/redis: extend lease: %w", err)
	}
	return scriptOutcome(res)
}

// Complete marks a job the worker still holds as succeeded.
func (s *Store) Complete(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	now := time.Now().UTC()
	res, err := completeScript.Run(ctx, s.client,
		[]string{jobKey(jobID.String()), runningKey},
		jobID.String(), workerID.String(), msArg(now), isoArg(now),
	).Text()
	if err != nil {
		return fmt.Errorf("taskq/redis: complete job: %w", err)
	}
	return scriptOutcome(res)
}

// Fail records a failed attempt and applies the retry decision inside
// the script. The backoff delay is computed from the attempt count up
// front; if the lease is still held when the script runs, that count
// cannot have changed in between.
func (s *Store) Fail(ctx context.Context, jobID id.JobID, workerID id.WorkerID, cause string) (*job.Job, error) {
	key := jobKey(jobID.String())

	vals, err := s.client.HMGet(ctx, key, "attempt_count").Result()
	if err != nil {
		return nil, fmt.Errorf("taskq/redis: fail read attempts: %w", err)
	}
	raw, _ := vals[0].(string)
	if raw == "" {
		return nil, taskq.ErrJobNotFound
	}
	attempts, _ := strconv.Atoi(raw) //nolint:errcheck // best-effort parse from trusted Redis data

	now := time.Now().UTC()
	nextRun := now.Add(s.strategy.Delay(attempts))

	res, err := failScript.Run(ctx, s.client,
		[]string{key, runningKey},
		jobID.String(), workerID.String(), msArg(now), isoArg(now),
		cause, msArg(nextRun), isoArg(nextRun), keyPrefix+"eligible:",
	).Text()
	if err != nil {
		return nil, fmt.Errorf("taskq/redis: fail job: %w", err)
	}
	if outErr := scriptOutcome(res); outErr != nil {
		return nil, outErr
	}
	return s.getJobByKey(ctx, key)
}

// ReclaimExpired sweeps every lease expired at or before now.
func (s *Store) ReclaimExpired(ctx context.Context, now time.Time) (int, error) {
	n, err := reclaimScript.Run(ctx, s.client,
		[]string{runningKey},
		msArg(now.UTC()), isoArg(now.UTC()), keyPrefix+"job:", keyPrefix+"eligible:",
	).Int()
	if err != nil {
		return 0, fmt.Errorf("taskq/redis: reclaim expired: %w", err)
	}
	return n, nil
}

// Requeue returns a dead job to its queue with a fresh attempt budget.
func (s *Store) Requeue(ctx context.Context, jobID id.JobID) error {
	now := time.Now().UTC()
	res, err := requeueScript.Run(ctx, s.client,
		[]string{jobKey(jobID.String())},
		jobID.String(), msArg(now), isoArg(now), keyPrefix+"eligible:",
	).Text()
	if err != nil {
		return fmt.Errorf("taskq/redis: requeue job: %w", err)
	}
	switch {
	case res == "ok":
		return nil
	case res == "missing":
		return taskq.ErrJobNotFound
	case strings.HasPrefix(res, "invalid:"):
		return job.ValidateTransition(job.State(strings.TrimPrefix(res, "invalid:")), job.StateQueued)
	}
	return fmt.Errorf("taskq/redis: requeue job: unexpected reply %q", res)
}

// Delete removes a job and its index entries.
func (s *Store) Delete(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()
	key := jobKey(jID)

	q, err := s.client.HGet(ctx, key, "queue").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return taskq.ErrJobNotFound
		}
		return fmt.Errorf("taskq/redis: delete get queue: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.ZRem(ctx, eligibleKey(q), jID)
	pipe.ZRem(ctx, runningKey, jID)
	pipe.ZRem(ctx, jobsByCreatedKey, jID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("taskq/redis: delete job: %w", err)
	}
	return nil
}

// DeleteOlder removes jobs in the given states whose last update is
// before cutoff. A limit of zero or less removes all matches.
func (s *Store) DeleteOlder(ctx context.Context, states []job.State, cutoff time.Time, limit int) (int, error) {
	if len(states) == 0 {
		return 0, nil
	}
	stateSet := make(map[job.State]struct{}, len(states))
	for _, st := range states {
		stateSet[st] = struct{}{}
	}

	ids, err := s.client.ZRange(ctx, jobsByCreatedKey, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("taskq/redis: delete older zrange: %w", err)
	}

	n := 0
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		if _, ok := stateSet[j.State]; !ok {
			continue
		}
		if !j.UpdatedAt.Before(cutoff) {
			continue
		}
		if err := s.Delete(ctx, j.ID); err != nil {
			return n, err
		}
		n++
		if limit > 0 && n >= limit {
			break
		}
	}
	return n, nil
}

// Counts returns the number of jobs per state.
func (s *Store) Counts(ctx context.Context) (map[job.State]int64, error) {
	ids, err := s.client.ZRange(ctx, jobsByCreatedKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("taskq/redis: counts zrange: %w", err)
	}

	counts := make(map[job.State]int64)
	for _, jID := range ids {
		state, getErr := s.client.HGet(ctx, jobKey(jID), "state").Result()
		if getErr != nil {
			continue
		}
		counts[job.State(state)]++
	}
	return counts, nil
}

// ── helpers ──

// scriptOutcome maps the shared ok/missing/lost script replies.
func scriptOutcome(res string) error {
	switch res {
	case "ok", "retrying", "dead":
		return nil
	case "missing":
		return taskq.ErrJobNotFound
	case "lost":
		return taskq.ErrLeaseLost
	}
	return fmt.Errorf("taskq/redis: unexpected script reply %q", res)
}

// unixMilli converts a time to the zset score unit.
func unixMilli(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// msArg formats a time as a millisecond script argument.
func msArg(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// isoArg formats a time as an RFC3339Nano hash field.
func isoArg(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func jobToMap(j *job.Job) map[string]interface{} {
	m := map[string]interface{}{
		"id":            j.ID.String(),
		"name":          j.Name,
		"queue":         j.Queue,
		"payload":       string(j.Payload),
		"state":         string(j.State),
		"attempt_count": strconv.Itoa(j.AttemptCount),
		"max_attempts":  strconv.Itoa(j.MaxAttempts),
		"next_run_at":   j.NextRunAt.UTC().Format(time.RFC3339Nano),
		"timeout":       strconv.FormatInt(int64(j.Timeout), 10),
		"last_error":    j.LastError,
		"locked_by":     "",
		"lock_expiry":   "",
		"created_at":    j.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":    j.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if !j.LockedBy.IsNil() {
		m["locked_by"] = j.LockedBy.String()
	}
	if j.LockExpiry != nil {
		m["lock_expiry"] = j.LockExpiry.UTC().Format(time.RFC3339Nano)
	}
	return m
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("taskq/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, taskq.ErrJobNotFound
	}
	return mapToJob(vals)
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("taskq/redis: parse job id: %w", err)
	}

	attempts, _ := strconv.Atoi(m["attempt_count"])      //nolint:errcheck // best-effort parse from trusted Redis data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"])    //nolint:errcheck // best-effort parse from trusted Redis data
	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data

	nextRunAt, _ := time.Parse(time.RFC3339Nano, m["next_run_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"])  //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"])  //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		ID:           jID,
		Name:         m["name"],
		Queue:        m["queue"],
		Payload:      []byte(m["payload"]),
		State:        job.State(m["state"]),
		AttemptCount: attempts,
		MaxAttempts:  maxAttempts,
		NextRunAt:    nextRunAt,
		Timeout:      time.Duration(timeout),
		LastError:    m["last_error"],
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}

	if wid := m["locked_by"]; wid != "" {
		j.LockedBy, _ = id.ParseWorkerID(wid) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["lock_expiry"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.LockExpiry = &t
	}

	return j, nil
}

// flatToMap converts an HGETALL script reply into a field map.
func flatToMap(flat []interface{}) map[string]string {
	m := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		k, kok := flat[i].(string)
		v, vok := flat[i+1].(string)
		if kok && vok {
			m[k] = v
		}
	}
	return m
}
