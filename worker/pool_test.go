package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PyNishanth/taskq-system/backoff"
	"github.com/PyNishanth/taskq-system/hook"
	"github.com/PyNishanth/taskq-system/id"
	"github.com/PyNishanth/taskq-system/job"
	"github.com/PyNishanth/taskq-system/middleware"
	"github.com/PyNishanth/taskq-system/run"
	"github.com/PyNishanth/taskq-system/store/memory"
	"github.com/PyNishanth/taskq-system/worker"
)

func setupTestPool(t *testing.T, concurrency int, pollInterval time.Duration, extra ...worker.PoolOption) (
	*worker.Pool, *memory.Store, *job.Registry,
) {
	t.Helper()
	logger := slog.Default()
	s := memory.New(memory.WithBackoff(backoff.NewConstant(10 * time.Millisecond)))
	reg := job.NewRegistry()
	hooks := hook.NewRegistry(logger)

	executor := worker.NewExecutor(
		s, run.NewHandlers(reg), hooks, logger,
		middleware.Recover(logger),
		middleware.Timeout(time.Minute),
	)

	opts := []worker.PoolOption{
		worker.WithPoolConcurrency(concurrency),
		worker.WithPollInterval(pollInterval),
		worker.WithPoolQueues([]string{"default"}),
		worker.WithLeaseDuration(5 * time.Second),
		worker.WithHeartbeatInterval(time.Second),
		worker.WithReclaimInterval(time.Second),
	}
	opts = append(opts, extra...)
	pool := worker.NewPool(s, executor, hooks, logger, opts...)

	return pool, s, reg
}

func enqueue(t *testing.T, s *memory.Store, name string, payload []byte, maxAttempts int) *job.Job {
	t.Helper()
	j := job.New(name, payload, job.Options{Queue: "default", MaxAttempts: maxAttempts})
	if err := s.Create(context.Background(), j); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return j
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func stopPool(t *testing.T, pool *worker.Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestPool_StartStop(t *testing.T) {
	pool, _, _ := setupTestPool(t, 2, 50*time.Millisecond)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	// Double start should be a no-op.
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected double-start error: %v", err)
	}

	stopPool(t, pool)

	// Double stop should be a no-op.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("unexpected double-stop error: %v", err)
	}
}

func TestPool_ProcessesJobToSucceeded(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 10*time.Millisecond)

	var processed atomic.Bool
	err := job.RegisterDefinition(reg, job.NewDefinition("greet",
		func(_ context.Context, p struct{ Name string }) error {
			if p.Name != "Alice" {
				t.Errorf("payload.Name = %q, want %q", p.Name, "Alice")
			}
			processed.Store(true)
			return nil
		}))
	if err != nil {
		t.Fatalf("RegisterDefinition: %v", err)
	}

	payload, _ := json.Marshal(struct{ Name string }{Name: "Alice"})
	j := enqueue(t, s, "greet", payload, 3)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	defer stopPool(t, pool)

	waitFor(t, "job to be processed", processed.Load)
	waitFor(t, "job to reach succeeded", func() bool {
		got, err := s.Get(context.Background(), j.ID)
		return err == nil && got.State == job.StateSucceeded
	})

	got, err := s.Get(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.AttemptCount != 1 {
		t.Errorf("attempt count = %d, want 1", got.AttemptCount)
	}
	if got.LastError != "" {
		t.Errorf("last error = %q, want empty", got.LastError)
	}
	if got.LockExpiry != nil {
		t.Error("lease not cleared after success")
	}
}

func TestPool_FailingJobExhaustsBudgetAndDies(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 10*time.Millisecond)

	var attempts atomic.Int32
	err := job.RegisterDefinition(reg, job.NewDefinition("flaky",
		func(_ context.Context, _ struct{}) error {
			attempts.Add(1)
			return errors.New("boom")
		}))
	if err != nil {
		t.Fatalf("RegisterDefinition: %v", err)
	}

	j := enqueue(t, s, "flaky", nil, 3)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	defer stopPool(t, pool)

	waitFor(t, "job to reach dead", func() bool {
		got, err := s.Get(context.Background(), j.ID)
		return err == nil && got.State == job.StateDead
	})

	if got := attempts.Load(); got != 3 {
		t.Errorf("handler ran %d times, want 3", got)
	}

	got, err := s.Get(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.AttemptCount != 3 {
		t.Errorf("attempt count = %d, want 3", got.AttemptCount)
	}
	if got.LastError == "" {
		t.Error("expected last error to be recorded")
	}
}

func TestPool_SingleAttemptFailureGoesStraightToDead(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 10*time.Millisecond)

	sawRetrying := atomic.Bool{}
	err := job.RegisterDefinition(reg, job.NewDefinition("once",
		func(_ context.Context, _ struct{}) error {
			return errors.New("permanent")
		}))
	if err != nil {
		t.Fatalf("RegisterDefinition: %v", err)
	}

	j := enqueue(t, s, "once", nil, 1)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	defer stopPool(t, pool)

	// Watch for any retrying state while driving to dead.
	waitFor(t, "job to reach dead", func() bool {
		got, err := s.Get(context.Background(), j.ID)
		if err != nil {
			return false
		}
		if got.State == job.StateRetrying {
			sawRetrying.Store(true)
		}
		return got.State == job.StateDead
	})

	if sawRetrying.Load() {
		t.Error("job with max_attempts=1 must never enter retrying")
	}
}

func TestPool_TimeoutCountsAsFailure(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 10*time.Millisecond)

	err := job.RegisterDefinition(reg, job.NewDefinition("sleepy",
		func(ctx context.Context, _ struct{}) error {
			<-ctx.Done()
			return ctx.Err()
		}))
	if err != nil {
		t.Fatalf("RegisterDefinition: %v", err)
	}

	j := job.New("sleepy", nil, job.Options{
		Queue:       "default",
		MaxAttempts: 1,
		Timeout:     50 * time.Millisecond,
	})
	if err := s.Create(context.Background(), j); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	defer stopPool(t, pool)

	waitFor(t, "timed-out job to reach dead", func() bool {
		got, err := s.Get(context.Background(), j.ID)
		return err == nil && got.State == job.StateDead
	})

	got, err := s.Get(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.LastError == "" {
		t.Error("expected timeout cause in last error")
	}
}

func TestPool_PanicIsRecoveredAndRetried(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 10*time.Millisecond)

	err := job.RegisterDefinition(reg, job.NewDefinition("panicky",
		func(_ context.Context, _ struct{}) error {
			panic("kaboom")
		}))
	if err != nil {
		t.Fatalf("RegisterDefinition: %v", err)
	}

	j := enqueue(t, s, "panicky", nil, 2)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	defer stopPool(t, pool)

	waitFor(t, "panicking job to reach dead", func() bool {
		got, err := s.Get(context.Background(), j.ID)
		return err == nil && got.State == job.StateDead
	})

	got, _ := s.Get(context.Background(), j.ID)
	if got.AttemptCount != 2 {
		t.Errorf("attempt count = %d, want 2", got.AttemptCount)
	}
}

func TestPool_ConcurrentWorkersNeverShareAJob(t *testing.T) {
	pool, s, reg := setupTestPool(t, 4, 10*time.Millisecond)

	var executions atomic.Int32
	err := job.RegisterDefinition(reg, job.NewDefinition("count",
		func(_ context.Context, _ struct{}) error {
			executions.Add(1)
			time.Sleep(5 * time.Millisecond)
			return nil
		}))
	if err != nil {
		t.Fatalf("RegisterDefinition: %v", err)
	}

	const jobs = 20
	ids := make([]id.JobID, 0, jobs)
	for range jobs {
		j := enqueue(t, s, "count", nil, 1)
		ids = append(ids, j.ID)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	defer stopPool(t, pool)

	waitFor(t, "all jobs to succeed", func() bool {
		counts, err := s.Counts(context.Background())
		return err == nil && counts[job.StateSucceeded] == jobs
	})

	// At-least-once with a healthy store and workers is exactly-once.
	if got := executions.Load(); got != jobs {
		t.Errorf("executions = %d, want %d", got, jobs)
	}
	for _, jobID := range ids {
		got, err := s.Get(context.Background(), jobID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.AttemptCount != 1 {
			t.Errorf("job %s attempt count = %d, want 1", jobID, got.AttemptCount)
		}
	}
}

func TestPool_LeaseLostReportIsDropped(t *testing.T) {
	logger := slog.Default()
	s := memory.New(memory.WithBackoff(backoff.NewConstant(time.Minute)))
	reg := job.NewRegistry()
	hooks := hook.NewRegistry(logger)
	executor := worker.NewExecutor(s, run.NewHandlers(reg), hooks, logger)

	release := make(chan struct{})
	err := job.RegisterDefinition(reg, job.NewDefinition("slow",
		func(_ context.Context, _ struct{}) error {
			<-release
			return nil
		}))
	if err != nil {
		t.Fatalf("RegisterDefinition: %v", err)
	}

	ctx := context.Background()
	j := job.New("slow", nil, job.Options{Queue: "default", MaxAttempts: 3})
	if err := s.Create(ctx, j); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Claim with a tiny lease and no heartbeat, then let it expire.
	workerID := id.NewWorkerID()
	claimed, err := s.ClaimNext(ctx, workerID, nil, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}

	done := make(chan struct{})
	go func() {
		executor.Process(ctx, claimed, workerID)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if _, err := s.ReclaimExpired(ctx, time.Now().UTC()); err != nil {
		t.Fatalf("ReclaimExpired: %v", err)
	}

	// The stale worker finishes; its success report must be dropped.
	close(release)
	<-done

	got, err := s.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != job.StateRetrying {
		t.Errorf("state = %s, want retrying (stale report dropped)", got.State)
	}
	if got.AttemptCount != 1 {
		t.Errorf("attempt count = %d, want 1 (reclaim does not re-charge)", got.AttemptCount)
	}
}

func TestPool_QueueManagerGatesExecution(t *testing.T) {
	gate := &capGate{cap: 1}
	pool, s, reg := setupTestPool(t, 4, 10*time.Millisecond, worker.WithQueueManager(gate))

	var inFlight, maxInFlight atomic.Int32
	err := job.RegisterDefinition(reg, job.NewDefinition("gated",
		func(_ context.Context, _ struct{}) error {
			n := inFlight.Add(1)
			for {
				cur := maxInFlight.Load()
				if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			inFlight.Add(-1)
			return nil
		}))
	if err != nil {
		t.Fatalf("RegisterDefinition: %v", err)
	}

	for range 6 {
		enqueue(t, s, "gated", nil, 1)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	defer stopPool(t, pool)

	waitFor(t, "all gated jobs to succeed", func() bool {
		counts, err := s.Counts(context.Background())
		return err == nil && counts[job.StateSucceeded] == 6
	})

	if got := maxInFlight.Load(); got > 1 {
		t.Errorf("max in-flight = %d, want <= 1 with queue cap 1", got)
	}
}

// capGate is a minimal QueueManager capping concurrency across all queues.
type capGate struct {
	cap    int32
	active atomic.Int32
}

func (g *capGate) Acquire(string) bool {
	if g.active.Add(1) > g.cap {
		g.active.Add(-1)
		return false
	}
	return true
}

func (g *capGate) Release(string) { g.active.Add(-1) }
