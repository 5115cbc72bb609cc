//go:build integration

package bunstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	taskq "github.com/PyNishanth/taskq-system"
	"github.com/PyNishanth/taskq-system/backoff"
	"github.com/PyNishanth/taskq-system/id"
	"github.com/PyNishanth/taskq-system/job"
	bunstore "github.com/PyNishanth/taskq-system/store/bun"
)

// setupTestStore creates a Postgres container and returns a Bun store
// connected through pgdriver.
func setupTestStore(t *testing.T, opts ...bunstore.Option) *bunstore.Store {
	t.Helper()

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("taskq_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	store := bunstore.NewFromDSN(connStr, opts...)
	t.Cleanup(func() {
		_ = store.Close()
	})

	if migErr := store.Migrate(ctx); migErr != nil {
		t.Fatalf("migrate: %v", migErr)
	}
	return store
}

func TestStore_PingAndMigrateIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

func TestStore_ClaimLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	j := job.New("send-email", []byte(`{"to":"a@b.c"}`), job.DefaultOptions())
	if err := s.Create(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}
	if dupErr := s.Create(ctx, j); !errors.Is(dupErr, taskq.ErrJobAlreadyExists) {
		t.Fatalf("expected ErrJobAlreadyExists, got: %v", dupErr)
	}

	worker := id.NewWorkerID()
	claimed, err := s.ClaimNext(ctx, worker, []string{"default"}, time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.State != job.StateRunning || claimed.AttemptCount != 1 {
		t.Fatalf("claim result: state=%s attempts=%d", claimed.State, claimed.AttemptCount)
	}
	if _, err := s.ClaimNext(ctx, worker, nil, time.Minute); !errors.Is(err, taskq.ErrNoJob) {
		t.Fatalf("expected ErrNoJob on drained store, got: %v", err)
	}

	// Only the lease holder may report.
	if err := s.Complete(ctx, claimed.ID, id.NewWorkerID()); !errors.Is(err, taskq.ErrLeaseLost) {
		t.Fatalf("foreign complete: expected ErrLeaseLost, got: %v", err)
	}
	if err := s.ExtendLease(ctx, claimed.ID, id.NewWorkerID(), time.Minute); !errors.Is(err, taskq.ErrLeaseLost) {
		t.Fatalf("foreign extend: expected ErrLeaseLost, got: %v", err)
	}
	if err := s.ExtendLease(ctx, claimed.ID, worker, time.Minute); err != nil {
		t.Fatalf("extend: %v", err)
	}
	if err := s.Complete(ctx, claimed.ID, worker); err != nil {
		t.Fatalf("complete: %v", err)
	}

	got, err := s.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != job.StateSucceeded || got.LockExpiry != nil {
		t.Fatalf("after complete: state=%s expiry=%v", got.State, got.LockExpiry)
	}
}

func TestStore_FailAppliesRetryPolicy(t *testing.T) {
	s := setupTestStore(t, bunstore.WithBackoff(backoff.NewConstant(time.Hour)))
	ctx := context.Background()

	opts := job.DefaultOptions()
	opts.MaxAttempts = 1
	j := job.New("one-shot", []byte(`{}`), opts)
	if err := s.Create(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}
	claimed, err := s.ClaimNext(ctx, id.NewWorkerID(), nil, time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	failed, err := s.Fail(ctx, claimed.ID, claimed.LockedBy, "boom")
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if failed.State != job.StateDead || failed.LastError != "boom" {
		t.Fatalf("one-shot failure: state=%s error=%q", failed.State, failed.LastError)
	}

	j2 := job.New("flaky", []byte(`{}`), job.DefaultOptions())
	if err := s.Create(ctx, j2); err != nil {
		t.Fatalf("create flaky: %v", err)
	}
	claimed, err = s.ClaimNext(ctx, id.NewWorkerID(), nil, time.Minute)
	if err != nil {
		t.Fatalf("claim flaky: %v", err)
	}
	failed, err = s.Fail(ctx, claimed.ID, claimed.LockedBy, "transient")
	if err != nil {
		t.Fatalf("fail flaky: %v", err)
	}
	if failed.State != job.StateRetrying {
		t.Fatalf("expected retrying, got %s", failed.State)
	}
	if _, err := s.ClaimNext(ctx, id.NewWorkerID(), nil, time.Minute); !errors.Is(err, taskq.ErrNoJob) {
		t.Fatal("retrying job claimable before its backoff elapsed")
	}
}

func TestStore_ReclaimExpiredBouncesStaleReport(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	j := job.New("crashed", []byte(`{}`), job.DefaultOptions())
	if err := s.Create(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}
	worker := id.NewWorkerID()
	claimed, err := s.ClaimNext(ctx, worker, nil, -time.Second)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	n, err := s.ReclaimExpired(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reclaimed, got %d", n)
	}

	got, err := s.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != job.StateRetrying || got.AttemptCount != claimed.AttemptCount {
		t.Fatalf("after reclaim: state=%s attempts=%d", got.State, got.AttemptCount)
	}
	if _, err := s.Fail(ctx, j.ID, worker, "late"); !errors.Is(err, taskq.ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost on stale report, got: %v", err)
	}
}

func TestStore_RequeueListCounts(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	opts := job.DefaultOptions()
	opts.MaxAttempts = 1
	j := job.New("revive", []byte(`{}`), opts)
	if err := s.Create(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}
	claimed, err := s.ClaimNext(ctx, id.NewWorkerID(), nil, time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := s.Fail(ctx, claimed.ID, claimed.LockedBy, "boom"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	dead, err := s.List(ctx, job.Filter{States: []job.State{job.StateDead}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(dead) != 1 {
		t.Fatalf("expected 1 dead job, got %d", len(dead))
	}

	if err := s.Requeue(ctx, j.ID); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	got, err := s.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != job.StateQueued || got.AttemptCount != 0 {
		t.Fatalf("after requeue: state=%s attempts=%d", got.State, got.AttemptCount)
	}
	if err := s.Requeue(ctx, j.ID); !errors.Is(err, taskq.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got: %v", err)
	}

	counts, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts[job.StateQueued] != 1 {
		t.Fatalf("counts: %v", counts)
	}
}
