//go:build integration

package postgres_test

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
	"github.com/PyNishanth/taskq-system/store/postgres"
)

// setupTestStore creates a Postgres container and returns a connected Store.
func setupTestStore(t *testing.T, opts ...postgres.Option) *postgres.Store {
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

	store, err := postgres.New(ctx, connStr, opts...)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	if migErr := store.Migrate(ctx); migErr != nil {
		t.Fatalf("migrate: %v", migErr)
	}

	return store
}

func TestStore_Ping(t *testing.T) {
	s := setupTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
}

func TestStore_MigrateIdempotent(t *testing.T) {
	s := setupTestStore(t)
	// Second migrate should be a no-op.
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

func TestStore_CreateClaimComplete(t *testing.T) {
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
	if claimed.ID.String() != j.ID.String() {
		t.Fatalf("claimed wrong job: %s", claimed.ID)
	}
	if claimed.State != job.StateRunning || claimed.AttemptCount != 1 {
		t.Fatalf("claim result: state=%s attempts=%d", claimed.State, claimed.AttemptCount)
	}
	if claimed.LockExpiry == nil {
		t.Fatal("expected lock expiry to be set")
	}

	// Store is drained now.
	if _, err := s.ClaimNext(ctx, worker, nil, time.Minute); !errors.Is(err, taskq.ErrNoJob) {
		t.Fatalf("expected ErrNoJob, got: %v", err)
	}

	if err := s.Complete(ctx, claimed.ID, id.NewWorkerID()); !errors.Is(err, taskq.ErrLeaseLost) {
		t.Fatalf("foreign complete: expected ErrLeaseLost, got: %v", err)
	}
	if err := s.Complete(ctx, claimed.ID, worker); err != nil {
		t.Fatalf("complete: %v", err)
	}

	got, err := s.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != job.StateSucceeded {
		t.Fatalf("expected succeeded, got %s", got.State)
	}
	if got.LockExpiry != nil || !got.LockedBy.IsNil() {
		t.Fatal("expected lease cleared after complete")
	}
}

func TestStore_FailRetryAndDead(t *testing.T) {
	s := setupTestStore(t, postgres.WithBackoff(backoff.NewConstant(time.Hour)))
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
	if failed.State != job.StateDead {
		t.Fatalf("expected dead with spent budget, got %s", failed.State)
	}
	if failed.LastError != "boom" {
		t.Fatalf("expected last error boom, got %q", failed.LastError)
	}

	// A retryable job lands in retrying with the backoff applied.
	j2 := job.New("flaky", []byte(`{}`), job.DefaultOptions())
	if err := s.Create(ctx, j2); err != nil {
		t.Fatalf("create flaky: %v", err)
	}
	claimed, err = s.ClaimNext(ctx, id.NewWorkerID(), nil, time.Minute)
	if err != nil {
		t.Fatalf("claim flaky: %v", err)
	}
	before := time.Now().UTC()
	failed, err = s.Fail(ctx, claimed.ID, claimed.LockedBy, "transient")
	if err != nil {
		t.Fatalf("fail flaky: %v", err)
	}
	if failed.State != job.StateRetrying {
		t.Fatalf("expected retrying, got %s", failed.State)
	}
	if failed.NextRunAt.Before(before.Add(time.Hour)) {
		t.Fatalf("backoff not applied: next run %v", failed.NextRunAt)
	}
	if _, err := s.ClaimNext(ctx, id.NewWorkerID(), nil, time.Minute); !errors.Is(err, taskq.ErrNoJob) {
		t.Fatal("retrying job claimable before its backoff elapsed")
	}
}

func TestStore_ReclaimExpired(t *testing.T) {
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
	if got.State != job.StateRetrying {
		t.Fatalf("expected retrying, got %s", got.State)
	}
	if got.AttemptCount != claimed.AttemptCount {
		t.Fatal("reclaim changed the attempt count")
	}

	// The crashed worker's late report must bounce.
	if _, err := s.Fail(ctx, j.ID, worker, "late"); !errors.Is(err, taskq.ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost on stale report, got: %v", err)
	}
}

func TestStore_RequeueFromDead(t *testing.T) {
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
}

func TestStore_ListCountsRetention(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.Create(ctx, job.New("bulk", []byte(`{}`), job.DefaultOptions())); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	claimed, err := s.ClaimNext(ctx, id.NewWorkerID(), nil, time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.Complete(ctx, claimed.ID, claimed.LockedBy); err != nil {
		t.Fatalf("complete: %v", err)
	}

	queued, err := s.List(ctx, job.Filter{States: []job.State{job.StateQueued}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(queued) != 2 {
		t.Fatalf("expected 2 queued, got %d", len(queued))
	}

	counts, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts[job.StateQueued] != 2 || counts[job.StateSucceeded] != 1 {
		t.Fatalf("counts: %v", counts)
	}

	n, err := s.DeleteOlder(ctx, []job.State{job.StateSucceeded}, time.Now().UTC().Add(time.Hour), 0)
	if err != nil {
		t.Fatalf("delete older: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 deleted, got %d", n)
	}
}
