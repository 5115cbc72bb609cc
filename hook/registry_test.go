package hook_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/PyNishanth/taskq-system/hook"
	"github.com/PyNishanth/taskq-system/job"
)

// allEventsHook implements every lifecycle event for testing.
type allEventsHook struct {
	calls []string
}

func (h *allEventsHook) Name() string { return "all-events" }

func (h *allEventsHook) OnJobEnqueued(_ context.Context, _ *job.Job) error {
	h.calls = append(h.calls, "OnJobEnqueued")
	return nil
}

func (h *allEventsHook) OnJobStarted(_ context.Context, _ *job.Job) error {
	h.calls = append(h.calls, "OnJobStarted")
	return nil
}

func (h *allEventsHook) OnJobSucceeded(_ context.Context, _ *job.Job, _ time.Duration) error {
	h.calls = append(h.calls, "OnJobSucceeded")
	return nil
}

func (h *allEventsHook) OnJobRetrying(_ context.Context, _ *job.Job, _ int, _ time.Time) error {
	h.calls = append(h.calls, "OnJobRetrying")
	return nil
}

func (h *allEventsHook) OnJobDead(_ context.Context, _ *job.Job, _ string) error {
	h.calls = append(h.calls, "OnJobDead")
	return nil
}

func (h *allEventsHook) OnJobRequeued(_ context.Context, _ *job.Job) error {
	h.calls = append(h.calls, "OnJobRequeued")
	return nil
}

func (h *allEventsHook) OnShutdown(_ context.Context) error {
	h.calls = append(h.calls, "OnShutdown")
	return nil
}

// terminalOnlyHook only implements the terminal events.
type terminalOnlyHook struct {
	calls []string
}

func (h *terminalOnlyHook) Name() string { return "terminal-only" }

func (h *terminalOnlyHook) OnJobSucceeded(_ context.Context, _ *job.Job, _ time.Duration) error {
	h.calls = append(h.calls, "OnJobSucceeded")
	return nil
}

func (h *terminalOnlyHook) OnJobDead(_ context.Context, _ *job.Job, _ string) error {
	h.calls = append(h.calls, "OnJobDead")
	return nil
}

// failingHook returns errors from events.
type failingHook struct{}

func (h *failingHook) Name() string { return "failing" }

func (h *failingHook) OnJobEnqueued(_ context.Context, _ *job.Job) error {
	return errors.New("boom")
}

func (h *failingHook) OnShutdown(_ context.Context) error {
	return errors.New("shutdown boom")
}

func TestRegistry_RegisterDiscoversInterfaces(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	all := &allEventsHook{}
	r.Register(all)

	if got := len(r.Hooks()); got != 1 {
		t.Fatalf("expected 1 hook, got %d", got)
	}
	if got := r.Hooks()[0].Name(); got != "all-events" {
		t.Fatalf("expected name 'all-events', got %q", got)
	}
}

func TestRegistry_EmitFiresOnlyImplementors(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	all := &allEventsHook{}
	term := &terminalOnlyHook{}
	r.Register(all)
	r.Register(term)

	ctx := context.Background()
	j := &job.Job{Name: "test-job"}

	// Both implement OnJobSucceeded → both called.
	r.EmitJobSucceeded(ctx, j, time.Second)
	if len(all.calls) != 1 || all.calls[0] != "OnJobSucceeded" {
		t.Errorf("all.calls = %v, want [OnJobSucceeded]", all.calls)
	}
	if len(term.calls) != 1 || term.calls[0] != "OnJobSucceeded" {
		t.Errorf("term.calls = %v, want [OnJobSucceeded]", term.calls)
	}

	// Only the full hook implements OnJobEnqueued.
	r.EmitJobEnqueued(ctx, j)
	if len(all.calls) != 2 {
		t.Errorf("all.calls = %v, want 2 calls", all.calls)
	}
	if len(term.calls) != 1 {
		t.Errorf("term.calls = %v, want 1 call", term.calls)
	}
}

func TestRegistry_EmitAllEvents(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	all := &allEventsHook{}
	r.Register(all)

	ctx := context.Background()
	j := &job.Job{Name: "test-job"}

	r.EmitJobEnqueued(ctx, j)
	r.EmitJobStarted(ctx, j)
	r.EmitJobSucceeded(ctx, j, time.Second)
	r.EmitJobRetrying(ctx, j, 1, time.Now())
	r.EmitJobDead(ctx, j, "exhausted")
	r.EmitJobRequeued(ctx, j)
	r.EmitShutdown(ctx)

	want := []string{
		"OnJobEnqueued",
		"OnJobStarted",
		"OnJobSucceeded",
		"OnJobRetrying",
		"OnJobDead",
		"OnJobRequeued",
		"OnShutdown",
	}
	if len(all.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", all.calls, want)
	}
	for i, name := range want {
		if all.calls[i] != name {
			t.Errorf("calls[%d] = %q, want %q", i, all.calls[i], name)
		}
	}
}

func TestRegistry_HookErrorsAreSwallowed(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	r.Register(&failingHook{})

	// Emit must not panic or propagate the hook error.
	r.EmitJobEnqueued(context.Background(), &job.Job{Name: "test-job"})
	r.EmitShutdown(context.Background())
}

func TestRegistry_RegistrationOrder(t *testing.T) {
	r := hook.NewRegistry(slog.Default())

	var order []string
	first := &namedHook{name: "first", order: &order}
	second := &namedHook{name: "second", order: &order}
	r.Register(first)
	r.Register(second)

	r.EmitJobEnqueued(context.Background(), &job.Job{})

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("order = %v, want [first second]", order)
	}
}

// namedHook records its name in a shared slice when fired.
type namedHook struct {
	name  string
	order *[]string
}

func (h *namedHook) Name() string { return h.name }

func (h *namedHook) OnJobEnqueued(_ context.Context, _ *job.Job) error {
	*h.order = append(*h.order, h.name)
	return nil
}
