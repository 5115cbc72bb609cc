package run_test

import (
	"context"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/PyNishanth/taskq-system/job"
	"github.com/PyNishanth/taskq-system/run"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell runner tests require sh")
	}
}

func commandJob(command string) *job.Job {
	return job.New("", []byte(command), job.DefaultOptions())
}

func TestShell_Success(t *testing.T) {
	requireShell(t)

	s := run.NewShell(nil)
	o := s.Run(context.Background(), commandJob("true"))
	if !o.OK() {
		t.Fatalf("expected success, got %v: %s", o.Kind(), o.Message())
	}
}

func TestShell_NonZeroExit(t *testing.T) {
	requireShell(t)

	s := run.NewShell(nil)
	o := s.Run(context.Background(), commandJob("echo oops >&2; exit 3"))
	if o.Kind() != run.KindFailure {
		t.Fatalf("expected failure, got %v", o.Kind())
	}
	if !strings.Contains(o.Message(), "exit status 3") {
		t.Errorf("message %q should mention exit status", o.Message())
	}
	if !strings.Contains(o.Message(), "oops") {
		t.Errorf("message %q should capture stderr", o.Message())
	}
}

func TestShell_Timeout(t *testing.T) {
	requireShell(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	s := run.NewShell(nil)
	o := s.Run(ctx, commandJob("sleep 5"))
	if o.Kind() != run.KindTimeout {
		t.Fatalf("expected timeout, got %v: %s", o.Kind(), o.Message())
	}
}

func TestShell_EmptyCommand(t *testing.T) {
	s := run.NewShell(nil)
	o := s.Run(context.Background(), commandJob("   "))
	if o.Kind() != run.KindFailure {
		t.Fatalf("expected failure for empty command, got %v", o.Kind())
	}
}

func TestRouter_NamedJobUsesHandlers(t *testing.T) {
	registry := job.NewRegistry()
	called := false
	err := job.RegisterDefinition(registry, job.NewDefinition("ping", func(_ context.Context, _ struct{}) error {
		called = true
		return nil
	}))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	router := run.NewRouter(run.NewHandlers(registry), nil)
	o := router.Run(context.Background(), job.New("ping", nil, job.DefaultOptions()))
	if !o.OK() {
		t.Fatalf("expected success, got %v: %s", o.Kind(), o.Message())
	}
	if !called {
		t.Fatal("handler not invoked")
	}
}

func TestRouter_UnnamedJobUsesFallback(t *testing.T) {
	var sawFallback bool
	fallback := run.Func(func(_ context.Context, _ *job.Job) run.Outcome {
		sawFallback = true
		return run.Success()
	})

	router := run.NewRouter(run.NewHandlers(job.NewRegistry()), fallback)
	o := router.Run(context.Background(), commandJob("true"))
	if !o.OK() {
		t.Fatalf("expected success, got %v", o.Kind())
	}
	if !sawFallback {
		t.Fatal("fallback not invoked")
	}
}

func TestRouter_UnnamedJobWithoutFallbackFails(t *testing.T) {
	router := run.NewRouter(run.NewHandlers(job.NewRegistry()), nil)
	o := router.Run(context.Background(), commandJob("true"))
	if o.Kind() != run.KindFailure {
		t.Fatalf("expected failure, got %v", o.Kind())
	}
}

func TestHandlers_MissingHandlerFails(t *testing.T) {
	h := run.NewHandlers(job.NewRegistry())
	o := h.Run(context.Background(), job.New("nope", nil, job.DefaultOptions()))
	if o.Kind() != run.KindFailure {
		t.Fatalf("expected failure, got %v", o.Kind())
	}
	if !strings.Contains(o.Message(), "no handler registered") {
		t.Errorf("message %q should say no handler is registered", o.Message())
	}
}
