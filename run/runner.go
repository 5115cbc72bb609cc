package run

import (
	"context"
	"fmt"

	"github.com/PyNishanth/taskq-system/job"
)

// Runner executes one attempt of a job and reports its outcome. Runners
// must honor ctx: when the deadline passes they stop work and return a
// timeout outcome.
type Runner interface {
	Run(ctx context.Context, j *job.Job) Outcome
}

// Func adapts a plain function to a Runner.
type Func func(ctx context.Context, j *job.Job) Outcome

// Run calls f.
func (f Func) Run(ctx context.Context, j *job.Job) Outcome {
	return f(ctx, j)
}

// Router picks the runner for a job. Named jobs dispatch to registered
// handlers; unnamed jobs fall back to the command runner.
type Router struct {
	handlers *Handlers
	fallback Runner
}

// NewRouter creates a router over a handler registry with an optional
// fallback for unnamed jobs. A nil fallback fails unnamed jobs.
func NewRouter(handlers *Handlers, fallback Runner) *Router {
	return &Router{handlers: handlers, fallback: fallback}
}

// Run routes the job to the matching runner.
func (r *Router) Run(ctx context.Context, j *job.Job) Outcome {
	if j.Name != "" {
		return r.handlers.Run(ctx, j)
	}
	if r.fallback != nil {
		return r.fallback.Run(ctx, j)
	}
	return Failure(fmt.Sprintf("no runner for unnamed job %s", j.ID))
}
