package run

import (
	"context"
	"fmt"

	"github.com/PyNishanth/taskq-system/job"
)

// Handlers runs named jobs through a handler registry. A missing handler
// is reported as a failure rather than an error in the worker: in a
// mixed fleet the retry may land on a process that does have the handler
// registered.
type Handlers struct {
	registry *job.Registry
}

// NewHandlers creates a registry-backed runner.
func NewHandlers(registry *job.Registry) *Handlers {
	return &Handlers{registry: registry}
}

// Run looks up the job's handler and invokes it with the raw payload.
func (h *Handlers) Run(ctx context.Context, j *job.Job) Outcome {
	handler, ok := h.registry.Get(j.Name)
	if !ok {
		return Failure(fmt.Sprintf("no handler registered for job %q", j.Name))
	}

	err := handler(ctx, j.Payload)
	switch {
	case err == nil:
		return Success()
	case ctx.Err() == context.DeadlineExceeded:
		return Timeout(fmt.Sprintf("handler %q: %v", j.Name, err))
	default:
		return Failure(fmt.Sprintf("handler %q: %v", j.Name, err))
	}
}
