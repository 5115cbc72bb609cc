package job

import "context"

// Definition binds a job name to a handler over a typed payload. The
// payload type T must survive a JSON round trip, since that is how it is
// persisted between enqueue and execution.
type Definition[T any] struct {
	// Name routes persisted jobs back to this handler. Unique per
	// registry.
	Name string

	// Handler runs one attempt against the decoded payload.
	Handler func(ctx context.Context, payload T) error

	// Opts are the enqueue defaults for this job type. Per-call options
	// override them.
	Opts Options
}

// NewDefinition builds a Definition with DefaultOptions, adjusted by
// opts.
func NewDefinition[T any](name string, handler func(ctx context.Context, payload T) error, opts ...Option) *Definition[T] {
	def := &Definition[T]{
		Name:    name,
		Handler: handler,
		Opts:    DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}
