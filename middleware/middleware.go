package middleware

import (
	"context"

	"github.com/PyNishanth/taskq-system/job"
)

// Next continues the chain, ultimately invoking the job handler.
type Next func(ctx context.Context) error

// Middleware wraps one job attempt with cross-cutting behavior. It sees
// the job as claimed, so AttemptCount already includes the attempt in
// flight. Not calling next short-circuits the attempt; the returned
// error is what the retry policy sees.
type Middleware func(ctx context.Context, j *job.Job, next Next) error

// Chain composes mws into a single Middleware. The first element is the
// outermost wrapper, so Chain(a, b) runs a before b before the handler.
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, j *job.Job, next Next) error {
		var step func(ctx context.Context, i int) error
		step = func(ctx context.Context, i int) error {
			if i == len(mws) {
				return next(ctx)
			}
			return mws[i](ctx, j, func(ctx context.Context) error {
				return step(ctx, i+1)
			})
		}
		return step(ctx, 0)
	}
}
