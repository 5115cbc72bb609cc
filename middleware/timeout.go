package middleware

import (
	"context"
	"time"

	"github.com/PyNishanth/taskq-system/job"
)

// Timeout enforces the per-attempt wall clock budget via the context
// deadline. A job persisted with Timeout zero gets fallback, so records
// written by other producers still run bounded. When both are zero the
// attempt runs without a deadline.
func Timeout(fallback time.Duration) Middleware {
	return func(ctx context.Context, j *job.Job, next Next) error {
		budget := j.Timeout
		if budget <= 0 {
			budget = fallback
		}
		if budget <= 0 {
			return next(ctx)
		}

		ctx, cancel := context.WithTimeout(ctx, budget)
		defer cancel()
		return next(ctx)
	}
}
