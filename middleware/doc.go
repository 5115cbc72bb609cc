// Package middleware wraps job attempts with cross-cutting behavior.
//
// A [Middleware] sees each attempt after it has been claimed, so the
// job's AttemptCount and lease are already set. [Chain] composes a
// stack; the first middleware listed is the outermost wrapper.
//
//	// recover → logging → handler
//	chain := middleware.Chain(middleware.Recover(logger), middleware.Logging(logger))
//
// # Built-in Middleware
//
//   - [Recover]: turns handler panics into ordinary attempt failures
//   - [Logging]: logs attempts with their place in the attempt budget
//   - [Timeout]: applies the per-attempt deadline, with a pool default
//     for jobs persisted without one
//   - [Tracing]: per-attempt OpenTelemetry span
//   - [Metrics]: per-attempt duration histogram and outcome counters
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, j *job.Job, next middleware.Next) error {
//	        // before the attempt
//	        err := next(ctx)
//	        // after the attempt
//	        return err
//	    }
//	}
//
// Returning without calling next short-circuits the attempt; the error
// returned is what the retry policy acts on.
package middleware
