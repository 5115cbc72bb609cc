package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/PyNishanth/taskq-system/job"
)

// Logging logs each attempt with its position in the attempt budget.
// A failure that leaves budget logs at Warn, since a retry follows; a
// failure on the final attempt logs at Error, since the job is about to
// go dead.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Next) error {
		l := logger.With(
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("queue", j.Queue),
			slog.Int("attempt", j.AttemptCount),
			slog.Int("max_attempts", j.MaxAttempts),
		)
		l.Info("job attempt started")

		start := time.Now()
		err := next(ctx)
		elapsed := slog.Duration("elapsed", time.Since(start))

		switch {
		case err == nil:
			l.Info("job attempt succeeded", elapsed)
		case j.AttemptCount < j.MaxAttempts:
			l.Warn("job attempt failed, retry follows",
				elapsed, slog.String("error", err.Error()))
		default:
			l.Error("job attempt failed, budget spent",
				elapsed, slog.String("error", err.Error()))
		}
		return err
	}
}
