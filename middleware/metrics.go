package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/PyNishanth/taskq-system/job"
)

const meterName = "github.com/PyNishanth/taskq-system/middleware"

// Metrics records attempt metrics through the global MeterProvider.
// Without one installed the instruments are no-ops.
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter is Metrics with an injected meter.
//
// Instruments, all attributed with job_name and queue:
//   - taskq.job.duration: histogram of attempt wall time in seconds
//   - taskq.job.completed: counter of successful attempts
//   - taskq.job.failed: counter of failed attempts, with a "final"
//     attribute marking attempts that spent the budget
func MetricsWithMeter(meter metric.Meter) Middleware {
	duration, err := meter.Float64Histogram("taskq.job.duration",
		metric.WithDescription("Wall time of one job attempt"),
		metric.WithUnit("s"))
	if err != nil {
		otel.Handle(err)
	}
	completed, err := meter.Int64Counter("taskq.job.completed",
		metric.WithDescription("Job attempts that succeeded"))
	if err != nil {
		otel.Handle(err)
	}
	failed, err := meter.Int64Counter("taskq.job.failed",
		metric.WithDescription("Job attempts that failed"))
	if err != nil {
		otel.Handle(err)
	}

	return func(ctx context.Context, j *job.Job, next Next) error {
		start := time.Now()
		runErr := next(ctx)

		base := []attribute.KeyValue{
			attribute.String("job_name", j.Name),
			attribute.String("queue", j.Queue),
		}
		duration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(base...))

		if runErr != nil {
			failed.Add(ctx, 1, metric.WithAttributes(append(base,
				attribute.Bool("final", j.AttemptCount >= j.MaxAttempts))...))
			return runErr
		}
		completed.Add(ctx, 1, metric.WithAttributes(base...))
		return nil
	}
}
