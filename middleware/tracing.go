package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/PyNishanth/taskq-system/job"
)

const tracerName = "github.com/PyNishanth/taskq-system/middleware"

// Tracing wraps each attempt in a span from the global TracerProvider.
// Without one installed the span is a no-op.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer is Tracing with an injected tracer.
//
// The span is named "taskq.job.execute" with consumer kind, carrying the
// job identity and its position in the attempt budget. A failed attempt
// records the error; one that spent the budget is additionally marked
// with taskq.job.final_attempt.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Next) error {
		ctx, span := tracer.Start(ctx, "taskq.job.execute",
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("taskq.job.id", j.ID.String()),
				attribute.String("taskq.job.name", j.Name),
				attribute.String("taskq.queue", j.Queue),
				attribute.Int("taskq.job.attempt", j.AttemptCount),
				attribute.Int("taskq.job.max_attempts", j.MaxAttempts),
			))
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if j.AttemptCount >= j.MaxAttempts {
				span.SetAttributes(attribute.Bool("taskq.job.final_attempt", true))
			}
			return err
		}
		span.SetStatus(codes.Ok, "")
		return nil
	}
}
