package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/PyNishanth/taskq-system/middleware"
)

func recordingTracer(t *testing.T) (*tracetest.SpanRecorder, middleware.Middleware) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return sr, middleware.TracingWithTracer(tp.Tracer("test"))
}

func endedSpan(t *testing.T, sr *tracetest.SpanRecorder) sdktrace.ReadOnlySpan {
	t.Helper()
	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	return spans[0]
}

func spanAttr(span sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTracing_SpanCarriesAttemptPosition(t *testing.T) {
	sr, mw := recordingTracer(t)

	j := claimedJob("invoice.issue", 2, 5)
	if err := mw(context.Background(), j, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("middleware: %v", err)
	}

	span := endedSpan(t, sr)
	if span.Name() != "taskq.job.execute" {
		t.Errorf("span name = %q", span.Name())
	}
	if span.SpanKind() != trace.SpanKindConsumer {
		t.Errorf("span kind = %v, want consumer", span.SpanKind())
	}
	if span.Status().Code != codes.Ok {
		t.Errorf("status = %v, want Ok", span.Status())
	}

	checks := map[string]string{
		"taskq.job.id":   j.ID.String(),
		"taskq.job.name": "invoice.issue",
		"taskq.queue":    "reports",
	}
	for key, want := range checks {
		if v, found := spanAttr(span, key); !found || v.AsString() != want {
			t.Errorf("%s = %v (found=%v), want %q", key, v, found, want)
		}
	}
	if v, found := spanAttr(span, "taskq.job.attempt"); !found || v.AsInt64() != 2 {
		t.Errorf("attempt attribute = %v (found=%v)", v, found)
	}
	if v, found := spanAttr(span, "taskq.job.max_attempts"); !found || v.AsInt64() != 5 {
		t.Errorf("max_attempts attribute = %v (found=%v)", v, found)
	}
}

func TestTracing_FinalFailureMarksSpan(t *testing.T) {
	sr, mw := recordingTracer(t)
	cause := errors.New("charge declined")

	err := mw(context.Background(), claimedJob("payment.capture", 3, 3),
		func(context.Context) error { return cause })
	if !errors.Is(err, cause) {
		t.Fatalf("got %v, want %v", err, cause)
	}

	span := endedSpan(t, sr)
	if span.Status().Code != codes.Error || span.Status().Description != "charge declined" {
		t.Errorf("status = %+v", span.Status())
	}
	if v, found := spanAttr(span, "taskq.job.final_attempt"); !found || !v.AsBool() {
		t.Errorf("final_attempt = %v (found=%v), want true", v, found)
	}

	var sawException bool
	for _, ev := range span.Events() {
		if ev.Name == "exception" {
			sawException = true
		}
	}
	if !sawException {
		t.Error("error not recorded as span event")
	}
}

func TestTracing_RetryableFailureNotMarkedFinal(t *testing.T) {
	sr, mw := recordingTracer(t)

	_ = mw(context.Background(), claimedJob("payment.capture", 1, 3),
		func(context.Context) error { return errors.New("gateway timeout") })

	span := endedSpan(t, sr)
	if span.Status().Code != codes.Error {
		t.Errorf("status = %v, want Error", span.Status().Code)
	}
	if _, found := spanAttr(span, "taskq.job.final_attempt"); found {
		t.Error("final_attempt set on an attempt with budget left")
	}
}

func TestTracing_HandlerRunsInsideSpan(t *testing.T) {
	_, mw := recordingTracer(t)

	err := mw(context.Background(), claimedJob("nested", 1, 1),
		func(ctx context.Context) error {
			if !trace.SpanFromContext(ctx).SpanContext().IsValid() {
				t.Error("handler context has no active span")
			}
			return nil
		})
	if err != nil {
		t.Fatalf("middleware: %v", err)
	}
}
