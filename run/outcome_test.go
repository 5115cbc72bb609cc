package run_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/PyNishanth/taskq-system/run"
)

func TestOutcome_Success(t *testing.T) {
	o := run.Success()
	if !o.OK() {
		t.Error("Success().OK() = false")
	}
	if o.Kind() != run.KindSuccess {
		t.Errorf("Kind = %v, want KindSuccess", o.Kind())
	}
	if o.Err() != nil {
		t.Errorf("Err = %v, want nil", o.Err())
	}
}

func TestOutcome_FailureCarriesMessage(t *testing.T) {
	o := run.Failure("disk full")
	if o.OK() {
		t.Error("Failure().OK() = true")
	}
	if o.Message() != "disk full" {
		t.Errorf("Message = %q, want %q", o.Message(), "disk full")
	}
	if o.Err() == nil {
		t.Fatal("Err = nil for failure")
	}
	if o.Err().Error() != "disk full" {
		t.Errorf("Err().Error() = %q, want %q", o.Err().Error(), "disk full")
	}
}

func TestFromError_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   run.Outcome
	}{
		{"failure", run.Failure("boom")},
		{"timeout", run.Timeout("too slow")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := run.FromError(tt.in.Err())
			if got.Kind() != tt.in.Kind() {
				t.Errorf("Kind = %v, want %v", got.Kind(), tt.in.Kind())
			}
			if got.Message() != tt.in.Message() {
				t.Errorf("Message = %q, want %q", got.Message(), tt.in.Message())
			}
		})
	}
}

func TestFromError_Nil(t *testing.T) {
	if got := run.FromError(nil); !got.OK() {
		t.Errorf("FromError(nil) = %v, want success", got.Kind())
	}
}

func TestFromError_DeadlineBecomesTimeout(t *testing.T) {
	err := fmt.Errorf("handler: %w", context.DeadlineExceeded)
	got := run.FromError(err)
	if got.Kind() != run.KindTimeout {
		t.Errorf("Kind = %v, want KindTimeout", got.Kind())
	}
}

func TestFromError_PlainErrorBecomesFailure(t *testing.T) {
	got := run.FromError(errors.New("something broke"))
	if got.Kind() != run.KindFailure {
		t.Errorf("Kind = %v, want KindFailure", got.Kind())
	}
	if got.Message() != "something broke" {
		t.Errorf("Message = %q, want %q", got.Message(), "something broke")
	}
}

func TestFromError_WrappedAttemptError(t *testing.T) {
	// An AttemptError wrapped by middleware must still round-trip its tag.
	inner := run.Timeout("deadline hit").Err()
	wrapped := fmt.Errorf("middleware saw: %w", inner)

	got := run.FromError(wrapped)
	if got.Kind() != run.KindTimeout {
		t.Errorf("Kind = %v, want KindTimeout", got.Kind())
	}
}

func TestKindString(t *testing.T) {
	tests := []struct {
		kind run.Kind
		want string
	}{
		{run.KindSuccess, "success"},
		{run.KindFailure, "failure"},
		{run.KindTimeout, "timeout"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}
