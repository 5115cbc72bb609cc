package run

import (
	"context"
	"errors"
)

// Kind tags an execution outcome.
type Kind int

const (
	// KindSuccess means the attempt finished cleanly.
	KindSuccess Kind = iota
	// KindFailure means the attempt reported an error.
	KindFailure
	// KindTimeout means the attempt exceeded its wall clock budget.
	// It counts against the attempt budget exactly like a failure; only
	// the recorded cause differs.
	KindTimeout
)

// String returns the lowercase tag name.
func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindFailure:
		return "failure"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Outcome is the result of a single execution attempt. It is a closed
// variant: exactly one of success, failure with a message, or timeout.
// Dispatch logic switches on the Kind tag rather than inspecting error
// strings, which keeps the retry decision deterministic.
type Outcome struct {
	kind    Kind
	message string
}

// Success returns the successful outcome.
func Success() Outcome {
	return Outcome{kind: KindSuccess}
}

// Failure returns a failed outcome carrying the cause.
func Failure(message string) Outcome {
	return Outcome{kind: KindFailure, message: message}
}

// Timeout returns a timed-out outcome carrying the cause.
func Timeout(message string) Outcome {
	return Outcome{kind: KindTimeout, message: message}
}

// Kind returns the outcome tag.
func (o Outcome) Kind() Kind { return o.kind }

// OK reports whether the attempt succeeded.
func (o Outcome) OK() bool { return o.kind == KindSuccess }

// Message returns the recorded cause. Empty for success.
func (o Outcome) Message() string { return o.message }

// Err bridges the outcome into the error-based middleware chain: nil for
// success, an *AttemptError otherwise. FromError reverses it losslessly.
func (o Outcome) Err() error {
	if o.kind == KindSuccess {
		return nil
	}
	return &AttemptError{outcome: o}
}

// AttemptError carries a non-success Outcome through an error return.
type AttemptError struct {
	outcome Outcome
}

// Error returns the recorded cause.
func (e *AttemptError) Error() string {
	if e.outcome.message == "" {
		return e.outcome.kind.String()
	}
	return e.outcome.message
}

// Outcome returns the wrapped outcome.
func (e *AttemptError) Outcome() Outcome { return e.outcome }

// FromError derives an outcome from an error that crossed the middleware
// chain. A nil error is success. An *AttemptError round-trips unchanged.
// A context deadline, however it was wrapped, becomes a timeout. Anything
// else, including a recovered panic, becomes a failure.
func FromError(err error) Outcome {
	if err == nil {
		return Success()
	}

	var attempt *AttemptError
	if errors.As(err, &attempt) {
		return attempt.outcome
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout(err.Error())
	}

	return Failure(err.Error())
}
