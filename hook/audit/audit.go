// Package audit bridges taskq lifecycle events to an audit trail. Each
// event becomes a structured record sent through a pluggable [Recorder];
// the default recorder writes to slog, so wiring the hook with no options
// yields a structured audit log with zero extra infrastructure.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/PyNishanth/taskq-system/hook"
	"github.com/PyNishanth/taskq-system/job"
)

// Compile-time interface checks.
var (
	_ hook.Hook         = (*Hook)(nil)
	_ hook.JobEnqueued  = (*Hook)(nil)
	_ hook.JobStarted   = (*Hook)(nil)
	_ hook.JobSucceeded = (*Hook)(nil)
	_ hook.JobRetrying  = (*Hook)(nil)
	_ hook.JobDead      = (*Hook)(nil)
	_ hook.JobRequeued  = (*Hook)(nil)
)

// Event is one audit record.
type Event struct {
	// What happened.
	Action   string `json:"action"`
	Resource string `json:"resource"`

	// Details.
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// Recorder is the interface audit backends must implement. It is defined
// locally so this package carries no dependency on any particular audit
// store; callers bridge to their own backend with a [RecorderFunc].
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *Event) error
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *Event) error

func (f RecorderFunc) Record(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Hook records job lifecycle events through a Recorder.
type Hook struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates a Hook that emits audit events through the provided
// Recorder. A nil recorder falls back to [SlogRecorder] on the hook's
// logger.
func New(r Recorder, opts ...Option) *Hook {
	h := &Hook{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.recorder == nil {
		h.recorder = SlogRecorder(h.logger)
	}
	return h
}

// SlogRecorder returns a Recorder that logs events through the given
// structured logger. Severity maps to the log level.
func SlogRecorder(logger *slog.Logger) Recorder {
	return RecorderFunc(func(ctx context.Context, evt *Event) error {
		level := slog.LevelInfo
		switch evt.Severity {
		case SeverityWarning:
			level = slog.LevelWarn
		case SeverityCritical:
			level = slog.LevelError
		}
		logger.Log(ctx, level, "audit",
			slog.String("action", evt.Action),
			slog.String("resource", evt.Resource),
			slog.String("resource_id", evt.ResourceID),
			slog.String("outcome", evt.Outcome),
			slog.Any("metadata", evt.Metadata),
		)
		return nil
	})
}

// Name implements hook.Hook.
func (h *Hook) Name() string { return "audit" }

// OnJobEnqueued implements hook.JobEnqueued.
func (h *Hook) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	return h.record(ctx, ActionJobEnqueued, SeverityInfo, OutcomeSuccess, j.ID.String(), "",
		"job_name", j.Name,
		"queue", j.Queue,
	)
}

// OnJobStarted implements hook.JobStarted.
func (h *Hook) OnJobStarted(ctx context.Context, j *job.Job) error {
	return h.record(ctx, ActionJobStarted, SeverityInfo, OutcomeSuccess, j.ID.String(), "",
		"job_name", j.Name,
		"queue", j.Queue,
		"worker_id", j.LockedBy.String(),
		"attempt", j.AttemptCount,
	)
}

// OnJobSucceeded implements hook.JobSucceeded.
func (h *Hook) OnJobSucceeded(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	return h.record(ctx, ActionJobSucceeded, SeverityInfo, OutcomeSuccess, j.ID.String(), "",
		"job_name", j.Name,
		"queue", j.Queue,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnJobRetrying implements hook.JobRetrying.
func (h *Hook) OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error {
	return h.record(ctx, ActionJobRetrying, SeverityWarning, OutcomeFailure, j.ID.String(), j.LastError,
		"job_name", j.Name,
		"queue", j.Queue,
		"attempt", attempt,
		"max_attempts", j.MaxAttempts,
		"next_run_at", nextRunAt.Format(time.RFC3339),
	)
}

// OnJobDead implements hook.JobDead.
func (h *Hook) OnJobDead(ctx context.Context, j *job.Job, cause string) error {
	return h.record(ctx, ActionJobDead, SeverityCritical, OutcomeFailure, j.ID.String(), cause,
		"job_name", j.Name,
		"queue", j.Queue,
		"attempt_count", j.AttemptCount,
	)
}

// OnJobRequeued implements hook.JobRequeued.
func (h *Hook) OnJobRequeued(ctx context.Context, j *job.Job) error {
	return h.record(ctx, ActionJobRequeued, SeverityInfo, OutcomeSuccess, j.ID.String(), "",
		"job_name", j.Name,
		"queue", j.Queue,
	)
}

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (h *Hook) record(ctx context.Context, action, severity, outcome, resourceID, reason string, kvPairs ...any) error {
	if h.enabled != nil && !h.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	evt := &Event{
		Action:     action,
		Resource:   ResourceJob,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := h.recorder.Record(ctx, evt); recErr != nil {
		h.logger.Warn("audit: failed to record event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
