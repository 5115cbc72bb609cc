package taskq

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("taskq: no store configured")
	ErrStoreClosed     = errors.New("taskq: store closed")
	ErrMigrationFailed = errors.New("taskq: migration failed")

	// Not found errors.
	ErrJobNotFound = errors.New("taskq: job not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("taskq: job already exists")

	// Claim errors. ErrNoJob is a polling signal, not a failure. ErrLeaseLost
	// means a worker reported an outcome for a job it no longer owns; the
	// stale report must not be applied.
	ErrNoJob     = errors.New("taskq: no eligible job")
	ErrLeaseLost = errors.New("taskq: job lease lost")

	// State errors.
	ErrInvalidTransition = errors.New("taskq: invalid state transition")

	// Registry errors.
	ErrHandlerNotFound = errors.New("taskq: no handler registered")
	ErrHandlerExists   = errors.New("taskq: handler already registered")

	// Queue errors.
	ErrQueueSaturated = errors.New("taskq: queue saturated")

	// Lifecycle errors.
	ErrAlreadyRunning = errors.New("taskq: dispatcher already running")
)
