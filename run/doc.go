// Package run models the result of a single job execution attempt and the
// runners that produce it.
//
// An [Outcome] is a closed variant: success, failure with a message, or
// timeout. The worker's retry decision switches on the tag, never on error
// string matching. [Outcome.Err] and [FromError] bridge outcomes across
// the error-based middleware chain without losing the tag.
//
// Two runners ship with taskq: [Handlers] dispatches named jobs to
// registered Go functions, and [Shell] executes a job's payload as a
// command line, which is how CLI-enqueued jobs run. [Router] composes
// them.
package run
