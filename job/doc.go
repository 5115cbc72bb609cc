// Package job defines the job entity, its state machine, typed handler
// definitions, and the store interface every backend implements.
//
// # Job Entity
//
// A [Job] represents a unit of work. It carries a payload (JSON for typed
// handlers, a command line for shell jobs) and progresses through a state
// machine:
//
//	queued → running → succeeded
//	queued → running → retrying → running → ...
//	queued → running → dead
//	dead → queued (operator requeue)
//
// Fields of note:
//   - Queue: which queue the job belongs to (default: "default")
//   - MaxAttempts / AttemptCount: the execution budget and how much of it
//     is spent; AttemptCount counts claims, so a crashed attempt is paid
//     for the moment the lease was taken
//   - NextRunAt: earliest time the job may be claimed, pushed forward by
//     the backoff policy after each failure
//   - LockedBy / LockExpiry: the lease; a job whose lease lapses is swept
//     back into rotation by ReclaimExpired
//   - Timeout: per-attempt execution deadline
//
// # Defining a Job
//
// Use [Definition] with a typed handler. The payload is JSON-serialized
// at enqueue time and deserialized before the handler runs:
//
//	var SendEmail = job.NewDefinition("send_email",
//	    func(ctx context.Context, input EmailInput) error {
//	        return mailer.Send(input.To, input.Subject, input.Body)
//	    },
//	)
//
// # Registry
//
// [Registry] maps job names to type-erased [HandlerFunc] values.
// Register definitions at startup via [RegisterDefinition]:
//
//	job.RegisterDefinition(registry, SendEmail)
//	job.RegisterDefinition(registry, GenerateReport)
//
// The engine package provides higher-level engine.Register and
// engine.Enqueue wrappers.
package job
