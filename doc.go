// Package taskq provides a durable background job queue for Go. Jobs are
// persisted before they run, claimed under short-lived leases, retried with
// exponential backoff, and parked in a dead letter queue once their attempt
// budget is spent.
//
// Taskq is designed as a library, not a service. Import it, configure a
// store, and register job handlers as ordinary Go functions. A worker pool
// in any process (including a separate one) claims and executes jobs; a
// crash never loses a job, only delays it until its lease expires and it is
// reclaimed.
//
// # Quick Start
//
//	d, err := taskq.New(
//	    taskq.WithStore(sqliteStore),
//	    taskq.WithConcurrency(4),
//	)
//
// Wire the dispatcher with engine.Build, which attaches the worker pool,
// the middleware stack, and the handler registry.
//
// # Architecture
//
// The job store interface captures every lifecycle transition as a single
// atomic operation: claiming increments the attempt counter and takes the
// lease in one step, and reporting a failure applies the retry policy in
// the same step that releases the lease. Backends exist for memory, SQLite,
// Postgres (pgx and bun), Redis, and MongoDB.
//
// All entity IDs use TypeID, type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package taskq
