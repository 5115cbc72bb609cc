// Package dlq provides operator access to the dead letter queue.
//
// The DLQ is not a separate table: it is the set of jobs in
// [job.StateDead], reached when a job spends its whole attempt budget.
// The [Service] is a thin view over the job store for listing, requeueing,
// and purging dead jobs. It holds no state of its own, so every invariant
// of the job lifecycle applies unchanged.
package dlq
