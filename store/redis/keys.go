package redis

// Redis key naming conventions for job data.
// All keys are prefixed with "taskq:" to avoid collisions.

const keyPrefix = "taskq:"

// jobKey returns the key for a job hash: taskq:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// eligibleKey returns the Sorted Set of claimable job IDs for a queue,
// scored by next_run_at in unix milliseconds: taskq:eligible:{queue}.
// Ties sort lexically by member; job IDs are K-sortable, so equal
// scores fall back to creation order.
func eligibleKey(queue string) string { return keyPrefix + "eligible:" + queue }

// runningKey is the Sorted Set of running job IDs scored by lease
// expiry in unix milliseconds. The score doubles as the authoritative
// numeric expiry for ownership checks inside the scripts.
const runningKey = keyPrefix + "running"

// jobsByCreatedKey is the Sorted Set of all job IDs scored by creation
// time in unix milliseconds, used for listing and retention sweeps.
const jobsByCreatedKey = keyPrefix + "jobs"

// queuesKey is the Set of queue names that have ever held a job, used
// when a claim is not restricted to specific queues.
const queuesKey = keyPrefix + "queues"
