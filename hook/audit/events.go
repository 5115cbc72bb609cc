package audit

// Audit event actions. Each constant corresponds to one lifecycle event
// and becomes the Action field of the audit record.
const (
	ActionJobEnqueued  = "job.enqueued"
	ActionJobStarted   = "job.started"
	ActionJobSucceeded = "job.succeeded"
	ActionJobRetrying  = "job.retrying"
	ActionJobDead      = "job.dead"
	ActionJobRequeued  = "job.requeued"
)

// ResourceJob is the resource type used in audit events.
const ResourceJob = "job"

// AllActions returns every action this hook can emit.
func AllActions() []string {
	return []string{
		ActionJobEnqueued,
		ActionJobStarted,
		ActionJobSucceeded,
		ActionJobRetrying,
		ActionJobDead,
		ActionJobRequeued,
	}
}
