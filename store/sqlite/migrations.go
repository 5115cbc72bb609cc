package sqlite

// migrations holds one schema script per version. Migrate applies the
// scripts above PRAGMA user_version in order; never reorder or edit a
// shipped entry, append a new one.
var migrations = []string{
	// 001: jobs table and claim/sweep indexes.
	`CREATE TABLE IF NOT EXISTS taskq_jobs (
		id              TEXT PRIMARY KEY,
		name            TEXT NOT NULL,
		queue           TEXT NOT NULL DEFAULT 'default',
		payload         BLOB,
		state           TEXT NOT NULL DEFAULT 'queued',
		attempt_count   INTEGER NOT NULL DEFAULT 0,
		max_attempts    INTEGER NOT NULL DEFAULT 3,
		next_run_at     TIMESTAMP NOT NULL,
		timeout         INTEGER NOT NULL DEFAULT 0,
		last_error      TEXT NOT NULL DEFAULT '',
		locked_by       TEXT,
		lock_expiry     TIMESTAMP,
		created_at      TIMESTAMP NOT NULL,
		updated_at      TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_taskq_jobs_claim
		ON taskq_jobs (queue, next_run_at ASC, created_at ASC)
		WHERE state IN ('queued', 'retrying');

	CREATE INDEX IF NOT EXISTS idx_taskq_jobs_lease
		ON taskq_jobs (lock_expiry)
		WHERE state = 'running';

	CREATE INDEX IF NOT EXISTS idx_taskq_jobs_state
		ON taskq_jobs (state, updated_at);`,
}
