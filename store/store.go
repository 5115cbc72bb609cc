package store

import (
	"context"

	"github.com/PyNishanth/taskq-system/job"
)

// Store is the aggregate persistence interface. A single backend
// implements the job operations plus its own schema and connection
// management.
type Store interface {
	job.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
