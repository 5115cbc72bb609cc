// Package postgres implements the store using pgx/v5 with raw SQL.
// Features: SKIP LOCKED claiming, lease-guarded completion reports,
// embedded SQL migrations.
package postgres
