// Package sqlite implements store.Store on database/sql with the
// mattn/go-sqlite3 driver. Suitable for embedded/edge deployments, CLI
// tools, and standalone applications.
//
// Open configures the connection the way the store expects (WAL,
// busy timeout, BEGIN IMMEDIATE transactions):
//
//	import "github.com/PyNishanth/taskq-system/store/sqlite"
//
//	st, _ := sqlite.Open("data/taskq.db")
//	st.Migrate(ctx)
//	defer st.Close()
//
// New wraps an existing *sql.DB instead; the caller then owns the
// handle lifecycle.
package sqlite
