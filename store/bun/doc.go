// Package bunstore implements store.Store using the Bun ORM with
// PostgreSQL dialect. It speaks to the same taskq_jobs table as the
// pgx-based postgres backend, so the two are interchangeable against
// one database; pick this one when the application already carries a
// *bun.DB.
//
// The caller owns the *bun.DB lifecycle; bunstore never closes it.
// Pass the db handle through the constructor:
//
//	import (
//	    "github.com/uptrace/bun"
//	    "github.com/uptrace/bun/dialect/pgdialect"
//	    "github.com/uptrace/bun/driver/pgdriver"
//	    bunstore "github.com/PyNishanth/taskq-system/store/bun"
//	)
//
//	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
//	db := bun.NewDB(sqldb, pgdialect.New())
//	store := bunstore.New(db)
//	store.Migrate(ctx)
package bunstore
