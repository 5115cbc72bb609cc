// Package mongo implements store.Store on the official MongoDB driver.
// Jobs live in a single taskq_jobs collection; claims ride on
// FindOneAndUpdate, which is atomic per document, so concurrent workers
// never receive the same job. Outcome reports are guarded updates whose
// filter re-checks the lease, keeping stale workers out without
// multi-document transactions.
//
//	client, _ := mongodriver.Connect(options.Client().ApplyURI(uri))
//	s := mongo.New(client.Database("taskq"))
//	if err := s.Migrate(ctx); err != nil { ... }
package mongo
