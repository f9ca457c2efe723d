package pgcdc

import "embed"

// MigrationFiles contains the SQL migration for the default queue table,
// embedded in the binary. Users who manage schema with a migration tool
// (goose, golang-migrate, atlas, etc.) can apply it from here instead of
// relying on the repository's idempotent EnsureSchema.
//
// Example with goose:
//
//	goose.SetBaseFS(pgcdc.MigrationFiles)
//	if err := goose.Up(db, "migrations"); err != nil {
//	    log.Fatal(err)
//	}
//
// The migration targets the default names (public.pg_pubsub_queue);
// installations that rename the queue table should let EnsureSchema create
// it instead.
//
//go:embed migrations/*.sql
var MigrationFiles embed.FS
