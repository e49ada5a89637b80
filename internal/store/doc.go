// Package store persists speaker identities, samples, embedding records, and
// assignments in SQLite.
//
// Every record is a JSON document carrying its own schema_version, stored
// next to a revision counter. Updates are compare-and-swap on that revision,
// so writers to different keys never contend and a stale writer to the same
// key gets ErrConflict instead of silently overwriting. Documents that fail to
// decode are reported per key by the List methods and skipped.
//
// The database schema is versioned in schema.go; bump schemaVersion when
// schema.sql changes.
package store
