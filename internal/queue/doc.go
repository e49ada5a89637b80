// Package queue persists the batch processing queue: recordings waiting to
// be catalogued and assigned, keyed by content digest so re-queueing a file
// never duplicates work.
//
// The queue lives in its own SQLite file next to the speaker database.
// Schema changes ship as numbered files under migrations/ and are applied
// once each, in order, when the store opens.
package queue
