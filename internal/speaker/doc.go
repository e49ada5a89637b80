// Package speaker defines the tagged record types shared by the identity
// store, the sample ledger, the validity checker, and the assignment
// resolver: Identity, Sample, EmbeddingRecord with its sample Partition, and
// the per-recording Assignment.
//
// Each persisted type carries an explicit schema version. Older documents are
// upgraded by the schema package before they are decoded into these types.
package speaker
