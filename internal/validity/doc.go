// Package validity reconciles the trust level cached on each embedding record
// with the current review state of the samples behind it.
//
// The sample ledger is the source of truth. Check re-buckets every sample
// digest by its current review status, recomputes trust and persists any
// drift. An embedding that becomes invalidated is reported so automation can
// gate on it.
package validity
