// Package ledger records extracted enrollment clips and their review
// decisions.
//
// Samples are content-addressed: the clip digest is the key and never
// changes. Recording the same clip for the same segment twice is a no-op,
// while the same digest for a different segment is rejected. Review updates
// only the sample itself; embeddings pick the change up the next time the
// validity checker runs.
package ledger
