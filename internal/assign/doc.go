// Package assign resolves transcript speaker labels to enrolled identities.
//
// The resolver collects signals for every label, scores each candidate
// identity, and writes one assignment record per recording keyed by the
// recording's content digest. Voice similarity and name mentions combine as
// independent evidence (noisy-OR); an expected-speaker prior adds a bounded
// lift that never carries a candidate past an independently stronger one.
// Records contain no wall-clock data, so identical inputs produce identical
// bytes.
package assign
