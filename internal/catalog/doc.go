// Package catalog tracks recordings by content digest.
//
// Each recording is one YAML document under the catalog directory holding
// its path, context (name, tags, expected speakers), and the transcripts
// registered for it. Recordings are resolved by path, full digest, or a
// digest prefix of at least four characters.
package catalog
