// Package signals gathers identity evidence for every label of a transcript.
//
// Three sources contribute: voice similarity from the embedding backend
// (limited to embeddings whose trust meets a floor), names the name detector
// finds in the conversation, and the expected speaker list from the
// recording's context. The context source only reinforces candidates the
// other two surfaced. Each label runs under its own timeout and a failing
// source is recorded against the label instead of aborting the recording.
package signals
