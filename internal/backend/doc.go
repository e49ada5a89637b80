// Package backend defines the embedding backend contract consumed by
// enrollment and assignment, the name-to-factory registry used to select an
// implementation, embedding compatibility checks, and the audio profiles each
// backend expects its input in.
package backend
