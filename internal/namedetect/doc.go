// Package namedetect finds speaker names mentioned inside a transcript.
//
// The LLM-backed detector sends a truncated transcript sample plus the
// diarization labels to a chat completion endpoint and reads back, for each
// label, the name the conversation reveals. Responses are cached in a badger
// database keyed by the digest of provider, model, sample, and labels, so
// repeated assignment runs over the same transcript do not call the model
// again.
package namedetect
