// Package process drives recordings through the batch pipeline: catalogue
// the audio, find its transcript, then resolve speaker assignments.
//
// Transcripts come from the catalog registration when one exists, otherwise
// from a sidecar next to the audio file (<name>.<provider>.json before
// <name>.json), which is then registered. Speech-to-text itself is out of
// scope; a recording without any transcript fails with a validation error.
//
// Runner works the persistent queue item by item, recording each outcome
// on the item so a failed recording never stops the batch.
package process
