// Package services defines shared utilities consumed by the resolver, the
// enrollment pipeline, and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp correlation identifiers, recording digests,
//     and diarization labels for logging.
//   - Structured error markers plus the Wrap helper that let callers tell
//     setup problems apart from retryable failures.
package services
