// Package logging assembles structured slog loggers and formatting helpers used
// across speakerid.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so resolver code can tag log
// lines with correlation IDs, recording digests, and diarization labels. A
// no-op logger is provided for tests and wiring code that cannot fail.
package logging
