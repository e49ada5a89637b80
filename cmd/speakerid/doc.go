// Package main hosts the speakerid CLI entrypoint and command graph.
//
// The Cobra-based command tree covers identity management, sample review,
// enrollment, validity checks, label assignment, the recording catalog,
// reports, legacy import, and configuration scaffolding. It centralizes
// configuration resolution, store and backend wiring, and output formatting
// (text tables, JSON, YAML) so subcommands can focus on user experience.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
