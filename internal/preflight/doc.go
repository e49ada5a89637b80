// Package preflight provides readiness checks for the filesystem paths,
// external binaries and services speakerid depends on.
//
// The CLI "speakerid doctor" command runs RunAll and prints each result.
// Checks for optional features are gated by their config toggle, so a
// disabled name detector is never probed.
package preflight
