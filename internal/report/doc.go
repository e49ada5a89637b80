// Package report summarizes the catalog, the identity store, and stored
// assignments for operators: low-confidence and stale assignments, overall
// status with recommendations, coverage per context, and per-speaker
// enrollment health.
package report
