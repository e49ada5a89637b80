// Package legacy imports speaker profiles and sample metadata written by the
// earlier file-based tool set: db/<speaker>.json profiles and
// samples/<speaker>/<sample>.meta.yaml sidecars with their clip audio.
//
// Every document is upgraded through the schema chains before it is stored.
// Documents from a future version, or ones that fail to decode, are reported
// and skipped; the rest of the import continues.
package legacy
