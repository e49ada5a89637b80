// Package config loads, normalizes, and validates speakerid configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// SPEAKERS_EMBEDDINGS_DIR, OPENROUTER_API_KEY and HF_TOKEN. Directories that
// are not configured explicitly are derived from the data directory so the
// speaker database, catalog, sample clips, and caches live side by side.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
