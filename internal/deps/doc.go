// Package deps reports whether the external binaries speakerid shells out to
// (ffmpeg for clip extraction, uvx for the local embedding model) can be
// executed.
package deps
