// Package audio wraps ffmpeg and ffprobe for the two things enrollment needs
// from a recording: its duration and audio stream count, and clip extraction
// in the format a backend's audio profile asks for.
package audio
