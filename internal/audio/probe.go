package audio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ProbeResult represents the parsed output from an ffprobe inspection.
type ProbeResult struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
}

// Stream describes a single stream in the media container.
type Stream struct {
	Index      int    `json:"index"`
	CodecName  string `json:"codec_name"`
	CodecType  string `json:"codec_type"`
	SampleRate string `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// Format captures container-level metadata extracted by ffprobe.
type Format struct {
	Filename   string `json:"filename"`
	Duration   string `json:"duration"`
	FormatName string `json:"format_name"`
}

// AudioStreamCount returns the number of audio streams discovered.
func (r ProbeResult) AudioStreamCount() int {
	count := 0
	for _, stream := range r.Streams {
		if strings.EqualFold(stream.CodecType, "audio") {
			count++
		}
	}
	return count
}

// DurationSeconds returns the container duration in seconds, 0 when
// unavailable and NaN when unparseable.
func (r ProbeResult) DurationSeconds() float64 {
	cleaned := strings.TrimSpace(r.Format.Duration)
	if cleaned == "" {
		return 0
	}
	if parsed, err := strconv.ParseFloat(cleaned, 64); err == nil {
		return parsed
	}
	return math.NaN()
}

// Probe executes ffprobe against path and decodes the JSON response.
func (t *Tools) Probe(ctx context.Context, path string) (ProbeResult, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return ProbeResult{}, errors.New("ffprobe inspect: empty path")
	}
	stdout, stderr, err := t.run(ctx, t.ffprobe,
		[]string{"-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path})
	if err != nil {
		return ProbeResult{}, fmt.Errorf("ffprobe inspect: %w: %s", err, strings.TrimSpace(string(stderr)))
	}
	var result ProbeResult
	if err := json.Unmarshal(stdout, &result); err != nil {
		return ProbeResult{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	return result, nil
}
