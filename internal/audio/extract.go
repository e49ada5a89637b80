package audio

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/backend"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/config"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/services"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/speaker"
)

// Tools runs ffmpeg and ffprobe.
type Tools struct {
	ffmpeg  string
	ffprobe string
	run     Runner
}

// Option configures Tools.
type Option func(*Tools)

// WithRunner overrides command execution.
func WithRunner(r Runner) Option {
	return func(t *Tools) {
		if r != nil {
			t.run = r
		}
	}
}

// New builds Tools from the configured ffmpeg binary. ffprobe is expected
// beside it.
func New(cfg *config.Config, opts ...Option) *Tools {
	ffmpeg := cfg.FFmpegBinary()
	ffprobe := "ffprobe"
	if dir := filepath.Dir(ffmpeg); dir != "." {
		ffprobe = filepath.Join(dir, "ffprobe")
	}
	t := &Tools{ffmpeg: ffmpeg, ffprobe: ffprobe, run: execRunner}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ClipArgs builds the ffmpeg arguments that cut seg out of src and write it to
// stdout in the profile's format. Bit-exact flags keep the output stable so
// re-extracting the same span yields the same digest.
func ClipArgs(src string, seg speaker.Segment, profile backend.AudioProfile) []string {
	duration := seg.Duration()
	if profile.MaxDurationSec > 0 {
		duration = math.Min(duration, profile.MaxDurationSec)
	}
	args := []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-ss", formatSeconds(seg.Start),
		"-t", formatSeconds(duration),
		"-i", src,
		"-vn",
		"-fflags", "+bitexact",
		"-flags:a", "+bitexact",
		"-map_metadata", "-1",
	}
	args = append(args, profile.FFmpegArgs()...)
	return append(args, "pipe:1")
}

// Clip extracts one span and returns the encoded audio.
func (t *Tools) Clip(ctx context.Context, src string, seg speaker.Segment, profile backend.AudioProfile) ([]byte, error) {
	if !seg.Valid() {
		return nil, services.Wrap(services.ErrValidation, "audio", "clip", fmt.Sprintf("invalid segment %s", seg), nil)
	}
	stdout, stderr, err := t.run(ctx, t.ffmpeg, ClipArgs(src, seg, profile))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, services.Wrap(services.ErrTimeout, "audio", "clip", "extraction interrupted", ctxErr)
		}
		return nil, services.Wrap(services.ErrExternalTool, "audio", "clip",
			fmt.Sprintf("ffmpeg %s: %s", seg, strings.TrimSpace(string(stderr))), err)
	}
	if len(stdout) == 0 {
		return nil, services.Wrap(services.ErrExternalTool, "audio", "clip", fmt.Sprintf("ffmpeg produced no audio for %s", seg), nil)
	}
	return stdout, nil
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
