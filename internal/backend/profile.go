package backend

import (
	"strconv"
	"strings"
)

// AudioProfile describes the audio format a backend expects.
type AudioProfile struct {
	Name       string
	SampleRate int
	Channels   int
	Format     string
	BitDepth   int
	// MaxDurationSec limits clip length. Zero means unlimited.
	MaxDurationSec float64
}

// DefaultProfile is 16 kHz mono 16-bit WAV.
func DefaultProfile() AudioProfile {
	return AudioProfile{Name: "default", SampleRate: 16000, Channels: 1, Format: "wav", BitDepth: 16}
}

// ProfileFor returns the profile registered for a backend name, or the
// default profile for unknown names.
func ProfileFor(name string) AudioProfile {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "speechmatics":
		p := DefaultProfile()
		p.Name = "speechmatics"
		return p
	case "pyannote":
		p := DefaultProfile()
		p.Name = "pyannote"
		return p
	default:
		return DefaultProfile()
	}
}

// FFmpegArgs returns the ffmpeg output options that convert audio to the
// profile, without input or output paths.
func (p AudioProfile) FFmpegArgs() []string {
	args := []string{
		"-ar", strconv.Itoa(p.SampleRate),
		"-ac", strconv.Itoa(p.Channels),
		"-f", p.Format,
	}
	if p.Format == "wav" {
		switch p.BitDepth {
		case 16:
			args = append(args, "-acodec", "pcm_s16le")
		case 24:
			args = append(args, "-acodec", "pcm_s24le")
		case 32:
			args = append(args, "-acodec", "pcm_s32le")
		case 8:
			args = append(args, "-acodec", "pcm_u8")
		}
	}
	return args
}
