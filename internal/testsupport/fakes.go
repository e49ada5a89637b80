package testsupport

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/backend"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/config"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/speaker"
)

// FakeBackend is a deterministic embedding backend. Voices maps the first
// segment of a request (Segment.String()) to the speaker whose voice it holds;
// whole-file requests without segments are looked up by the file's base name.
// Enrolled handles carry the speaker id, so Identify can score candidates
// without any audio.
type FakeBackend struct {
	BackendName string
	Version     string
	Voices      map[string]string
	Match       float64
	Mismatch    float64
	// IdentifyErr, when set, is returned by Identify for the listed segments.
	IdentifyErr map[string]error

	mu       sync.Mutex
	Enrolled []string
}

// NewFakeBackend returns a fake with match 0.95 and mismatch 0.10.
func NewFakeBackend(name string) *FakeBackend {
	return &FakeBackend{
		BackendName: name,
		Version:     name + "-fake",
		Voices:      map[string]string{},
		Match:       0.95,
		Mismatch:    0.10,
	}
}

func (f *FakeBackend) Name() string { return f.BackendName }

func (f *FakeBackend) ModelVersion() string { return f.Version }

func (f *FakeBackend) AudioProfile() backend.AudioProfile { return backend.ProfileFor(f.BackendName) }

func (f *FakeBackend) Enroll(_ context.Context, audioPath string, segments []speaker.Segment) (backend.EnrollResult, error) {
	voice := f.voice(audioPath, segments)
	if voice == "" {
		return backend.EnrollResult{}, errors.New("fake backend: no voice for segments")
	}
	f.mu.Lock()
	f.Enrolled = append(f.Enrolled, voice)
	f.mu.Unlock()
	return backend.EnrollResult{Handle: []byte(voice), ModelVersion: f.Version}, nil
}

func (f *FakeBackend) Identify(ctx context.Context, audioPath string, segments []speaker.Segment, candidates []backend.Candidate, threshold float64) ([]backend.Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(segments) > 0 {
		if err := f.IdentifyErr[segments[0].String()]; err != nil {
			return nil, err
		}
	}
	voice := f.voice(audioPath, segments)
	var out []backend.Match
	for _, cand := range candidates {
		sim := f.Mismatch
		if voice != "" && string(cand.Handle) == voice {
			sim = f.Match
		}
		if sim < threshold {
			continue
		}
		out = append(out, backend.Match{SpeakerID: cand.SpeakerID, EmbeddingID: cand.EmbeddingID, Similarity: sim})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return out, nil
}

func (f *FakeBackend) voice(audioPath string, segments []speaker.Segment) string {
	if len(segments) == 0 {
		return f.Voices[filepath.Base(audioPath)]
	}
	return f.Voices[segments[0].String()]
}

// FakeRegistry returns a registry that opens fb under its name.
func FakeRegistry(fb *FakeBackend) *backend.Registry {
	reg := backend.NewRegistry()
	_ = reg.Register(fb.BackendName, func(*config.Config, *slog.Logger) (backend.Backend, error) { return fb, nil })
	return reg
}
