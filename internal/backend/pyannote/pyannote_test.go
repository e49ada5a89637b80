package pyannote

import (
	"context"
	"errors"
	"math"
	"slices"
	"strings"
	"testing"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/backend"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/config"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/services"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/speaker"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.CacheDir = t.TempDir()
	cfg.Embedding.HFToken = "hf-test"
	return &cfg
}

func fixedRunner(stdout string, seen *[]string) Runner {
	return func(_ context.Context, binary string, args, env []string) ([]byte, []byte, error) {
		if seen != nil {
			*seen = append([]string{binary}, args...)
		}
		return []byte(stdout), nil, nil
	}
}

func TestEnrollEncodesVector(t *testing.T) {
	var seen []string
	b, err := New(testConfig(t), nil, WithRunner(fixedRunner(`{"embedding":[1,0,0]}`, &seen)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := b.Enroll(context.Background(), "/tmp/rec.wav", []speaker.Segment{{Start: 1, End: 2}})
	if err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	if res.ModelVersion != ModelVersion || !backend.IsCompatible(res.ModelVersion, Name) {
		t.Fatalf("unexpected model version %q", res.ModelVersion)
	}
	vector, err := DecodeVector(res.Handle)
	if err != nil {
		t.Fatalf("DecodeVector: %v", err)
	}
	if !slices.Equal(vector, []float64{1, 0, 0}) {
		t.Fatalf("unexpected vector %v", vector)
	}
	if seen[0] != "uvx" || !slices.Contains(seen, `[[1,2]]`) {
		t.Fatalf("unexpected command %v", seen)
	}
}

func TestIdentifyRanksBySimilarity(t *testing.T) {
	b, err := New(testConfig(t), nil, WithRunner(fixedRunner(`{"embedding":[1,0]}`, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	alice, _ := EncodeVector([]float64{1, 0})
	bob, _ := EncodeVector([]float64{1, 1})
	carol, _ := EncodeVector([]float64{0, 1})
	matches, err := b.Identify(context.Background(), "rec.wav", nil, []backend.Candidate{
		{SpeakerID: "bob", EmbeddingID: "e2", Handle: bob},
		{SpeakerID: "alice", EmbeddingID: "e1", Handle: alice},
		{SpeakerID: "carol", EmbeddingID: "e3", Handle: carol},
		{SpeakerID: "broken", EmbeddingID: "e4", Handle: []byte("nope")},
	}, 0.5)
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if len(matches) != 2 || matches[0].SpeakerID != "alice" || matches[1].SpeakerID != "bob" {
		t.Fatalf("unexpected matches %+v", matches)
	}
	if math.Abs(matches[1].Similarity-1/math.Sqrt2) > 1e-6 {
		t.Fatalf("unexpected bob similarity %v", matches[1].Similarity)
	}
}

func TestEmbedRequiresToken(t *testing.T) {
	cfg := testConfig(t)
	cfg.Embedding.HFToken = ""
	b, _ := New(cfg, nil, WithRunner(fixedRunner(`{}`, nil)))
	_, err := b.Enroll(context.Background(), "rec.wav", nil)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestEmbedReportsScriptError(t *testing.T) {
	runner := func(context.Context, string, []string, []string) ([]byte, []byte, error) {
		return nil, []byte("Traceback...\nGatedRepoError: 401"), errors.New("exit status 1")
	}
	b, _ := New(testConfig(t), nil, WithRunner(runner))
	_, err := b.Enroll(context.Background(), "rec.wav", nil)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	if !strings.Contains(err.Error(), "access denied") {
		t.Fatalf("expected gated model hint, got %v", err)
	}
}

func TestCosine(t *testing.T) {
	if got := Cosine([]float64{1, 2}, []float64{2, 4}); math.Abs(got-1) > 1e-9 {
		t.Fatalf("parallel vectors = %v", got)
	}
	if got := Cosine([]float64{1, 0}, []float64{-1, 0}); got != 0 {
		t.Fatalf("opposite vectors should clamp to 0, got %v", got)
	}
	if got := Cosine([]float64{1}, []float64{1, 2}); got != 0 {
		t.Fatalf("mismatched lengths should score 0, got %v", got)
	}
}
