package namedetect_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/namedetect"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/services"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/services/llm"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/testsupport"
)

const sample = "[A] Welcome back, this is Alice.\n[B] Thanks Alice, happy to be here.\n"

type stubCompleter struct {
	content string
	err     error
	calls   atomic.Int32
	prompts []string
}

func (s *stubCompleter) CompleteJSON(_ context.Context, _, user string) (string, error) {
	s.calls.Add(1)
	s.prompts = append(s.prompts, user)
	return s.content, s.err
}

func TestDetectNormalizesResponse(t *testing.T) {
	stub := &stubCompleter{content: "```json\n" + `{
		"detections": [
			{"speaker_label": "A", "detected_name": "Alice", "confidence": 0.95, "evidence": ["this is Alice"]},
			{"speaker_label": "B", "detected_name": null, "confidence": 0.2, "evidence": []},
			{"speaker_label": "Z", "detected_name": "Zed", "confidence": "high"}
		],
		"notes": "B is not named"
	}` + "\n```"}
	det := namedetect.NewLLMDetector(stub)

	got, err := det.Detect(context.Background(), sample, []string{"A", "B"})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected only A detected, got %v", got)
	}
	a := got["A"]
	if a.Name != "Alice" || a.Confidence != namedetect.ConfidenceHigh {
		t.Fatalf("unexpected detection %+v", a)
	}
	if len(a.Evidence) != 1 || a.Evidence[0] != "this is Alice" {
		t.Fatalf("unexpected evidence %v", a.Evidence)
	}
	if !strings.Contains(stub.prompts[0], "Speaker labels: A, B") {
		t.Fatalf("labels missing from prompt: %q", stub.prompts[0])
	}
}

func TestDetectSkipsModelWithoutLabels(t *testing.T) {
	stub := &stubCompleter{content: `{"detections":[]}`}
	det := namedetect.NewLLMDetector(stub)
	got, err := det.Detect(context.Background(), sample, nil)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(got) != 0 || stub.calls.Load() != 0 {
		t.Fatalf("expected no call, got %d calls and %v", stub.calls.Load(), got)
	}
}

func TestDetectWrapsCompleterFailure(t *testing.T) {
	stub := &stubCompleter{err: errors.New("boom")}
	det := namedetect.NewLLMDetector(stub)
	_, err := det.Detect(context.Background(), sample, []string{"A"})
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
}

func TestDetectRejectsGarbage(t *testing.T) {
	stub := &stubCompleter{content: "I could not find any names."}
	det := namedetect.NewLLMDetector(stub)
	if _, err := det.Detect(context.Background(), sample, []string{"A"}); err == nil {
		t.Fatal("expected decode failure")
	}
}

func TestDetectUsesCache(t *testing.T) {
	cache, err := namedetect.OpenMemoryCache(nil)
	if err != nil {
		t.Fatalf("OpenMemoryCache: %v", err)
	}
	defer cache.Close()

	stub := &stubCompleter{content: `{"detections":[{"speaker_label":"A","detected_name":"Alice","confidence":"medium","evidence":["hi Alice"]}]}`}
	det := namedetect.NewLLMDetector(stub, namedetect.WithCache(cache), namedetect.WithModel("openrouter", "demo"))

	for range 2 {
		got, err := det.Detect(context.Background(), sample, []string{"B", "A"})
		if err != nil {
			t.Fatalf("Detect: %v", err)
		}
		if got["A"].Confidence != namedetect.ConfidenceMedium {
			t.Fatalf("unexpected result %v", got)
		}
	}
	if stub.calls.Load() != 1 {
		t.Fatalf("expected one model call, got %d", stub.calls.Load())
	}
	if n, err := cache.Len(); err != nil || n != 1 {
		t.Fatalf("expected one cache entry, got %d (%v)", n, err)
	}

	// Label order does not change the key.
	if det.CacheKey(sample, []string{"A", "B"}) != det.CacheKey(sample, []string{"B", "A"}) {
		t.Fatal("cache key depends on label order")
	}
	other := namedetect.NewLLMDetector(stub, namedetect.WithModel("openrouter", "other"))
	if other.CacheKey(sample, []string{"A"}) == det.CacheKey(sample, []string{"A"}) {
		t.Fatal("cache key ignores model")
	}

	if err := cache.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n, _ := cache.Len(); n != 0 {
		t.Fatalf("expected empty cache, got %d", n)
	}
	if _, err := det.Detect(context.Background(), sample, []string{"A", "B"}); err != nil {
		t.Fatalf("Detect after clear: %v", err)
	}
	if stub.calls.Load() != 2 {
		t.Fatalf("expected a fresh model call after clear, got %d", stub.calls.Load())
	}
}

func TestCacheSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	cache, err := namedetect.OpenCache(dir, nil)
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	want := map[string]namedetect.Detection{
		"A": {Label: "A", Name: "Alice", Confidence: namedetect.ConfidenceHigh},
	}
	if err := cache.Put("key", want); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := cache.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	cache, err = namedetect.OpenCache(dir, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer cache.Close()
	got, ok, err := cache.Get("key")
	if err != nil || !ok {
		t.Fatalf("Get after reopen: ok=%v err=%v", ok, err)
	}
	if got["A"].Name != "Alice" {
		t.Fatalf("unexpected detections %v", got)
	}
	if _, err := namedetect.OpenCache("", nil); err == nil {
		t.Fatal("expected an empty directory to be rejected")
	}
}

func TestParseConfidence(t *testing.T) {
	cases := map[string]namedetect.Confidence{
		"high":  namedetect.ConfidenceHigh,
		"HIGH":  namedetect.ConfidenceHigh,
		"low":   namedetect.ConfidenceLow,
		"0.9":   namedetect.ConfidenceHigh,
		"0.7":   namedetect.ConfidenceMedium,
		"0.3":   namedetect.ConfidenceLow,
		"0":     namedetect.ConfidenceNone,
		"maybe": namedetect.ConfidenceNone,
	}
	for input, want := range cases {
		if got := namedetect.ParseConfidence(input); got != want {
			t.Fatalf("ParseConfidence(%q) = %s, want %s", input, got, want)
		}
	}
}

func TestOpenDetectsThroughHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		content := `{"detections":[{"speaker_label":"A","detected_name":"Alice","confidence":0.9,"evidence":["this is Alice"]}]}`
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": content}}},
		})
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithLLMKey("test"), testsupport.WithLLMBaseURL(server.URL))
	det, err := namedetect.Open(cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer det.Close()

	got, err := det.Detect(context.Background(), sample, []string{"A", "B"})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if got["A"].Name != "Alice" {
		t.Fatalf("unexpected detections %v", got)
	}
}

func TestOpenRequiresKey(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	_, err := namedetect.Open(cfg, nil)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

var _ llm.Completer = (*stubCompleter)(nil)
