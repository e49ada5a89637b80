package assign_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/assign"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/config"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/contenthash"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/namedetect"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/services"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/speaker"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/store"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/testsupport"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/trust"
)

const aliceAndBob = `{"utterances":[
	{"speaker":"A","start":0,"end":3000,"text":"Hi everyone, this is Alice."},
	{"speaker":"B","start":3500,"end":6000,"text":"Bob here, thanks for having me."}
]}`

type fixture struct {
	cfg       *config.Config
	store     *store.Store
	backend   *testsupport.FakeBackend
	recording string
	dir       string
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	st := testsupport.MustOpenStore(t, cfg)
	fb := testsupport.NewFakeBackend("fake")
	fb.Voices["0.00-3.00"] = "alice-voice"
	fb.Voices["3.50-6.00"] = "bob-voice"
	dir := t.TempDir()
	recording := testsupport.WriteRecording(t, filepath.Join(dir, "meeting.wav"), "meeting")
	return fixture{cfg: cfg, store: st, backend: fb, recording: recording, dir: dir}
}

func (f fixture) enroll(t *testing.T, level trust.Level) {
	t.Helper()
	testsupport.NewIdentity(t, f.store, "alice", "Alice")
	testsupport.NewIdentity(t, f.store, "bob", "Bob")
	testsupport.NewEmbedding(t, f.store, "alice", "fake", "alice-voice", level)
	testsupport.NewEmbedding(t, f.store, "bob", "fake", "bob-voice", level)
}

func (f fixture) transcript(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(f.dir, "transcript.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write transcript: %v", err)
	}
	return path
}

func (f fixture) resolver(t *testing.T, opts ...assign.Option) *assign.Resolver {
	t.Helper()
	r, err := assign.New(f.cfg, f.store, f.backend, opts...)
	if err != nil {
		t.Fatalf("assign.New: %v", err)
	}
	return r
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(data)
}

func TestResolveAliceAndBob(t *testing.T) {
	f := newFixture(t)
	f.enroll(t, trust.High)
	det := testsupport.NewFakeDetector(map[string]string{"A": "Alice", "B": "Bob"})
	r := f.resolver(t, assign.WithDetector(det))
	ctx := context.Background()
	req := assign.Request{RecordingPath: f.recording, TranscriptPath: f.transcript(t, aliceAndBob)}

	dry := req
	dry.DryRun = true
	preview, err := r.Resolve(ctx, dry)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if preview.Persisted {
		t.Fatal("dry run reported persisted")
	}
	digest := contenthash.Sum([]byte("RIFF-meeting"))
	if _, err := f.store.GetAssignment(ctx, digest); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("dry run wrote a record: %v", err)
	}

	res, err := r.Resolve(ctx, req)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	a := res.Assignment
	if a.RecordingDigest != digest || a.Method != assign.Method || a.Backend != "fake" {
		t.Fatalf("unexpected header %+v", a)
	}
	for label, want := range map[string]string{"A": "alice", "B": "bob"} {
		m := a.Mappings[label]
		if !m.Assigned() || *m.SpeakerID != want {
			t.Fatalf("label %s = %+v, want %s", label, m, want)
		}
		if m.Confidence != speaker.ConfidenceHigh {
			t.Fatalf("label %s confidence %s", label, m.Confidence)
		}
		if m.Score != 0.995 {
			t.Fatalf("label %s score %v", label, m.Score)
		}
		types := map[speaker.SignalType]bool{}
		for _, s := range m.Signals {
			types[s.Type] = true
			if s.Evidence == "" {
				t.Fatalf("signal without evidence: %+v", s)
			}
		}
		if !types[speaker.SignalEmbedding] || !types[speaker.SignalName] {
			t.Fatalf("label %s missing signal types: %+v", label, m.Signals)
		}
	}
	if mustJSON(t, preview.Assignment) != mustJSON(t, a) {
		t.Fatal("dry run and persisted run differ")
	}

	stored, err := f.store.GetAssignment(ctx, digest)
	if err != nil {
		t.Fatalf("GetAssignment: %v", err)
	}
	if mustJSON(t, stored.Assignment) != mustJSON(t, a) {
		t.Fatal("stored record differs from returned record")
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.enroll(t, trust.Medium)
	hasher := &testsupport.CountingHasher{}
	r := f.resolver(t,
		assign.WithDetector(testsupport.NewFakeDetector(map[string]string{"A": "Alice"})),
		assign.WithHasher(hasher),
	)
	ctx := context.Background()
	req := assign.Request{
		RecordingPath:    f.recording,
		TranscriptPath:   f.transcript(t, aliceAndBob),
		ExpectedSpeakers: []string{"bob", "alice"},
		Context:          "standup",
	}

	first, err := r.Resolve(ctx, req)
	if err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	second, err := r.Resolve(ctx, req)
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if mustJSON(t, first.Assignment) != mustJSON(t, second.Assignment) {
		t.Fatalf("records differ:\n%s\n%s", mustJSON(t, first.Assignment), mustJSON(t, second.Assignment))
	}
	if got := strings.Join(first.Assignment.ExpectedSpeakers, ","); got != "alice,bob" {
		t.Fatalf("expected speakers = %s", got)
	}
	if hasher.Files() != 2 {
		t.Fatalf("expected one recording hash per run, got %d", hasher.Files())
	}

	req.RecordingDigest = first.Assignment.RecordingDigest
	if _, err := r.Resolve(ctx, req); err != nil {
		t.Fatalf("Resolve with digest: %v", err)
	}
	if hasher.Files() != 2 {
		t.Fatalf("a known digest should skip hashing, got %d hashes", hasher.Files())
	}
}

func TestResolveCoversEveryLabel(t *testing.T) {
	f := newFixture(t)
	f.enroll(t, trust.High)
	f.backend.Mismatch = 0
	r := f.resolver(t)
	content := `{"utterances":[
		{"speaker":"A","start":0,"end":3000,"text":"one"},
		{"speaker":"B","start":3500,"end":6000,"text":"two"},
		{"speaker":"C","start":7000,"end":9000,"text":"three"}
	]}`
	res, err := r.Resolve(context.Background(), assign.Request{RecordingPath: f.recording, TranscriptPath: f.transcript(t, content)})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(res.Assignment.Mappings) != 3 {
		t.Fatalf("expected 3 mappings, got %d", len(res.Assignment.Mappings))
	}
	c := res.Assignment.Mappings["C"]
	if c.Assigned() || c.Confidence != speaker.ConfidenceUnassigned || c.Error != "" {
		t.Fatalf("unknown voice should be unassigned without error: %+v", c)
	}
	data := mustJSON(t, res.Assignment)
	if !strings.Contains(data, `"C":{"speaker_id":null`) {
		t.Fatalf("unassigned label not explicit: %s", data)
	}
}

func TestThresholdBoundary(t *testing.T) {
	for _, tc := range []struct {
		similarity float64
		assigned   bool
		score      float64
	}{
		{0.5, true, 0.5},
		{0.49, false, 0.49},
		{0.49996, false, 0.5},
	} {
		f := newFixture(t)
		f.enroll(t, trust.High)
		f.backend.Match = tc.similarity
		f.backend.Mismatch = 0
		r := f.resolver(t)
		threshold := 0.5
		res, err := r.Resolve(context.Background(), assign.Request{
			RecordingPath:  f.recording,
			TranscriptPath: f.transcript(t, aliceAndBob),
			Threshold:      &threshold,
			DryRun:         true,
		})
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		m := res.Assignment.Mappings["A"]
		if m.Assigned() != tc.assigned {
			t.Fatalf("similarity %v: assigned=%v, want %v", tc.similarity, m.Assigned(), tc.assigned)
		}
		if m.Score != tc.score {
			t.Fatalf("similarity %v: recorded score %v, want %v", tc.similarity, m.Score, tc.score)
		}
		if tc.assigned && m.Confidence != speaker.ConfidenceLow {
			t.Fatalf("expected low tier at threshold, got %s", m.Confidence)
		}
	}
}

func TestAllSourcesFailed(t *testing.T) {
	f := newFixture(t)
	f.enroll(t, trust.High)
	f.backend.IdentifyErr = map[string]error{"0.00-3.00": errors.New("backend unavailable")}
	det := &testsupport.FakeDetector{Err: errors.New("llm unavailable")}
	r := f.resolver(t, assign.WithDetector(det))

	res, err := r.Resolve(context.Background(), assign.Request{RecordingPath: f.recording, TranscriptPath: f.transcript(t, aliceAndBob)})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	a := res.Assignment.Mappings["A"]
	if a.Assigned() || !strings.HasPrefix(a.Error, "all signal sources failed") {
		t.Fatalf("expected error note for A: %+v", a)
	}
	b := res.Assignment.Mappings["B"]
	if !b.Assigned() || *b.SpeakerID != "bob" || b.Error != "" {
		t.Fatalf("B should resolve from voice alone: %+v", b)
	}
}

func TestSetupErrors(t *testing.T) {
	f := newFixture(t)
	r := f.resolver(t)
	ctx := context.Background()

	_, err := r.Resolve(ctx, assign.Request{RecordingPath: f.recording, TranscriptPath: f.transcript(t, `{"utterances":[]}`)})
	if !errors.Is(err, assign.ErrNoSpeakers) || !services.IsSetupError(err) {
		t.Fatalf("expected ErrNoSpeakers, got %v", err)
	}

	testsupport.NewIdentity(t, f.store, "alice", "Alice")
	_, err = r.Resolve(ctx, assign.Request{RecordingPath: f.recording, TranscriptPath: f.transcript(t, aliceAndBob)})
	if !errors.Is(err, assign.ErrNoEnrolledIdentities) || !services.IsSetupError(err) {
		t.Fatalf("expected ErrNoEnrolledIdentities, got %v", err)
	}
}

func TestMinTrustGatesButStillSucceeds(t *testing.T) {
	f := newFixture(t)
	f.enroll(t, trust.Low)
	r := f.resolver(t)
	floor := trust.High
	res, err := r.Resolve(context.Background(), assign.Request{
		RecordingPath:  f.recording,
		TranscriptPath: f.transcript(t, aliceAndBob),
		MinTrust:       &floor,
		DryRun:         true,
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	for label, m := range res.Assignment.Mappings {
		if m.Assigned() {
			t.Fatalf("label %s assigned from low-trust embedding", label)
		}
	}
	if res.Assignment.MinTrust != "high" {
		t.Fatalf("min trust = %s", res.Assignment.MinTrust)
	}
}

func TestProgressCallback(t *testing.T) {
	f := newFixture(t)
	f.enroll(t, trust.High)
	var seen []string
	r := f.resolver(t, assign.WithProgress(func(label string, _ speaker.Mapping) { seen = append(seen, label) }))
	if _, err := r.Resolve(context.Background(), assign.Request{
		RecordingPath:  f.recording,
		TranscriptPath: f.transcript(t, aliceAndBob),
		DryRun:         true,
	}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if strings.Join(seen, ",") != "A,B" {
		t.Fatalf("progress order %v", seen)
	}
}

var _ namedetect.Detector = (*testsupport.FakeDetector)(nil)
