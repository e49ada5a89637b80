package signals_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/backend"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/namedetect"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/signals"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/speaker"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/testsupport"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/transcript"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/trust"
)

const twoSpeakers = `{"utterances":[
	{"speaker":"A","start":0,"end":3000,"text":"Hi, this is Alice."},
	{"speaker":"B","start":3500,"end":6000,"text":"Bob here."},
	{"speaker":"A","start":8000,"end":10000,"text":"Let's begin."}
]}`

type fixture struct {
	backend  *testsupport.FakeBackend
	profiles []speaker.Profile
	tr       *transcript.Transcript
}

func newFixture(t *testing.T, aliceTrust, bobTrust trust.Level) fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	fb := testsupport.NewFakeBackend("fake")
	fb.Voices["0.00-3.00"] = "alice-voice"
	fb.Voices["3.50-6.00"] = "bob-voice"

	testsupport.NewIdentity(t, st, "alice", "Alice Smith")
	testsupport.NewIdentity(t, st, "bob", "Bob")
	testsupport.NewEmbedding(t, st, "alice", "fake", "alice-voice", aliceTrust)
	testsupport.NewEmbedding(t, st, "bob", "fake", "bob-voice", bobTrust)

	var profiles []speaker.Profile
	for _, id := range []string{"alice", "bob"} {
		p, _, err := st.Profile(context.Background(), id)
		if err != nil {
			t.Fatalf("Profile(%s): %v", id, err)
		}
		profiles = append(profiles, *p)
	}
	tr, err := transcript.Parse([]byte(twoSpeakers))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return fixture{backend: fb, profiles: profiles, tr: tr}
}

func (f fixture) input() signals.Input {
	return signals.Input{RecordingDigest: "rec", AudioPath: "/audio.wav", Transcript: f.tr, Profiles: f.profiles}
}

func best(ls *signals.LabelSignals, typ speaker.SignalType) (speaker.Signal, bool) {
	var out speaker.Signal
	found := false
	for _, s := range ls.Signals {
		if s.Type == typ && (!found || s.Score > out.Score) {
			out, found = s, true
		}
	}
	return out, found
}

func TestCollectEmbeddingAndNames(t *testing.T) {
	f := newFixture(t, trust.High, trust.High)
	det := testsupport.NewFakeDetector(map[string]string{"A": "Alice", "B": "Bob"})
	col := signals.New(f.backend, signals.WithDetector(det))

	got, err := col.Collect(context.Background(), f.input())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected two labels, got %d", len(got))
	}
	emb, ok := best(got["A"], speaker.SignalEmbedding)
	if !ok || emb.SpeakerID != "alice" || emb.Score != 0.95 {
		t.Fatalf("unexpected embedding signal %+v", emb)
	}
	if !strings.Contains(emb.Evidence, "similarity 0.9500") {
		t.Fatalf("evidence missing similarity: %q", emb.Evidence)
	}
	// "Alice" matches the first word of "Alice Smith".
	name, ok := best(got["A"], speaker.SignalName)
	if !ok || name.SpeakerID != "alice" || name.Score != 0.90 {
		t.Fatalf("unexpected name signal %+v", name)
	}
	name, ok = best(got["B"], speaker.SignalName)
	if !ok || name.SpeakerID != "bob" {
		t.Fatalf("unexpected name signal for B %+v", name)
	}
	if det.Calls.Load() != 1 {
		t.Fatalf("expected one detector call per recording, got %d", det.Calls.Load())
	}
}

func TestCollectHonorsMinTrust(t *testing.T) {
	f := newFixture(t, trust.Low, trust.High)
	col := signals.New(f.backend, signals.WithMinTrust(trust.Medium))

	cands := col.Candidates(f.profiles)
	if len(cands) != 1 || cands[0].SpeakerID != "bob" {
		t.Fatalf("expected only bob to vote, got %+v", cands)
	}
	got, err := col.Collect(context.Background(), f.input())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, s := range got["A"].Signals {
		if s.SpeakerID == "alice" {
			t.Fatalf("low trust embedding voted: %+v", s)
		}
	}
}

func TestInvalidatedNeverVotes(t *testing.T) {
	f := newFixture(t, trust.Invalidated, trust.High)
	col := signals.New(f.backend, signals.WithMinTrust(trust.Unknown))
	for _, c := range col.Candidates(f.profiles) {
		if c.SpeakerID == "alice" {
			t.Fatal("invalidated embedding offered as candidate")
		}
	}
}

func TestContextPriorNeverIntroducesCandidates(t *testing.T) {
	f := newFixture(t, trust.High, trust.High)
	f.backend.Mismatch = 0
	col := signals.New(f.backend)
	in := f.input()
	in.ExpectedSpeakers = []string{"alice", "Carol"}
	in.Context = "standup"

	got, err := col.Collect(context.Background(), in)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	ctxSig, ok := best(got["A"], speaker.SignalContext)
	if !ok || ctxSig.SpeakerID != "alice" || !strings.Contains(ctxSig.Evidence, `"standup"`) {
		t.Fatalf("expected context prior for alice, got %+v", got["A"].Signals)
	}
	// Only bob surfaced for B and bob is not expected.
	for _, s := range got["B"].Signals {
		if s.Type == speaker.SignalContext {
			t.Fatalf("unexpected context prior for B: %+v", s)
		}
	}
}

func TestCollectRecordsFailuresPerLabel(t *testing.T) {
	f := newFixture(t, trust.High, trust.High)
	f.backend.IdentifyErr = map[string]error{"0.00-3.00": errors.New("backend exploded")}
	det := &testsupport.FakeDetector{Err: errors.New("llm down")}
	col := signals.New(f.backend, signals.WithDetector(det))

	got, err := col.Collect(context.Background(), f.input())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	a := got["A"]
	if !a.AllSourcesFailed() {
		t.Fatalf("expected every source to fail for A: %+v", a)
	}
	if note := a.FailureNote(); !strings.Contains(note, "backend exploded") || !strings.Contains(note, "llm down") {
		t.Fatalf("unexpected failure note %q", note)
	}
	b := got["B"]
	if b.AllSourcesFailed() {
		t.Fatal("B still has voice evidence")
	}
	if _, ok := best(b, speaker.SignalEmbedding); !ok {
		t.Fatal("expected embedding signal for B")
	}
}

type slowBackend struct {
	*testsupport.FakeBackend
}

func (s slowBackend) Identify(ctx context.Context, audio string, segs []speaker.Segment, cands []backend.Candidate, th float64) ([]backend.Match, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestLabelTimeoutIsPerLabel(t *testing.T) {
	f := newFixture(t, trust.High, trust.High)
	col := signals.New(slowBackend{f.backend}, signals.WithLabelTimeout(20*time.Millisecond))

	got, err := col.Collect(context.Background(), f.input())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for label, ls := range got {
		if !ls.AllSourcesFailed() {
			t.Fatalf("label %s should have timed out", label)
		}
		if !strings.Contains(ls.FailureNote(), "timed out") {
			t.Fatalf("unexpected note %q", ls.FailureNote())
		}
	}
}

func TestCollectStopsOnCancel(t *testing.T) {
	f := newFixture(t, trust.High, trust.High)
	col := signals.New(f.backend)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := col.Collect(ctx, f.input()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestNameWeight(t *testing.T) {
	cases := map[namedetect.Confidence]float64{
		namedetect.ConfidenceHigh:   0.90,
		namedetect.ConfidenceMedium: 0.70,
		namedetect.ConfidenceLow:    0.50,
		namedetect.ConfidenceNone:   0,
	}
	for conf, want := range cases {
		if got := signals.NameWeight(conf); got != want {
			t.Fatalf("NameWeight(%s) = %v, want %v", conf, got, want)
		}
	}
}
