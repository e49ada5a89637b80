package enroll_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/audio"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/enroll"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/ledger"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/services"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/speaker"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/store"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/testsupport"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/trust"
)

const meeting = `{"utterances":[
	{"speaker":"A","start":0,"end":3000,"text":"Hi, this is Alice."},
	{"speaker":"B","start":3500,"end":6000,"text":"Bob here."},
	{"speaker":"A","start":9000,"end":12000,"text":"Let's start."}
]}`

// fakeFFmpeg returns the -ss argument as clip bytes so each span has its own digest.
func fakeFFmpeg(_ context.Context, _ string, args []string) ([]byte, []byte, error) {
	i := slices.Index(args, "-ss")
	return []byte("clip@" + args[i+1]), nil, nil
}

type fixture struct {
	enroller   *enroll.Enroller
	store      *store.Store
	ledger     *ledger.Ledger
	backend    *testsupport.FakeBackend
	recording  string
	transcript string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	testsupport.NewIdentity(t, st, "alice", "Alice")

	dir := t.TempDir()
	recording := filepath.Join(dir, "meeting.wav")
	transcriptPath := filepath.Join(dir, "meeting.json")
	if err := os.WriteFile(recording, []byte("RIFF"), 0o644); err != nil {
		t.Fatalf("write recording: %v", err)
	}
	if err := os.WriteFile(transcriptPath, []byte(meeting), 0o644); err != nil {
		t.Fatalf("write transcript: %v", err)
	}

	fb := testsupport.NewFakeBackend("fake")
	fb.Voices["0.00-3.00"] = "alice-voice"
	l := ledger.New(st, ledger.NewClipStore(cfg.Paths.SamplesDir))
	tools := audio.New(cfg, audio.WithRunner(fakeFFmpeg))
	n := 0
	e := enroll.New(st, l, fb, tools, enroll.WithIDGenerator(func() string {
		n++
		return "emb-" + string(rune('0'+n))
	}))
	return fixture{enroller: e, store: st, ledger: l, backend: fb, recording: recording, transcript: transcriptPath}
}

func TestEnrollBuildsLowTrustEmbedding(t *testing.T) {
	f := newFixture(t)
	res, err := f.enroller.Enroll(context.Background(), enroll.Request{
		SpeakerID:      "alice",
		RecordingPath:  f.recording,
		TranscriptPath: f.transcript,
		Label:          "A",
	})
	if err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	emb := res.Embedding
	if emb.ID != "emb-1" || emb.Backend != "fake" || emb.ModelVersion != "fake-fake" {
		t.Fatalf("unexpected record %+v", emb)
	}
	if string(emb.Handle) != "alice-voice" {
		t.Fatalf("handle = %q", emb.Handle)
	}
	if len(res.Samples) != 2 || len(emb.Segments) != 2 {
		t.Fatalf("expected two segments, got %d samples", len(res.Samples))
	}
	if emb.TrustLevel != trust.Low {
		t.Fatalf("pending samples should give low trust, got %s", emb.TrustLevel)
	}
	if got := len(emb.Samples.Digests(speaker.BucketUnreviewed)); got != 2 {
		t.Fatalf("expected 2 unreviewed digests, got %d", got)
	}
	if res.Samples[0].Text != "Hi, this is Alice." || res.Samples[0].Label != "A" {
		t.Fatalf("sample metadata not recorded: %+v", res.Samples[0])
	}
}

func TestEnrollUsesCurrentReviewStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := enroll.Request{SpeakerID: "alice", RecordingPath: f.recording, TranscriptPath: f.transcript, Label: "A"}
	first, err := f.enroller.Enroll(ctx, req)
	if err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	for _, s := range first.Samples {
		if _, err := f.ledger.ReviewSample(ctx, "alice", s.Digest, speaker.ReviewReviewed, "ok"); err != nil {
			t.Fatalf("ReviewSample: %v", err)
		}
	}
	second, err := f.enroller.Enroll(ctx, req)
	if err != nil {
		t.Fatalf("re-Enroll: %v", err)
	}
	if second.Embedding.TrustLevel != trust.High {
		t.Fatalf("reviewed samples should give high trust, got %s", second.Embedding.TrustLevel)
	}
	if first.Embedding.ID == second.Embedding.ID {
		t.Fatal("re-enrollment reused the embedding id")
	}
}

func assertDisjointSamples(t *testing.T, st *store.Store, speakerID string) []speaker.EmbeddingRecord {
	t.Helper()
	records, _, err := st.ListEmbeddings(context.Background(), store.EmbeddingFilter{SpeakerID: speakerID})
	if err != nil {
		t.Fatalf("ListEmbeddings: %v", err)
	}
	owner := map[string]string{}
	for _, rec := range records {
		for _, digest := range rec.Samples.All() {
			if prev, ok := owner[digest]; ok {
				t.Fatalf("sample %s held by both %s and %s", digest, prev, rec.ID)
			}
			owner[digest] = rec.ID
		}
	}
	return records
}

func TestReEnrollMovesSharedSamples(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := enroll.Request{SpeakerID: "alice", RecordingPath: f.recording, TranscriptPath: f.transcript, Label: "A"}
	if _, err := f.enroller.Enroll(ctx, req); err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	second, err := f.enroller.Enroll(ctx, req)
	if err != nil {
		t.Fatalf("re-Enroll: %v", err)
	}
	if len(second.Superseded) != 1 || !second.Superseded[0].Removed || second.Superseded[0].Moved != 2 {
		t.Fatalf("unexpected superseded report %+v", second.Superseded)
	}
	records := assertDisjointSamples(t, f.store, "alice")
	if len(records) != 1 || records[0].ID != "emb-2" {
		t.Fatalf("expected only emb-2 to remain, got %d records", len(records))
	}
	if _, err := f.store.GetEmbedding(ctx, "emb-1"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("emb-1 should be gone, got %v", err)
	}
}

func TestReEnrollKeepsUnsharedSamples(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.enroller.Enroll(ctx, enroll.Request{SpeakerID: "alice", RecordingPath: f.recording, TranscriptPath: f.transcript, Label: "A"})
	if err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	if _, err := f.ledger.ReviewSample(ctx, "alice", first.Samples[1].Digest, speaker.ReviewReviewed, "ok"); err != nil {
		t.Fatalf("ReviewSample: %v", err)
	}
	second, err := f.enroller.Enroll(ctx, enroll.Request{
		SpeakerID: "alice", RecordingPath: f.recording, TranscriptPath: f.transcript, Label: "A", MaxSegments: 1,
	})
	if err != nil {
		t.Fatalf("re-Enroll: %v", err)
	}
	if len(second.Superseded) != 1 || second.Superseded[0].Removed {
		t.Fatalf("unexpected superseded report %+v", second.Superseded)
	}
	assertDisjointSamples(t, f.store, "alice")
	older, err := f.store.GetEmbedding(ctx, first.Embedding.ID)
	if err != nil {
		t.Fatalf("GetEmbedding: %v", err)
	}
	if got := older.Samples.All(); len(got) != 1 || got[0] != first.Samples[1].Digest {
		t.Fatalf("older record should keep only the second sample, got %v", got)
	}
	if older.TrustLevel != trust.High || second.Superseded[0].Trust != trust.High {
		t.Fatalf("trust not recomputed for the trimmed record: %s", older.TrustLevel)
	}
}

func TestEnrollMaxSegments(t *testing.T) {
	f := newFixture(t)
	res, err := f.enroller.Enroll(context.Background(), enroll.Request{
		SpeakerID: "alice", RecordingPath: f.recording, TranscriptPath: f.transcript, Label: "A", MaxSegments: 1,
	})
	if err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	if len(res.Samples) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(res.Samples))
	}
}

func TestEnrollErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.enroller.Enroll(ctx, enroll.Request{SpeakerID: "alice", RecordingPath: f.recording, TranscriptPath: f.transcript, Label: "Z"})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("unknown label: expected validation error, got %v", err)
	}
	_, err = f.enroller.Enroll(ctx, enroll.Request{SpeakerID: "nobody", RecordingPath: f.recording, TranscriptPath: f.transcript, Label: "A"})
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("unknown speaker: expected not found, got %v", err)
	}
	// The fake backend has no voice for B's first span.
	_, err = f.enroller.Enroll(ctx, enroll.Request{SpeakerID: "alice", RecordingPath: f.recording, TranscriptPath: f.transcript, Label: "B"})
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("backend failure: expected external tool error, got %v", err)
	}
}
