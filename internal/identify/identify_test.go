package identify_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/config"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/identify"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/services"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/speaker"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/store"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/testsupport"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/trust"
)

type fixture struct {
	cfg       *config.Config
	store     *store.Store
	backend   *testsupport.FakeBackend
	recording string
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	st := testsupport.MustOpenStore(t, cfg)
	fb := testsupport.NewFakeBackend("fake")
	fb.Voices["meeting.wav"] = "alice-voice"
	recording := testsupport.WriteRecording(t, filepath.Join(testsupport.BaseDir(cfg), "meeting.wav"), "meeting")
	return fixture{cfg: cfg, store: st, backend: fb, recording: recording}
}

func (f fixture) enroll(t *testing.T) {
	t.Helper()
	testsupport.NewIdentity(t, f.store, "alice", "Alice Smith")
	testsupport.NewIdentity(t, f.store, "bob", "Bob")
	testsupport.NewEmbedding(t, f.store, "alice", "fake", "alice-voice", trust.High)
	testsupport.NewEmbedding(t, f.store, "bob", "fake", "bob-voice", trust.Medium)
}

func (f fixture) matcher(t *testing.T, opts ...identify.Option) *identify.Matcher {
	t.Helper()
	m, err := identify.New(f.cfg, f.store, f.backend, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestIdentifyRanksSpeakers(t *testing.T) {
	f := newFixture(t)
	f.enroll(t)

	res, err := f.matcher(t).Identify(context.Background(), f.recording, nil)
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if len(res.Matches) != 2 {
		t.Fatalf("expected 2 matches, got %+v", res.Matches)
	}
	if res.Best == nil || res.Best.SpeakerID != "alice" || res.Best.Name != "Alice Smith" {
		t.Fatalf("expected alice as best match, got %+v", res.Best)
	}
	if res.Best.Confidence != speaker.ConfidenceHigh {
		t.Fatalf("expected high confidence, got %s", res.Best.Confidence)
	}
	if res.Matches[1].SpeakerID != "bob" || res.Matches[1].Confidence != speaker.ConfidenceUnassigned {
		t.Fatalf("unexpected runner-up %+v", res.Matches[1])
	}
}

func TestIdentifyBelowThresholdHasNoBest(t *testing.T) {
	f := newFixture(t, testsupport.WithThreshold(0.97))
	f.enroll(t)

	res, err := f.matcher(t).Identify(context.Background(), f.recording, nil)
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if res.Best != nil {
		t.Fatalf("expected no best match above 0.97, got %+v", res.Best)
	}
	if res.Threshold != 0.97 {
		t.Fatalf("expected threshold 0.97, got %v", res.Threshold)
	}
}

func TestIdentifyEmptyDatabase(t *testing.T) {
	f := newFixture(t)

	_, err := f.matcher(t).Identify(context.Background(), f.recording, nil)
	if !errors.Is(err, identify.ErrNoSpeakers) {
		t.Fatalf("expected ErrNoSpeakers, got %v", err)
	}
	if err.Error() != "validation error: No speakers to match against" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestIdentifyMissingAudio(t *testing.T) {
	f := newFixture(t)
	f.enroll(t)

	_, err := f.matcher(t).Identify(context.Background(), filepath.Join(t.TempDir(), "gone.wav"), nil)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIdentifyRespectsTrustFloor(t *testing.T) {
	f := newFixture(t)
	testsupport.NewIdentity(t, f.store, "alice", "Alice Smith")
	testsupport.NewEmbedding(t, f.store, "alice", "fake", "alice-voice", trust.Low)

	_, err := f.matcher(t, identify.WithMinTrust(trust.Medium)).Identify(context.Background(), f.recording, nil)
	if !errors.Is(err, identify.ErrNoEmbeddings) {
		t.Fatalf("expected ErrNoEmbeddings, got %v", err)
	}

	res, err := f.matcher(t).Identify(context.Background(), f.recording, nil)
	if err != nil {
		t.Fatalf("Identify with default floor: %v", err)
	}
	if res.Best == nil || res.Best.SpeakerID != "alice" {
		t.Fatalf("expected low-trust alice to match, got %+v", res.Best)
	}
}

func TestVerify(t *testing.T) {
	f := newFixture(t)
	f.enroll(t)
	m := f.matcher(t, identify.WithThreshold(0.5))

	v, err := m.Verify(context.Background(), "alice", f.recording, nil)
	if err != nil {
		t.Fatalf("Verify alice: %v", err)
	}
	if !v.Verified || v.Similarity != 0.95 || v.EmbeddingID != "emb-alice-fake" {
		t.Fatalf("expected alice verified, got %+v", v)
	}

	v, err = m.Verify(context.Background(), "bob", f.recording, nil)
	if err != nil {
		t.Fatalf("Verify bob: %v", err)
	}
	if v.Verified || v.Confidence != speaker.ConfidenceUnassigned {
		t.Fatalf("expected bob rejected, got %+v", v)
	}
}

func TestVerifyUnknownSpeaker(t *testing.T) {
	f := newFixture(t)
	f.enroll(t)

	_, err := f.matcher(t).Verify(context.Background(), "carol", f.recording, nil)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestVerifyWithoutEmbeddings(t *testing.T) {
	f := newFixture(t)
	testsupport.NewIdentity(t, f.store, "carol", "Carol")

	_, err := f.matcher(t).Verify(context.Background(), "carol", f.recording, nil)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
