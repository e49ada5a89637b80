package ledger_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/contenthash"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/ledger"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/services"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/speaker"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/testsupport"
)

const recordingDigest = "0123456789abcdef0123456789abcdef"

func newLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	testsupport.NewIdentity(t, st, "alice", "Alice")
	clock := func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return ledger.New(st, ledger.NewClipStore(cfg.Paths.SamplesDir), ledger.WithClock(clock))
}

func TestRecordSampleWritesClipAndPendingSample(t *testing.T) {
	l := newLedger(t)
	clip := []byte("clip-one")
	sample, err := l.RecordSample(context.Background(), ledger.RecordRequest{
		SpeakerID:       "alice",
		RecordingDigest: recordingDigest,
		Segment:         speaker.Segment{Start: 1, End: 3.5},
		Clip:            clip,
	})
	if err != nil {
		t.Fatalf("RecordSample: %v", err)
	}
	if sample.Digest != contenthash.Sum(clip) {
		t.Fatalf("digest = %s, want %s", sample.Digest, contenthash.Sum(clip))
	}
	if sample.Review.Status != speaker.ReviewPending || sample.Review.ReviewedAt != nil {
		t.Fatalf("expected pending review, got %+v", sample.Review)
	}
	data, err := os.ReadFile(sample.ClipPath)
	if err != nil {
		t.Fatalf("read clip: %v", err)
	}
	if string(data) != string(clip) {
		t.Fatalf("clip content mismatch: %q", data)
	}
}

func TestRecordSameSegmentIsIdempotent(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	req := ledger.RecordRequest{
		SpeakerID:       "alice",
		RecordingDigest: recordingDigest,
		Segment:         speaker.Segment{Start: 1, End: 2},
		Clip:            []byte("same"),
	}
	first, err := l.RecordSample(ctx, req)
	if err != nil {
		t.Fatalf("first RecordSample: %v", err)
	}
	second, err := l.RecordSample(ctx, req)
	if err != nil {
		t.Fatalf("second RecordSample: %v", err)
	}
	if first.Digest != second.Digest || !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("expected existing sample back, got %+v", second)
	}
}

func TestRecordSameDigestDifferentSegmentFails(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	req := ledger.RecordRequest{
		SpeakerID: "alice",
		Segment:   speaker.Segment{Start: 1, End: 2},
		Clip:      []byte("same"),
	}
	if _, err := l.RecordSample(ctx, req); err != nil {
		t.Fatalf("RecordSample: %v", err)
	}
	req.Segment = speaker.Segment{Start: 10, End: 11}
	_, err := l.RecordSample(ctx, req)
	var dup *ledger.DuplicateSampleError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateSampleError, got %v", err)
	}
	if !services.IsSetupError(err) {
		t.Fatal("expected duplicate sample to be a setup error")
	}
}

func TestRecordSampleRejectsUnknownSpeaker(t *testing.T) {
	l := newLedger(t)
	_, err := l.RecordSample(context.Background(), ledger.RecordRequest{
		SpeakerID: "nobody",
		Segment:   speaker.Segment{Start: 0, End: 1},
		Clip:      []byte("x"),
	})
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReviewSampleLastDecisionWins(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	sample, err := l.RecordSample(ctx, ledger.RecordRequest{
		SpeakerID: "alice",
		Segment:   speaker.Segment{Start: 0, End: 2},
		Clip:      []byte("review-me"),
	})
	if err != nil {
		t.Fatalf("RecordSample: %v", err)
	}

	if _, err := l.ReviewSample(ctx, "alice", sample.Digest, speaker.ReviewReviewed, "sounds right"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	updated, err := l.ReviewSample(ctx, "alice", sample.Digest, speaker.ReviewRejected, "actually bob")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if updated.Review.Status != speaker.ReviewRejected || updated.Review.Notes != "actually bob" {
		t.Fatalf("unexpected review: %+v", updated.Review)
	}
	if updated.Review.ReviewedAt == nil {
		t.Fatal("expected review timestamp")
	}

	statuses, err := l.Statuses(ctx, "alice")
	if err != nil {
		t.Fatalf("Statuses: %v", err)
	}
	if statuses[sample.Digest] != speaker.ReviewRejected {
		t.Fatalf("expected rejected status, got %v", statuses)
	}
}

func TestReviewUnknownSampleFails(t *testing.T) {
	l := newLedger(t)
	_, err := l.ReviewSample(context.Background(), "alice", "ffffffffffffffffffffffffffffffff", speaker.ReviewReviewed, "")
	var notFound *ledger.SampleNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected SampleNotFoundError, got %v", err)
	}
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatal("expected SampleNotFoundError to wrap ErrNotFound")
	}
}

func TestReviewRejectsPendingDecision(t *testing.T) {
	l := newLedger(t)
	if _, err := l.ReviewSample(context.Background(), "alice", "abc", speaker.ReviewPending, ""); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRecordSampleUsesInjectedHasher(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	testsupport.NewIdentity(t, st, "alice", "Alice")
	hasher := &testsupport.CountingHasher{}
	l := ledger.New(st, ledger.NewClipStore(cfg.Paths.SamplesDir), ledger.WithHasher(hasher))

	if _, err := l.RecordSample(context.Background(), ledger.RecordRequest{
		SpeakerID:       "alice",
		RecordingDigest: recordingDigest,
		Segment:         speaker.Segment{Start: 0, End: 2},
		Clip:            []byte("clip-hashed"),
	}); err != nil {
		t.Fatalf("RecordSample: %v", err)
	}
	if hasher.Sums() != 1 {
		t.Fatalf("expected the injected hasher to hash the clip once, got %d", hasher.Sums())
	}
}
