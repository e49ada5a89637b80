package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/contenthash"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/logging"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/services"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/speaker"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/store"
)

const reviewAttempts = 3

// Ledger records samples and review decisions.
type Ledger struct {
	store  *store.Store
	clips  *ClipStore
	hasher contenthash.Hasher
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithHasher overrides the content hasher.
func WithHasher(h contenthash.Hasher) Option {
	return func(l *Ledger) {
		if h != nil {
			l.hasher = h
		}
	}
}

// WithLogger sets the ledger logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logging.NewComponentLogger(logger, "ledger")
	}
}

// WithClock overrides the time source used for creation and review stamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// New constructs a ledger over st that keeps clip audio in clips.
func New(st *store.Store, clips *ClipStore, opts ...Option) *Ledger {
	l := &Ledger{
		store:  st,
		clips:  clips,
		hasher: contenthash.BLAKE3{},
		logger: logging.NewComponentLogger(nil, "ledger"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Clips exposes the clip store backing the ledger.
func (l *Ledger) Clips() *ClipStore {
	return l.clips
}

// RecordRequest describes a freshly extracted clip.
type RecordRequest struct {
	SpeakerID       string
	RecordingDigest string
	Segment         speaker.Segment
	Clip            []byte
	Label           string
	Text            string
}

// RecordSample hashes the clip, writes it and creates a pending sample.
// Recording the same digest for the same segment returns the existing sample.
func (l *Ledger) RecordSample(ctx context.Context, req RecordRequest) (*speaker.Sample, error) {
	speakerID := strings.TrimSpace(req.SpeakerID)
	if speakerID == "" {
		return nil, services.Wrap(services.ErrValidation, "ledger", "record", "speaker id is required", nil)
	}
	if !req.Segment.Valid() {
		return nil, services.Wrap(services.ErrValidation, "ledger", "record",
			fmt.Sprintf("invalid segment %s", req.Segment), nil)
	}
	if len(req.Clip) == 0 {
		return nil, services.Wrap(services.ErrValidation, "ledger", "record", "clip is empty", nil)
	}
	if _, err := l.store.GetIdentity(ctx, speakerID); err != nil {
		return nil, err
	}

	digest := l.hasher.Sum(req.Clip)
	if existing, err := l.existing(ctx, speakerID, digest, req.Segment); existing != nil || err != nil {
		return existing, err
	}

	clipPath, err := l.clips.Write(ctx, speakerID, digest, req.Clip)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "ledger", "write clip", digest, err)
	}

	sample := &speaker.Sample{
		SpeakerID:             speakerID,
		Digest:                digest,
		SourceRecordingDigest: req.RecordingDigest,
		Segment:               req.Segment,
		Label:                 req.Label,
		Text:                  req.Text,
		ClipPath:              clipPath,
		Review:                speaker.Review{Status: speaker.ReviewPending},
		CreatedAt:             l.now().UTC(),
	}
	if err := l.store.InsertSample(ctx, sample); err != nil {
		if errors.Is(err, store.ErrExists) {
			// A concurrent writer recorded the same digest first.
			existing, lookupErr := l.existing(ctx, speakerID, digest, req.Segment)
			if existing != nil || lookupErr != nil {
				return existing, lookupErr
			}
		}
		return nil, err
	}
	l.logger.Debug("sample recorded",
		logging.String("speaker", speakerID),
		logging.String("digest", digest),
		logging.String("segment", req.Segment.String()),
	)
	return sample, nil
}

func (l *Ledger) existing(ctx context.Context, speakerID, digest string, segment speaker.Segment) (*speaker.Sample, error) {
	sample, err := l.store.GetSample(ctx, speakerID, digest)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !sample.Segment.Equal(segment) {
		return nil, &DuplicateSampleError{
			SpeakerID: speakerID,
			Digest:    digest,
			Existing:  sample.Segment,
			Requested: segment,
		}
	}
	return sample, nil
}

// ReviewSample overwrites the review decision of a sample. It never touches
// embedding records.
func (l *Ledger) ReviewSample(ctx context.Context, speakerID, digest string, decision speaker.ReviewStatus, notes string) (*speaker.Sample, error) {
	if decision != speaker.ReviewReviewed && decision != speaker.ReviewRejected {
		return nil, services.Wrap(services.ErrValidation, "ledger", "review",
			fmt.Sprintf("decision must be reviewed or rejected, got %q", decision), nil)
	}

	var lastErr error
	for attempt := 0; attempt < reviewAttempts; attempt++ {
		sample, err := l.store.GetSample(ctx, speakerID, digest)
		if err != nil {
			if errors.Is(err, services.ErrNotFound) {
				return nil, &SampleNotFoundError{SpeakerID: speakerID, Digest: digest}
			}
			return nil, err
		}
		reviewedAt := l.now().UTC()
		sample.Review = speaker.Review{
			Status:     decision,
			ReviewedAt: &reviewedAt,
			Notes:      strings.TrimSpace(notes),
		}
		err = l.store.UpdateSample(ctx, sample)
		if err == nil {
			l.logger.Info("sample reviewed",
				logging.String("speaker", speakerID),
				logging.String("digest", digest),
				logging.String("decision", string(decision)),
			)
			return sample, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// Samples lists a speaker's samples, optionally filtered by review status.
func (l *Ledger) Samples(ctx context.Context, speakerID string, status speaker.ReviewStatus) ([]speaker.Sample, []store.CorruptRecord, error) {
	return l.store.ListSamples(ctx, store.SampleFilter{SpeakerID: speakerID, Status: status})
}

// Statuses returns the current review status of every sample of a speaker,
// keyed by digest.
func (l *Ledger) Statuses(ctx context.Context, speakerID string) (map[string]speaker.ReviewStatus, error) {
	samples, _, err := l.store.ListSamples(ctx, store.SampleFilter{SpeakerID: speakerID})
	if err != nil {
		return nil, err
	}
	out := make(map[string]speaker.ReviewStatus, len(samples))
	for _, s := range samples {
		out[s.Digest] = s.Review.Status
	}
	return out, nil
}
