// Package enroll turns labelled speech in a recording into a stored
// embedding record backed by ledger samples.
package enroll

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/backend"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/contenthash"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/ledger"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/logging"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/services"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/speaker"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/store"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/transcript"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/trust"
)

// Clipper cuts one segment of a recording into the backend's audio format.
type Clipper interface {
	Clip(ctx context.Context, src string, seg speaker.Segment, profile backend.AudioProfile) ([]byte, error)
}

// Request names the speech to enroll.
type Request struct {
	SpeakerID      string
	RecordingPath  string
	TranscriptPath string
	// Transcript skips loading TranscriptPath when set.
	Transcript *transcript.Transcript
	Label      string
	// MaxSegments limits how many merged segments are used. Zero uses all.
	MaxSegments int
}

// Result reports what enrollment stored.
type Result struct {
	Embedding *speaker.EmbeddingRecord
	Samples   []speaker.Sample
	// Superseded lists older embeddings of the speaker that gave up samples
	// to the new record. Removed ones lost every sample and were deleted.
	Superseded []Superseded
}

// Superseded describes an older embedding trimmed by a re-enrollment.
type Superseded struct {
	EmbeddingID string      `json:"embedding_id"`
	Moved       int         `json:"moved"`
	Trust       trust.Level `json:"trust"`
	Removed     bool        `json:"removed"`
}

// Enroller runs enrollments.
type Enroller struct {
	store   *store.Store
	ledger  *ledger.Ledger
	backend backend.Backend
	clipper Clipper
	hasher  contenthash.Hasher
	now     func() time.Time
	newID   func() string
	logger  *slog.Logger
}

// Option customizes an Enroller.
type Option func(*Enroller)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Enroller) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Enroller) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator overrides embedding id generation.
func WithIDGenerator(fn func() string) Option {
	return func(e *Enroller) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// New returns an Enroller.
func New(st *store.Store, l *ledger.Ledger, b backend.Backend, clipper Clipper, opts ...Option) *Enroller {
	e := &Enroller{
		store:   st,
		ledger:  l,
		backend: b,
		clipper: clipper,
		hasher:  contenthash.BLAKE3{},
		now:     time.Now,
		newID:   func() string { return "emb-" + uuid.NewString() },
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.NewComponentLogger(e.logger, "enroll")
	return e
}

// Enroll extracts a clip per merged segment of the label, records each clip
// in the ledger, builds a fingerprint, and stores an embedding record whose
// partition reflects the clips' current review status.
func (e *Enroller) Enroll(ctx context.Context, req Request) (*Result, error) {
	if _, err := e.store.GetIdentity(ctx, req.SpeakerID); err != nil {
		return nil, err
	}
	tr := req.Transcript
	if tr == nil {
		var err error
		if tr, err = transcript.Load(req.TranscriptPath); err != nil {
			return nil, err
		}
	}
	label := strings.TrimSpace(req.Label)
	utterances := tr.Segments(label)
	if len(utterances) == 0 {
		return nil, services.Wrap(services.ErrValidation, "enroll", "segments",
			fmt.Sprintf("label %q has no usable segments (labels: %s)", label, strings.Join(tr.Speakers(), ", ")), nil)
	}
	if req.MaxSegments > 0 && len(utterances) > req.MaxSegments {
		utterances = utterances[:req.MaxSegments]
	}
	recordingDigest, err := e.hasher.SumFile(req.RecordingPath)
	if err != nil {
		return nil, services.Wrap(services.ErrNotFound, "enroll", "hash recording", req.RecordingPath, err)
	}
	ctx = services.WithRecording(ctx, recordingDigest)
	ctx = services.WithLabel(ctx, label)
	logger := logging.WithContext(ctx, e.logger)

	profile := e.backend.AudioProfile()
	segments := make([]speaker.Segment, 0, len(utterances))
	samples := make([]speaker.Sample, 0, len(utterances))
	for _, u := range utterances {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seg := u.Segment()
		clip, err := e.clipper.Clip(ctx, req.RecordingPath, seg, profile)
		if err != nil {
			return nil, err
		}
		sample, err := e.ledger.RecordSample(ctx, ledger.RecordRequest{
			SpeakerID:       req.SpeakerID,
			RecordingDigest: recordingDigest,
			Segment:         seg,
			Clip:            clip,
			Label:           label,
			Text:            u.Text,
		})
		if err != nil {
			return nil, err
		}
		segments = append(segments, seg)
		samples = append(samples, *sample)
	}

	fingerprint, err := e.backend.Enroll(ctx, req.RecordingPath, segments)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "enroll", "backend enroll", e.backend.Name(), err)
	}

	statuses, err := e.ledger.Statuses(ctx, req.SpeakerID)
	if err != nil {
		return nil, err
	}
	partition := speaker.Partition{}
	for _, s := range samples {
		status, ok := statuses[s.Digest]
		if !ok {
			status = s.Review.Status
		}
		partition.Set(s.Digest, speaker.BucketFor(status))
	}
	record := &speaker.EmbeddingRecord{
		ID:                    e.newID(),
		SpeakerID:             req.SpeakerID,
		Backend:               e.backend.Name(),
		Handle:                fingerprint.Handle,
		ModelVersion:          fingerprint.ModelVersion,
		SourceRecordingDigest: recordingDigest,
		Segments:              segments,
		Samples:               partition,
		TrustLevel:            partition.Trust(),
		CreatedAt:             e.now().UTC(),
	}
	if err := e.store.InsertEmbedding(ctx, record); err != nil {
		return nil, err
	}
	superseded, err := e.releaseSamples(ctx, record, statuses)
	if err != nil {
		return nil, err
	}
	if warning := backend.CompatibilityWarning(record.ModelVersion, record.Backend); warning != "" {
		logging.WarnWithContext(logger, warning, "embedding_incompatible",
			logging.String("embedding_id", record.ID),
			logging.String(logging.FieldImpact, "similarity scores may be unreliable"),
		)
	}
	logger.Info("speaker enrolled",
		logging.String("speaker_id", req.SpeakerID),
		logging.String("embedding_id", record.ID),
		logging.String("backend", record.Backend),
		logging.Int("samples", len(samples)),
		logging.String("trust", record.TrustLevel.String()),
	)
	return &Result{Embedding: record, Samples: samples, Superseded: superseded}, nil
}

// releaseSamples removes the new record's digests from every other embedding
// of the speaker so a sample belongs to at most one embedding. The samples an
// older record keeps are re-bucketed by current review status before its
// trust is recomputed; records left without samples are deleted.
func (e *Enroller) releaseSamples(ctx context.Context, record *speaker.EmbeddingRecord, statuses map[string]speaker.ReviewStatus) ([]Superseded, error) {
	existing, _, err := e.store.ListEmbeddings(ctx, store.EmbeddingFilter{SpeakerID: record.SpeakerID})
	if err != nil {
		return nil, err
	}
	owned := map[string]bool{}
	for _, digest := range record.Samples.All() {
		owned[digest] = true
	}
	var out []Superseded
	for i := range existing {
		old := &existing[i]
		if old.ID == record.ID {
			continue
		}
		kept := speaker.Partition{}
		moved := 0
		for digest, bucket := range old.Samples {
			if owned[digest] {
				moved++
				continue
			}
			if status, ok := statuses[digest]; ok {
				bucket = speaker.BucketFor(status)
			}
			kept.Set(digest, bucket)
		}
		if moved == 0 {
			continue
		}
		entry := Superseded{EmbeddingID: old.ID, Moved: moved}
		if len(kept.All()) == 0 {
			if _, err := e.store.DeleteEmbedding(ctx, old.ID); err != nil {
				return nil, err
			}
			entry.Removed = true
			entry.Trust = trust.Unknown
		} else {
			old.Samples = kept
			old.TrustLevel = kept.Trust()
			if err := e.store.UpdateEmbedding(ctx, old); err != nil {
				return nil, err
			}
			entry.Trust = old.TrustLevel
		}
		e.logger.Info("embedding superseded",
			logging.String("embedding_id", old.ID),
			logging.String("replaced_by", record.ID),
			logging.Int("moved", moved),
			logging.Bool("removed", entry.Removed),
		)
		out = append(out, entry)
	}
	return out, nil
}
