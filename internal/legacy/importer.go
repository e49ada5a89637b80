package legacy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/contenthash"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/fileutil"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/ledger"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/logging"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/schema"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/services"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/speaker"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/store"
)

const metaSuffix = ".meta.yaml"

type profileDoc struct {
	ID         string                    `json:"id"`
	Name       string                    `json:"name"`
	Names      map[string]string         `json:"names"`
	Tags       []string                  `json:"tags"`
	Metadata   map[string]any            `json:"metadata"`
	Embeddings map[string][]embeddingDoc `json:"embeddings"`
	CreatedAt  string                    `json:"created_at"`
}

type embeddingDoc struct {
	ID               string   `json:"id"`
	ExternalID       string   `json:"external_id"`
	ModelVersion     string   `json:"model_version"`
	SourceAudioB3sum string   `json:"source_audio_b3sum"`
	Samples          *buckets `json:"samples"`
	TrustLevel       string   `json:"trust_level"`
	CreatedAt        string   `json:"created_at"`
}

type buckets struct {
	Reviewed   []string `json:"reviewed"`
	Unreviewed []string `json:"unreviewed"`
	Rejected   []string `json:"rejected"`
}

type sampleDoc struct {
	SampleID string  `json:"sample_id"`
	B3sum    *string `json:"b3sum"`
	Source   struct {
		AudioB3sum   *string `json:"audio_b3sum"`
		SpeakerLabel string  `json:"speaker_label"`
	} `json:"source"`
	Segment struct {
		StartSec float64 `json:"start_sec"`
		EndSec   float64 `json:"end_sec"`
	} `json:"segment"`
	Review struct {
		Status     string  `json:"status"`
		ReviewedAt *string `json:"reviewed_at"`
		Notes      *string `json:"notes"`
	} `json:"review"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
}

// Skipped is a legacy file that was not imported.
type Skipped struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Report summarizes an import.
type Report struct {
	Identities int       `json:"identities"`
	Embeddings int       `json:"embeddings"`
	Samples    int       `json:"samples"`
	Migrated   int       `json:"migrated"`
	Existing   int       `json:"existing"`
	Skipped    []Skipped `json:"skipped"`
}

func (r *Report) skip(path string, err error) {
	r.Skipped = append(r.Skipped, Skipped{Path: path, Reason: err.Error()})
}

// Importer writes legacy documents into the store.
type Importer struct {
	store  *store.Store
	clips  *ledger.ClipStore
	logger *slog.Logger
	now    func() time.Time
}

// New returns an Importer. Clip audio found next to sample metadata is
// copied into clips.
func New(st *store.Store, clips *ledger.ClipStore, logger *slog.Logger) *Importer {
	return &Importer{
		store:  st,
		clips:  clips,
		logger: logging.NewComponentLogger(logger, "legacy"),
		now:    time.Now,
	}
}

// Import reads dir/db/*.json and dir/samples/*/*.meta.yaml. Records that
// already exist are counted and left untouched, so repeated imports are safe.
func (im *Importer) Import(ctx context.Context, dir string) (*Report, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, services.Wrap(services.ErrNotFound, "legacy", "import", "legacy directory unavailable", err)
	}
	if !info.IsDir() {
		return nil, services.Wrap(services.ErrValidation, "legacy", "import", dir+" is not a directory", nil)
	}

	report := &Report{Skipped: []Skipped{}}
	profiles, _ := filepath.Glob(filepath.Join(dir, "db", "*.json"))
	slices.Sort(profiles)
	for _, path := range profiles {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := im.importProfile(ctx, path, report); err != nil {
			if errors.Is(err, services.ErrTransient) || errors.Is(err, context.Canceled) {
				return report, err
			}
			im.warnSkip(path, err)
			report.skip(path, err)
		}
	}

	metas, _ := filepath.Glob(filepath.Join(dir, "samples", "*", "*"+metaSuffix))
	slices.Sort(metas)
	for _, path := range metas {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := im.importSample(ctx, path, report); err != nil {
			if errors.Is(err, services.ErrTransient) || errors.Is(err, context.Canceled) {
				return report, err
			}
			im.warnSkip(path, err)
			report.skip(path, err)
		}
	}

	im.logger.Info("legacy import finished",
		logging.Int("identities", report.Identities),
		logging.Int("embeddings", report.Embeddings),
		logging.Int("samples", report.Samples),
		logging.Int("skipped", len(report.Skipped)),
	)
	return report, nil
}

func (im *Importer) warnSkip(path string, err error) {
	logging.WarnWithContext(im.logger, "legacy document skipped", "legacy_skip",
		logging.String("path", path),
		logging.Error(err),
		logging.String(logging.FieldImpact, "document not imported"),
		logging.String(logging.FieldErrorHint, "fix or upgrade the file and re-run import"),
	)
}

func (im *Importer) importProfile(ctx context.Context, path string, report *Report) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var doc profileDoc
	result, err := schema.DecodeJSON(schema.LegacyProfile, data, &doc)
	if err != nil {
		return err
	}
	if result.Migrated() {
		report.Migrated++
	}
	if doc.ID == "" {
		doc.ID = strings.TrimSuffix(filepath.Base(path), ".json")
	}

	ident, err := speaker.NewIdentity(doc.ID, doc.Name, parseTime(doc.CreatedAt, im.now()))
	if err != nil {
		return fmt.Errorf("%w: %w", services.ErrValidation, err)
	}
	for ctxName, name := range doc.Names {
		ident.SetName(ctxName, name)
	}
	ident.AddTags(doc.Tags...)
	if len(doc.Metadata) > 0 {
		ident.Metadata = make(map[string]string, len(doc.Metadata))
		for k, v := range doc.Metadata {
			ident.Metadata[k] = fmt.Sprint(v)
		}
	}
	switch err := im.store.CreateIdentity(ctx, &ident); {
	case err == nil:
		report.Identities++
	case errors.Is(err, store.ErrExists):
		report.Existing++
	default:
		return err
	}

	backends := make([]string, 0, len(doc.Embeddings))
	for name := range doc.Embeddings {
		backends = append(backends, name)
	}
	slices.Sort(backends)
	for _, backendName := range backends {
		for _, e := range doc.Embeddings[backendName] {
			rec := embeddingRecord(ident.ID, backendName, e, im.now())
			if rec.TrustLevel.String() != e.TrustLevel && e.TrustLevel != "" {
				im.logger.Info("legacy trust recomputed",
					logging.String("embedding_id", rec.ID),
					logging.String("recorded", e.TrustLevel),
					logging.String("computed", rec.TrustLevel.String()),
				)
			}
			switch err := im.store.InsertEmbedding(ctx, rec); {
			case err == nil:
				report.Embeddings++
			case errors.Is(err, store.ErrExists):
				report.Existing++
			default:
				return err
			}
		}
	}
	return nil
}

func embeddingRecord(speakerID, backendName string, e embeddingDoc, now time.Time) *speaker.EmbeddingRecord {
	partition := speaker.Partition{}
	if e.Samples != nil {
		for _, d := range e.Samples.Unreviewed {
			partition.Set(d, speaker.BucketUnreviewed)
		}
		for _, d := range e.Samples.Reviewed {
			partition.Set(d, speaker.BucketReviewed)
		}
		for _, d := range e.Samples.Rejected {
			partition.Set(d, speaker.BucketRejected)
		}
	}
	id := e.ID
	if id == "" {
		id = "emb-" + contenthash.Short(contenthash.Sum([]byte(speakerID+"/"+backendName+"/"+e.ExternalID)))
	}
	return &speaker.EmbeddingRecord{
		ID:                    id,
		SpeakerID:             speakerID,
		Backend:               strings.ToLower(backendName),
		Handle:                []byte(e.ExternalID),
		ModelVersion:          e.ModelVersion,
		SourceRecordingDigest: e.SourceAudioB3sum,
		Segments:              []speaker.Segment{},
		Samples:               partition,
		TrustLevel:            partition.Trust(),
		CreatedAt:             parseTime(e.CreatedAt, now),
	}
}

func (im *Importer) importSample(ctx context.Context, path string, report *Report) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var raw schema.Document
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: sample metadata: %w", services.ErrCorruptRecord, err)
	}
	var doc sampleDoc
	result, err := schema.DecodeDocument(schema.LegacySampleMetadata, raw, &doc)
	if err != nil {
		return err
	}
	if result.Migrated() {
		report.Migrated++
	}

	speakerID := filepath.Base(filepath.Dir(path))
	if _, err := im.store.GetIdentity(ctx, speakerID); err != nil {
		return err
	}

	segment := speaker.Segment{Start: doc.Segment.StartSec, End: doc.Segment.EndSec}
	if !segment.Valid() {
		return fmt.Errorf("%w: invalid segment %s", services.ErrValidation, segment)
	}

	base := strings.TrimSuffix(path, metaSuffix)
	clip := findClip(base)
	digest := ""
	if doc.B3sum != nil {
		digest = *doc.B3sum
	}
	if clip != "" {
		sum, err := contenthash.SumFile(clip)
		if err != nil {
			return fmt.Errorf("hash clip: %w", err)
		}
		if digest != "" && digest != sum {
			return fmt.Errorf("%w: clip digest %s does not match recorded %s", services.ErrCorruptRecord, sum, digest)
		}
		digest = sum
		if _, err := fileutil.CopyFileVerified(clip, im.clips.Path(speakerID, digest)); err != nil {
			return fmt.Errorf("copy clip: %w", err)
		}
	}
	if !contenthash.Valid(digest) {
		return fmt.Errorf("%w: sample has no usable digest and no clip", services.ErrValidation)
	}

	status := speaker.ReviewStatus(strings.ToLower(strings.TrimSpace(doc.Review.Status)))
	switch status {
	case speaker.ReviewPending, speaker.ReviewReviewed, speaker.ReviewRejected:
	case "":
		status = speaker.ReviewPending
	default:
		return fmt.Errorf("%w: unknown review status %q", services.ErrValidation, doc.Review.Status)
	}
	sample := &speaker.Sample{
		SpeakerID: speakerID,
		Digest:    digest,
		Segment:   segment,
		Label:     doc.Source.SpeakerLabel,
		Text:      doc.Text,
		Review:    speaker.Review{Status: status},
		CreatedAt: parseTime(doc.CreatedAt, im.now()),
	}
	if doc.Source.AudioB3sum != nil {
		sample.SourceRecordingDigest = *doc.Source.AudioB3sum
	}
	if clip != "" {
		sample.ClipPath = im.clips.Path(speakerID, digest)
	}
	if doc.Review.ReviewedAt != nil {
		at := parseTime(*doc.Review.ReviewedAt, time.Time{})
		if !at.IsZero() {
			sample.Review.ReviewedAt = &at
		}
	}
	if doc.Review.Notes != nil {
		sample.Review.Notes = *doc.Review.Notes
	}

	switch err := im.store.InsertSample(ctx, sample); {
	case err == nil:
		report.Samples++
	case errors.Is(err, store.ErrExists):
		report.Existing++
	default:
		return err
	}
	return nil
}

// findClip returns the audio file sharing base with a metadata sidecar.
func findClip(base string) string {
	matches, _ := filepath.Glob(base + ".*")
	slices.Sort(matches)
	for _, m := range matches {
		if strings.HasSuffix(m, metaSuffix) || strings.HasSuffix(m, ".lock") {
			continue
		}
		if info, err := os.Stat(m); err == nil && info.Mode().IsRegular() {
			return m
		}
	}
	return ""
}

func parseTime(value string, fallback time.Time) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback.UTC()
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return fallback.UTC()
}
