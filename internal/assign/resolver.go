package assign

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/backend"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/config"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/contenthash"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/logging"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/namedetect"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/services"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/signals"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/speaker"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/store"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/transcript"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/trust"
)

// Method names the scoring approach recorded on assignments.
const Method = "multi-signal"

var (
	// ErrNoSpeakers reports a transcript without speaker labels.
	ErrNoSpeakers = fmt.Errorf("%w: transcript has no speaker labels", services.ErrValidation)
	// ErrNoEnrolledIdentities reports that no identity has an embedding for
	// the active backend.
	ErrNoEnrolledIdentities = fmt.Errorf("%w: no enrolled identities with embeddings", services.ErrValidation)
)

// Request describes one assignment run.
type Request struct {
	RecordingPath string
	// RecordingDigest skips hashing RecordingPath when set.
	RecordingDigest string
	TranscriptPath  string
	// Transcript skips loading TranscriptPath when set.
	Transcript       *transcript.Transcript
	Threshold        *float64
	MinTrust         *trust.Level
	ExpectedSpeakers []string
	Context          string
	DryRun           bool
}

// Result is the outcome of a run.
type Result struct {
	Assignment speaker.Assignment
	Persisted  bool
	// Skipped lists identities whose records could not be read.
	Skipped []store.CorruptRecord
}

// Resolver produces assignment records.
type Resolver struct {
	store    *store.Store
	backend  backend.Backend
	detector namedetect.Detector
	hasher   contenthash.Hasher
	bands    Bands
	minTrust trust.Level
	timeout  time.Duration
	workers  int
	maxChars int
	progress func(label string, m speaker.Mapping)
	logger   *slog.Logger
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithDetector enables the name-mention signal.
func WithDetector(d namedetect.Detector) Option {
	return func(r *Resolver) { r.detector = d }
}

// WithHasher overrides the recording hasher.
func WithHasher(h contenthash.Hasher) Option {
	return func(r *Resolver) {
		if h != nil {
			r.hasher = h
		}
	}
}

// WithProgress is called once per label, in label order, as it resolves.
func WithProgress(fn func(label string, m speaker.Mapping)) Option {
	return func(r *Resolver) { r.progress = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New builds a resolver from the assignment settings in cfg.
func New(cfg *config.Config, st *store.Store, b backend.Backend, opts ...Option) (*Resolver, error) {
	minTrust, err := trust.ParseFloor(cfg.Assignment.MinTrust)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "assign", "configure", "assignment.min_trust", err)
	}
	r := &Resolver{
		store:    st,
		backend:  b,
		hasher:   contenthash.BLAKE3{},
		bands:    BandsFromConfig(cfg),
		minTrust: minTrust,
		timeout:  time.Duration(cfg.Assignment.LabelTimeoutSeconds) * time.Second,
		workers:  cfg.Assignment.Workers,
		maxChars: cfg.NameDetection.MaxTranscriptChars,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.NewComponentLogger(r.logger, "assign")
	return r, nil
}

// Bands returns the scoring constants in effect.
func (r *Resolver) Bands() Bands { return r.bands }

// Resolve runs assignment for one recording. Setup problems (no labels, no
// enrolled identities) fail before anything is written. A dry run returns
// the same record without persisting it.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Result, error) {
	tr, err := r.loadTranscript(req)
	if err != nil {
		return nil, err
	}
	labels := tr.Speakers()
	if len(labels) == 0 {
		return nil, ErrNoSpeakers
	}
	digest, err := r.recordingDigest(req)
	if err != nil {
		return nil, err
	}
	ctx = services.WithRecording(ctx, digest)
	logger := logging.WithContext(ctx, r.logger)

	bands := r.bands
	if req.Threshold != nil {
		bands.Threshold = *req.Threshold
	}
	minTrust := r.minTrust
	if req.MinTrust != nil {
		minTrust = *req.MinTrust
	}

	profiles, skipped, err := r.enrolledProfiles(ctx)
	if err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		return nil, fmt.Errorf("%w for backend %s", ErrNoEnrolledIdentities, r.backend.Name())
	}

	collector := signals.New(r.backend,
		signals.WithDetector(r.detector),
		signals.WithMinTrust(minTrust),
		signals.WithLabelTimeout(r.timeout),
		signals.WithWorkers(r.workers),
		signals.WithMaxTranscriptChars(r.maxChars),
		signals.WithLogger(r.logger),
	)
	expected := normalizeExpected(req.ExpectedSpeakers)
	collected, err := collector.Collect(ctx, signals.Input{
		RecordingDigest:  digest,
		AudioPath:        req.RecordingPath,
		Transcript:       tr,
		Profiles:         profiles,
		ExpectedSpeakers: expected,
		Context:          req.Context,
	})
	if err != nil {
		return nil, err
	}

	assignment := speaker.Assignment{
		SchemaVersion:    speaker.AssignmentVersion,
		RecordingDigest:  digest,
		TranscriptDigest: tr.Digest,
		Method:           Method,
		Backend:          r.backend.Name(),
		Threshold:        bands.Threshold,
		MinTrust:         minTrust.String(),
		Context:          req.Context,
		ExpectedSpeakers: expected,
		Mappings:         make(map[string]speaker.Mapping, len(labels)),
	}
	for _, label := range labels {
		mapping := resolveLabel(collected[label], bands)
		assignment.Mappings[label] = mapping
		r.logDecision(services.WithLabel(ctx, label), label, mapping)
		if r.progress != nil {
			r.progress(label, mapping)
		}
	}

	result := &Result{Assignment: assignment, Skipped: skipped}
	if req.DryRun {
		logger.Info("dry run; assignment not saved", logging.Int("labels", len(labels)))
		return result, nil
	}
	if err := r.store.PutAssignment(ctx, &result.Assignment); err != nil {
		return nil, err
	}
	result.Persisted = true
	logger.Info("assignment saved",
		logging.Int("labels", len(labels)),
		logging.String("lowest_confidence", string(assignment.LowestConfidence())),
	)
	return result, nil
}

func resolveLabel(ls *signals.LabelSignals, bands Bands) speaker.Mapping {
	mapping := speaker.Mapping{
		Confidence: speaker.ConfidenceUnassigned,
		Signals:    []speaker.Signal{},
		Candidates: []speaker.Candidate{},
	}
	if ls == nil {
		return mapping
	}
	for _, s := range ls.Signals {
		s.Score = round(s.Score)
		mapping.Signals = append(mapping.Signals, s)
	}
	ranked := Rank(ls.Signals, bands)
	for _, c := range ranked {
		mapping.Candidates = append(mapping.Candidates, speaker.Candidate{SpeakerID: c.SpeakerID, Score: round(c.Score)})
	}
	if ls.AllSourcesFailed() {
		mapping.Error = "all signal sources failed: " + ls.FailureNote()
		return mapping
	}
	if len(ranked) == 0 {
		return mapping
	}
	top := ranked[0]
	mapping.Score = round(top.Score)
	// Gate on the unrounded score so rounding never lifts a candidate onto
	// the threshold.
	if top.Score >= bands.Threshold && top.Score > 0 {
		id := top.SpeakerID
		mapping.SpeakerID = &id
		mapping.Confidence = bands.Tier(top.Score)
	}
	return mapping
}

func (r *Resolver) logDecision(ctx context.Context, label string, m speaker.Mapping) {
	logger := logging.WithContext(ctx, r.logger)
	result, reason := "unassigned", "no candidate reached the threshold"
	switch {
	case m.Error != "":
		reason = m.Error
	case m.Assigned():
		result = *m.SpeakerID
		reason = fmt.Sprintf("score %.4f (%s)", m.Score, m.Confidence)
	case len(m.Candidates) == 0:
		reason = "no candidates surfaced"
	}
	attrs := logging.DecisionAttrs("speaker_assignment", result, reason)
	attrs = append(attrs, logging.Int("signals", len(m.Signals)), logging.Int("candidates", len(m.Candidates)))
	logger.Info("label resolved", logging.Args(attrs...)...)
}

func (r *Resolver) loadTranscript(req Request) (*transcript.Transcript, error) {
	if req.Transcript != nil {
		return req.Transcript, nil
	}
	if strings.TrimSpace(req.TranscriptPath) == "" {
		return nil, services.Wrap(services.ErrValidation, "assign", "load transcript", "transcript path is required", nil)
	}
	return transcript.Load(req.TranscriptPath)
}

func (r *Resolver) recordingDigest(req Request) (string, error) {
	if req.RecordingDigest != "" {
		return req.RecordingDigest, nil
	}
	if strings.TrimSpace(req.RecordingPath) == "" {
		return "", services.Wrap(services.ErrValidation, "assign", "hash recording", "recording path is required", nil)
	}
	digest, err := r.hasher.SumFile(req.RecordingPath)
	if err != nil {
		return "", services.Wrap(services.ErrNotFound, "assign", "hash recording", req.RecordingPath, err)
	}
	return digest, nil
}

// enrolledProfiles returns identities holding at least one embedding for
// the active backend. Unreadable records are skipped and returned.
func (r *Resolver) enrolledProfiles(ctx context.Context) ([]speaker.Profile, []store.CorruptRecord, error) {
	idents, skipped, err := r.store.ListIdentities(ctx)
	if err != nil {
		return nil, nil, err
	}
	var out []speaker.Profile
	for _, ident := range idents {
		profile, corrupt, err := r.store.Profile(ctx, ident.ID)
		if err != nil {
			return nil, nil, err
		}
		skipped = append(skipped, corrupt...)
		if len(profile.Embeddings[r.backend.Name()]) > 0 {
			out = append(out, *profile)
		}
	}
	for _, c := range skipped {
		logging.WarnWithContext(r.logger, "skipping unreadable record", "record_corrupt",
			logging.String("kind", c.Kind),
			logging.String("key", c.Key),
			logging.Error(c.Err),
			logging.String(logging.FieldImpact, "record excluded from matching"),
			logging.String(logging.FieldErrorHint, "run speakerid doctor or re-enroll the speaker"),
		)
	}
	return out, skipped, nil
}

func normalizeExpected(values []string) []string {
	out := []string{}
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return out
}
