package signals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/backend"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/logging"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/namedetect"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/services"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/speaker"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/transcript"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/trust"
)

const (
	defaultLabelTimeout = 120 * time.Second
	defaultWorkers      = 4
)

// Input is one recording to collect evidence for.
type Input struct {
	RecordingDigest  string
	AudioPath        string
	Transcript       *transcript.Transcript
	Profiles         []speaker.Profile
	ExpectedSpeakers []string
	Context          string
}

// Failure is a source that errored for a label.
type Failure struct {
	Source speaker.SignalType
	Err    error
}

// LabelSignals is the evidence gathered for one label.
type LabelSignals struct {
	Label     string
	Signals   []speaker.Signal
	Attempted []speaker.SignalType
	Failures  []Failure
}

// AllSourcesFailed reports whether every source that ran for the label
// failed. A label no source ran for has not failed.
func (l *LabelSignals) AllSourcesFailed() bool {
	if len(l.Attempted) == 0 {
		return false
	}
	for _, src := range l.Attempted {
		if !slices.ContainsFunc(l.Failures, func(f Failure) bool { return f.Source == src }) {
			return false
		}
	}
	return true
}

// FailureNote summarizes the failures for the assignment record.
func (l *LabelSignals) FailureNote() string {
	parts := make([]string, 0, len(l.Failures))
	for _, f := range l.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Source, f.Err))
	}
	return strings.Join(parts, "; ")
}

func (l *LabelSignals) attempt(src speaker.SignalType) {
	if !slices.Contains(l.Attempted, src) {
		l.Attempted = append(l.Attempted, src)
	}
}

func (l *LabelSignals) fail(src speaker.SignalType, err error) {
	l.attempt(src)
	l.Failures = append(l.Failures, Failure{Source: src, Err: err})
}

// Collector gathers signals.
type Collector struct {
	backend      backend.Backend
	detector     namedetect.Detector
	minTrust     trust.Level
	labelTimeout time.Duration
	workers      int
	maxChars     int
	logger       *slog.Logger
}

// Option customizes a Collector.
type Option func(*Collector)

// WithDetector enables the name-mention source.
func WithDetector(d namedetect.Detector) Option {
	return func(c *Collector) { c.detector = d }
}

// WithMinTrust sets the trust floor for participating embeddings.
func WithMinTrust(level trust.Level) Option {
	return func(c *Collector) { c.minTrust = level }
}

// WithLabelTimeout bounds each label's backend call and the detector call.
func WithLabelTimeout(d time.Duration) Option {
	return func(c *Collector) {
		if d > 0 {
			c.labelTimeout = d
		}
	}
}

// WithWorkers bounds how many labels are processed at once.
func WithWorkers(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithMaxTranscriptChars truncates the transcript handed to the detector.
func WithMaxTranscriptChars(n int) Option {
	return func(c *Collector) { c.maxChars = n }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Collector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New returns a collector over b. A nil backend disables the embedding source.
func New(b backend.Backend, opts ...Option) *Collector {
	c := &Collector{
		backend:      b,
		minTrust:     trust.Low,
		labelTimeout: defaultLabelTimeout,
		workers:      defaultWorkers,
		logger:       logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.NewComponentLogger(c.logger, "signals")
	return c
}

// Candidates returns the embeddings allowed to vote: those for the
// collector's backend whose trust meets the floor. Incompatible model
// versions still vote and are logged.
func (c *Collector) Candidates(profiles []speaker.Profile) []backend.Candidate {
	if c.backend == nil {
		return nil
	}
	name := c.backend.Name()
	var out []backend.Candidate
	for _, p := range profiles {
		for _, rec := range p.Embeddings[name] {
			if !rec.TrustLevel.Meets(c.minTrust) {
				c.logger.Debug("embedding below trust floor",
					logging.String("speaker_id", rec.SpeakerID),
					logging.String("embedding_id", rec.ID),
					logging.String("trust", rec.TrustLevel.String()),
					logging.String("min_trust", c.minTrust.String()),
				)
				continue
			}
			if !backend.IsCompatible(rec.ModelVersion, name) {
				logging.WarnWithContext(c.logger, backend.CompatibilityWarning(rec.ModelVersion, name), "embedding_incompatible",
					logging.String("speaker_id", rec.SpeakerID),
					logging.String("embedding_id", rec.ID),
					logging.String(logging.FieldImpact, "similarity scores may be unreliable"),
					logging.String(logging.FieldErrorHint, "re-enroll the speaker with the current backend"),
				)
			}
			out = append(out, backend.Candidate{
				SpeakerID:    rec.SpeakerID,
				EmbeddingID:  rec.ID,
				Handle:       rec.Handle,
				ModelVersion: rec.ModelVersion,
			})
		}
	}
	slices.SortFunc(out, func(a, b backend.Candidate) int {
		if cmp := strings.Compare(a.SpeakerID, b.SpeakerID); cmp != 0 {
			return cmp
		}
		return strings.Compare(a.EmbeddingID, b.EmbeddingID)
	})
	return out
}

// Collect gathers evidence for every transcript label. Only cancellation of
// ctx aborts the run; source failures are recorded per label.
func (c *Collector) Collect(ctx context.Context, in Input) (map[string]*LabelSignals, error) {
	if in.Transcript == nil {
		return nil, services.Wrap(services.ErrValidation, "signals", "collect", "transcript is required", nil)
	}
	labels := in.Transcript.Speakers()
	out := make(map[string]*LabelSignals, len(labels))
	for _, label := range labels {
		out[label] = &LabelSignals{Label: label}
	}
	if len(labels) == 0 {
		return out, nil
	}
	ctx = services.WithRecording(ctx, in.RecordingDigest)

	matcher := newNameMatcher(in.Profiles)
	c.collectNames(ctx, in, labels, matcher, out)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	candidates := c.Candidates(in.Profiles)
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for _, label := range labels {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			signals, err := c.embeddingSignals(gctx, in, label, candidates)
			mu.Lock()
			defer mu.Unlock()
			ls := out[label]
			switch {
			case errors.Is(err, errSkipped):
			case err != nil:
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				ls.fail(speaker.SignalEmbedding, err)
				logging.WarnWithContext(logging.WithContext(services.WithLabel(gctx, label), c.logger),
					"embedding match failed", "signal_failed",
					logging.String("source", string(speaker.SignalEmbedding)),
					logging.Error(err),
					logging.String(logging.FieldImpact, "label resolved without voice evidence"),
					logging.String(logging.FieldErrorHint, "check the embedding backend and audio file"),
				)
			default:
				ls.attempt(speaker.SignalEmbedding)
				ls.Signals = append(ls.Signals, signals...)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, label := range labels {
		ls := out[label]
		ls.Signals = append(ls.Signals, contextSignals(ls.Signals, in, matcher)...)
		sortSignals(ls.Signals)
	}
	return out, nil
}

var errSkipped = errors.New("source skipped")

func (c *Collector) embeddingSignals(ctx context.Context, in Input, label string, candidates []backend.Candidate) ([]speaker.Signal, error) {
	if c.backend == nil || len(candidates) == 0 {
		return nil, errSkipped
	}
	segments := in.Transcript.SegmentSpans(label)
	if len(segments) == 0 {
		segments = in.Transcript.RawSegments(label)
	}
	if len(segments) == 0 {
		return nil, errSkipped
	}
	callCtx, cancel := context.WithTimeout(ctx, c.labelTimeout)
	defer cancel()
	matches, err := c.backend.Identify(callCtx, in.AudioPath, segments, candidates, 0)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, services.Wrap(services.ErrTimeout, "signals", "identify",
				fmt.Sprintf("label %s timed out after %s", label, c.labelTimeout), err)
		}
		return nil, err
	}
	// Keep the best similarity per speaker.
	best := map[string]backend.Match{}
	for _, m := range matches {
		if m.Similarity <= 0 {
			continue
		}
		if cur, ok := best[m.SpeakerID]; !ok || m.Similarity > cur.Similarity {
			best[m.SpeakerID] = m
		}
	}
	out := make([]speaker.Signal, 0, len(best))
	for _, m := range best {
		out = append(out, speaker.Signal{
			Type:      speaker.SignalEmbedding,
			SpeakerID: m.SpeakerID,
			Score:     clamp01(m.Similarity),
			Evidence:  fmt.Sprintf("similarity %.4f to embedding %s (%s)", m.Similarity, m.EmbeddingID, c.backend.Name()),
		})
	}
	return out, nil
}

func (c *Collector) collectNames(ctx context.Context, in Input, labels []string, matcher *nameMatcher, out map[string]*LabelSignals) {
	if c.detector == nil {
		return
	}
	for _, label := range labels {
		out[label].attempt(speaker.SignalName)
	}
	callCtx, cancel := context.WithTimeout(ctx, c.labelTimeout)
	defer cancel()
	detections, err := c.detector.Detect(callCtx, in.Transcript.Sample(c.maxChars), labels)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = services.Wrap(services.ErrTimeout, "signals", "detect names", "name detection timed out", err)
		}
		for _, label := range labels {
			out[label].fail(speaker.SignalName, err)
		}
		logging.WarnWithContext(logging.WithContext(ctx, c.logger), "name detection failed", "signal_failed",
			logging.String("source", string(speaker.SignalName)),
			logging.Error(err),
			logging.String(logging.FieldImpact, "labels resolved without name evidence"),
			logging.String(logging.FieldErrorHint, "check the llm settings or run with name detection disabled"),
		)
		return
	}
	for _, label := range labels {
		det, ok := detections[label]
		if !ok {
			continue
		}
		weight := NameWeight(det.Confidence)
		if weight == 0 {
			continue
		}
		evidence := fmt.Sprintf("name %q (%s)", det.Name, det.Confidence)
		if len(det.Evidence) > 0 {
			evidence += ": " + strings.Join(det.Evidence, " | ")
		}
		for _, id := range matcher.match(det.Name) {
			out[label].Signals = append(out[label].Signals, speaker.Signal{
				Type:      speaker.SignalName,
				SpeakerID: id,
				Score:     weight,
				Evidence:  evidence,
			})
		}
	}
}

// NameWeight converts a detection confidence into a score contribution.
func NameWeight(conf namedetect.Confidence) float64 {
	switch conf {
	case namedetect.ConfidenceHigh:
		return 0.90
	case namedetect.ConfidenceMedium:
		return 0.70
	case namedetect.ConfidenceLow:
		return 0.50
	default:
		return 0
	}
}

// contextSignals adds a prior for every expected speaker already surfaced by
// another source.
func contextSignals(existing []speaker.Signal, in Input, matcher *nameMatcher) []speaker.Signal {
	if len(in.ExpectedSpeakers) == 0 {
		return nil
	}
	expected := map[string]struct{}{}
	for _, ref := range in.ExpectedSpeakers {
		for _, id := range matcher.resolve(ref) {
			expected[id] = struct{}{}
		}
	}
	var out []speaker.Signal
	seen := map[string]struct{}{}
	for _, sig := range existing {
		if _, ok := expected[sig.SpeakerID]; !ok {
			continue
		}
		if _, dup := seen[sig.SpeakerID]; dup {
			continue
		}
		seen[sig.SpeakerID] = struct{}{}
		evidence := "listed in expected speakers"
		if in.Context != "" {
			evidence = fmt.Sprintf("listed in expected speakers for context %q", in.Context)
		}
		out = append(out, speaker.Signal{
			Type:      speaker.SignalContext,
			SpeakerID: sig.SpeakerID,
			Score:     1,
			Evidence:  evidence,
		})
	}
	return out
}

func sortSignals(signals []speaker.Signal) {
	order := map[speaker.SignalType]int{speaker.SignalEmbedding: 0, speaker.SignalName: 1, speaker.SignalContext: 2}
	slices.SortStableFunc(signals, func(a, b speaker.Signal) int {
		if d := order[a.Type] - order[b.Type]; d != 0 {
			return d
		}
		if cmp := strings.Compare(a.SpeakerID, b.SpeakerID); cmp != 0 {
			return cmp
		}
		return strings.Compare(a.Evidence, b.Evidence)
	})
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
