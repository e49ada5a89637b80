package report

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/catalog"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/logging"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/speaker"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/store"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/trust"
)

const (
	// DefaultBelowPercent flags anything weaker than medium confidence.
	DefaultBelowPercent = 70
	// DefaultStaleDays is the age after which an assignment is stale.
	DefaultStaleDays = 30
	// MinReviewedSamples is the reviewed-sample count a speaker needs before
	// it stops being flagged for review work.
	MinReviewedSamples = 3
)

// Reporter reads the stores.
type Reporter struct {
	store   *store.Store
	catalog *catalog.Catalog
	now     func() time.Time
	logger  *slog.Logger
}

// Option customizes a Reporter.
type Option func(*Reporter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Reporter) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reporter) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New returns a Reporter.
func New(st *store.Store, cat *catalog.Catalog, opts ...Option) *Reporter {
	r := &Reporter{store: st, catalog: cat, now: time.Now, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.NewComponentLogger(r.logger, "report")
	return r
}

// LabelConfidence is one mapping in a confidence finding.
type LabelConfidence struct {
	Label      string             `json:"label"`
	SpeakerID  string             `json:"speaker_id,omitempty"`
	Confidence speaker.Confidence `json:"confidence"`
	Percent    int                `json:"percent"`
	Score      float64            `json:"score"`
}

// ConfidenceFinding is a recording with at least one weak mapping.
type ConfidenceFinding struct {
	RecordingDigest string            `json:"recording_b3sum"`
	Path            string            `json:"path,omitempty"`
	Labels          []LabelConfidence `json:"labels"`
}

// ConfidenceReport lists recordings with a mapping below the bound.
type ConfidenceReport struct {
	Threshold  int                 `json:"threshold"`
	Count      int                 `json:"count"`
	Recordings []ConfidenceFinding `json:"recordings"`
}

// Confidence lists recordings with any mapping whose tier percentage is
// strictly below below.
func (r *Reporter) Confidence(ctx context.Context, below int) (*ConfidenceReport, error) {
	assignments, err := r.assignments(ctx)
	if err != nil {
		return nil, err
	}
	out := &ConfidenceReport{Threshold: below, Recordings: []ConfidenceFinding{}}
	for _, a := range assignments {
		var weak []LabelConfidence
		for _, label := range sortedLabels(a.Mappings) {
			m := a.Mappings[label]
			if m.Confidence.Percent() >= below {
				continue
			}
			lc := LabelConfidence{Label: label, Confidence: m.Confidence, Percent: m.Confidence.Percent(), Score: m.Score}
			if m.SpeakerID != nil {
				lc.SpeakerID = *m.SpeakerID
			}
			weak = append(weak, lc)
		}
		if len(weak) == 0 {
			continue
		}
		out.Recordings = append(out.Recordings, ConfidenceFinding{
			RecordingDigest: a.RecordingDigest,
			Path:            r.pathFor(a.RecordingDigest),
			Labels:          weak,
		})
	}
	out.Count = len(out.Recordings)
	return out, nil
}

// StaleFinding is an assignment older than the cutoff.
type StaleFinding struct {
	RecordingDigest string    `json:"recording_b3sum"`
	Path            string    `json:"path,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
	AgeDays         int       `json:"age_days"`
}

// StaleReport lists stale assignments.
type StaleReport struct {
	Days       int            `json:"days"`
	Count      int            `json:"count"`
	Recordings []StaleFinding `json:"recordings"`
}

// Stale lists assignments last written more than days ago, oldest first.
func (r *Reporter) Stale(ctx context.Context, days int) (*StaleReport, error) {
	assignments, err := r.assignments(ctx)
	if err != nil {
		return nil, err
	}
	now := r.now().UTC()
	cutoff := now.Add(-time.Duration(days) * 24 * time.Hour)
	out := &StaleReport{Days: days, Recordings: []StaleFinding{}}
	for _, a := range assignments {
		if !a.UpdatedAt.Before(cutoff) {
			continue
		}
		out.Recordings = append(out.Recordings, StaleFinding{
			RecordingDigest: a.RecordingDigest,
			Path:            r.pathFor(a.RecordingDigest),
			UpdatedAt:       a.UpdatedAt,
			AgeDays:         int(now.Sub(a.UpdatedAt).Hours() / 24),
		})
	}
	slices.SortFunc(out.Recordings, func(a, b StaleFinding) int { return a.UpdatedAt.Compare(b.UpdatedAt) })
	out.Count = len(out.Recordings)
	return out, nil
}

// Status is the overall system summary.
type Status struct {
	Recordings        int            `json:"recordings"`
	ByStatus          map[string]int `json:"by_status"`
	Contexts          map[string]int `json:"contexts"`
	Speakers          int            `json:"speakers"`
	Embeddings        int            `json:"embeddings"`
	EmbeddingsByTrust map[string]int `json:"embeddings_by_trust"`
	Samples           map[string]int `json:"samples"`
	Assignments       int            `json:"assignments"`
	Recommendations   []string       `json:"recommendations"`
}

// Status gathers counts and derives recommendations.
func (r *Reporter) Status(ctx context.Context) (*Status, error) {
	entries, err := r.entries()
	if err != nil {
		return nil, err
	}
	assigned, err := r.assignedSet(ctx)
	if err != nil {
		return nil, err
	}
	st := &Status{
		Recordings:        len(entries),
		ByStatus:          map[string]int{},
		Contexts:          map[string]int{},
		EmbeddingsByTrust: map[string]int{},
		Samples:           map[string]int{},
		Assignments:       len(assigned),
		Recommendations:   []string{},
	}
	for _, e := range entries {
		st.ByStatus[string(e.Status(assigned[e.Digest()]))]++
		if e.Context.Name != "" {
			st.Contexts[e.Context.Name]++
		}
	}
	idents, _, err := r.store.ListIdentities(ctx)
	if err != nil {
		return nil, err
	}
	st.Speakers = len(idents)
	embeddings, _, err := r.store.ListEmbeddings(ctx, store.EmbeddingFilter{})
	if err != nil {
		return nil, err
	}
	st.Embeddings = len(embeddings)
	for _, emb := range embeddings {
		st.EmbeddingsByTrust[emb.TrustLevel.String()]++
	}
	counts, err := r.store.SampleCounts(ctx)
	if err != nil {
		return nil, err
	}
	for status, n := range counts {
		st.Samples[string(status)] = n
	}

	if n := st.ByStatus[string(catalog.StatusUnprocessed)]; n > 0 {
		st.Recommendations = append(st.Recommendations, fmt.Sprintf("%d recording(s) need transcripts registered", n))
	}
	if n := st.ByStatus[string(catalog.StatusTranscribed)]; n > 0 {
		st.Recommendations = append(st.Recommendations, fmt.Sprintf("%d transcribed recording(s) have no assignment; run speakerid assign", n))
	}
	if n := st.Samples[string(speaker.ReviewPending)]; n > 0 {
		st.Recommendations = append(st.Recommendations, fmt.Sprintf("%d sample(s) pending review", n))
	}
	if n := st.EmbeddingsByTrust[trust.Invalidated.String()]; n > 0 {
		st.Recommendations = append(st.Recommendations, fmt.Sprintf("%d embedding(s) invalidated; re-enroll the affected speakers", n))
	}
	if st.Speakers > 0 && st.Embeddings == 0 {
		st.Recommendations = append(st.Recommendations, "no embeddings enrolled; run speakerid enroll")
	}
	return st, nil
}

// ContextCoverage counts recordings by status for one context.
type ContextCoverage struct {
	Context     string `json:"context"`
	Total       int    `json:"total"`
	Unprocessed int    `json:"unprocessed"`
	Transcribed int    `json:"transcribed"`
	Assigned    int    `json:"assigned"`
}

// Coverage reports progress per context name. An empty filter covers every
// context; recordings without a context are grouped under "(none)".
func (r *Reporter) Coverage(ctx context.Context, contextFilter string) ([]ContextCoverage, error) {
	entries, err := r.entries()
	if err != nil {
		return nil, err
	}
	assigned, err := r.assignedSet(ctx)
	if err != nil {
		return nil, err
	}
	byName := map[string]*ContextCoverage{}
	for _, e := range entries {
		name := e.Context.Name
		if name == "" {
			name = "(none)"
		}
		if contextFilter != "" && name != contextFilter {
			continue
		}
		cov, ok := byName[name]
		if !ok {
			cov = &ContextCoverage{Context: name}
			byName[name] = cov
		}
		cov.Total++
		switch e.Status(assigned[e.Digest()]) {
		case catalog.StatusAssigned:
			cov.Assigned++
		case catalog.StatusTranscribed:
			cov.Transcribed++
		default:
			cov.Unprocessed++
		}
	}
	out := make([]ContextCoverage, 0, len(byName))
	for _, cov := range byName {
		out = append(out, *cov)
	}
	slices.SortFunc(out, func(a, b ContextCoverage) int { return strings.Compare(a.Context, b.Context) })
	return out, nil
}

// SpeakerSummary is the enrollment health of one identity.
type SpeakerSummary struct {
	SpeakerID   string         `json:"speaker_id"`
	DisplayName string         `json:"display_name"`
	Trust       string         `json:"trust_level"`
	Embeddings  int            `json:"embeddings"`
	Samples     map[string]int `json:"samples"`
	NeedsReview bool           `json:"needs_review"`
}

// SpeakersReport summarizes every identity.
type SpeakersReport struct {
	Total    int              `json:"total"`
	ByTrust  map[string]int   `json:"by_trust"`
	Speakers []SpeakerSummary `json:"speakers"`
}

// Speakers lists identities with their best embedding trust. Speakers with
// fewer than MinReviewedSamples reviewed samples are flagged.
func (r *Reporter) Speakers(ctx context.Context) (*SpeakersReport, error) {
	idents, _, err := r.store.ListIdentities(ctx)
	if err != nil {
		return nil, err
	}
	out := &SpeakersReport{Total: len(idents), ByTrust: map[string]int{}, Speakers: []SpeakerSummary{}}
	for _, ident := range idents {
		embeddings, _, err := r.store.ListEmbeddings(ctx, store.EmbeddingFilter{SpeakerID: ident.ID})
		if err != nil {
			return nil, err
		}
		samples, _, err := r.store.ListSamples(ctx, store.SampleFilter{SpeakerID: ident.ID})
		if err != nil {
			return nil, err
		}
		summary := SpeakerSummary{
			SpeakerID:   ident.ID,
			DisplayName: ident.DisplayName(speaker.DefaultNameContext),
			Trust:       bestTrust(embeddings).String(),
			Embeddings:  len(embeddings),
			Samples:     map[string]int{},
		}
		for _, s := range samples {
			summary.Samples[string(s.Review.Status)]++
		}
		summary.NeedsReview = summary.Samples[string(speaker.ReviewReviewed)] < MinReviewedSamples
		out.ByTrust[summary.Trust]++
		out.Speakers = append(out.Speakers, summary)
	}
	return out, nil
}

// bestTrust is the strongest trust among embeddings, or unknown.
func bestTrust(embeddings []speaker.EmbeddingRecord) trust.Level {
	best := trust.Unknown
	seen := false
	for _, emb := range embeddings {
		if !seen || emb.TrustLevel.Rank() > best.Rank() {
			best, seen = emb.TrustLevel, true
		}
	}
	return best
}

func (r *Reporter) assignments(ctx context.Context) ([]store.StoredAssignment, error) {
	assignments, corrupt, err := r.store.ListAssignments(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range corrupt {
		logging.WarnWithContext(r.logger, "skipping unreadable assignment", "record_corrupt",
			logging.String("key", c.Key),
			logging.Error(c.Err),
			logging.String(logging.FieldImpact, "recording missing from report"),
			logging.String(logging.FieldErrorHint, "re-run speakerid assign for the recording"),
		)
	}
	return assignments, nil
}

func (r *Reporter) assignedSet(ctx context.Context) (map[string]bool, error) {
	assignments, err := r.assignments(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(assignments))
	for _, a := range assignments {
		out[a.RecordingDigest] = true
	}
	return out, nil
}

func (r *Reporter) entries() ([]catalog.Entry, error) {
	if r.catalog == nil {
		return nil, nil
	}
	entries, _, err := r.catalog.List(catalog.Filter{})
	return entries, err
}

func (r *Reporter) pathFor(digest string) string {
	if r.catalog == nil {
		return ""
	}
	entry, err := r.catalog.Get(digest)
	if err != nil {
		return ""
	}
	return entry.Recording.Path
}

func sortedLabels(m map[string]speaker.Mapping) []string {
	labels := make([]string, 0, len(m))
	for label := range m {
		labels = append(labels, label)
	}
	slices.Sort(labels)
	return labels
}
