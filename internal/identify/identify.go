// Package identify matches a recording's voice against enrolled speakers
// without a transcript: identify ranks every enrolled speaker, verify checks
// one claimed identity.
package identify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/assign"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/backend"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/config"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/logging"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/services"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/signals"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/speaker"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/store"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/trust"
)

var (
	// ErrNoSpeakers reports an empty speaker database.
	ErrNoSpeakers = fmt.Errorf("%w: No speakers to match against", services.ErrValidation)
	// ErrNoEmbeddings reports speakers without usable embeddings.
	ErrNoEmbeddings = fmt.Errorf("%w: No speakers with embeddings", services.ErrValidation)
)

// Match is one speaker's best similarity to the recording.
type Match struct {
	SpeakerID   string             `json:"speaker_id"`
	Name        string             `json:"name"`
	EmbeddingID string             `json:"embedding_id"`
	Similarity  float64            `json:"similarity"`
	Confidence  speaker.Confidence `json:"confidence"`
}

// Result ranks enrolled speakers for one recording.
type Result struct {
	Audio     string  `json:"audio"`
	Backend   string  `json:"backend"`
	Threshold float64 `json:"threshold"`
	// Best is the top match when it reaches the threshold.
	Best    *Match  `json:"best"`
	Matches []Match `json:"matches"`
}

// Verification is the outcome of checking one claimed speaker.
type Verification struct {
	SpeakerID   string             `json:"speaker_id"`
	Audio       string             `json:"audio"`
	Backend     string             `json:"backend"`
	Threshold   float64            `json:"threshold"`
	EmbeddingID string             `json:"embedding_id,omitempty"`
	Similarity  float64            `json:"similarity"`
	Confidence  speaker.Confidence `json:"confidence"`
	Verified    bool               `json:"verified"`
}

// Matcher runs identify and verify against one backend.
type Matcher struct {
	store    *store.Store
	backend  backend.Backend
	bands    assign.Bands
	minTrust trust.Level
	logger   *slog.Logger
}

// Option customizes a Matcher.
type Option func(*Matcher)

// WithThreshold overrides the configured similarity threshold.
func WithThreshold(threshold float64) Option {
	return func(m *Matcher) { m.bands.Threshold = threshold }
}

// WithMinTrust overrides the configured trust floor.
func WithMinTrust(level trust.Level) Option {
	return func(m *Matcher) { m.minTrust = level }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Matcher) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// New builds a matcher from the assignment settings in cfg.
func New(cfg *config.Config, st *store.Store, b backend.Backend, opts ...Option) (*Matcher, error) {
	minTrust, err := trust.ParseFloor(cfg.Assignment.MinTrust)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "identify", "configure", "assignment.min_trust", err)
	}
	m := &Matcher{
		store:    st,
		backend:  b,
		bands:    assign.BandsFromConfig(cfg),
		minTrust: minTrust,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.NewComponentLogger(m.logger, "identify")
	return m, nil
}

// Identify ranks every enrolled speaker by similarity to audioPath. Empty
// segments compare the whole file.
func (m *Matcher) Identify(ctx context.Context, audioPath string, segments []speaker.Segment) (*Result, error) {
	idents, skipped, err := m.store.ListIdentities(ctx)
	if err != nil {
		return nil, err
	}
	if len(idents) == 0 && len(skipped) == 0 {
		return nil, ErrNoSpeakers
	}
	if err := checkAudio(audioPath); err != nil {
		return nil, err
	}
	profiles := make([]speaker.Profile, 0, len(idents))
	names := make(map[string]string, len(idents))
	for _, ident := range idents {
		profile, _, err := m.store.Profile(ctx, ident.ID)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, *profile)
		names[ident.ID] = ident.DisplayName("")
	}
	candidates := m.candidates(profiles)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w for backend %s at trust %s or above", ErrNoEmbeddings, m.backend.Name(), m.minTrust)
	}
	matches, err := m.compare(ctx, audioPath, segments, candidates)
	if err != nil {
		return nil, err
	}

	result := &Result{Audio: audioPath, Backend: m.backend.Name(), Threshold: m.bands.Threshold, Matches: []Match{}}
	for _, match := range matches {
		match.Name = names[match.SpeakerID]
		result.Matches = append(result.Matches, match)
	}
	if len(result.Matches) > 0 && result.Matches[0].Similarity >= m.bands.Threshold {
		best := result.Matches[0]
		result.Best = &best
	}
	attrs := []logging.Attr{
		logging.String("audio", audioPath),
		logging.Int("candidates", len(candidates)),
	}
	if result.Best != nil {
		attrs = append(attrs, logging.String("best", result.Best.SpeakerID), logging.Float64("similarity", result.Best.Similarity))
	}
	m.logger.Info("identify complete", logging.Args(attrs...)...)
	return result, nil
}

// Verify reports whether audioPath sounds like speakerID.
func (m *Matcher) Verify(ctx context.Context, speakerID, audioPath string, segments []speaker.Segment) (*Verification, error) {
	profile, _, err := m.store.Profile(ctx, speakerID)
	if err != nil {
		return nil, err
	}
	if err := checkAudio(audioPath); err != nil {
		return nil, err
	}
	candidates := m.candidates([]speaker.Profile{*profile})
	if len(candidates) == 0 {
		return nil, services.Wrap(services.ErrValidation, "identify", "verify",
			fmt.Sprintf("No %s embeddings for speaker %s at trust %s or above", m.backend.Name(), speakerID, m.minTrust), nil)
	}
	matches, err := m.compare(ctx, audioPath, segments, candidates)
	if err != nil {
		return nil, err
	}
	v := &Verification{
		SpeakerID:  speakerID,
		Audio:      audioPath,
		Backend:    m.backend.Name(),
		Threshold:  m.bands.Threshold,
		Confidence: speaker.ConfidenceUnassigned,
	}
	if len(matches) > 0 {
		v.EmbeddingID = matches[0].EmbeddingID
		v.Similarity = matches[0].Similarity
		v.Confidence = matches[0].Confidence
		v.Verified = v.Similarity >= m.bands.Threshold
	}
	m.logger.Info("verify complete",
		logging.String("speaker_id", speakerID),
		logging.Float64("similarity", v.Similarity),
		logging.Bool("verified", v.Verified),
	)
	return v, nil
}

func (m *Matcher) candidates(profiles []speaker.Profile) []backend.Candidate {
	collector := signals.New(m.backend, signals.WithMinTrust(m.minTrust), signals.WithLogger(m.logger))
	return collector.Candidates(profiles)
}

// compare keeps each speaker's best similarity, strongest first.
func (m *Matcher) compare(ctx context.Context, audioPath string, segments []speaker.Segment, candidates []backend.Candidate) ([]Match, error) {
	raw, err := m.backend.Identify(ctx, audioPath, segments, candidates, 0)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, services.Wrap(services.ErrExternalTool, "identify", "compare", m.backend.Name(), err)
	}
	best := map[string]backend.Match{}
	for _, r := range raw {
		if cur, ok := best[r.SpeakerID]; !ok || r.Similarity > cur.Similarity {
			best[r.SpeakerID] = r
		}
	}
	out := make([]Match, 0, len(best))
	for _, r := range best {
		out = append(out, Match{
			SpeakerID:   r.SpeakerID,
			EmbeddingID: r.EmbeddingID,
			Similarity:  r.Similarity,
			Confidence:  m.bands.Tier(r.Similarity),
		})
	}
	slices.SortFunc(out, func(a, b Match) int {
		switch {
		case a.Similarity > b.Similarity:
			return -1
		case a.Similarity < b.Similarity:
			return 1
		default:
			return strings.Compare(a.SpeakerID, b.SpeakerID)
		}
	})
	return out, nil
}

func checkAudio(path string) error {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return services.Wrap(services.ErrNotFound, "identify", "audio", "audio file not found: "+path, nil)
	case err != nil:
		return services.Wrap(services.ErrValidation, "identify", "audio", path, err)
	case info.IsDir():
		return services.Wrap(services.ErrValidation, "identify", "audio", "audio path is a directory: "+path, nil)
	}
	return nil
}
