package assign

import (
	"math"
	"slices"
	"strings"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/config"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/speaker"
)

// Bands holds the scoring constants.
type Bands struct {
	Threshold    float64
	High         float64
	Medium       float64
	ContextBoost float64
}

// DefaultBands returns the stock thresholds.
func DefaultBands() Bands {
	return Bands{Threshold: 0.354, High: 0.85, Medium: 0.60, ContextBoost: 0.10}
}

// BandsFromConfig reads the scoring constants from the assignment settings.
func BandsFromConfig(cfg *config.Config) Bands {
	return Bands{
		Threshold:    cfg.Assignment.Threshold,
		High:         cfg.Assignment.HighConfidence,
		Medium:       cfg.Assignment.MediumConfidence,
		ContextBoost: cfg.Assignment.ContextBoost,
	}
}

// Tier maps a combined score onto a confidence tier. Scores below the
// assignment threshold are always unassigned.
func (b Bands) Tier(score float64) speaker.Confidence {
	switch {
	case score < b.Threshold:
		return speaker.ConfidenceUnassigned
	case score >= b.High:
		return speaker.ConfidenceHigh
	case score >= b.Medium:
		return speaker.ConfidenceMedium
	default:
		return speaker.ConfidenceLow
	}
}

// Scored is one candidate's combined evidence for a label. Scores are kept
// at full precision; callers round only when recording them.
type Scored struct {
	SpeakerID string
	// Primary combines voice and name evidence.
	Primary float64
	// Score is Primary plus the capped context lift.
	Score float64
}

// Rank scores every candidate surfaced by signals, strongest first.
func Rank(signals []speaker.Signal, bands Bands) []Scored {
	type evidence struct {
		embedding, name float64
		expected        bool
	}
	byID := map[string]*evidence{}
	get := func(id string) *evidence {
		e, ok := byID[id]
		if !ok {
			e = &evidence{}
			byID[id] = e
		}
		return e
	}
	for _, s := range signals {
		switch s.Type {
		case speaker.SignalEmbedding:
			e := get(s.SpeakerID)
			e.embedding = math.Max(e.embedding, s.Score)
		case speaker.SignalName:
			e := get(s.SpeakerID)
			e.name = math.Max(e.name, s.Score)
		case speaker.SignalContext:
			get(s.SpeakerID).expected = true
		}
	}

	out := make([]Scored, 0, len(byID))
	for id, e := range byID {
		primary := combine(e.embedding, e.name)
		out = append(out, Scored{SpeakerID: id, Primary: primary, Score: primary})
	}
	for i := range out {
		if out[i].Primary <= 0 || !byID[out[i].SpeakerID].expected {
			continue
		}
		lifted := math.Min(out[i].Primary+bands.ContextBoost, 1)
		for _, other := range out {
			if other.Primary > out[i].Primary {
				lifted = math.Min(lifted, other.Primary)
			}
		}
		out[i].Score = lifted
	}
	slices.SortFunc(out, func(a, b Scored) int {
		switch {
		case a.Primary != b.Primary:
			return cmpDesc(a.Primary, b.Primary)
		case a.Score != b.Score:
			return cmpDesc(a.Score, b.Score)
		default:
			return strings.Compare(a.SpeakerID, b.SpeakerID)
		}
	})
	return out
}

// combine is the noisy-OR of the two independent sources. A lone source
// passes through unchanged.
func combine(embedding, name float64) float64 {
	switch {
	case name == 0:
		return embedding
	case embedding == 0:
		return name
	}
	return 1 - (1-embedding)*(1-name)
}

func cmpDesc(a, b float64) int {
	if a > b {
		return -1
	}
	return 1
}

func round(v float64) float64 {
	return math.Round(v*10000) / 10000
}
