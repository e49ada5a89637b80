package namedetect

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
)

// Confidence is the qualitative strength of a detected name.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
	ConfidenceNone   Confidence = "none"
)

// ConfidenceFromScore maps a model-reported probability onto a tier.
func ConfidenceFromScore(score float64) Confidence {
	switch {
	case score >= 0.85:
		return ConfidenceHigh
	case score >= 0.60:
		return ConfidenceMedium
	case score > 0:
		return ConfidenceLow
	default:
		return ConfidenceNone
	}
}

// ParseConfidence accepts either a tier name or a numeric score.
func ParseConfidence(value string) Confidence {
	value = strings.ToLower(strings.TrimSpace(value))
	switch Confidence(value) {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return Confidence(value)
	}
	if score, err := strconv.ParseFloat(value, 64); err == nil {
		return ConfidenceFromScore(score)
	}
	return ConfidenceNone
}

// Detection is the name found for one diarization label.
type Detection struct {
	Label      string     `json:"speaker_label" msgpack:"label"`
	Name       string     `json:"detected_name" msgpack:"name"`
	Confidence Confidence `json:"confidence" msgpack:"confidence"`
	Evidence   []string   `json:"evidence" msgpack:"evidence"`
}

// Detector returns the names revealed for each label. Labels without a
// detected name are absent from the result.
type Detector interface {
	Detect(ctx context.Context, sample string, labels []string) (map[string]Detection, error)
}

type response struct {
	Detections []rawDetection `json:"detections"`
	Notes      string         `json:"notes"`
}

type rawDetection struct {
	Label      string          `json:"speaker_label"`
	Name       *string         `json:"detected_name"`
	Confidence json.RawMessage `json:"confidence"`
	Evidence   []string        `json:"evidence"`
}

func (r rawDetection) confidence() Confidence {
	raw := strings.TrimSpace(string(r.Confidence))
	if raw == "" || raw == "null" {
		return ConfidenceNone
	}
	var text string
	if err := json.Unmarshal(r.Confidence, &text); err == nil {
		return ParseConfidence(text)
	}
	var score float64
	if err := json.Unmarshal(r.Confidence, &score); err == nil {
		return ConfidenceFromScore(score)
	}
	return ConfidenceNone
}

// normalize keeps detections for requested labels that name someone with
// usable confidence. The first detection for a label wins.
func (r response) normalize(labels []string) map[string]Detection {
	wanted := make(map[string]struct{}, len(labels))
	for _, label := range labels {
		wanted[label] = struct{}{}
	}
	out := make(map[string]Detection, len(labels))
	for _, raw := range r.Detections {
		label := strings.TrimSpace(raw.Label)
		if _, ok := wanted[label]; !ok {
			continue
		}
		if _, seen := out[label]; seen {
			continue
		}
		if raw.Name == nil || strings.TrimSpace(*raw.Name) == "" {
			continue
		}
		conf := raw.confidence()
		if conf == ConfidenceNone {
			continue
		}
		evidence := make([]string, 0, len(raw.Evidence))
		for _, e := range raw.Evidence {
			if e = strings.TrimSpace(e); e != "" {
				evidence = append(evidence, e)
			}
		}
		out[label] = Detection{
			Label:      label,
			Name:       strings.TrimSpace(*raw.Name),
			Confidence: conf,
			Evidence:   evidence,
		}
	}
	return out
}
