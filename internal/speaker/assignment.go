package speaker

// AssignmentVersion is the current assignment document version.
const AssignmentVersion = 1

// SignalType names an evidence source.
type SignalType string

const (
	SignalEmbedding SignalType = "embedding"
	SignalName      SignalType = "name"
	SignalContext   SignalType = "context"
)

// Confidence is the qualitative tier of an assignment score.
type Confidence string

const (
	ConfidenceHigh       Confidence = "high"
	ConfidenceMedium     Confidence = "medium"
	ConfidenceLow        Confidence = "low"
	ConfidenceUnassigned Confidence = "unassigned"
)

// Percent is the reporting percentage for the tier.
func (c Confidence) Percent() int {
	switch c {
	case ConfidenceHigh:
		return 90
	case ConfidenceMedium:
		return 70
	case ConfidenceLow:
		return 40
	default:
		return 0
	}
}

// Signal is one piece of evidence linking a label to a candidate.
type Signal struct {
	Type      SignalType `json:"type" yaml:"type"`
	SpeakerID string     `json:"speaker_id" yaml:"speaker_id"`
	Score     float64    `json:"score" yaml:"score"`
	Evidence  string     `json:"evidence" yaml:"evidence"`
}

// Candidate is a ranked identity for a label.
type Candidate struct {
	SpeakerID string  `json:"speaker_id" yaml:"speaker_id"`
	Score     float64 `json:"score" yaml:"score"`
}

// Mapping is the resolution of one transcript label.
type Mapping struct {
	SpeakerID  *string     `json:"speaker_id" yaml:"speaker_id"`
	Score      float64     `json:"score" yaml:"score"`
	Confidence Confidence  `json:"confidence" yaml:"confidence"`
	Signals    []Signal    `json:"signals" yaml:"signals"`
	Candidates []Candidate `json:"candidates" yaml:"candidates"`
	Error      string      `json:"error,omitempty" yaml:"error,omitempty"`
}

// Assigned reports whether the label resolved to an identity.
func (m Mapping) Assigned() bool {
	return m.SpeakerID != nil
}

// Assignment is the complete resolution of one recording, keyed by its
// content digest. Each run replaces the prior record wholesale.
type Assignment struct {
	SchemaVersion    int                `json:"schema_version" yaml:"schema_version"`
	RecordingDigest  string             `json:"recording_b3sum" yaml:"recording_b3sum"`
	TranscriptDigest string             `json:"transcript_b3sum" yaml:"transcript_b3sum"`
	Method           string             `json:"method" yaml:"method"`
	Backend          string             `json:"backend" yaml:"backend"`
	Threshold        float64            `json:"threshold" yaml:"threshold"`
	MinTrust         string             `json:"min_trust" yaml:"min_trust"`
	Context          string             `json:"context,omitempty" yaml:"context,omitempty"`
	ExpectedSpeakers []string           `json:"expected_speakers" yaml:"expected_speakers"`
	Mappings         map[string]Mapping `json:"mappings" yaml:"mappings"`
}

// LowestConfidence returns the weakest tier among the mappings.
func (a Assignment) LowestConfidence() Confidence {
	lowest := ConfidenceHigh
	for _, m := range a.Mappings {
		if m.Confidence.Percent() < lowest.Percent() {
			lowest = m.Confidence
		}
	}
	return lowest
}
