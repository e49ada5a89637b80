// Package transcript reads diarized transcripts produced by AssemblyAI and
// Speechmatics into a common utterance list.
package transcript

import (
	"cmp"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/contenthash"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/services"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/speaker"
)

// Format names a transcript provider layout.
type Format string

const (
	FormatAssemblyAI   Format = "assemblyai"
	FormatSpeechmatics Format = "speechmatics"
	FormatUnknown      Format = "unknown"
)

const (
	// MinSegmentDuration drops spans shorter than this before merging.
	MinSegmentDuration = 0.5
	// MaxMergeGap joins spans separated by at most this many seconds.
	MaxMergeGap = 1.0
	// unlabeled is the label given to Speechmatics words without a speaker.
	unlabeled = "UU"
)

// Utterance is a contiguous run of speech by one label.
type Utterance struct {
	Label string
	Start float64
	End   float64
	Text  string
}

// Segment returns the time span of the utterance.
func (u Utterance) Segment() speaker.Segment {
	return speaker.Segment{Start: u.Start, End: u.End}
}

// Transcript is a parsed transcript.
type Transcript struct {
	Format     Format
	Digest     string
	Utterances []Utterance
	labels     []string
}

// Load reads and parses a transcript file.
func Load(path string) (*Transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, services.Wrap(services.ErrNotFound, "transcript", "read", path, err)
	}
	return Parse(data)
}

// Parse decodes transcript JSON.
func Parse(data []byte) (*Transcript, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, services.Wrap(services.ErrValidation, "transcript", "parse", "invalid JSON", err)
	}
	t := &Transcript{Format: DetectFormat(doc), Digest: contenthash.Sum(data)}
	var err error
	switch t.Format {
	case FormatAssemblyAI:
		err = t.parseAssemblyAI(doc["utterances"])
	case FormatSpeechmatics:
		err = t.parseSpeechmatics(doc["results"])
	default:
		return nil, services.Wrap(services.ErrValidation, "transcript", "parse",
			"unrecognized transcript format (expected AssemblyAI utterances or Speechmatics results)", nil)
	}
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "transcript", "parse", string(t.Format), err)
	}
	slices.Sort(t.labels)
	t.labels = slices.Compact(t.labels)
	return t, nil
}

// DetectFormat inspects the top-level keys of a transcript document.
func DetectFormat(doc map[string]json.RawMessage) Format {
	if _, ok := doc["utterances"]; ok {
		return FormatAssemblyAI
	}
	raw, ok := doc["results"]
	if !ok {
		return FormatUnknown
	}
	var results []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &results); err != nil || len(results) == 0 {
		return FormatUnknown
	}
	first := results[0]
	if _, ok := first["alternatives"]; ok {
		return FormatSpeechmatics
	}
	if _, ok := first["start_time"]; ok {
		return FormatSpeechmatics
	}
	var kind string
	if err := json.Unmarshal(first["type"], &kind); err == nil && (kind == "word" || kind == "punctuation") {
		return FormatSpeechmatics
	}
	return FormatUnknown
}

type assemblyUtterance struct {
	Speaker *string `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
}

func (t *Transcript) parseAssemblyAI(raw json.RawMessage) error {
	var utterances []assemblyUtterance
	if err := json.Unmarshal(raw, &utterances); err != nil {
		return fmt.Errorf("decode utterances: %w", err)
	}
	for _, u := range utterances {
		if u.Speaker == nil {
			continue
		}
		t.labels = append(t.labels, *u.Speaker)
		t.Utterances = append(t.Utterances, Utterance{
			Label: *u.Speaker,
			Start: u.Start / 1000,
			End:   u.End / 1000,
			Text:  strings.TrimSpace(u.Text),
		})
	}
	return nil
}

type speechmaticsAlternative struct {
	Content string `json:"content"`
	Speaker string `json:"speaker"`
}

type speechmaticsItem struct {
	Type         string                    `json:"type"`
	Speaker      string                    `json:"speaker"`
	StartTime    float64                   `json:"start_time"`
	EndTime      float64                   `json:"end_time"`
	Alternatives []speechmaticsAlternative `json:"alternatives"`
}

func (t *Transcript) parseSpeechmatics(raw json.RawMessage) error {
	var items []speechmaticsItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return fmt.Errorf("decode results: %w", err)
	}
	var (
		current *Utterance
		words   []string
	)
	flush := func() {
		if current == nil {
			return
		}
		current.Text = strings.Join(words, " ")
		t.Utterances = append(t.Utterances, *current)
		current, words = nil, nil
	}
	for _, item := range items {
		if item.Type != "word" {
			continue
		}
		label := item.Speaker
		content := ""
		for i, alt := range item.Alternatives {
			if alt.Speaker != "" {
				t.labels = append(t.labels, alt.Speaker)
			}
			if i == 0 {
				if label == "" {
					label = alt.Speaker
				}
				content = alt.Content
			}
		}
		if item.Speaker != "" {
			t.labels = append(t.labels, item.Speaker)
		}
		if label == "" {
			label = unlabeled
		}
		if current == nil || current.Label != label {
			flush()
			current = &Utterance{Label: label, Start: item.StartTime}
		}
		current.End = item.EndTime
		if content != "" {
			words = append(words, content)
		}
	}
	flush()
	return nil
}

// Speakers returns the sorted unique speaker labels.
func (t *Transcript) Speakers() []string {
	return slices.Clone(t.labels)
}

// RawSegments returns every span spoken by label, unmerged.
func (t *Transcript) RawSegments(label string) []speaker.Segment {
	var out []speaker.Segment
	for _, u := range t.Utterances {
		if u.Label == label {
			out = append(out, u.Segment())
		}
	}
	return out
}

// Segments returns the spans spoken by label after dropping spans shorter
// than MinSegmentDuration and merging neighbours at most MaxMergeGap apart.
func (t *Transcript) Segments(label string) []Utterance {
	var merged []Utterance
	for _, u := range t.Utterances {
		if u.Label != label || u.End-u.Start < MinSegmentDuration {
			continue
		}
		if n := len(merged); n > 0 && u.Start-merged[n-1].End <= MaxMergeGap {
			merged[n-1].End = u.End
			if u.Text != "" {
				merged[n-1].Text = strings.TrimSpace(merged[n-1].Text + " " + u.Text)
			}
			continue
		}
		merged = append(merged, u)
	}
	return merged
}

// SegmentSpans is Segments without the text.
func (t *Transcript) SegmentSpans(label string) []speaker.Segment {
	utterances := t.Segments(label)
	out := make([]speaker.Segment, 0, len(utterances))
	for _, u := range utterances {
		out = append(out, u.Segment())
	}
	return out
}

// MergeSpans joins spans separated by at most gap seconds. A gap of zero or
// less returns the spans unchanged, ordered by start.
func MergeSpans(spans []speaker.Segment, gap float64) []speaker.Segment {
	out := slices.Clone(spans)
	slices.SortStableFunc(out, func(a, b speaker.Segment) int { return cmp.Compare(a.Start, b.Start) })
	if gap <= 0 {
		return out
	}
	merged := out[:0]
	for _, s := range out {
		if n := len(merged); n > 0 && s.Start-merged[n-1].End <= gap {
			merged[n-1].End = max(merged[n-1].End, s.End)
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

// Text returns every utterance of label joined by spaces.
func (t *Transcript) Text(label string) string {
	var parts []string
	for _, u := range t.Utterances {
		if u.Label == label && u.Text != "" {
			parts = append(parts, u.Text)
		}
	}
	return strings.Join(parts, " ")
}

// Sample renders the transcript as "[label] text" lines, truncated at a line
// boundary to at most maxChars characters. Zero means no limit.
func (t *Transcript) Sample(maxChars int) string {
	var b strings.Builder
	for _, u := range t.Utterances {
		if u.Text == "" {
			continue
		}
		line := fmt.Sprintf("[%s] %s\n", u.Label, u.Text)
		if maxChars > 0 && b.Len()+len(line) > maxChars {
			break
		}
		b.WriteString(line)
	}
	return b.String()
}
