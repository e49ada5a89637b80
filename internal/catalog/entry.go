package catalog

import (
	"slices"
	"strings"
	"time"
)

// EntryVersion is the current catalog document version.
const EntryVersion = 1

// Status summarizes how far a recording has progressed.
type Status string

const (
	StatusUnprocessed Status = "unprocessed"
	StatusTranscribed Status = "transcribed"
	StatusAssigned    Status = "assigned"
)

// Recording identifies the audio file.
type Recording struct {
	Path        string    `yaml:"path" json:"path"`
	Digest      string    `yaml:"b3sum" json:"b3sum"`
	SizeBytes   int64     `yaml:"size_bytes" json:"size_bytes"`
	DurationSec float64   `yaml:"duration_sec,omitempty" json:"duration_sec,omitempty"`
	AddedAt     time.Time `yaml:"added_at" json:"added_at"`
}

// Context describes the setting of a recording.
type Context struct {
	Name             string   `yaml:"name,omitempty" json:"name,omitempty"`
	Tags             []string `yaml:"tags" json:"tags"`
	ExpectedSpeakers []string `yaml:"expected_speakers" json:"expected_speakers"`
}

// Transcription is a transcript registered for a recording.
type Transcription struct {
	Backend      string    `yaml:"backend" json:"backend"`
	Path         string    `yaml:"path" json:"path"`
	Digest       string    `yaml:"b3sum" json:"b3sum"`
	Format       string    `yaml:"format" json:"format"`
	Speakers     int       `yaml:"speakers" json:"speakers"`
	RegisteredAt time.Time `yaml:"registered_at" json:"registered_at"`
}

// Entry is one catalogued recording.
type Entry struct {
	SchemaVersion  int             `yaml:"schema_version" json:"schema_version"`
	Recording      Recording       `yaml:"recording" json:"recording"`
	Context        Context         `yaml:"context" json:"context"`
	Transcriptions []Transcription `yaml:"transcriptions" json:"transcriptions"`
	UpdatedAt      time.Time       `yaml:"updated_at" json:"updated_at"`
}

// Digest is the recording content digest.
func (e Entry) Digest() string {
	return e.Recording.Digest
}

// Status reports progress. assigned says whether an assignment record exists.
func (e Entry) Status(assigned bool) Status {
	switch {
	case assigned:
		return StatusAssigned
	case len(e.Transcriptions) > 0:
		return StatusTranscribed
	default:
		return StatusUnprocessed
	}
}

// Transcript returns the registered transcript for backend, or the most
// recently registered one when backend is empty.
func (e Entry) Transcript(backend string) (Transcription, bool) {
	if len(e.Transcriptions) == 0 {
		return Transcription{}, false
	}
	if backend == "" {
		latest := e.Transcriptions[0]
		for _, t := range e.Transcriptions[1:] {
			if t.RegisteredAt.After(latest.RegisteredAt) {
				latest = t
			}
		}
		return latest, true
	}
	for _, t := range e.Transcriptions {
		if strings.EqualFold(t.Backend, backend) {
			return t, true
		}
	}
	return Transcription{}, false
}

// HasTag reports whether the context carries tag.
func (e Entry) HasTag(tag string) bool {
	return slices.ContainsFunc(e.Context.Tags, func(t string) bool { return strings.EqualFold(t, tag) })
}

// ContextUpdate changes a recording's context. Nil fields are left alone.
type ContextUpdate struct {
	Name             *string
	ExpectedSpeakers []string
	AddTags          []string
	RemoveTags       []string
}

func (u ContextUpdate) apply(ctx *Context) {
	if u.Name != nil {
		ctx.Name = strings.TrimSpace(*u.Name)
	}
	if u.ExpectedSpeakers != nil {
		ctx.ExpectedSpeakers = normalizeList(u.ExpectedSpeakers)
	}
	ctx.Tags = mergeList(ctx.Tags, u.AddTags)
	ctx.Tags = slices.DeleteFunc(ctx.Tags, func(tag string) bool {
		return slices.ContainsFunc(u.RemoveTags, func(drop string) bool {
			return strings.EqualFold(tag, strings.TrimSpace(drop))
		})
	})
}

func normalizeList(values []string) []string {
	return mergeList(nil, values)
}

func mergeList(existing, add []string) []string {
	out := slices.Clone(existing)
	if out == nil {
		out = []string{}
	}
	for _, v := range add {
		v = strings.TrimSpace(v)
		if v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return out
}

// SplitList parses a comma separated flag value.
func SplitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
