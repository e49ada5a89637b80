package speaker

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// SampleVersion is the current sample document version.
const SampleVersion = 1

// ReviewStatus is the human review state of a sample.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewReviewed ReviewStatus = "reviewed"
	ReviewRejected ReviewStatus = "rejected"
)

// ParseDecision converts a review decision. "approve" and "approved" are
// accepted as aliases for reviewed, "reject" for rejected.
func ParseDecision(value string) (ReviewStatus, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "reviewed", "approve", "approved":
		return ReviewReviewed, nil
	case "rejected", "reject":
		return ReviewRejected, nil
	default:
		return "", fmt.Errorf("unknown review decision %q (expected approve or reject)", value)
	}
}

// Segment is a time span in seconds within a source recording.
type Segment struct {
	Start float64 `json:"start" yaml:"start"`
	End   float64 `json:"end" yaml:"end"`
}

// Duration returns the segment length in seconds.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// Valid reports whether the segment is a non-empty forward span.
func (s Segment) Valid() bool {
	return s.Start >= 0 && s.End > s.Start && !math.IsInf(s.End, 0) && !math.IsNaN(s.Start)
}

// Equal compares segments at millisecond precision.
func (s Segment) Equal(other Segment) bool {
	return math.Abs(s.Start-other.Start) < 0.0005 && math.Abs(s.End-other.End) < 0.0005
}

func (s Segment) String() string {
	return fmt.Sprintf("%.2f-%.2f", s.Start, s.End)
}

// Review is the last review decision recorded for a sample.
type Review struct {
	Status     ReviewStatus `json:"status"`
	ReviewedAt *time.Time   `json:"reviewed_at"`
	Notes      string       `json:"notes,omitempty"`
}

// Sample is an extracted clip that serves as enrollment evidence for one
// speaker. Its digest never changes; only Review is mutable.
type Sample struct {
	SchemaVersion         int       `json:"schema_version"`
	SpeakerID             string    `json:"speaker_id"`
	Digest                string    `json:"digest"`
	SourceRecordingDigest string    `json:"source_recording_digest"`
	Segment               Segment   `json:"segment"`
	Label                 string    `json:"label,omitempty"`
	Text                  string    `json:"text,omitempty"`
	ClipPath              string    `json:"clip_path,omitempty"`
	Review                Review    `json:"review"`
	CreatedAt             time.Time `json:"created_at"`

	Revision int64 `json:"-"`
}

// Bucket returns the partition bucket matching the sample's current review.
func (s Sample) Bucket() Bucket {
	return BucketFor(s.Review.Status)
}
