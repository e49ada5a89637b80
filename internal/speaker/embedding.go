package speaker

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/trust"
)

// EmbeddingVersion is the current embedding document version.
const EmbeddingVersion = 1

// Bucket names the partition a sample digest belongs to.
type Bucket string

const (
	BucketReviewed   Bucket = "reviewed"
	BucketUnreviewed Bucket = "unreviewed"
	BucketRejected   Bucket = "rejected"
)

// BucketFor maps a review status to its partition bucket.
func BucketFor(status ReviewStatus) Bucket {
	switch status {
	case ReviewReviewed:
		return BucketReviewed
	case ReviewRejected:
		return BucketRejected
	default:
		return BucketUnreviewed
	}
}

// Partition indexes sample digests by bucket. Keying by digest keeps the
// three buckets disjoint.
type Partition map[string]Bucket

// Set places digest in bucket, moving it out of any other bucket.
func (p Partition) Set(digest string, bucket Bucket) {
	p[digest] = bucket
}

// Digests returns the sorted digests in bucket.
func (p Partition) Digests(bucket Bucket) []string {
	out := make([]string, 0, len(p))
	for digest, b := range p {
		if b == bucket {
			out = append(out, digest)
		}
	}
	slices.Sort(out)
	return out
}

// All returns every digest in sorted order.
func (p Partition) All() []string {
	out := make([]string, 0, len(p))
	for digest := range p {
		out = append(out, digest)
	}
	slices.Sort(out)
	return out
}

// Counts returns the bucket sizes.
func (p Partition) Counts() (reviewed, unreviewed, rejected int) {
	for _, b := range p {
		switch b {
		case BucketReviewed:
			reviewed++
		case BucketRejected:
			rejected++
		default:
			unreviewed++
		}
	}
	return reviewed, unreviewed, rejected
}

// Trust evaluates the partition.
func (p Partition) Trust() trust.Level {
	return trust.Evaluate(p.Counts())
}

// Clone returns an independent copy.
func (p Partition) Clone() Partition {
	out := make(Partition, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Equal reports whether both partitions place every digest identically.
func (p Partition) Equal(other Partition) bool {
	if len(p) != len(other) {
		return false
	}
	for k, v := range p {
		if other[k] != v {
			return false
		}
	}
	return true
}

type partitionLists struct {
	Reviewed   []string `json:"reviewed"`
	Unreviewed []string `json:"unreviewed"`
	Rejected   []string `json:"rejected"`
}

// MarshalJSON writes the three buckets as sorted lists.
func (p Partition) MarshalJSON() ([]byte, error) {
	return json.Marshal(partitionLists{
		Reviewed:   p.Digests(BucketReviewed),
		Unreviewed: p.Digests(BucketUnreviewed),
		Rejected:   p.Digests(BucketRejected),
	})
}

// UnmarshalJSON rejects documents that list a digest in two buckets.
func (p *Partition) UnmarshalJSON(data []byte) error {
	var lists partitionLists
	if err := json.Unmarshal(data, &lists); err != nil {
		return err
	}
	out := Partition{}
	for _, group := range []struct {
		bucket  Bucket
		digests []string
	}{
		{BucketReviewed, lists.Reviewed},
		{BucketUnreviewed, lists.Unreviewed},
		{BucketRejected, lists.Rejected},
	} {
		for _, digest := range group.digests {
			if prev, ok := out[digest]; ok {
				return fmt.Errorf("sample %s listed as both %s and %s", digest, prev, group.bucket)
			}
			out[digest] = group.bucket
		}
	}
	*p = out
	return nil
}

// EmbeddingRecord is a stored voice fingerprint for one (identity, backend)
// pair together with the provenance that justifies its trust level.
type EmbeddingRecord struct {
	SchemaVersion         int         `json:"schema_version"`
	ID                    string      `json:"id"`
	SpeakerID             string      `json:"speaker_id"`
	Backend               string      `json:"backend"`
	Handle                []byte      `json:"handle"`
	ModelVersion          string      `json:"model_version"`
	SourceRecordingDigest string      `json:"source_recording_digest"`
	Segments              []Segment   `json:"segments"`
	Samples               Partition   `json:"samples"`
	TrustLevel            trust.Level `json:"trust_level"`
	CreatedAt             time.Time   `json:"created_at"`

	Revision int64 `json:"-"`
}
