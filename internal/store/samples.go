package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/schema"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/speaker"
)

const kindSample = "sample"

func sampleKey(speakerID, digest string) string {
	return speakerID + "/" + digest
}

// InsertSample stores a new sample. It fails with ErrExists when the
// (speaker, digest) pair is already present.
func (s *Store) InsertSample(ctx context.Context, sample *speaker.Sample) error {
	sample.SchemaVersion = speaker.SampleVersion
	body, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("encode sample: %w", err)
	}
	now := s.timestamp()
	_, err = s.exec(ctx,
		`INSERT INTO samples (speaker_id, digest, recording_digest, review_status, body, revision, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 1, ?, ?)`,
		sample.SpeakerID, sample.Digest, sample.SourceRecordingDigest, string(sample.Review.Status), string(body), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: sample %s", ErrExists, sampleKey(sample.SpeakerID, sample.Digest))
		}
		return fmt.Errorf("insert sample: %w", err)
	}
	sample.Revision = 1
	return nil
}

// GetSample loads one sample for a speaker.
func (s *Store) GetSample(ctx context.Context, speakerID, digest string) (*speaker.Sample, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT body, revision FROM samples WHERE speaker_id = ? AND digest = ?`, speakerID, digest)
	var (
		body     string
		revision int64
	)
	if err := row.Scan(&body, &revision); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(kindSample, sampleKey(speakerID, digest))
		}
		return nil, fmt.Errorf("load sample: %w", err)
	}
	var sample speaker.Sample
	if _, err := schema.DecodeJSON(schema.Sample, []byte(body), &sample); err != nil {
		return nil, CorruptRecord{Kind: kindSample, Key: sampleKey(speakerID, digest), Err: err}
	}
	sample.Revision = revision
	return &sample, nil
}

// SampleFilter narrows ListSamples.
type SampleFilter struct {
	SpeakerID string
	Status    speaker.ReviewStatus
}

// ListSamples returns samples ordered by speaker and creation time.
func (s *Store) ListSamples(ctx context.Context, filter SampleFilter) ([]speaker.Sample, []CorruptRecord, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.SpeakerID != "" {
		clauses = append(clauses, "speaker_id = ?")
		args = append(args, filter.SpeakerID)
	}
	if filter.Status != "" {
		clauses = append(clauses, "review_status = ?")
		args = append(args, string(filter.Status))
	}
	query := `SELECT speaker_id, digest, body, revision FROM samples`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY speaker_id, created_at, digest"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("list samples: %w", err)
	}
	defer rows.Close()

	var (
		out     []speaker.Sample
		corrupt []CorruptRecord
	)
	for rows.Next() {
		var (
			speakerID, digest, body string
			revision                int64
		)
		if err := rows.Scan(&speakerID, &digest, &body, &revision); err != nil {
			return nil, nil, fmt.Errorf("scan sample: %w", err)
		}
		var sample speaker.Sample
		if _, err := schema.DecodeJSON(schema.Sample, []byte(body), &sample); err != nil {
			corrupt = append(corrupt, CorruptRecord{Kind: kindSample, Key: sampleKey(speakerID, digest), Err: err})
			continue
		}
		sample.Revision = revision
		out = append(out, sample)
	}
	return out, corrupt, rows.Err()
}

// UpdateSample writes sample if its revision still matches the stored one.
// The digest and speaker are the key and never change.
func (s *Store) UpdateSample(ctx context.Context, sample *speaker.Sample) error {
	sample.SchemaVersion = speaker.SampleVersion
	body, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("encode sample: %w", err)
	}
	res, err := s.exec(ctx,
		`UPDATE samples SET body = ?, review_status = ?, revision = revision + 1, updated_at = ?
		 WHERE speaker_id = ? AND digest = ? AND revision = ?`,
		string(body), string(sample.Review.Status), s.timestamp(), sample.SpeakerID, sample.Digest, sample.Revision,
	)
	if err != nil {
		return fmt.Errorf("update sample: %w", err)
	}
	key := sampleKey(sample.SpeakerID, sample.Digest)
	if err := casResult(res, kindSample, key, func() (bool, error) {
		return s.rowExists(ctx, `SELECT COUNT(1) FROM samples WHERE speaker_id = ? AND digest = ?`, sample.SpeakerID, sample.Digest)
	}); err != nil {
		return err
	}
	sample.Revision++
	return nil
}

// SampleCounts returns the number of samples per review status.
func (s *Store) SampleCounts(ctx context.Context) (map[speaker.ReviewStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT review_status, COUNT(*) FROM samples GROUP BY review_status`)
	if err != nil {
		return nil, fmt.Errorf("count samples: %w", err)
	}
	defer rows.Close()
	out := map[speaker.ReviewStatus]int{}
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan sample count: %w", err)
		}
		out[speaker.ReviewStatus(status)] = count
	}
	return out, rows.Err()
}
