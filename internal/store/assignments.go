package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/schema"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/services"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/speaker"
)

const kindAssignment = "assignment"

// StoredAssignment pairs an assignment with its storage timestamps.
type StoredAssignment struct {
	speaker.Assignment
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PutAssignment replaces the assignment for a recording wholesale.
func (s *Store) PutAssignment(ctx context.Context, a *speaker.Assignment) error {
	if a.RecordingDigest == "" {
		return fmt.Errorf("%w: assignment has no recording digest", services.ErrValidation)
	}
	a.SchemaVersion = speaker.AssignmentVersion
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode assignment: %w", err)
	}
	now := s.timestamp()
	_, err = s.exec(ctx,
		`INSERT INTO assignments (recording_digest, body, revision, created_at, updated_at)
		 VALUES (?, ?, 1, ?, ?)
		 ON CONFLICT(recording_digest) DO UPDATE SET
		   body = excluded.body,
		   revision = assignments.revision + 1,
		   updated_at = excluded.updated_at`,
		a.RecordingDigest, string(body), now, now,
	)
	if err != nil {
		return fmt.Errorf("put assignment: %w", err)
	}
	return nil
}

// GetAssignment loads the assignment for a recording digest.
func (s *Store) GetAssignment(ctx context.Context, recordingDigest string) (*StoredAssignment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT body, created_at, updated_at FROM assignments WHERE recording_digest = ?`, recordingDigest)
	var body, created, updated string
	if err := row.Scan(&body, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(kindAssignment, recordingDigest)
		}
		return nil, fmt.Errorf("load assignment: %w", err)
	}
	return decodeAssignment(recordingDigest, body, created, updated)
}

func decodeAssignment(key, body, created, updated string) (*StoredAssignment, error) {
	var out StoredAssignment
	if _, err := schema.DecodeJSON(schema.Assignment, []byte(body), &out.Assignment); err != nil {
		return nil, CorruptRecord{Kind: kindAssignment, Key: key, Err: err}
	}
	if ts, err := parseTimeString(created); err == nil {
		out.CreatedAt = ts
	}
	if ts, err := parseTimeString(updated); err == nil {
		out.UpdatedAt = ts
	}
	return &out, nil
}

// ListAssignments returns every stored assignment ordered by recording digest.
func (s *Store) ListAssignments(ctx context.Context) ([]StoredAssignment, []CorruptRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT recording_digest, body, created_at, updated_at FROM assignments ORDER BY recording_digest`)
	if err != nil {
		return nil, nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	var (
		out     []StoredAssignment
		corrupt []CorruptRecord
	)
	for rows.Next() {
		var key, body, created, updated string
		if err := rows.Scan(&key, &body, &created, &updated); err != nil {
			return nil, nil, fmt.Errorf("scan assignment: %w", err)
		}
		stored, err := decodeAssignment(key, body, created, updated)
		if err != nil {
			var rec CorruptRecord
			if errors.As(err, &rec) {
				corrupt = append(corrupt, rec)
				continue
			}
			return nil, nil, err
		}
		out = append(out, *stored)
	}
	return out, corrupt, rows.Err()
}

// DeleteAssignment removes the assignment for a recording digest.
func (s *Store) DeleteAssignment(ctx context.Context, recordingDigest string) (bool, error) {
	res, err := s.exec(ctx, `DELETE FROM assignments WHERE recording_digest = ?`, recordingDigest)
	if err != nil {
		return false, fmt.Errorf("delete assignment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}
