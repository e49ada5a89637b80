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

const kindEmbedding = "embedding"

// InsertEmbedding stores a new embedding record.
func (s *Store) InsertEmbedding(ctx context.Context, emb *speaker.EmbeddingRecord) error {
	emb.SchemaVersion = speaker.EmbeddingVersion
	body, err := json.Marshal(emb)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}
	now := s.timestamp()
	_, err = s.exec(ctx,
		`INSERT INTO embeddings (id, speaker_id, backend, trust_level, body, revision, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 1, ?, ?)`,
		emb.ID, emb.SpeakerID, emb.Backend, string(emb.TrustLevel), string(body), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: embedding %q", ErrExists, emb.ID)
		}
		return fmt.Errorf("insert embedding: %w", err)
	}
	emb.Revision = 1
	return nil
}

// GetEmbedding loads one embedding record by id.
func (s *Store) GetEmbedding(ctx context.Context, id string) (*speaker.EmbeddingRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT body, revision FROM embeddings WHERE id = ?`, id)
	var (
		body     string
		revision int64
	)
	if err := row.Scan(&body, &revision); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(kindEmbedding, id)
		}
		return nil, fmt.Errorf("load embedding: %w", err)
	}
	var emb speaker.EmbeddingRecord
	if _, err := schema.DecodeJSON(schema.Embedding, []byte(body), &emb); err != nil {
		return nil, CorruptRecord{Kind: kindEmbedding, Key: id, Err: err}
	}
	emb.Revision = revision
	return &emb, nil
}

// EmbeddingFilter narrows ListEmbeddings.
type EmbeddingFilter struct {
	SpeakerID string
	Backend   string
}

// ListEmbeddings returns embedding records ordered by speaker, backend and
// creation time.
func (s *Store) ListEmbeddings(ctx context.Context, filter EmbeddingFilter) ([]speaker.EmbeddingRecord, []CorruptRecord, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.SpeakerID != "" {
		clauses = append(clauses, "speaker_id = ?")
		args = append(args, filter.SpeakerID)
	}
	if filter.Backend != "" {
		clauses = append(clauses, "backend = ?")
		args = append(args, filter.Backend)
	}
	query := `SELECT id, body, revision FROM embeddings`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY speaker_id, backend, created_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("list embeddings: %w", err)
	}
	defer rows.Close()

	var (
		out     []speaker.EmbeddingRecord
		corrupt []CorruptRecord
	)
	for rows.Next() {
		var (
			id, body string
			revision int64
		)
		if err := rows.Scan(&id, &body, &revision); err != nil {
			return nil, nil, fmt.Errorf("scan embedding: %w", err)
		}
		var emb speaker.EmbeddingRecord
		if _, err := schema.DecodeJSON(schema.Embedding, []byte(body), &emb); err != nil {
			corrupt = append(corrupt, CorruptRecord{Kind: kindEmbedding, Key: id, Err: err})
			continue
		}
		emb.Revision = revision
		out = append(out, emb)
	}
	return out, corrupt, rows.Err()
}

// UpdateEmbedding writes emb if its revision still matches the stored one.
func (s *Store) UpdateEmbedding(ctx context.Context, emb *speaker.EmbeddingRecord) error {
	emb.SchemaVersion = speaker.EmbeddingVersion
	body, err := json.Marshal(emb)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}
	res, err := s.exec(ctx,
		`UPDATE embeddings SET body = ?, trust_level = ?, revision = revision + 1, updated_at = ?
		 WHERE id = ? AND revision = ?`,
		string(body), string(emb.TrustLevel), s.timestamp(), emb.ID, emb.Revision,
	)
	if err != nil {
		return fmt.Errorf("update embedding: %w", err)
	}
	if err := casResult(res, kindEmbedding, emb.ID, func() (bool, error) {
		return s.rowExists(ctx, `SELECT COUNT(1) FROM embeddings WHERE id = ?`, emb.ID)
	}); err != nil {
		return err
	}
	emb.Revision++
	return nil
}

// DeleteEmbedding removes one embedding record.
func (s *Store) DeleteEmbedding(ctx context.Context, id string) (bool, error) {
	res, err := s.exec(ctx, `DELETE FROM embeddings WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete embedding: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}
