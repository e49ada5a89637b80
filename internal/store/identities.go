package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/schema"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/speaker"
)

const kindIdentity = "speaker"

// CreateIdentity inserts a new identity. It fails with ErrExists when the id
// is taken.
func (s *Store) CreateIdentity(ctx context.Context, ident *speaker.Identity) error {
	ident.SchemaVersion = speaker.IdentityVersion
	body, err := json.Marshal(ident)
	if err != nil {
		return fmt.Errorf("encode identity: %w", err)
	}
	now := s.timestamp()
	_, err = s.exec(ctx,
		`INSERT INTO speakers (id, body, revision, created_at, updated_at) VALUES (?, ?, 1, ?, ?)`,
		ident.ID, string(body), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: speaker %q", ErrExists, ident.ID)
		}
		return fmt.Errorf("insert identity: %w", err)
	}
	ident.Revision = 1
	return nil
}

// GetIdentity loads one identity.
func (s *Store) GetIdentity(ctx context.Context, id string) (*speaker.Identity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT body, revision FROM speakers WHERE id = ?`, id)
	var (
		body     string
		revision int64
	)
	if err := row.Scan(&body, &revision); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(kindIdentity, id)
		}
		return nil, fmt.Errorf("load identity: %w", err)
	}
	var ident speaker.Identity
	if _, err := schema.DecodeJSON(schema.Identity, []byte(body), &ident); err != nil {
		return nil, CorruptRecord{Kind: kindIdentity, Key: id, Err: err}
	}
	ident.Revision = revision
	return &ident, nil
}

// ListIdentities returns every decodable identity ordered by id, plus the
// keys of rows that failed to decode.
func (s *Store) ListIdentities(ctx context.Context) ([]speaker.Identity, []CorruptRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, body, revision FROM speakers ORDER BY id`)
	if err != nil {
		return nil, nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	var (
		out     []speaker.Identity
		corrupt []CorruptRecord
	)
	for rows.Next() {
		var (
			id, body string
			revision int64
		)
		if err := rows.Scan(&id, &body, &revision); err != nil {
			return nil, nil, fmt.Errorf("scan identity: %w", err)
		}
		var ident speaker.Identity
		if _, err := schema.DecodeJSON(schema.Identity, []byte(body), &ident); err != nil {
			corrupt = append(corrupt, CorruptRecord{Kind: kindIdentity, Key: id, Err: err})
			continue
		}
		ident.Revision = revision
		out = append(out, ident)
	}
	return out, corrupt, rows.Err()
}

// UpdateIdentity writes ident if its revision still matches the stored one.
func (s *Store) UpdateIdentity(ctx context.Context, ident *speaker.Identity) error {
	ident.SchemaVersion = speaker.IdentityVersion
	ident.UpdatedAt = s.now().UTC()
	body, err := json.Marshal(ident)
	if err != nil {
		return fmt.Errorf("encode identity: %w", err)
	}
	res, err := s.exec(ctx,
		`UPDATE speakers SET body = ?, revision = revision + 1, updated_at = ? WHERE id = ? AND revision = ?`,
		string(body), s.timestamp(), ident.ID, ident.Revision,
	)
	if err != nil {
		return fmt.Errorf("update identity: %w", err)
	}
	if err := casResult(res, kindIdentity, ident.ID, func() (bool, error) {
		return s.rowExists(ctx, `SELECT COUNT(1) FROM speakers WHERE id = ?`, ident.ID)
	}); err != nil {
		return err
	}
	ident.Revision++
	return nil
}

// DeleteIdentity removes an identity together with its samples and embeddings.
func (s *Store) DeleteIdentity(ctx context.Context, id string) (bool, error) {
	res, err := s.exec(ctx, `DELETE FROM speakers WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete identity: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Profile loads an identity with its embeddings grouped by backend.
func (s *Store) Profile(ctx context.Context, id string) (*speaker.Profile, []CorruptRecord, error) {
	ident, err := s.GetIdentity(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	embeddings, corrupt, err := s.ListEmbeddings(ctx, EmbeddingFilter{SpeakerID: id})
	if err != nil {
		return nil, nil, err
	}
	profile := &speaker.Profile{Identity: *ident, Embeddings: map[string][]speaker.EmbeddingRecord{}}
	for _, emb := range embeddings {
		profile.Embeddings[emb.Backend] = append(profile.Embeddings[emb.Backend], emb)
	}
	return profile, corrupt, nil
}
