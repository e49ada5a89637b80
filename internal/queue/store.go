package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/config"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/services"
)

// Store manages queue persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open initializes or connects to the queue database described by cfg.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.QueuePath())
}

// OpenPath opens the queue database file at path.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath, now: time.Now}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// EnqueueRequest describes a recording to queue.
type EnqueueRequest struct {
	SourcePath      string
	RecordingDigest string
	Context         string
	Backend         string
}

const itemColumns = `id, source_path, recording_digest, context_name, backend, status,
	error_message, attempts, created_at, updated_at`

// Enqueue adds a recording as pending. A recording already queued under the
// same digest is reset to pending with the new path, context and backend;
// created reports whether a new row was inserted. Items being processed are
// left alone.
func (s *Store) Enqueue(ctx context.Context, req EnqueueRequest) (*Item, bool, error) {
	if strings.TrimSpace(req.SourcePath) == "" || strings.TrimSpace(req.RecordingDigest) == "" {
		return nil, false, fmt.Errorf("%w: queue item needs a path and a digest", services.ErrValidation)
	}
	existing, err := s.GetByDigest(ctx, req.RecordingDigest)
	if err != nil {
		return nil, false, err
	}
	timestamp := s.timestamp()
	if existing != nil {
		if existing.Status == StatusProcessing {
			return existing, false, nil
		}
		if _, err := s.db.ExecContext(ctx,
			`UPDATE queue_items
			 SET source_path = ?, context_name = ?, backend = ?, status = ?, error_message = NULL, updated_at = ?
			 WHERE id = ?`,
			req.SourcePath, nullableString(req.Context), nullableString(req.Backend), StatusPending, timestamp, existing.ID,
		); err != nil {
			return nil, false, fmt.Errorf("requeue item: %w", err)
		}
		item, err := s.GetByID(ctx, existing.ID)
		return item, false, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO queue_items (
			source_path, recording_digest, context_name, backend, status, attempts, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		req.SourcePath, req.RecordingDigest, nullableString(req.Context), nullableString(req.Backend),
		StatusPending, timestamp, timestamp,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, false, fmt.Errorf("last insert id: %w", err)
	}
	item, err := s.GetByID(ctx, id)
	return item, true, err
}

// GetByID fetches a queue item by identifier. A missing item yields nil.
func (s *Store) GetByID(ctx context.Context, id int64) (*Item, error) {
	item, err := scanItem(s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM queue_items WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// GetByDigest fetches the item queued for a recording digest, or nil.
func (s *Store) GetByDigest(ctx context.Context, digest string) (*Item, error) {
	item, err := scanItem(s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM queue_items WHERE recording_digest = ?`, digest))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item by digest: %w", err)
	}
	return item, nil
}

// List returns queue items filtered by status set (or all items when no
// status is provided), oldest first.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Item, error) {
	query := `SELECT ` + itemColumns + ` FROM queue_items`
	where, args := statusClause(statuses)
	rows, err := s.db.QueryContext(ctx, query+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Claim moves the oldest pending item to processing and returns it. It
// returns nil when nothing is pending.
func (s *Store) Claim(ctx context.Context) (*Item, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	item, err := scanItem(tx.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM queue_items WHERE status = ? ORDER BY created_at, id LIMIT 1`, StatusPending))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select pending item: %w", err)
	}
	item.Status = StatusProcessing
	item.Attempts++
	item.UpdatedAt = s.now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE queue_items SET status = ?, attempts = ?, updated_at = ? WHERE id = ?`,
		item.Status, item.Attempts, item.UpdatedAt.Format(time.RFC3339Nano), item.ID,
	); err != nil {
		return nil, fmt.Errorf("claim item: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return item, nil
}

// Update persists the status and error of an item.
func (s *Store) Update(ctx context.Context, item *Item) error {
	if item == nil {
		return errors.New("item is nil")
	}
	item.UpdatedAt = s.now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE queue_items SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		item.Status, nullableString(item.ErrorMessage), item.UpdatedAt.Format(time.RFC3339Nano), item.ID,
	); err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// ResetProcessing returns items stranded in processing, for example by an
// interrupted run, to pending.
func (s *Store) ResetProcessing(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_items SET status = ?, updated_at = ? WHERE status = ?`,
		StatusPending, s.timestamp(), StatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("reset processing: %w", err)
	}
	return res.RowsAffected()
}

// Clear removes items in the given statuses, or every item when none are
// given.
func (s *Store) Clear(ctx context.Context, statuses ...Status) (int64, error) {
	where, args := statusClause(statuses)
	res, err := s.db.ExecContext(ctx, `DELETE FROM queue_items`+where, args...)
	if err != nil {
		return 0, fmt.Errorf("clear queue: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns a count of items grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM queue_items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Summary aggregates Stats into per-state totals.
func (s *Store) Summary(ctx context.Context) (Summary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return Summary{}, err
	}
	var summary Summary
	for status, count := range stats {
		summary.Total += count
		switch status {
		case StatusPending:
			summary.Pending += count
		case StatusProcessing:
			summary.Processing += count
		case StatusCompleted:
			summary.Completed += count
		case StatusFailed:
			summary.Failed += count
		}
	}
	return summary, nil
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*Item, error) {
	var (
		item                          Item
		contextName, backend, errText sql.NullString
		created, updated              string
	)
	if err := row.Scan(&item.ID, &item.SourcePath, &item.RecordingDigest, &contextName, &backend,
		&item.Status, &errText, &item.Attempts, &created, &updated); err != nil {
		return nil, err
	}
	item.Context = contextName.String
	item.Backend = backend.String
	item.ErrorMessage = errText.String
	var err error
	if item.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("%w: queue item %d created_at: %v", services.ErrCorruptRecord, item.ID, err)
	}
	if item.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return nil, fmt.Errorf("%w: queue item %d updated_at: %v", services.ErrCorruptRecord, item.ID, err)
	}
	return &item, nil
}

func statusClause(statuses []Status) (string, []any) {
	if len(statuses) == 0 {
		return "", nil
	}
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = status
	}
	return ` WHERE status IN (` + strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",") + `)`, args
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
