package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Stats counts rows in each table.
type Stats struct {
	Speakers    int
	Samples     int
	Embeddings  int
	Assignments int
}

// Stats returns row counts for every table.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	targets := []struct {
		table string
		dest  *int
	}{
		{"speakers", &stats.Speakers},
		{"samples", &stats.Samples},
		{"embeddings", &stats.Embeddings},
		{"assignments", &stats.Assignments},
	}
	for _, target := range targets {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM "+target.table).Scan(target.dest); err != nil {
			return Stats{}, fmt.Errorf("count %s: %w", target.table, err)
		}
	}
	return stats, nil
}

// DatabaseHealth captures diagnostic information about the speaker database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    int
	MissingTables    []string
	IntegrityCheck   bool
	Stats            Stats
	Error            string
}

var expectedTables = []string{"schema_version", "speakers", "samples", "embeddings", "assignments"}

// CheckHealth returns diagnostic information about the speaker database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}
	if s.path == "" {
		return health, errors.New("speaker database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat speaker database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("speaker database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	if s.db == nil {
		return health, errors.New("speaker database connection unavailable")
	}

	connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping speaker database: %w", err)
	}
	health.DatabaseReadable = true

	present := map[string]bool{}
	rows, err := s.db.QueryContext(connCtx, "SELECT name FROM sqlite_master WHERE type = 'table'")
	if err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("list tables: %w", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			health.Error = err.Error()
			return health, fmt.Errorf("scan table name: %w", err)
		}
		present[name] = true
	}
	rows.Close()
	for _, table := range expectedTables {
		if !present[table] {
			health.MissingTables = append(health.MissingTables, table)
		}
	}
	if len(health.MissingTables) > 0 {
		return health, nil
	}

	if err := s.db.QueryRowContext(connCtx, "SELECT version FROM schema_version LIMIT 1").Scan(&health.SchemaVersion); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("read schema version: %w", err)
	}
	if health.Stats, err = s.Stats(connCtx); err != nil {
		health.Error = err.Error()
		return health, err
	}

	var integrityResult string
	if err := s.db.QueryRowContext(connCtx, "PRAGMA integrity_check").Scan(&integrityResult); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrityResult, "ok")
	return health, nil
}
