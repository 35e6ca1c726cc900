// Package rollout indexes persisted conversation transcripts so
// GET /api/rollout/conversations can answer in O(log n) instead of
// scanning a directory. The WAL-mode DSN, connection-pool tuning, and
// schema-init shape are carried over from the teacher's
// internal/store/sqlite.go, scaled down to the one small table this index
// needs.
package rollout

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ashureev/agentgateway/internal/shared"
)

// Descriptor is the {id, path} pair SPEC_FULL §3/§6 requires: an
// identifier for a persisted rollout file and the filesystem path it lives
// at.
type Descriptor struct {
	ID        string
	Path      string
	CreatedAt time.Time
}

// Store is a SQLite-backed index of rollout descriptors.
type Store struct {
	db *sql.DB
}

// Open creates (or opens) the index database at dbPath, applying the same
// WAL/busy-timeout pragmas and pool tuning the teacher's store uses.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("rollout: create database directory: %w", err)
	}

	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("rollout: open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("rollout: ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("rollout: initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const query = `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS rollouts (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rollouts_created_at ON rollouts(created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Record inserts or updates a rollout descriptor. Called whenever a
// session is created (resumed or fresh) and its transcript path becomes
// known.
func (s *Store) Record(ctx context.Context, d Descriptor) error {
	const query = `
	INSERT INTO rollouts (id, path, created_at)
	VALUES (?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET path = excluded.path
	`
	createdAt := d.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	return s.withBusyRetry(func() error {
		_, err := s.db.ExecContext(ctx, query, d.ID, d.Path, createdAt.Unix())
		return err
	})
}

// List returns up to limit rollout descriptors, newest first. Per
// SPEC_FULL §11.B, sorting happens here (server-side) rather than being
// deferred to a front-end that this repo doesn't ship.
func (s *Store) List(ctx context.Context, limit int) ([]Descriptor, error) {
	const query = `
	SELECT id, path, created_at FROM rollouts
	ORDER BY created_at DESC
	LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("rollout: list: %w", err)
	}
	defer rows.Close()

	var out []Descriptor
	for rows.Next() {
		var d Descriptor
		var createdAt int64
		if err := rows.Scan(&d.ID, &d.Path, &createdAt); err != nil {
			return nil, fmt.Errorf("rollout: scan row: %w", err)
		}
		d.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, d)
	}
	return out, rows.Err()
}

// withBusyRetry retries a write a handful of times on SQLITE_BUSY/"database
// is locked", the same exponential-backoff shape as the teacher's
// updateContainerIDWithRetry.
func (s *Store) withBusyRetry(fn func() error) error {
	const maxRetries = 3
	baseDelay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) {
			return err
		}
		if i < maxRetries-1 {
			time.Sleep(baseDelay * time.Duration(1<<i))
		}
	}
	return err
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
