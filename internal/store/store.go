// Package store is the storage gateway: connection-pooled SQLite access with
// parameterized CRUD over the project schema. Every operation returns either
// a value or a typed *Error; engine faults never escape unclassified.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBusyTimeout = 5 * time.Second
	defaultMaxConns    = 1
)

// Project is a top-level tracked project. Description is nil when the column
// is NULL. CreatedAt is seconds since epoch, assigned by the database.
type Project struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
	CreatedAt   int64   `json:"created_at"`
}

// Tag categorizes projects. Color is an optional display hint.
type Tag struct {
	ID    int64   `json:"id"`
	Name  string  `json:"name"`
	Color *string `json:"color"`
}

// Feature is a unit of work owned by a project.
type Feature struct {
	ID          int64  `json:"id"`
	ProjectID   int64  `json:"project_id"`
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
	CreatedAt   int64  `json:"created_at"`
}

// ProjectOverview is a project together with its tags and features.
type ProjectOverview struct {
	Project  Project   `json:"project"`
	Tags     []Tag     `json:"tags"`
	Features []Feature `json:"features"`
}

// Counts holds per-table row counts for diagnostics.
type Counts struct {
	Projects    int64 `json:"projects"`
	Tags        int64 `json:"tags"`
	Features    int64 `json:"features"`
	ProjectTags int64 `json:"project_tags"`
}

// Options configures Open. Zero values fall back to defaults.
type Options struct {
	// Path of the database file. Empty uses DefaultDBPath.
	Path string
	// MaxConns is the connection pool width. Size it to the background
	// worker count; SQLite serializes writes regardless.
	MaxConns int
	// BusyTimeout is the driver-level busy handler wait.
	BusyTimeout time.Duration
}

// Store owns the database handle. Safe for concurrent use; writers contend on
// SQLite's single-writer lock and are retried on BUSY within each operation.
type Store struct {
	db   *sql.DB
	path string
}

// DefaultDBPath places the database under the user's home directory.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".ember", "ember.db")
}

// Open opens (creating if needed) the database, configures pragmas, and
// applies pending migrations. The returned store is ready for use.
func Open(opts Options) (*Store, error) {
	path := opts.Path
	if path == "" {
		path = DefaultDBPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	maxConns := opts.MaxConns
	if maxConns <= 0 {
		maxConns = defaultMaxConns
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=%d&_foreign_keys=on", path, busy.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)

	s := &Store{db: db, path: path}
	if err := s.configurePragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying handle for diagnostics.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) configurePragmas(ctx context.Context) error {
	pragma := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
	}
	for _, q := range pragma {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("set pragma %q: %w", q, err)
		}
	}
	return nil
}

// retryOnBusy retries f when SQLite returns BUSY or LOCKED, using exponential
// backoff with bounded jitter. maxRetries=5 gives ~3s total wait on top of the
// driver's busy_timeout.
func retryOnBusy(ctx context.Context, maxRetries int, f func() error) error {
	const baseDelay = 50 * time.Millisecond
	const maxDelay = 500 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) {
			return err
		}
		if attempt == maxRetries {
			return err
		}
		// Exponential backoff: 50ms, 100ms, 200ms, 400ms, 500ms (capped).
		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		// Add jitter: ±25% of delay.
		jitter := time.Duration(rand.IntN(int(delay / 2)))
		delay = delay - delay/4 + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// isSQLiteBusy checks if an error is a SQLite BUSY (5) or LOCKED (6) error.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	// mattn/go-sqlite3 wraps errors as sqlite3.Error with Code field.
	// Check the error string for the code to avoid a direct dependency
	// on the sqlite3 package in non-CGO-importing code paths.
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "(5)") || // SQLITE_BUSY
		strings.Contains(msg, "(6)") // SQLITE_LOCKED
}

// isUniqueViolation checks for a UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "(2067)") // SQLITE_CONSTRAINT_UNIQUE
}

// isForeignKeyViolation checks for a FOREIGN KEY constraint failure.
func isForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "FOREIGN KEY constraint failed") ||
		strings.Contains(msg, "(787)") // SQLITE_CONSTRAINT_FOREIGNKEY
}

// Counts returns per-table row counts.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	rows := []struct {
		query string
		dest  *int64
	}{
		{`SELECT COUNT(*) FROM projects;`, &c.Projects},
		{`SELECT COUNT(*) FROM tags;`, &c.Tags},
		{`SELECT COUNT(*) FROM features;`, &c.Features},
		{`SELECT COUNT(*) FROM project_tags;`, &c.ProjectTags},
	}
	for _, r := range rows {
		if err := s.db.QueryRowContext(ctx, r.query).Scan(r.dest); err != nil {
			return Counts{}, storageFault(err, "count rows")
		}
	}
	return c, nil
}
