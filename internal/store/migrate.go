package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"
)

// migration is one append-only schema change. Version carries a
// lexicographically sortable timestamp prefix; application order is
// ascending version order.
type migration struct {
	Version string
	SQL     string
}

// registeredMigrations is the full forward-only history. Entries are never
// edited or reordered once shipped; schema changes append a new entry.
var registeredMigrations = []migration{
	{
		Version: "20250612090000_create_core_tables",
		SQL: `
CREATE TABLE projects (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	description TEXT,
	created_at INTEGER NOT NULL DEFAULT (strftime('%s','now'))
);
CREATE TABLE tags (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	color TEXT
);
CREATE TABLE project_tags (
	project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	tag_id INTEGER NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
	PRIMARY KEY (project_id, tag_id)
);
CREATE TABLE features (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	description TEXT NOT NULL,
	completed INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL DEFAULT (strftime('%s','now'))
);
`,
	},
	{
		Version: "20250719143000_add_lookup_indexes",
		SQL: `
CREATE INDEX idx_features_project ON features(project_id);
CREATE INDEX idx_project_tags_tag ON project_tags(tag_id);
`,
	},
}

// MigrationRecord is one row of the schema_migrations ledger.
type MigrationRecord struct {
	Version   string `json:"version"`
	Checksum  string `json:"checksum"`
	Success   bool   `json:"success"`
	AppliedAt int64  `json:"applied_at"`
}

func migrationChecksum(sqlText string) string {
	sum := sha256.Sum256([]byte(sqlText))
	return hex.EncodeToString(sum[:])
}

// migrate brings the database to the latest registered version. It refuses to
// proceed when the ledger disagrees with the registered history: a changed
// checksum, a version this binary does not know, a previously failed apply,
// or an unapplied migration ordered before an applied one.
func (s *Store) migrate(ctx context.Context) error {
	if !sort.SliceIsSorted(registeredMigrations, func(i, j int) bool {
		return registeredMigrations[i].Version < registeredMigrations[j].Version
	}) {
		return fmt.Errorf("registered migrations are not in ascending version order")
	}

	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			checksum TEXT NOT NULL,
			success INTEGER NOT NULL,
			applied_at INTEGER NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied, err := s.Migrations(ctx)
	if err != nil {
		return err
	}

	known := make(map[string]migration, len(registeredMigrations))
	for _, m := range registeredMigrations {
		known[m.Version] = m
	}

	for _, rec := range applied {
		m, ok := known[rec.Version]
		if !ok {
			return fmt.Errorf("db schema version %q is newer than supported by this binary", rec.Version)
		}
		if !rec.Success {
			return fmt.Errorf("migration %q previously failed to apply; manual repair required", rec.Version)
		}
		if want := migrationChecksum(m.SQL); rec.Checksum != want {
			return fmt.Errorf("migration checksum mismatch for %q: got %q want %q", rec.Version, rec.Checksum, want)
		}
	}

	// Applied versions must form a prefix of the registered history; an
	// unapplied migration older than the newest applied one means the
	// history was reordered or back-filled.
	appliedSet := make(map[string]bool, len(applied))
	maxApplied := ""
	for _, rec := range applied {
		appliedSet[rec.Version] = true
		if rec.Version > maxApplied {
			maxApplied = rec.Version
		}
	}
	for _, m := range registeredMigrations {
		if !appliedSet[m.Version] && m.Version < maxApplied {
			return fmt.Errorf("out-of-order migration %q predates applied version %q", m.Version, maxApplied)
		}
	}

	for _, m := range registeredMigrations {
		if appliedSet[m.Version] {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// applyMigration runs one migration and its ledger row in a single
// transaction, so a crash mid-apply leaves no half-applied schema. If the
// statement itself fails, a success=0 ledger row is recorded afterwards to
// block silent re-apply on the next start.
func (s *Store) applyMigration(ctx context.Context, m migration) error {
	checksum := migrationChecksum(m.SQL)
	now := time.Now().Unix()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		execErr := fmt.Errorf("apply migration %q: %w", m.Version, err)
		_ = tx.Rollback()
		_, recErr := s.db.ExecContext(ctx, `
			INSERT INTO schema_migrations (version, checksum, success, applied_at)
			VALUES (?, ?, 0, ?);
		`, m.Version, checksum, now)
		if recErr != nil {
			return fmt.Errorf("%w (recording failure also failed: %v)", execErr, recErr)
		}
		return execErr
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO schema_migrations (version, checksum, success, applied_at)
		VALUES (?, ?, 1, ?);
	`, m.Version, checksum, now); err != nil {
		return fmt.Errorf("record migration %q: %w", m.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %q: %w", m.Version, err)
	}
	return nil
}

// Migrations returns the ledger in version order.
func (s *Store) Migrations(ctx context.Context) ([]MigrationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version, checksum, success, applied_at
		FROM schema_migrations ORDER BY version ASC;
	`)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close()

	var out []MigrationRecord
	for rows.Next() {
		var rec MigrationRecord
		var success int
		if err := rows.Scan(&rec.Version, &rec.Checksum, &success, &rec.AppliedAt); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		rec.Success = success != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

// LatestVersion returns the newest registered migration version.
func LatestVersion() string {
	return registeredMigrations[len(registeredMigrations)-1].Version
}
