package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// BackupTo writes a consistent snapshot of the database to dest using
// VACUUM INTO. The destination must not already exist; SQLite refuses to
// overwrite and so do we, so that a retry never clobbers a good backup.
func (s *Store) BackupTo(ctx context.Context, dest string) error {
	if strings.TrimSpace(dest) == "" {
		return invalid("backup destination must not be empty")
	}
	if _, err := os.Stat(dest); err == nil {
		return conflict("backup destination %q already exists", dest)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return storageFault(err, "create backup dir for %q", dest)
	}

	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `VACUUM INTO ?;`, dest)
		return err
	})
	if err != nil {
		return storageFault(err, "backup to %q", dest)
	}
	return nil
}

// CheckIntegrity runs PRAGMA integrity_check and reports any findings.
// A healthy database yields a single "ok" row.
func (s *Store) CheckIntegrity(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `PRAGMA integrity_check;`)
	if err != nil {
		return storageFault(err, "integrity check")
	}
	defer rows.Close()

	var findings []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return storageFault(err, "scan integrity check row")
		}
		findings = append(findings, line)
	}
	if err := rows.Err(); err != nil {
		return storageFault(err, "iterate integrity check")
	}
	if len(findings) == 1 && findings[0] == "ok" {
		return nil
	}
	return storageFault(fmt.Errorf("integrity check reported: %s", strings.Join(findings, "; ")), "integrity check")
}

// Checkpoint truncates the WAL back into the main database file. Useful
// before copying the file around and as periodic maintenance.
func (s *Store) Checkpoint(ctx context.Context) error {
	err := retryOnBusy(ctx, 5, func() error {
		var busy, logFrames, checkpointed int
		row := s.db.QueryRowContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE);`)
		if err := row.Scan(&busy, &logFrames, &checkpointed); err != nil {
			return err
		}
		if busy != 0 {
			return fmt.Errorf("wal checkpoint blocked by concurrent reader")
		}
		return nil
	})
	if err != nil {
		return storageFault(err, "wal checkpoint")
	}
	return nil
}
