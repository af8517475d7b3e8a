package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/emberworks/ember/internal/config"
	"github.com/emberworks/ember/internal/maintenance"
	"github.com/emberworks/ember/internal/store"
)

func runBackupCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("ember backup", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	verify := fs.Bool("verify", false, "run an integrity check after the snapshot")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if len(fs.Args()) != 0 {
		fmt.Fprintln(os.Stderr, "usage: ember backup [-verify]")
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}
	// Opening a missing database would create an empty one and snapshot that;
	// refuse instead.
	if _, err := os.Stat(cfg.DatabasePath()); err != nil {
		fmt.Fprintf(os.Stderr, "no database at %s (run ember once to create it)\n", cfg.DatabasePath())
		return 1
	}
	if err := os.MkdirAll(cfg.BackupDir(), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "create backup dir: %v\n", err)
		return 1
	}

	st, err := store.Open(store.Options{Path: cfg.DatabasePath()})
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		return 1
	}
	defer st.Close()

	// One-shot run; results go to stdout, not the structured log.
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	runner, err := maintenance.New(st, quiet, maintenance.Config{
		Dir:  cfg.BackupDir(),
		Keep: cfg.Maintenance.BackupKeep,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "backup: %v\n", err)
		return 1
	}

	dest, err := runner.RunBackup(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "backup: %v\n", err)
		return 1
	}
	var size int64
	if info, statErr := os.Stat(dest); statErr == nil {
		size = info.Size()
	}
	fmt.Fprintf(os.Stdout, "snapshot written: %s (%d KiB)\n", dest, size/1024)

	if *verify {
		if err := runner.VerifyIntegrity(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "integrity: %v\n", err)
			return 1
		}
		fmt.Fprintln(os.Stdout, "integrity: ok")
	}
	return 0
}
