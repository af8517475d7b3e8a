package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/emberworks/ember/internal/config"
	"github.com/emberworks/ember/internal/store"
	"github.com/emberworks/ember/internal/transfer"
)

func runExportCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("ember export", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	outPath := fs.String("o", "", "write the archive to a file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if len(fs.Args()) != 0 {
		fmt.Fprintln(os.Stderr, "usage: ember export [-o file]")
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}
	st, err := store.Open(store.Options{Path: cfg.DatabasePath()})
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		return 1
	}
	defer st.Close()

	a, err := transfer.Export(ctx, st)
	if err != nil {
		fmt.Fprintf(os.Stderr, "export: %v\n", err)
		return 1
	}

	if *outPath == "" {
		// Keep stdout pure JSON so the archive can be piped.
		if err := a.Encode(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "write archive: %v\n", err)
			return 1
		}
		return 0
	}

	f, err := os.Create(*outPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create %s: %v\n", *outPath, err)
		return 1
	}
	if err := a.Encode(f); err != nil {
		_ = f.Close()
		fmt.Fprintf(os.Stderr, "write archive: %v\n", err)
		return 1
	}
	if err := f.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "close %s: %v\n", *outPath, err)
		return 1
	}
	fmt.Fprintf(os.Stdout, "exported %d projects, %d tags to %s\n", len(a.Projects), len(a.Tags), *outPath)
	return 0
}
