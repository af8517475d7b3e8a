package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/emberworks/ember/internal/config"
	"github.com/emberworks/ember/internal/store"
	"github.com/emberworks/ember/internal/transfer"
)

func runImportCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("ember import", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if len(fs.Args()) != 1 {
		fmt.Fprintln(os.Stderr, `usage: ember import <file>  ("-" reads stdin)`)
		return 2
	}
	src := fs.Arg(0)

	var r io.Reader = os.Stdin
	if src != "-" {
		f, err := os.Open(src)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open %s: %v\n", src, err)
			return 1
		}
		defer f.Close()
		r = f
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

	sum, err := transfer.Import(ctx, st, r)
	if err != nil {
		fmt.Fprintf(os.Stderr, "import: %v\n", err)
		if sum.Projects+sum.Tags+sum.Features > 0 {
			// Rows created before the failure stay; attach idempotency makes
			// re-running the import safe.
			fmt.Fprintf(os.Stderr, "kept %d projects, %d tags, %d features created before the failure\n",
				sum.Projects, sum.Tags, sum.Features)
		}
		return 1
	}
	fmt.Fprintf(os.Stdout, "imported: %d projects, %d tags, %d features, %d tag attachments\n",
		sum.Projects, sum.Tags, sum.Features, sum.Attachments)
	return 0
}
