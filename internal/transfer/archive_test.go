package transfer_test

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/emberworks/ember/internal/store"
	"github.com/emberworks/ember/internal/transfer"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(store.Options{Path: filepath.Join(t.TempDir(), "ember.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func strPtr(s string) *string { return &s }

func TestExportImport_RoundTrip(t *testing.T) {
	src := openTestStore(t)
	ctx := context.Background()

	older, err := src.CreateProject(ctx, "older", strPtr("kept description"))
	if err != nil {
		t.Fatalf("seed project: %v", err)
	}
	if _, err := src.CreateProject(ctx, "newer", nil); err != nil {
		t.Fatalf("seed project: %v", err)
	}
	done, err := src.CreateFeature(ctx, older.ID, "shipped feature")
	if err != nil {
		t.Fatalf("seed feature: %v", err)
	}
	if err := src.SetFeatureCompleted(ctx, done.ID, true); err != nil {
		t.Fatalf("complete feature: %v", err)
	}
	if _, err := src.CreateFeature(ctx, older.ID, "open feature"); err != nil {
		t.Fatalf("seed feature: %v", err)
	}
	tag, err := src.CreateTag(ctx, "cli", strPtr("#ff8800"))
	if err != nil {
		t.Fatalf("seed tag: %v", err)
	}
	if err := src.AttachTag(ctx, older.ID, tag.ID); err != nil {
		t.Fatalf("seed attach: %v", err)
	}
	if _, err := src.CreateTag(ctx, "unattached", nil); err != nil {
		t.Fatalf("seed tag: %v", err)
	}

	archive, err := transfer.Export(ctx, src)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	var buf bytes.Buffer
	if err := archive.Encode(&buf); err != nil {
		t.Fatalf("encode: %v", err)
	}

	dst := openTestStore(t)
	sum, err := transfer.Import(ctx, dst, &buf)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if sum.Projects != 2 || sum.Features != 2 || sum.Tags != 2 || sum.Attachments != 1 {
		t.Errorf("summary = %#v, want 2 projects, 2 features, 2 tags, 1 attachment", sum)
	}

	rows, err := dst.Overview(ctx)
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("overview = %#v, want 2 projects", rows)
	}
	if rows[0].Project.Name != "newer" || rows[1].Project.Name != "older" {
		t.Errorf("order = %q, %q, want newest first preserved", rows[0].Project.Name, rows[1].Project.Name)
	}

	restored := rows[1]
	if restored.Project.Description == nil || *restored.Project.Description != "kept description" {
		t.Errorf("description = %v, want kept description", restored.Project.Description)
	}
	if len(restored.Features) != 2 {
		t.Fatalf("features = %#v, want 2", restored.Features)
	}
	byDesc := map[string]bool{}
	for _, f := range restored.Features {
		byDesc[f.Description] = f.Completed
	}
	if !byDesc["shipped feature"] || byDesc["open feature"] {
		t.Errorf("completion flags = %#v, want shipped completed and open pending", byDesc)
	}
	if len(restored.Tags) != 1 || restored.Tags[0].Name != "cli" {
		t.Errorf("tags = %#v, want cli attached", restored.Tags)
	}

	tags, err := dst.ListTags(ctx)
	if err != nil {
		t.Fatalf("list tags: %v", err)
	}
	if len(tags) != 2 {
		t.Errorf("tags = %#v, want the unattached tag carried too", tags)
	}
}

func TestImport_RejectsInvalidArchives(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		wantErr string
	}{
		{"not json", "definitely not json", "parse archive"},
		{"missing projects", `{"version": 1}`, "schema"},
		{"future version", `{"version": 2, "projects": []}`, "schema"},
		{"project without name", `{"version": 1, "projects": [{"description": "x"}]}`, "schema"},
		{"empty project name", `{"version": 1, "projects": [{"name": ""}]}`, "schema"},
		{"empty feature description", `{"version": 1, "projects": [{"name": "p", "features": [{"description": ""}]}]}`, "schema"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := openTestStore(t)
			_, err := transfer.Import(context.Background(), st, strings.NewReader(tc.payload))
			if err == nil {
				t.Fatal("expected the import to be rejected")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error = %v, want %q", err, tc.wantErr)
			}

			counts, err := st.Counts(context.Background())
			if err != nil {
				t.Fatalf("counts: %v", err)
			}
			if counts.Projects != 0 || counts.Tags != 0 {
				t.Errorf("counts = %#v, want nothing replayed", counts)
			}
		})
	}
}

func TestImport_MergesTagsByName(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	if _, err := st.CreateTag(ctx, "cli", strPtr("#00ff00")); err != nil {
		t.Fatalf("seed tag: %v", err)
	}

	payload := `{"version": 1, "tags": [{"name": "cli"}],
		"projects": [{"name": "merged", "tags": ["cli", "fresh"]}]}`
	sum, err := transfer.Import(ctx, st, strings.NewReader(payload))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if sum.Tags != 1 {
		t.Errorf("summary tags = %d, want only the fresh tag created", sum.Tags)
	}

	counts, err := st.Counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts.Tags != 2 {
		t.Errorf("tag rows = %d, want 2", counts.Tags)
	}
	if counts.ProjectTags != 2 {
		t.Errorf("join rows = %d, want 2", counts.ProjectTags)
	}
}

func TestImport_DuplicateAttachmentIsSafe(t *testing.T) {
	st := openTestStore(t)
	payload := `{"version": 1, "projects": [{"name": "p", "tags": ["cli", "cli"]}]}`

	if _, err := transfer.Import(context.Background(), st, strings.NewReader(payload)); err != nil {
		t.Fatalf("import: %v", err)
	}

	counts, err := st.Counts(context.Background())
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts.ProjectTags != 1 {
		t.Errorf("join rows = %d, want 1", counts.ProjectTags)
	}
}

func TestExport_EmptyStoreRoundTrips(t *testing.T) {
	src := openTestStore(t)
	ctx := context.Background()

	archive, err := transfer.Export(ctx, src)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	var buf bytes.Buffer
	if err := archive.Encode(&buf); err != nil {
		t.Fatalf("encode: %v", err)
	}

	dst := openTestStore(t)
	sum, err := transfer.Import(ctx, dst, &buf)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if sum != (transfer.Summary{}) {
		t.Errorf("summary = %#v, want empty", sum)
	}
}
