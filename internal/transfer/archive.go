// Package transfer moves Ember data through portable JSON archives. Export
// flattens the store into an archive; Import validates an archive against an
// embedded JSON Schema and replays it through the gateway, so every imported
// row passes the same checks as interactive writes.
package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/emberworks/ember/internal/store"
)

// ArchiveVersion is the current archive format version.
const ArchiveVersion = 1

// Archive is the portable JSON form of an Ember database. Row ids are not
// carried; tag names are the portable identity and projects are listed
// oldest first so a replay recreates insertion order.
type Archive struct {
	Version    int              `json:"version"`
	ExportedAt int64            `json:"exported_at"`
	Tags       []ArchiveTag     `json:"tags"`
	Projects   []ArchiveProject `json:"projects"`
}

type ArchiveTag struct {
	Name  string  `json:"name"`
	Color *string `json:"color,omitempty"`
}

type ArchiveProject struct {
	Name        string           `json:"name"`
	Description *string          `json:"description,omitempty"`
	CreatedAt   int64            `json:"created_at"`
	Tags        []string         `json:"tags,omitempty"`
	Features    []ArchiveFeature `json:"features,omitempty"`
}

type ArchiveFeature struct {
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
	CreatedAt   int64  `json:"created_at"`
}

// Summary counts what an import created.
type Summary struct {
	Projects    int
	Tags        int
	Features    int
	Attachments int
}

// Export flattens the store into an archive.
func Export(ctx context.Context, st *store.Store) (*Archive, error) {
	rows, err := st.Overview(ctx)
	if err != nil {
		return nil, fmt.Errorf("load overview: %w", err)
	}
	tags, err := st.ListTags(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}

	a := &Archive{
		Version:    ArchiveVersion,
		ExportedAt: time.Now().Unix(),
		Tags:       []ArchiveTag{},
		Projects:   []ArchiveProject{},
	}
	for _, t := range tags {
		a.Tags = append(a.Tags, ArchiveTag{Name: t.Name, Color: t.Color})
	}
	// Overview is newest first; write the archive oldest first.
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		p := ArchiveProject{
			Name:        row.Project.Name,
			Description: row.Project.Description,
			CreatedAt:   row.Project.CreatedAt,
		}
		for _, t := range row.Tags {
			p.Tags = append(p.Tags, t.Name)
		}
		for _, f := range row.Features {
			p.Features = append(p.Features, ArchiveFeature{
				Description: f.Description,
				Completed:   f.Completed,
				CreatedAt:   f.CreatedAt,
			})
		}
		a.Projects = append(a.Projects, p)
	}
	return a, nil
}

// Encode writes the archive as indented JSON.
func (a *Archive) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(a); err != nil {
		return fmt.Errorf("encode archive: %w", err)
	}
	return nil
}

// Import validates an archive and replays it through the gateway. Existing
// tags merge by name; projects and features are always added. Replay stops
// at the first gateway failure, leaving prior rows in place; attach
// idempotency makes re-running an interrupted import safe for tags.
func Import(ctx context.Context, st *store.Store, r io.Reader) (Summary, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Summary{}, fmt.Errorf("read archive: %w", err)
	}
	if err := validateArchive(data); err != nil {
		return Summary{}, err
	}
	var a Archive
	if err := json.Unmarshal(data, &a); err != nil {
		return Summary{}, fmt.Errorf("decode archive: %w", err)
	}
	return replay(ctx, st, &a)
}

func replay(ctx context.Context, st *store.Store, a *Archive) (Summary, error) {
	var sum Summary

	existing, err := st.ListTags(ctx)
	if err != nil {
		return sum, fmt.Errorf("list tags: %w", err)
	}
	tagIDs := make(map[string]int64, len(existing))
	for _, t := range existing {
		tagIDs[t.Name] = t.ID
	}
	ensureTag := func(name string, color *string) (int64, error) {
		if id, ok := tagIDs[name]; ok {
			return id, nil
		}
		tag, err := st.CreateTag(ctx, name, color)
		if err != nil {
			return 0, err
		}
		tagIDs[name] = tag.ID
		sum.Tags++
		return tag.ID, nil
	}

	for _, t := range a.Tags {
		if _, err := ensureTag(t.Name, t.Color); err != nil {
			return sum, fmt.Errorf("import tag %q: %w", t.Name, err)
		}
	}

	for _, p := range a.Projects {
		proj, err := st.CreateProject(ctx, p.Name, p.Description)
		if err != nil {
			return sum, fmt.Errorf("import project %q: %w", p.Name, err)
		}
		sum.Projects++

		for _, f := range p.Features {
			feat, err := st.CreateFeature(ctx, proj.ID, f.Description)
			if err != nil {
				return sum, fmt.Errorf("import feature for %q: %w", p.Name, err)
			}
			if f.Completed {
				if err := st.SetFeatureCompleted(ctx, feat.ID, true); err != nil {
					return sum, fmt.Errorf("restore completion for %q: %w", p.Name, err)
				}
			}
			sum.Features++
		}

		for _, name := range p.Tags {
			id, err := ensureTag(name, nil)
			if err != nil {
				return sum, fmt.Errorf("import tag %q: %w", name, err)
			}
			if err := st.AttachTag(ctx, proj.ID, id); err != nil {
				return sum, fmt.Errorf("attach tag %q to %q: %w", name, p.Name, err)
			}
			sum.Attachments++
		}
	}
	return sum, nil
}
