package store

import (
	"context"
	"database/sql"
	"strings"
)

const tagColumns = `id, name, color`

func scanTag(scanFn func(dest ...any) error, t *Tag) error {
	var color sql.NullString
	if err := scanFn(&t.ID, &t.Name, &color); err != nil {
		return err
	}
	if color.Valid {
		c := color.String
		t.Color = &c
	} else {
		t.Color = nil
	}
	return nil
}

// CreateTag inserts a tag and returns the stored row. Tag names are unique;
// a duplicate surfaces as Conflict.
func (s *Store) CreateTag(ctx context.Context, name string, color *string) (Tag, error) {
	if strings.TrimSpace(name) == "" {
		return Tag{}, invalid("tag name must not be empty")
	}

	var t Tag
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(ctx,
			`INSERT INTO tags (name, color) VALUES (?, ?);`, name, color)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		row := tx.QueryRowContext(ctx,
			`SELECT `+tagColumns+` FROM tags WHERE id = ?;`, id)
		if err := scanTag(row.Scan, &t); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		if isUniqueViolation(err) {
			return Tag{}, conflict("tag %q already exists", name)
		}
		return Tag{}, storageFault(err, "create tag %q", name)
	}
	return t, nil
}

// ListTags returns all tags ordered by name.
func (s *Store) ListTags(ctx context.Context) ([]Tag, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tagColumns+` FROM tags ORDER BY name ASC;`)
	if err != nil {
		return nil, storageFault(err, "list tags")
	}
	defer rows.Close()

	var out []Tag
	for rows.Next() {
		var t Tag
		if err := scanTag(rows.Scan, &t); err != nil {
			return nil, storageFault(err, "scan tag")
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storageFault(err, "iterate tags")
	}
	return out, nil
}

// ProjectTags returns the tags attached to a project.
func (s *Store) ProjectTags(ctx context.Context, projectID int64) ([]Tag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.name, t.color
		FROM tags t
		INNER JOIN project_tags pt ON t.id = pt.tag_id
		WHERE pt.project_id = ?
		ORDER BY t.name ASC;`, projectID)
	if err != nil {
		return nil, storageFault(err, "list tags for project %d", projectID)
	}
	defer rows.Close()

	var out []Tag
	for rows.Next() {
		var t Tag
		if err := scanTag(rows.Scan, &t); err != nil {
			return nil, storageFault(err, "scan project tag")
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storageFault(err, "iterate project tags")
	}
	return out, nil
}

// AttachTag associates a tag with a project. Attaching an already-attached
// pair is a no-op success; the join table's composite primary key absorbs the
// duplicate. A missing project or tag surfaces as NotFound via the foreign
// keys (OR IGNORE does not swallow those).
func (s *Store) AttachTag(ctx context.Context, projectID, tagID int64) error {
	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO project_tags (project_id, tag_id) VALUES (?, ?);`,
			projectID, tagID)
		return err
	})
	if err != nil {
		if isForeignKeyViolation(err) {
			return notFound("project %d or tag %d not found", projectID, tagID)
		}
		return storageFault(err, "attach tag %d to project %d", tagID, projectID)
	}
	return nil
}

// DetachTag removes a tag association. Detaching a pair that is not attached
// is a no-op success, mirroring attach idempotence.
func (s *Store) DetachTag(ctx context.Context, projectID, tagID int64) error {
	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM project_tags WHERE project_id = ? AND tag_id = ?;`,
			projectID, tagID)
		return err
	})
	if err != nil {
		return storageFault(err, "detach tag %d from project %d", tagID, projectID)
	}
	return nil
}
