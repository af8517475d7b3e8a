package store

import (
	"context"
	"strings"
)

const featureColumns = `id, project_id, description, completed, created_at`

func scanFeature(scanFn func(dest ...any) error, f *Feature) error {
	var completed int
	if err := scanFn(&f.ID, &f.ProjectID, &f.Description, &completed, &f.CreatedAt); err != nil {
		return err
	}
	f.Completed = completed != 0
	return nil
}

// CreateFeature inserts a feature under an existing project and returns the
// stored row. A missing project surfaces as NotFound via the foreign key.
func (s *Store) CreateFeature(ctx context.Context, projectID int64, description string) (Feature, error) {
	if strings.TrimSpace(description) == "" {
		return Feature{}, invalid("feature description must not be empty")
	}

	var f Feature
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(ctx,
			`INSERT INTO features (project_id, description) VALUES (?, ?);`,
			projectID, description)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		row := tx.QueryRowContext(ctx,
			`SELECT `+featureColumns+` FROM features WHERE id = ?;`, id)
		if err := scanFeature(row.Scan, &f); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		if isForeignKeyViolation(err) {
			return Feature{}, notFound("project %d not found", projectID)
		}
		return Feature{}, storageFault(err, "create feature for project %d", projectID)
	}
	return f, nil
}

// ListFeatures returns a project's features, newest first. A project with no
// rows (including a missing project) yields an empty sequence.
func (s *Store) ListFeatures(ctx context.Context, projectID int64) ([]Feature, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+featureColumns+` FROM features WHERE project_id = ?
		 ORDER BY created_at DESC, id DESC;`, projectID)
	if err != nil {
		return nil, storageFault(err, "list features for project %d", projectID)
	}
	defer rows.Close()

	var out []Feature
	for rows.Next() {
		var f Feature
		if err := scanFeature(rows.Scan, &f); err != nil {
			return nil, storageFault(err, "scan feature")
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, storageFault(err, "iterate features")
	}
	return out, nil
}

// SetFeatureCompleted flips a feature's completion flag.
func (s *Store) SetFeatureCompleted(ctx context.Context, id int64, completed bool) error {
	flag := 0
	if completed {
		flag = 1
	}
	var affected int64
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE features SET completed = ? WHERE id = ?;`, flag, id)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return storageFault(err, "set feature %d completed", id)
	}
	if affected == 0 {
		return notFound("feature %d not found", id)
	}
	return nil
}

// RemoveFeature deletes a feature.
func (s *Store) RemoveFeature(ctx context.Context, id int64) error {
	var affected int64
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM features WHERE id = ?;`, id)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return storageFault(err, "remove feature %d", id)
	}
	if affected == 0 {
		return notFound("feature %d not found", id)
	}
	return nil
}
