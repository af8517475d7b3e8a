package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

const projectColumns = `id, name, description, created_at`

func scanProject(scanFn func(dest ...any) error, p *Project) error {
	var description sql.NullString
	if err := scanFn(&p.ID, &p.Name, &description, &p.CreatedAt); err != nil {
		return err
	}
	if description.Valid {
		d := description.String
		p.Description = &d
	} else {
		p.Description = nil
	}
	return nil
}

// CreateProject inserts a project and returns the stored row, including the
// generated id and the server-assigned timestamp. Insert and read-back share
// one transaction so partial failure leaves no visible half-state.
func (s *Store) CreateProject(ctx context.Context, name string, description *string) (Project, error) {
	if strings.TrimSpace(name) == "" {
		return Project{}, invalid("project name must not be empty")
	}

	var p Project
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(ctx,
			`INSERT INTO projects (name, description) VALUES (?, ?);`,
			name, description)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		row := tx.QueryRowContext(ctx,
			`SELECT `+projectColumns+` FROM projects WHERE id = ?;`, id)
		if err := scanProject(row.Scan, &p); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return Project{}, storageFault(err, "create project %q", name)
	}
	return p, nil
}

// GetProject returns the project with the given id.
func (s *Store) GetProject(ctx context.Context, id int64) (Project, error) {
	var p Project
	row := s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = ?;`, id)
	if err := scanProject(row.Scan, &p); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Project{}, notFound("project %d not found", id)
		}
		return Project{}, storageFault(err, "get project %d", id)
	}
	return p, nil
}

// ListProjects returns all projects, newest first.
func (s *Store) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+projectColumns+` FROM projects ORDER BY created_at DESC, id DESC;`)
	if err != nil {
		return nil, storageFault(err, "list projects")
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var p Project
		if err := scanProject(rows.Scan, &p); err != nil {
			return nil, storageFault(err, "scan project")
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageFault(err, "iterate projects")
	}
	return out, nil
}

// DeleteProject removes a project. Features and tag associations cascade via
// foreign keys.
func (s *Store) DeleteProject(ctx context.Context, id int64) error {
	var affected int64
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?;`, id)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return storageFault(err, "delete project %d", id)
	}
	if affected == 0 {
		return notFound("project %d not found", id)
	}
	return nil
}

// Overview returns every project with its tags and features. Projects are
// ordered newest first, features within a project likewise.
func (s *Store) Overview(ctx context.Context) ([]ProjectOverview, error) {
	projects, err := s.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	// One query per project keeps the scan code simple; the dataset is a
	// personal project list, not a warehouse.
	out := make([]ProjectOverview, 0, len(projects))
	for _, p := range projects {
		tags, err := s.ProjectTags(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		features, err := s.ListFeatures(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, ProjectOverview{Project: p, Tags: tags, Features: features})
	}
	return out, nil
}
