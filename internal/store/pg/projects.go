package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"gatehouse.org/internal/auth"
)

const projectColumns = `id, name, logo_url, created_at, deleted_at`

func scanProject(row rowScanner) (auth.Project, error) {
	var (
		p         auth.Project
		logoURL   sql.NullString
		deletedAt sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.Name, &logoURL, &p.CreatedAt, &deletedAt); err != nil {
		return auth.Project{}, err
	}
	if logoURL.Valid {
		p.LogoURL = &logoURL.String
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		p.DeletedAt = &t
	}
	return p, nil
}

func (s *Store) CreateProject(ctx context.Context, name string, logoURL *string) (auth.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		insert into projects (name, logo_url)
		values ($1, $2)
		returning `+projectColumns+`
	`, name, nullIfEmpty(logoURL))
	project, err := scanProject(row)
	if err != nil {
		return auth.Project{}, err
	}
	return project, nil
}

func (s *Store) GetProject(ctx context.Context, id int64) (auth.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+projectColumns+` from projects
		where id = $1 and deleted_at is null
	`, id)
	project, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Project{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Project{}, err
	}
	return project, nil
}

func (s *Store) ListProjects(ctx context.Context, limit, offset int) ([]auth.Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+projectColumns+` from projects
		where deleted_at is null
		order by id
		limit $1 offset $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []auth.Project
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return projects, nil
}

func (s *Store) UpdateProject(ctx context.Context, id int64, upd auth.ProjectUpdate) (auth.Project, error) {
	var (
		sets []string
		args []any
		idx  = 1
	)
	if upd.Name != nil {
		sets = append(sets, fmt.Sprintf("name = $%d", idx))
		args = append(args, *upd.Name)
		idx++
	}
	if upd.LogoURL != nil {
		sets = append(sets, fmt.Sprintf("logo_url = $%d", idx))
		args = append(args, nullIfEmpty(upd.LogoURL))
		idx++
	}
	if len(sets) == 0 {
		return s.GetProject(ctx, id)
	}
	query := fmt.Sprintf(`
		update projects set %s
		where id = $%d and deleted_at is null
		returning `+projectColumns,
		strings.Join(sets, ", "), idx)
	args = append(args, id)

	project, err := scanProject(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Project{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Project{}, err
	}
	return project, nil
}

func (s *Store) SoftDeleteProject(ctx context.Context, id int64) (auth.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		update projects
		set deleted_at = now()
		where id = $1 and deleted_at is null
		returning `+projectColumns+`
	`, id)
	project, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Project{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Project{}, err
	}
	return project, nil
}
