package pg

import (
	"context"
	"database/sql"
	"errors"

	"gatehouse.org/internal/auth"
)

const permissionColumns = `id, name, api_version, method, module, feature, created_at`

func (s *Store) ListPermissions(ctx context.Context, limit, offset int) ([]auth.Permission, error) {
	return s.permissionsWhere(ctx, ``, limit, offset)
}

func (s *Store) GetPermission(ctx context.Context, id int64) (auth.Permission, error) {
	return s.permissionBy(ctx, `id = $1`, id)
}

func (s *Store) GetPermissionByName(ctx context.Context, name string) (auth.Permission, error) {
	return s.permissionBy(ctx, `name = $1`, name)
}

func (s *Store) ListPermissionsByVersion(ctx context.Context, version string, limit, offset int) ([]auth.Permission, error) {
	return s.permissionsWhere(ctx, `api_version = $3`, limit, offset, version)
}

func (s *Store) ListPermissionsByMethod(ctx context.Context, method string, limit, offset int) ([]auth.Permission, error) {
	return s.permissionsWhere(ctx, `method = $3`, limit, offset, method)
}

func (s *Store) ListPermissionsByModuleFeature(ctx context.Context, module, feature string, limit, offset int) ([]auth.Permission, error) {
	return s.permissionsWhere(ctx, `module = $3 and feature = $4`, limit, offset, module, feature)
}

func (s *Store) permissionBy(ctx context.Context, where string, arg any) (auth.Permission, error) {
	var p auth.Permission
	err := s.db.QueryRowContext(ctx, `select `+permissionColumns+` from permissions where `+where, arg).
		Scan(&p.ID, &p.Name, &p.APIVersion, &p.Method, &p.Module, &p.Feature, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Permission{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Permission{}, err
	}
	return p, nil
}

func (s *Store) permissionsWhere(ctx context.Context, where string, limit, offset int, extra ...any) ([]auth.Permission, error) {
	query := `select ` + permissionColumns + ` from permissions`
	if where != "" {
		query += ` where ` + where
	}
	query += ` order by name limit $1 offset $2`
	args := append([]any{limit, offset}, extra...)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []auth.Permission
	for rows.Next() {
		var p auth.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.APIVersion, &p.Method, &p.Module, &p.Feature, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}
