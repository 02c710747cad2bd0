package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"gatehouse.org/internal/auth"
)

func (s *Store) CreateRole(ctx context.Context, name, description string, permissions []string) (auth.Role, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.Role{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var role auth.Role
	var desc sql.NullString
	row := tx.QueryRowContext(ctx, `
		insert into roles (name, description)
		values ($1, nullif($2, ''))
		returning id, name, description, created_at
	`, name, description)
	if err := row.Scan(&role.ID, &role.Name, &desc, &role.CreatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.Role{}, auth.ErrConflict
		}
		return auth.Role{}, err
	}
	role.Description = desc.String
	if err := grantPermissions(ctx, tx, role.ID, permissions); err != nil {
		return auth.Role{}, err
	}
	role.Permissions, err = loadRolePermissions(ctx, tx, role.ID)
	if err != nil {
		return auth.Role{}, err
	}
	if err := tx.Commit(); err != nil {
		return auth.Role{}, err
	}
	return role, nil
}

func (s *Store) GetRole(ctx context.Context, id int64) (auth.Role, error) {
	return s.roleBy(ctx, `id = $1`, id)
}

func (s *Store) GetRoleByName(ctx context.Context, name string) (auth.Role, error) {
	return s.roleBy(ctx, `name = $1`, name)
}

func (s *Store) roleBy(ctx context.Context, where string, arg any) (auth.Role, error) {
	var role auth.Role
	var desc sql.NullString
	err := s.db.QueryRowContext(ctx, `
		select id, name, description, created_at from roles where `+where, arg).
		Scan(&role.ID, &role.Name, &desc, &role.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Role{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Role{}, err
	}
	role.Description = desc.String
	role.Permissions, err = loadRolePermissions(ctx, s.db, role.ID)
	if err != nil {
		return auth.Role{}, err
	}
	return role, nil
}

func (s *Store) ListRoles(ctx context.Context, limit, offset int) ([]auth.RoleSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		select r.id, r.name, r.description, r.created_at, count(ur.user_id)
		from roles r
		left join user_roles ur on ur.role_id = r.id
		group by r.id, r.name, r.description, r.created_at
		order by r.name
		limit $1 offset $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.RoleSummary
	for rows.Next() {
		var rs auth.RoleSummary
		var desc sql.NullString
		if err := rows.Scan(&rs.ID, &rs.Name, &desc, &rs.CreatedAt, &rs.UserCount); err != nil {
			return nil, err
		}
		rs.Description = desc.String
		result = append(result, rs)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range result {
		result[i].Permissions, err = loadRolePermissions(ctx, s.db, result[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *Store) UpdateRole(ctx context.Context, id int64, upd auth.RoleUpdate) (auth.Role, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.Role{}, err
	}
	defer func() { _ = tx.Rollback() }()

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
	if upd.Description != nil {
		sets = append(sets, fmt.Sprintf("description = nullif($%d, '')", idx))
		args = append(args, *upd.Description)
		idx++
	}
	if len(sets) > 0 {
		query := fmt.Sprintf(`update roles set %s where id = $%d`, strings.Join(sets, ", "), idx)
		args = append(args, id)
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
				return auth.Role{}, auth.ErrConflict
			}
			return auth.Role{}, err
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return auth.Role{}, err
		}
		if aff == 0 {
			return auth.Role{}, auth.ErrNotFound
		}
	}
	if upd.Permissions != nil {
		if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, id); err != nil {
			return auth.Role{}, err
		}
		if err := grantPermissions(ctx, tx, id, upd.Permissions); err != nil {
			return auth.Role{}, err
		}
	}

	var role auth.Role
	var desc sql.NullString
	err = tx.QueryRowContext(ctx, `select id, name, description, created_at from roles where id = $1`, id).
		Scan(&role.ID, &role.Name, &desc, &role.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Role{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Role{}, err
	}
	role.Description = desc.String
	role.Permissions, err = loadRolePermissions(ctx, tx, id)
	if err != nil {
		return auth.Role{}, err
	}
	if err := tx.Commit(); err != nil {
		return auth.Role{}, err
	}
	return role, nil
}

// DeleteRole refuses to remove a role that is still assigned; callers must
// move the holders off the role first.
func (s *Store) DeleteRole(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var holders int64
	if err := tx.QueryRowContext(ctx, `select count(*) from user_roles where role_id = $1`, id).Scan(&holders); err != nil {
		return err
	}
	if holders > 0 {
		return fmt.Errorf("%w: role is assigned to %d user(s)", auth.ErrConflict, holders)
	}
	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `delete from roles where id = $1`, id)
	if err != nil {
		// An assignment committed after the holder count was read still
		// surfaces as a conflict, via the user_roles foreign key.
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return fmt.Errorf("%w: role is assigned", auth.ErrConflict)
		}
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return tx.Commit()
}

func (s *Store) ListRoleUsers(ctx context.Context, roleID int64, limit, offset int) ([]auth.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+prefixColumns("u", userColumns)+`
		from users u
		join user_roles ur on ur.user_id = u.id
		where ur.role_id = $1
		order by u.id
		limit $2 offset $3
	`, roleID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []auth.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

// grantPermissions resolves names against the catalog; an unknown name
// aborts the transaction rather than being silently skipped.
func grantPermissions(ctx context.Context, q querier, roleID int64, names []string) error {
	for _, name := range names {
		var permID int64
		err := q.QueryRowContext(ctx, `select id from permissions where name = $1`, name).Scan(&permID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: unknown permission %s", auth.ErrInvalidInput, name)
		}
		if err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id) values ($1, $2)
			on conflict do nothing
		`, roleID, permID); err != nil {
			return err
		}
	}
	return nil
}

func loadRolePermissions(ctx context.Context, q querier, roleID int64) ([]auth.Permission, error) {
	rows, err := q.QueryContext(ctx, `
		select p.id, p.name, p.api_version, p.method, p.module, p.feature, p.created_at
		from permissions p
		join role_permissions rp on rp.permission_id = p.id
		where rp.role_id = $1
		order by p.name
	`, roleID)
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
