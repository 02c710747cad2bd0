package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"gatehouse.org/internal/auth"
)

// querier is satisfied by *sql.DB and *sql.Tx so loaders run inside or
// outside a transaction.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const userColumns = `id, full_name, username, email, password_hash, phone_number, status, project_id, created_at, last_login_at, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (auth.User, error) {
	var (
		u         auth.User
		username  sql.NullString
		phone     sql.NullString
		projectID sql.NullInt64
		lastLogin sql.NullTime
		deletedAt sql.NullTime
	)
	err := row.Scan(&u.ID, &u.FullName, &username, &u.Email, &u.PasswordHash, &phone,
		&u.Status, &projectID, &u.CreatedAt, &lastLogin, &deletedAt)
	if err != nil {
		return auth.User{}, err
	}
	if username.Valid {
		u.Username = &username.String
	}
	if phone.Valid {
		u.PhoneNumber = &phone.String
	}
	if projectID.Valid {
		u.ProjectID = &projectID.Int64
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		u.DeletedAt = &t
	}
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, nu auth.NewUser) (auth.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.User{}, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		insert into users (full_name, username, email, password_hash, phone_number, status, project_id)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning `+userColumns+`
	`, nu.FullName, nullIfEmpty(nu.Username), nu.Email, nu.PasswordHash,
		nullIfEmpty(nu.PhoneNumber), nu.Status, nullInt(nu.ProjectID))
	user, err := scanUser(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.User{}, auth.ErrConflict
		}
		return auth.User{}, err
	}
	if err := assignRoles(ctx, tx, user.ID, nu.RoleIDs); err != nil {
		return auth.User{}, err
	}
	roles, err := loadUserRoles(ctx, tx, user.ID)
	if err != nil {
		return auth.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return auth.User{}, err
	}
	user.Roles = roles
	return user, nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (auth.User, error) {
	return s.userBy(ctx, `id = $1`, id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (auth.User, error) {
	return s.userBy(ctx, `lower(email) = lower($1)`, email)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (auth.User, error) {
	return s.userBy(ctx, `username = $1`, username)
}

func (s *Store) userBy(ctx context.Context, where string, arg any) (auth.User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where `+where, arg)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.User{}, err
	}
	user.Roles, err = loadUserRoles(ctx, s.db, user.ID)
	if err != nil {
		return auth.User{}, err
	}
	return user, nil
}

func (s *Store) ListUsers(ctx context.Context, f auth.UserFilter) ([]auth.User, error) {
	var (
		where []string
		args  []any
		idx   = 1
	)
	if f.Status != "" {
		where = append(where, fmt.Sprintf("u.status = $%d", idx))
		args = append(args, f.Status)
		idx++
	}
	if f.RoleID != 0 {
		where = append(where, fmt.Sprintf("exists (select 1 from user_roles ur where ur.user_id = u.id and ur.role_id = $%d)", idx))
		args = append(args, f.RoleID)
		idx++
	}
	if f.Search != "" {
		where = append(where, fmt.Sprintf("(u.full_name ilike $%d or u.email ilike $%d)", idx, idx))
		args = append(args, "%"+f.Search+"%")
		idx++
	}
	query := `select ` + prefixColumns("u", userColumns) + ` from users u`
	if len(where) > 0 {
		query += ` where ` + strings.Join(where, " and ")
	}
	query += fmt.Sprintf(` order by u.id limit $%d offset $%d`, idx, idx+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
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
	for i := range users {
		users[i].Roles, err = loadUserRoles(ctx, s.db, users[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return users, nil
}

func (s *Store) UpdateUser(ctx context.Context, id int64, upd auth.UserUpdate) (auth.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.User{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		sets []string
		args []any
		idx  = 1
	)
	if upd.FullName != nil {
		sets = append(sets, fmt.Sprintf("full_name = $%d", idx))
		args = append(args, *upd.FullName)
		idx++
	}
	if upd.Username != nil {
		sets = append(sets, fmt.Sprintf("username = $%d", idx))
		args = append(args, nullIfEmpty(upd.Username))
		idx++
	}
	if upd.Email != nil {
		sets = append(sets, fmt.Sprintf("email = $%d", idx))
		args = append(args, *upd.Email)
		idx++
	}
	if upd.PhoneNumber != nil {
		sets = append(sets, fmt.Sprintf("phone_number = $%d", idx))
		args = append(args, nullIfEmpty(upd.PhoneNumber))
		idx++
	}
	if upd.Status != nil {
		sets = append(sets, fmt.Sprintf("status = $%d", idx))
		args = append(args, *upd.Status)
		idx++
	}
	if upd.ProjectID != nil {
		sets = append(sets, fmt.Sprintf("project_id = $%d", idx))
		args = append(args, *upd.ProjectID)
		idx++
	}
	if len(sets) > 0 {
		query := fmt.Sprintf(`update users set %s where id = $%d`, strings.Join(sets, ", "), idx)
		args = append(args, id)
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
				return auth.User{}, auth.ErrConflict
			}
			return auth.User{}, err
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return auth.User{}, err
		}
		if aff == 0 {
			return auth.User{}, auth.ErrNotFound
		}
	}
	if upd.RoleIDs != nil {
		if _, err := tx.ExecContext(ctx, `delete from user_roles where user_id = $1`, id); err != nil {
			return auth.User{}, err
		}
		if err := assignRoles(ctx, tx, id, upd.RoleIDs); err != nil {
			return auth.User{}, err
		}
	}
	row := tx.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.User{}, err
	}
	user.Roles, err = loadUserRoles(ctx, tx, id)
	if err != nil {
		return auth.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return auth.User{}, err
	}
	return user, nil
}

func (s *Store) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `update users set password_hash = $2 where id = $1`, id, passwordHash)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *Store) TouchLastLogin(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `update users set last_login_at = now() where id = $1`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *Store) SoftDeleteUser(ctx context.Context, id int64) (auth.User, error) {
	row := s.db.QueryRowContext(ctx, `
		update users
		set status = $2, deleted_at = now()
		where id = $1 and deleted_at is null
		returning `+userColumns+`
	`, id, auth.UserStatusDeleted)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.User{}, err
	}
	return user, nil
}

// UserPermissions is the permission aggregation query: the deduplicated
// union of permission names across every role the user holds.
func (s *Store) UserPermissions(ctx context.Context, id int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select distinct p.name
		from permissions p
		join role_permissions rp on rp.permission_id = p.id
		join user_roles ur on ur.role_id = rp.role_id
		where ur.user_id = $1
		order by p.name
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	perms := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		perms = append(perms, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

func assignRoles(ctx context.Context, q querier, userID int64, roleIDs []int64) error {
	for _, roleID := range roleIDs {
		if _, err := q.ExecContext(ctx, `
			insert into user_roles (user_id, role_id) values ($1, $2)
			on conflict do nothing
		`, userID, roleID); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
				return fmt.Errorf("%w: role %d does not exist", auth.ErrInvalidInput, roleID)
			}
			return err
		}
	}
	return nil
}

// loadUserRoles returns roles in assignment order; the first one is the
// user's display role.
func loadUserRoles(ctx context.Context, q querier, userID int64) ([]auth.Role, error) {
	rows, err := q.QueryContext(ctx, `
		select r.id, r.name, r.description, r.created_at
		from roles r
		join user_roles ur on ur.role_id = r.id
		where ur.user_id = $1
		order by ur.created_at, r.id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []auth.Role
	for rows.Next() {
		var r auth.Role
		var desc sql.NullString
		if err := rows.Scan(&r.ID, &r.Name, &desc, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Description = desc.String
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}
