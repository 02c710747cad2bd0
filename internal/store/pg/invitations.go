package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/invite"
)

const invitationColumns = `id, code, email, status, created_by_id, created_at, expires_at`

func scanInvitation(row rowScanner) (invite.Invitation, error) {
	var inv invite.Invitation
	err := row.Scan(&inv.ID, &inv.Code, &inv.Email, &inv.Status, &inv.CreatedByID, &inv.CreatedAt, &inv.ExpiresAt)
	if err != nil {
		return invite.Invitation{}, err
	}
	return inv, nil
}

func (s *Store) CreateInvitation(ctx context.Context, ni invite.NewInvitation) (invite.Invitation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return invite.Invitation{}, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		insert into invitations (code, email, status, created_by_id, expires_at)
		values ($1, $2, $3, $4, $5)
		returning `+invitationColumns+`
	`, ni.Code, ni.Email, invite.StatusPending, ni.CreatedByID, ni.ExpiresAt)
	inv, err := scanInvitation(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return invite.Invitation{}, auth.ErrConflict
			case pgErrForeignKeyViolation:
				return invite.Invitation{}, auth.ErrNotFound
			}
		}
		return invite.Invitation{}, err
	}
	for _, roleID := range ni.RoleIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into invitation_roles (invitation_id, role_id) values ($1, $2)
			on conflict do nothing
		`, inv.ID, roleID); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
				return invite.Invitation{}, fmt.Errorf("%w: role %d does not exist", auth.ErrInvalidInput, roleID)
			}
			return invite.Invitation{}, err
		}
	}
	inv.Roles, err = loadInvitationRoles(ctx, tx, inv.ID)
	if err != nil {
		return invite.Invitation{}, err
	}
	if err := tx.Commit(); err != nil {
		return invite.Invitation{}, err
	}
	return inv, nil
}

func (s *Store) GetInvitation(ctx context.Context, id int64) (invite.Invitation, error) {
	return s.invitationBy(ctx, `id = $1`, id)
}

func (s *Store) GetInvitationByCode(ctx context.Context, code string) (invite.Invitation, error) {
	return s.invitationBy(ctx, `code = $1`, code)
}

func (s *Store) invitationBy(ctx context.Context, where string, arg any) (invite.Invitation, error) {
	row := s.db.QueryRowContext(ctx, `select `+invitationColumns+` from invitations where `+where, arg)
	inv, err := scanInvitation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return invite.Invitation{}, auth.ErrNotFound
	}
	if err != nil {
		return invite.Invitation{}, err
	}
	inv.Roles, err = loadInvitationRoles(ctx, s.db, inv.ID)
	if err != nil {
		return invite.Invitation{}, err
	}
	return inv, nil
}

func (s *Store) ListInvitations(ctx context.Context, f invite.Filter) ([]invite.Invitation, error) {
	var (
		where []string
		args  []any
		idx   = 1
	)
	if f.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", idx))
		args = append(args, f.Status)
		idx++
	}
	if f.Email != "" {
		where = append(where, fmt.Sprintf("lower(email) = lower($%d)", idx))
		args = append(args, f.Email)
		idx++
	}
	query := `select ` + invitationColumns + ` from invitations`
	if len(where) > 0 {
		query += ` where ` + strings.Join(where, " and ")
	}
	query += fmt.Sprintf(` order by created_at desc, id desc limit $%d offset $%d`, idx, idx+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []invite.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range result {
		result[i].Roles, err = loadInvitationRoles(ctx, s.db, result[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *Store) CancelInvitation(ctx context.Context, id int64) (invite.Invitation, error) {
	return s.transitionInvitation(ctx, s.db, id, invite.StatusCancelled)
}

func (s *Store) AcceptInvitation(ctx context.Context, id int64) (invite.Invitation, error) {
	return s.transitionInvitation(ctx, s.db, id, invite.StatusAccepted)
}

// transitionInvitation is the compare-and-set guard for the PENDING state.
// The status predicate in the update makes a lost race indistinguishable
// from an already-settled row: both come back as ErrNotPending.
func (s *Store) transitionInvitation(ctx context.Context, q querier, id int64, to string) (invite.Invitation, error) {
	row := q.QueryRowContext(ctx, `
		update invitations
		set status = $2
		where id = $1 and status = $3
		returning `+invitationColumns+`
	`, id, to, invite.StatusPending)
	inv, err := scanInvitation(row)
	if errors.Is(err, sql.ErrNoRows) {
		var status string
		err := q.QueryRowContext(ctx, `select status from invitations where id = $1`, id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return invite.Invitation{}, auth.ErrNotFound
		}
		if err != nil {
			return invite.Invitation{}, err
		}
		return invite.Invitation{}, invite.ErrNotPending
	}
	if err != nil {
		return invite.Invitation{}, err
	}
	inv.Roles, err = loadInvitationRoles(ctx, q, inv.ID)
	if err != nil {
		return invite.Invitation{}, err
	}
	return inv, nil
}

func (s *Store) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		update invitations
		set status = $2
		where status = $1 and expires_at <= $3
	`, invite.StatusPending, invite.StatusExpired, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RedeemInvitation is the one multi-step transition in the lifecycle: the
// accept CAS, the account insert, the role copy, and the audit row commit
// together or not at all.
func (s *Store) RedeemInvitation(ctx context.Context, inv invite.Invitation, nu auth.NewUser) (auth.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.User{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := s.transitionInvitation(ctx, tx, inv.ID, invite.StatusAccepted); err != nil {
		return auth.User{}, err
	}

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

	if _, err := tx.ExecContext(ctx, `
		insert into user_roles (user_id, role_id)
		select $1, role_id from invitation_roles where invitation_id = $2
	`, user.ID, inv.ID); err != nil {
		return auth.User{}, err
	}

	if err := appendAudit(ctx, tx, auth.AuditEntry{
		UserID: user.ID,
		Action: "invitation.redeem",
		Details: map[string]any{
			"invitation_id": inv.ID,
			"email":         inv.Email,
		},
	}); err != nil {
		return auth.User{}, err
	}

	user.Roles, err = loadUserRoles(ctx, tx, user.ID)
	if err != nil {
		return auth.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return auth.User{}, err
	}
	return user, nil
}

func loadInvitationRoles(ctx context.Context, q querier, invitationID int64) ([]auth.Role, error) {
	rows, err := q.QueryContext(ctx, `
		select r.id, r.name, r.description, r.created_at
		from roles r
		join invitation_roles ir on ir.role_id = r.id
		where ir.invitation_id = $1
		order by r.id
	`, invitationID)
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
