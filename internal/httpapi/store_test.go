package httpapi

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/invite"
)

// memStore is an in-memory implementation of the auth and invite stores so
// handler tests exercise the full service stack over HTTP.
type memStore struct {
	mu sync.Mutex

	nextUserID    int64
	nextRoleID    int64
	nextInvID     int64
	nextProjectID int64

	users       map[int64]*auth.User
	userRoles   map[int64][]int64
	roles       map[int64]*auth.Role
	permissions map[int64]auth.Permission
	projects    map[int64]*auth.Project
	invitations map[int64]*invite.Invitation
	invRoles    map[int64][]int64
	audits      []auth.AuditEntry
}

func newMemStore() *memStore {
	return &memStore{
		users:       map[int64]*auth.User{},
		userRoles:   map[int64][]int64{},
		roles:       map[int64]*auth.Role{},
		permissions: map[int64]auth.Permission{},
		projects:    map[int64]*auth.Project{},
		invitations: map[int64]*invite.Invitation{},
		invRoles:    map[int64][]int64{},
	}
}

func (m *memStore) addPermission(name string) auth.Permission {
	parts := strings.SplitN(name, ":", 2)
	p := auth.Permission{
		ID:         int64(len(m.permissions) + 1),
		Name:       name,
		APIVersion: "v1",
		Method:     "GET",
		Module:     parts[0],
		Feature:    parts[len(parts)-1],
		CreatedAt:  time.Now(),
	}
	m.permissions[p.ID] = p
	return p
}

func (m *memStore) addRole(name string, permNames ...string) auth.Role {
	m.nextRoleID++
	role := &auth.Role{ID: m.nextRoleID, Name: name, CreatedAt: time.Now()}
	for _, pn := range permNames {
		for _, p := range m.permissions {
			if p.Name == pn {
				role.Permissions = append(role.Permissions, p)
			}
		}
	}
	m.roles[role.ID] = role
	return *role
}

func (m *memStore) addUser(email, passwordHash string, roleIDs ...int64) auth.User {
	m.nextUserID++
	u := &auth.User{
		ID:           m.nextUserID,
		FullName:     "User " + email,
		Email:        email,
		PasswordHash: passwordHash,
		Status:       auth.UserStatusActive,
		CreatedAt:    time.Now(),
	}
	m.users[u.ID] = u
	m.userRoles[u.ID] = append([]int64(nil), roleIDs...)
	return m.withRoles(u)
}

func (m *memStore) withRoles(u *auth.User) auth.User {
	out := *u
	out.Roles = nil
	for _, rid := range m.userRoles[u.ID] {
		if role, ok := m.roles[rid]; ok {
			out.Roles = append(out.Roles, *role)
		}
	}
	return out
}

// --- auth.UserStore ---

func (m *memStore) CreateUser(ctx context.Context, nu auth.NewUser) (auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createUserLocked(nu)
}

func (m *memStore) createUserLocked(nu auth.NewUser) (auth.User, error) {
	for _, u := range m.users {
		if strings.EqualFold(u.Email, nu.Email) {
			return auth.User{}, auth.ErrConflict
		}
	}
	for _, rid := range nu.RoleIDs {
		if _, ok := m.roles[rid]; !ok {
			return auth.User{}, fmt.Errorf("%w: role %d does not exist", auth.ErrInvalidInput, rid)
		}
	}
	m.nextUserID++
	u := &auth.User{
		ID:           m.nextUserID,
		FullName:     nu.FullName,
		Username:     nu.Username,
		Email:        nu.Email,
		PasswordHash: nu.PasswordHash,
		PhoneNumber:  nu.PhoneNumber,
		Status:       nu.Status,
		ProjectID:    nu.ProjectID,
		CreatedAt:    time.Now(),
	}
	m.users[u.ID] = u
	m.userRoles[u.ID] = append([]int64(nil), nu.RoleIDs...)
	return m.withRoles(u), nil
}

func (m *memStore) GetUser(ctx context.Context, id int64) (auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	return m.withRoles(u), nil
}

func (m *memStore) GetUserByEmail(ctx context.Context, email string) (auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return m.withRoles(u), nil
		}
	}
	return auth.User{}, auth.ErrNotFound
}

func (m *memStore) GetUserByUsername(ctx context.Context, username string) (auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username != nil && *u.Username == username {
			return m.withRoles(u), nil
		}
	}
	return auth.User{}, auth.ErrNotFound
}

func (m *memStore) ListUsers(ctx context.Context, f auth.UserFilter) ([]auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []auth.User
	for _, u := range m.users {
		if f.Status != "" && u.Status != f.Status {
			continue
		}
		out = append(out, m.withRoles(u))
	}
	return out, nil
}

func (m *memStore) UpdateUser(ctx context.Context, id int64, upd auth.UserUpdate) (auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	if upd.FullName != nil {
		u.FullName = *upd.FullName
	}
	if upd.Email != nil {
		u.Email = *upd.Email
	}
	if upd.Username != nil {
		u.Username = upd.Username
	}
	if upd.PhoneNumber != nil {
		u.PhoneNumber = upd.PhoneNumber
	}
	if upd.Status != nil {
		u.Status = *upd.Status
	}
	if upd.ProjectID != nil {
		u.ProjectID = upd.ProjectID
	}
	if upd.RoleIDs != nil {
		m.userRoles[id] = append([]int64(nil), upd.RoleIDs...)
	}
	return m.withRoles(u), nil
}

func (m *memStore) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (m *memStore) TouchLastLogin(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	now := time.Now()
	u.LastLoginAt = &now
	return nil
}

func (m *memStore) SoftDeleteUser(ctx context.Context, id int64) (auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || u.DeletedAt != nil {
		return auth.User{}, auth.ErrNotFound
	}
	now := time.Now()
	u.DeletedAt = &now
	u.Status = auth.UserStatusDeleted
	return m.withRoles(u), nil
}

func (m *memStore) UserPermissions(ctx context.Context, id int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]struct{}{}
	perms := []string{}
	for _, rid := range m.userRoles[id] {
		role, ok := m.roles[rid]
		if !ok {
			continue
		}
		for _, p := range role.Permissions {
			if _, dup := seen[p.Name]; dup {
				continue
			}
			seen[p.Name] = struct{}{}
			perms = append(perms, p.Name)
		}
	}
	return perms, nil
}

// --- auth.RoleStore ---

func (m *memStore) CreateRole(ctx context.Context, name, description string, permissions []string) (auth.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.roles {
		if r.Name == name {
			return auth.Role{}, auth.ErrConflict
		}
	}
	m.nextRoleID++
	role := &auth.Role{ID: m.nextRoleID, Name: name, Description: description, CreatedAt: time.Now()}
	for _, pn := range permissions {
		p, err := m.permissionByNameLocked(pn)
		if err != nil {
			return auth.Role{}, err
		}
		role.Permissions = append(role.Permissions, p)
	}
	m.roles[role.ID] = role
	return *role, nil
}

func (m *memStore) permissionByNameLocked(name string) (auth.Permission, error) {
	for _, p := range m.permissions {
		if p.Name == name {
			return p, nil
		}
	}
	return auth.Permission{}, fmt.Errorf("%w: unknown permission %s", auth.ErrInvalidInput, name)
}

func (m *memStore) GetRole(ctx context.Context, id int64) (auth.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.roles[id]
	if !ok {
		return auth.Role{}, auth.ErrNotFound
	}
	return *role, nil
}

func (m *memStore) GetRoleByName(ctx context.Context, name string) (auth.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, role := range m.roles {
		if role.Name == name {
			return *role, nil
		}
	}
	return auth.Role{}, auth.ErrNotFound
}

func (m *memStore) ListRoles(ctx context.Context, limit, offset int) ([]auth.RoleSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []auth.RoleSummary
	for _, role := range m.roles {
		var count int64
		for _, rids := range m.userRoles {
			for _, rid := range rids {
				if rid == role.ID {
					count++
				}
			}
		}
		out = append(out, auth.RoleSummary{Role: *role, UserCount: count})
	}
	return out, nil
}

func (m *memStore) UpdateRole(ctx context.Context, id int64, upd auth.RoleUpdate) (auth.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.roles[id]
	if !ok {
		return auth.Role{}, auth.ErrNotFound
	}
	if upd.Name != nil {
		role.Name = *upd.Name
	}
	if upd.Description != nil {
		role.Description = *upd.Description
	}
	if upd.Permissions != nil {
		role.Permissions = nil
		for _, pn := range upd.Permissions {
			p, err := m.permissionByNameLocked(pn)
			if err != nil {
				return auth.Role{}, err
			}
			role.Permissions = append(role.Permissions, p)
		}
	}
	return *role, nil
}

func (m *memStore) DeleteRole(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[id]; !ok {
		return auth.ErrNotFound
	}
	for _, rids := range m.userRoles {
		for _, rid := range rids {
			if rid == id {
				return fmt.Errorf("%w: role is assigned", auth.ErrConflict)
			}
		}
	}
	delete(m.roles, id)
	return nil
}

func (m *memStore) ListRoleUsers(ctx context.Context, roleID int64, limit, offset int) ([]auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []auth.User
	for uid, rids := range m.userRoles {
		for _, rid := range rids {
			if rid == roleID {
				out = append(out, m.withRoles(m.users[uid]))
			}
		}
	}
	return out, nil
}

// --- auth.PermissionStore ---

func (m *memStore) ListPermissions(ctx context.Context, limit, offset int) ([]auth.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []auth.Permission
	for _, p := range m.permissions {
		out = append(out, p)
	}
	return out, nil
}

func (m *memStore) GetPermission(ctx context.Context, id int64) (auth.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.permissions[id]
	if !ok {
		return auth.Permission{}, auth.ErrNotFound
	}
	return p, nil
}

func (m *memStore) GetPermissionByName(ctx context.Context, name string) (auth.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.permissionByNameLocked(name)
}

func (m *memStore) ListPermissionsByVersion(ctx context.Context, version string, limit, offset int) ([]auth.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []auth.Permission
	for _, p := range m.permissions {
		if p.APIVersion == version {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) ListPermissionsByMethod(ctx context.Context, method string, limit, offset int) ([]auth.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []auth.Permission
	for _, p := range m.permissions {
		if p.Method == method {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) ListPermissionsByModuleFeature(ctx context.Context, module, feature string, limit, offset int) ([]auth.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []auth.Permission
	for _, p := range m.permissions {
		if p.Module == module && p.Feature == feature {
			out = append(out, p)
		}
	}
	return out, nil
}

// --- auth.ProjectStore ---

func (m *memStore) CreateProject(ctx context.Context, name string, logoURL *string) (auth.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextProjectID++
	p := &auth.Project{ID: m.nextProjectID, Name: name, LogoURL: logoURL, CreatedAt: time.Now()}
	m.projects[p.ID] = p
	return *p, nil
}

func (m *memStore) GetProject(ctx context.Context, id int64) (auth.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok || p.DeletedAt != nil {
		return auth.Project{}, auth.ErrNotFound
	}
	return *p, nil
}

func (m *memStore) ListProjects(ctx context.Context, limit, offset int) ([]auth.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []auth.Project
	for _, p := range m.projects {
		if p.DeletedAt != nil {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

func (m *memStore) UpdateProject(ctx context.Context, id int64, upd auth.ProjectUpdate) (auth.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok || p.DeletedAt != nil {
		return auth.Project{}, auth.ErrNotFound
	}
	if upd.Name != nil {
		p.Name = *upd.Name
	}
	if upd.LogoURL != nil {
		p.LogoURL = upd.LogoURL
	}
	return *p, nil
}

func (m *memStore) SoftDeleteProject(ctx context.Context, id int64) (auth.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok || p.DeletedAt != nil {
		return auth.Project{}, auth.ErrNotFound
	}
	now := time.Now()
	p.DeletedAt = &now
	return *p, nil
}

// --- auth.AuditStore ---

func (m *memStore) AppendAudit(ctx context.Context, entry auth.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.ID = int64(len(m.audits) + 1)
	entry.CreatedAt = time.Now()
	m.audits = append(m.audits, entry)
	return nil
}

// --- invite.Store ---

func (m *memStore) CreateInvitation(ctx context.Context, ni invite.NewInvitation) (invite.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invitations {
		if inv.Code == ni.Code {
			return invite.Invitation{}, auth.ErrConflict
		}
	}
	m.nextInvID++
	inv := &invite.Invitation{
		ID:          m.nextInvID,
		Code:        ni.Code,
		Email:       ni.Email,
		Status:      invite.StatusPending,
		CreatedByID: ni.CreatedByID,
		CreatedAt:   time.Now(),
		ExpiresAt:   ni.ExpiresAt,
	}
	m.invitations[inv.ID] = inv
	m.invRoles[inv.ID] = append([]int64(nil), ni.RoleIDs...)
	return m.invWithRoles(inv), nil
}

func (m *memStore) invWithRoles(inv *invite.Invitation) invite.Invitation {
	out := *inv
	out.Roles = nil
	for _, rid := range m.invRoles[inv.ID] {
		if role, ok := m.roles[rid]; ok {
			out.Roles = append(out.Roles, *role)
		}
	}
	return out
}

func (m *memStore) GetInvitation(ctx context.Context, id int64) (invite.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invitations[id]
	if !ok {
		return invite.Invitation{}, auth.ErrNotFound
	}
	return m.invWithRoles(inv), nil
}

func (m *memStore) GetInvitationByCode(ctx context.Context, code string) (invite.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invitations {
		if inv.Code == code {
			return m.invWithRoles(inv), nil
		}
	}
	return invite.Invitation{}, auth.ErrNotFound
}

func (m *memStore) ListInvitations(ctx context.Context, f invite.Filter) ([]invite.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []invite.Invitation
	for _, inv := range m.invitations {
		if f.Status != "" && inv.Status != f.Status {
			continue
		}
		if f.Email != "" && !strings.EqualFold(inv.Email, f.Email) {
			continue
		}
		out = append(out, m.invWithRoles(inv))
	}
	return out, nil
}

func (m *memStore) CancelInvitation(ctx context.Context, id int64) (invite.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(id, invite.StatusCancelled)
}

func (m *memStore) AcceptInvitation(ctx context.Context, id int64) (invite.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(id, invite.StatusAccepted)
}

func (m *memStore) transitionLocked(id int64, to string) (invite.Invitation, error) {
	inv, ok := m.invitations[id]
	if !ok {
		return invite.Invitation{}, auth.ErrNotFound
	}
	if inv.Status != invite.StatusPending {
		return invite.Invitation{}, invite.ErrNotPending
	}
	inv.Status = to
	return m.invWithRoles(inv), nil
}

func (m *memStore) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, inv := range m.invitations {
		if inv.Status == invite.StatusPending && !now.Before(inv.ExpiresAt) {
			inv.Status = invite.StatusExpired
			n++
		}
	}
	return n, nil
}

func (m *memStore) RedeemInvitation(ctx context.Context, inv invite.Invitation, nu auth.NewUser) (auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.transitionLocked(inv.ID, invite.StatusAccepted); err != nil {
		return auth.User{}, err
	}
	user, err := m.createUserLocked(nu)
	if err != nil {
		// mimic transactional rollback of the accept
		m.invitations[inv.ID].Status = invite.StatusPending
		return auth.User{}, err
	}
	m.audits = append(m.audits, auth.AuditEntry{
		ID:        int64(len(m.audits) + 1),
		UserID:    user.ID,
		Action:    "invitation.redeem",
		Details:   map[string]any{"invitation_id": inv.ID},
		CreatedAt: time.Now(),
	})
	return user, nil
}
