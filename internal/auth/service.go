package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
)

const resetTokenTTL = time.Hour

// Service provides authentication, credential issuance, and account/role
// management on top of a Store.
type Service struct {
	store  Store
	tokens *TokenIssuer
	now    func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithServiceClock overrides the time source. Test use.
func WithServiceClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a Service.
func NewService(store Store, tokens *TokenIssuer, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: token issuer is required")
	}
	s := &Service{store: store, tokens: tokens, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RegisterParams carries a plaintext password; hashing happens here.
type RegisterParams struct {
	FullName    string
	Username    *string
	Email       string
	Password    string
	PhoneNumber *string
	ProjectID   *int64
	RoleIDs     []int64
}

// Authenticate verifies email/password and issues a credential. Unknown
// email, wrong password, and inactive accounts all surface as
// ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (Credential, User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return Credential{}, User{}, ErrInvalidCredentials
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Credential{}, User{}, ErrInvalidCredentials
		}
		return Credential{}, User{}, err
	}
	if !user.Active() {
		return Credential{}, User{}, ErrInvalidCredentials
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return Credential{}, User{}, ErrInvalidCredentials
	}
	if err := s.store.TouchLastLogin(ctx, user.ID); err != nil {
		return Credential{}, User{}, err
	}
	cred, err := s.issue(ctx, user)
	if err != nil {
		return Credential{}, User{}, err
	}
	if err := s.store.AppendAudit(ctx, AuditEntry{
		UserID:  user.ID,
		Action:  "user.login",
		Details: map[string]any{"email": user.Email},
	}); err != nil {
		return Credential{}, User{}, err
	}
	return cred, user, nil
}

// IssueCredential issues a fresh credential for an existing principal.
// Internal use after out-of-band authentication.
func (s *Service) IssueCredential(ctx context.Context, userID int64) (Credential, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return Credential{}, err
	}
	return s.issue(ctx, user)
}

// issue aggregates the user's effective permission set and signs a
// credential. Pure read plus transform; nothing is persisted.
func (s *Service) issue(ctx context.Context, user User) (Credential, error) {
	perms, err := s.store.UserPermissions(ctx, user.ID)
	if err != nil {
		return Credential{}, err
	}
	return s.tokens.Issue(user, perms)
}

// VerifyToken validates a bearer token and returns its claim set.
func (s *Service) VerifyToken(token string) (*Claims, error) {
	return s.tokens.ParseAndValidate(token)
}

// CheckAuthorization re-verifies the principal behind a claim set is still
// active, then runs the set-difference decision. Required names are
// caller-supplied literals; unknown names simply end up missing.
func (s *Service) CheckAuthorization(ctx context.Context, claims *Claims, required []string) (Decision, error) {
	if claims == nil {
		return Decision{}, ErrInvalidToken
	}
	user, err := s.store.GetUserByEmail(ctx, claims.Email())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Decision{}, ErrInvalidToken
		}
		return Decision{}, err
	}
	if !user.Active() {
		return Decision{}, ErrInvalidToken
	}
	return Decide(claims.Permissions, required), nil
}

// Register creates an account through open registration.
func (s *Service) Register(ctx context.Context, p RegisterParams) (User, error) {
	user, err := s.createUser(ctx, p)
	if err != nil {
		return User{}, err
	}
	if err := s.store.AppendAudit(ctx, AuditEntry{
		UserID:  user.ID,
		Action:  "user.register",
		Details: map[string]any{"email": user.Email},
	}); err != nil {
		return User{}, err
	}
	return user, nil
}

// CreateUser creates an account on behalf of a privileged actor.
func (s *Service) CreateUser(ctx context.Context, actorID int64, p RegisterParams) (User, error) {
	user, err := s.createUser(ctx, p)
	if err != nil {
		return User{}, err
	}
	if err := s.store.AppendAudit(ctx, AuditEntry{
		UserID: actorID,
		Action: "user.create",
		Details: map[string]any{
			"created_user_id":    user.ID,
			"created_user_email": user.Email,
			"roles_assigned":     p.RoleIDs,
		},
	}); err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *Service) createUser(ctx context.Context, p RegisterParams) (User, error) {
	p.Email = normalizeEmail(p.Email)
	if p.Email == "" || !strings.Contains(p.Email, "@") {
		return User{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	p.FullName = strings.TrimSpace(p.FullName)
	if p.FullName == "" {
		return User{}, fmt.Errorf("%w: full_name is required", ErrInvalidInput)
	}
	if strings.TrimSpace(p.Password) == "" {
		return User{}, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	if err := s.ensureEmailFree(ctx, p.Email, 0); err != nil {
		return User{}, err
	}
	if p.Username != nil {
		trimmed := strings.TrimSpace(*p.Username)
		if trimmed == "" {
			p.Username = nil
		} else {
			p.Username = &trimmed
			if err := s.ensureUsernameFree(ctx, trimmed, 0); err != nil {
				return User{}, err
			}
		}
	}
	hash, err := HashPassword(p.Password)
	if err != nil {
		return User{}, err
	}
	return s.store.CreateUser(ctx, NewUser{
		FullName:     p.FullName,
		Username:     p.Username,
		Email:        p.Email,
		PasswordHash: hash,
		PhoneNumber:  p.PhoneNumber,
		ProjectID:    p.ProjectID,
		Status:       UserStatusActive,
		RoleIDs:      p.RoleIDs,
	})
}

// ChangePassword verifies the old password before storing a new hash.
func (s *Service) ChangePassword(ctx context.Context, userID int64, oldPassword, newPassword string) error {
	if strings.TrimSpace(newPassword) == "" {
		return fmt.Errorf("%w: new password is required", ErrInvalidInput)
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := VerifyPassword(user.PasswordHash, oldPassword); err != nil {
		return fmt.Errorf("%w: incorrect old password", ErrInvalidInput)
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.store.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	return s.store.AppendAudit(ctx, AuditEntry{
		UserID:  userID,
		Action:  "user.password_change",
		Details: map[string]any{"email": user.Email},
	})
}

// ForgotPassword records a reset token for active accounts. The response
// shape is uniform whether or not the email exists, so it cannot be used to
// enumerate accounts.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return nil
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if !user.Active() {
		return nil
	}
	token, err := resetToken()
	if err != nil {
		return err
	}
	return s.store.AppendAudit(ctx, AuditEntry{
		UserID: user.ID,
		Action: "password.reset_requested",
		Details: map[string]any{
			"email":       email,
			"reset_token": token,
			"expires_at":  s.now().UTC().Add(resetTokenTTL).Format(time.RFC3339),
		},
	})
}

// ResetPassword redeems a reset token. Tokens are only recorded in the audit
// trail; there is no token store, so redemption always fails.
// TODO: persist reset tokens with expiry so redemption can succeed.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if strings.TrimSpace(token) == "" || strings.TrimSpace(newPassword) == "" {
		return fmt.Errorf("%w: reset token and new password are required", ErrInvalidInput)
	}
	return fmt.Errorf("%w: invalid or expired reset token", ErrInvalidInput)
}

// GetUser returns a user with roles loaded.
func (s *Service) GetUser(ctx context.Context, id int64) (User, error) {
	return s.store.GetUser(ctx, id)
}

// GetUserByEmail returns a user with roles loaded.
func (s *Service) GetUserByEmail(ctx context.Context, email string) (User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return User{}, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	return s.store.GetUserByEmail(ctx, email)
}

// ListUsers pages through accounts with optional status/role/search filters.
func (s *Service) ListUsers(ctx context.Context, f UserFilter) ([]User, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.store.ListUsers(ctx, f)
}

// UpdateUser applies partial changes, re-checking uniqueness constraints.
func (s *Service) UpdateUser(ctx context.Context, actorID, userID int64, upd UserUpdate) (User, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if upd.Email != nil {
		email := normalizeEmail(*upd.Email)
		if email == "" || !strings.Contains(email, "@") {
			return User{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
		}
		if email != user.Email {
			if err := s.ensureEmailFree(ctx, email, userID); err != nil {
				return User{}, err
			}
		}
		upd.Email = &email
	}
	if upd.Username != nil {
		username := strings.TrimSpace(*upd.Username)
		if username != "" && (user.Username == nil || username != *user.Username) {
			if err := s.ensureUsernameFree(ctx, username, userID); err != nil {
				return User{}, err
			}
		}
		upd.Username = &username
	}
	if upd.Status != nil {
		status := strings.ToUpper(strings.TrimSpace(*upd.Status))
		switch status {
		case UserStatusActive, UserStatusInactive:
		default:
			return User{}, fmt.Errorf("%w: unsupported status %s", ErrInvalidInput, status)
		}
		upd.Status = &status
	}
	updated, err := s.store.UpdateUser(ctx, userID, upd)
	if err != nil {
		return User{}, err
	}
	if err := s.store.AppendAudit(ctx, AuditEntry{
		UserID: actorID,
		Action: "user.update",
		Details: map[string]any{
			"user_id":   userID,
			"old_email": user.Email,
			"new_email": updated.Email,
		},
	}); err != nil {
		return User{}, err
	}
	return updated, nil
}

// DeleteUserLogical soft-deletes an account. Self-deletion is refused and
// rows are never removed.
func (s *Service) DeleteUserLogical(ctx context.Context, actorID, userID int64) (User, error) {
	if actorID == userID {
		return User{}, fmt.Errorf("%w: cannot delete your own account", ErrInvalidInput)
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if user.DeletedAt != nil {
		return User{}, fmt.Errorf("%w: user already deleted", ErrInvalidInput)
	}
	deleted, err := s.store.SoftDeleteUser(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if err := s.store.AppendAudit(ctx, AuditEntry{
		UserID: actorID,
		Action: "user.delete",
		Details: map[string]any{
			"deleted_user_id":    userID,
			"deleted_user_email": user.Email,
		},
	}); err != nil {
		return User{}, err
	}
	return deleted, nil
}

// EffectivePermissions returns the union of permission names across the
// user's roles.
func (s *Service) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	return s.store.UserPermissions(ctx, userID)
}

// CreateRole creates a role with an initial permission set.
func (s *Service) CreateRole(ctx context.Context, actorID int64, name, description string, permissions []string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	if _, err := s.store.GetRoleByName(ctx, name); err == nil {
		return Role{}, fmt.Errorf("%w: role name already exists", ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return Role{}, err
	}
	role, err := s.store.CreateRole(ctx, name, strings.TrimSpace(description), dedupePermissions(permissions))
	if err != nil {
		return Role{}, err
	}
	if err := s.store.AppendAudit(ctx, AuditEntry{
		UserID: actorID,
		Action: "role.create",
		Details: map[string]any{
			"role_id":              role.ID,
			"role_name":            role.Name,
			"permissions_assigned": permissionNames(role.Permissions),
		},
	}); err != nil {
		return Role{}, err
	}
	return role, nil
}

// ListRoles pages through roles with holder counts.
func (s *Service) ListRoles(ctx context.Context, limit, offset int) ([]RoleSummary, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListRoles(ctx, limit, offset)
}

// GetRole returns a role with its permissions loaded.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	return s.store.GetRole(ctx, id)
}

// GetRoleUsers lists the users currently holding a role.
func (s *Service) GetRoleUsers(ctx context.Context, roleID int64, limit, offset int) ([]User, error) {
	if _, err := s.store.GetRole(ctx, roleID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListRoleUsers(ctx, roleID, limit, offset)
}

// UpdateRole applies partial changes; a non-nil permission list replaces the
// role's full permission set.
func (s *Service) UpdateRole(ctx context.Context, actorID, roleID int64, upd RoleUpdate) (Role, error) {
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return Role{}, err
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
		}
		if name != role.Name {
			if _, err := s.store.GetRoleByName(ctx, name); err == nil {
				return Role{}, fmt.Errorf("%w: role name already exists", ErrConflict)
			} else if !errors.Is(err, ErrNotFound) {
				return Role{}, err
			}
		}
		upd.Name = &name
	}
	if upd.Permissions != nil {
		upd.Permissions = dedupePermissions(upd.Permissions)
	}
	updated, err := s.store.UpdateRole(ctx, roleID, upd)
	if err != nil {
		return Role{}, err
	}
	if err := s.store.AppendAudit(ctx, AuditEntry{
		UserID: actorID,
		Action: "role.update",
		Details: map[string]any{
			"role_id":         roleID,
			"role_name":       updated.Name,
			"old_permissions": permissionNames(role.Permissions),
			"new_permissions": permissionNames(updated.Permissions),
		},
	}); err != nil {
		return Role{}, err
	}
	return updated, nil
}

// DeleteRole removes a role. Deletion is refused with ErrConflict while any
// user still holds the role.
func (s *Service) DeleteRole(ctx context.Context, actorID, roleID int64) (Role, error) {
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return Role{}, err
	}
	if err := s.store.DeleteRole(ctx, roleID); err != nil {
		return Role{}, err
	}
	if err := s.store.AppendAudit(ctx, AuditEntry{
		UserID: actorID,
		Action: "role.delete",
		Details: map[string]any{
			"role_id":   roleID,
			"role_name": role.Name,
		},
	}); err != nil {
		return Role{}, err
	}
	return role, nil
}

// ListPermissions pages through the seeded catalog.
func (s *Service) ListPermissions(ctx context.Context, limit, offset int) ([]Permission, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListPermissions(ctx, limit, offset)
}

// GetPermission returns a catalog entry by id.
func (s *Service) GetPermission(ctx context.Context, id int64) (Permission, error) {
	return s.store.GetPermission(ctx, id)
}

// GetPermissionByName returns a catalog entry by unique name.
func (s *Service) GetPermissionByName(ctx context.Context, name string) (Permission, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Permission{}, fmt.Errorf("%w: permission name is required", ErrInvalidInput)
	}
	return s.store.GetPermissionByName(ctx, name)
}

// ListPermissionsByVersion filters the catalog by declared API version.
func (s *Service) ListPermissionsByVersion(ctx context.Context, version string, limit, offset int) ([]Permission, error) {
	version = strings.TrimSpace(version)
	if version == "" {
		return nil, fmt.Errorf("%w: version is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 100
	}
	return s.store.ListPermissionsByVersion(ctx, version, limit, max(offset, 0))
}

// ListPermissionsByMethod filters the catalog by declared HTTP method.
func (s *Service) ListPermissionsByMethod(ctx context.Context, method string, limit, offset int) ([]Permission, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		return nil, fmt.Errorf("%w: method is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 100
	}
	return s.store.ListPermissionsByMethod(ctx, method, limit, max(offset, 0))
}

// ListPermissionsByModuleFeature filters the catalog by module/feature pair.
func (s *Service) ListPermissionsByModuleFeature(ctx context.Context, module, feature string, limit, offset int) ([]Permission, error) {
	module = strings.TrimSpace(module)
	feature = strings.TrimSpace(feature)
	if module == "" || feature == "" {
		return nil, fmt.Errorf("%w: module and feature are required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 100
	}
	return s.store.ListPermissionsByModuleFeature(ctx, module, feature, limit, max(offset, 0))
}

// CreateProject creates a tenant grouping.
func (s *Service) CreateProject(ctx context.Context, actorID int64, name string, logoURL *string) (Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Project{}, fmt.Errorf("%w: project name is required", ErrInvalidInput)
	}
	project, err := s.store.CreateProject(ctx, name, logoURL)
	if err != nil {
		return Project{}, err
	}
	if err := s.store.AppendAudit(ctx, AuditEntry{
		UserID: actorID,
		Action: "project.create",
		Details: map[string]any{
			"project_id":   project.ID,
			"project_name": project.Name,
		},
	}); err != nil {
		return Project{}, err
	}
	return project, nil
}

// GetProject returns a project by id. Soft-deleted projects are not found.
func (s *Service) GetProject(ctx context.Context, id int64) (Project, error) {
	return s.store.GetProject(ctx, id)
}

// ListProjects pages through projects, newest last.
func (s *Service) ListProjects(ctx context.Context, limit, offset int) ([]Project, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.store.ListProjects(ctx, limit, max(offset, 0))
}

// UpdateProject applies partial changes.
func (s *Service) UpdateProject(ctx context.Context, actorID, projectID int64, upd ProjectUpdate) (Project, error) {
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return Project{}, fmt.Errorf("%w: project name is required", ErrInvalidInput)
		}
		upd.Name = &name
	}
	updated, err := s.store.UpdateProject(ctx, projectID, upd)
	if err != nil {
		return Project{}, err
	}
	if err := s.store.AppendAudit(ctx, AuditEntry{
		UserID: actorID,
		Action: "project.update",
		Details: map[string]any{
			"project_id":   projectID,
			"project_name": updated.Name,
		},
	}); err != nil {
		return Project{}, err
	}
	return updated, nil
}

// DeleteProjectLogical soft-deletes a project. Accounts referencing it keep
// their project_id; only the project stops resolving.
func (s *Service) DeleteProjectLogical(ctx context.Context, actorID, projectID int64) (Project, error) {
	deleted, err := s.store.SoftDeleteProject(ctx, projectID)
	if err != nil {
		return Project{}, err
	}
	if err := s.store.AppendAudit(ctx, AuditEntry{
		UserID: actorID,
		Action: "project.delete",
		Details: map[string]any{
			"project_id":   projectID,
			"project_name": deleted.Name,
		},
	}); err != nil {
		return Project{}, err
	}
	return deleted, nil
}

// AppendAudit records an action in the append-only log.
func (s *Service) AppendAudit(ctx context.Context, entry AuditEntry) error {
	return s.store.AppendAudit(ctx, entry)
}

func (s *Service) ensureEmailFree(ctx context.Context, email string, selfID int64) error {
	existing, err := s.store.GetUserByEmail(ctx, email)
	if err == nil {
		if existing.ID != selfID {
			return fmt.Errorf("%w: email already registered", ErrConflict)
		}
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func (s *Service) ensureUsernameFree(ctx context.Context, username string, selfID int64) error {
	existing, err := s.store.GetUserByUsername(ctx, username)
	if err == nil {
		if existing.ID != selfID {
			return fmt.Errorf("%w: username already taken", ErrConflict)
		}
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func permissionNames(perms []Permission) []string {
	names := make([]string, 0, len(perms))
	for _, p := range perms {
		names = append(names, p.Name)
	}
	return names
}

func resetToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
