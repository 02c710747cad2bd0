package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

// stubStore satisfies Store with function fields so each test overrides only
// what it exercises. Unset lookups report ErrNotFound; unset mutations
// succeed silently.
type stubStore struct {
	createUser        func(ctx context.Context, u NewUser) (User, error)
	getUser           func(ctx context.Context, id int64) (User, error)
	getUserByEmail    func(ctx context.Context, email string) (User, error)
	getUserByUsername func(ctx context.Context, username string) (User, error)
	listUsers         func(ctx context.Context, f UserFilter) ([]User, error)
	updateUser        func(ctx context.Context, id int64, upd UserUpdate) (User, error)
	updatePassword    func(ctx context.Context, id int64, hash string) error
	touchLastLogin    func(ctx context.Context, id int64) error
	softDeleteUser    func(ctx context.Context, id int64) (User, error)
	userPermissions   func(ctx context.Context, id int64) ([]string, error)

	createRole    func(ctx context.Context, name, description string, permissions []string) (Role, error)
	getRole       func(ctx context.Context, id int64) (Role, error)
	getRoleByName func(ctx context.Context, name string) (Role, error)
	listRoles     func(ctx context.Context, limit, offset int) ([]RoleSummary, error)
	updateRole    func(ctx context.Context, id int64, upd RoleUpdate) (Role, error)
	deleteRole    func(ctx context.Context, id int64) error
	listRoleUsers func(ctx context.Context, roleID int64, limit, offset int) ([]User, error)

	listPermissions     func(ctx context.Context, limit, offset int) ([]Permission, error)
	getPermission       func(ctx context.Context, id int64) (Permission, error)
	getPermissionByName func(ctx context.Context, name string) (Permission, error)

	createProject     func(ctx context.Context, name string, logoURL *string) (Project, error)
	getProject        func(ctx context.Context, id int64) (Project, error)
	listProjects      func(ctx context.Context, limit, offset int) ([]Project, error)
	updateProject     func(ctx context.Context, id int64, upd ProjectUpdate) (Project, error)
	softDeleteProject func(ctx context.Context, id int64) (Project, error)

	audits []AuditEntry
}

func (s *stubStore) CreateUser(ctx context.Context, u NewUser) (User, error) {
	if s.createUser != nil {
		return s.createUser(ctx, u)
	}
	return User{}, ErrNotFound
}

func (s *stubStore) GetUser(ctx context.Context, id int64) (User, error) {
	if s.getUser != nil {
		return s.getUser(ctx, id)
	}
	return User{}, ErrNotFound
}

func (s *stubStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	if s.getUserByEmail != nil {
		return s.getUserByEmail(ctx, email)
	}
	return User{}, ErrNotFound
}

func (s *stubStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	if s.getUserByUsername != nil {
		return s.getUserByUsername(ctx, username)
	}
	return User{}, ErrNotFound
}

func (s *stubStore) ListUsers(ctx context.Context, f UserFilter) ([]User, error) {
	if s.listUsers != nil {
		return s.listUsers(ctx, f)
	}
	return nil, nil
}

func (s *stubStore) UpdateUser(ctx context.Context, id int64, upd UserUpdate) (User, error) {
	if s.updateUser != nil {
		return s.updateUser(ctx, id, upd)
	}
	return User{}, ErrNotFound
}

func (s *stubStore) UpdatePassword(ctx context.Context, id int64, hash string) error {
	if s.updatePassword != nil {
		return s.updatePassword(ctx, id, hash)
	}
	return nil
}

func (s *stubStore) TouchLastLogin(ctx context.Context, id int64) error {
	if s.touchLastLogin != nil {
		return s.touchLastLogin(ctx, id)
	}
	return nil
}

func (s *stubStore) SoftDeleteUser(ctx context.Context, id int64) (User, error) {
	if s.softDeleteUser != nil {
		return s.softDeleteUser(ctx, id)
	}
	return User{}, ErrNotFound
}

func (s *stubStore) UserPermissions(ctx context.Context, id int64) ([]string, error) {
	if s.userPermissions != nil {
		return s.userPermissions(ctx, id)
	}
	return nil, nil
}

func (s *stubStore) CreateRole(ctx context.Context, name, description string, permissions []string) (Role, error) {
	if s.createRole != nil {
		return s.createRole(ctx, name, description, permissions)
	}
	return Role{}, ErrNotFound
}

func (s *stubStore) GetRole(ctx context.Context, id int64) (Role, error) {
	if s.getRole != nil {
		return s.getRole(ctx, id)
	}
	return Role{}, ErrNotFound
}

func (s *stubStore) GetRoleByName(ctx context.Context, name string) (Role, error) {
	if s.getRoleByName != nil {
		return s.getRoleByName(ctx, name)
	}
	return Role{}, ErrNotFound
}

func (s *stubStore) ListRoles(ctx context.Context, limit, offset int) ([]RoleSummary, error) {
	if s.listRoles != nil {
		return s.listRoles(ctx, limit, offset)
	}
	return nil, nil
}

func (s *stubStore) UpdateRole(ctx context.Context, id int64, upd RoleUpdate) (Role, error) {
	if s.updateRole != nil {
		return s.updateRole(ctx, id, upd)
	}
	return Role{}, ErrNotFound
}

func (s *stubStore) DeleteRole(ctx context.Context, id int64) error {
	if s.deleteRole != nil {
		return s.deleteRole(ctx, id)
	}
	return nil
}

func (s *stubStore) ListRoleUsers(ctx context.Context, roleID int64, limit, offset int) ([]User, error) {
	if s.listRoleUsers != nil {
		return s.listRoleUsers(ctx, roleID, limit, offset)
	}
	return nil, nil
}

func (s *stubStore) ListPermissions(ctx context.Context, limit, offset int) ([]Permission, error) {
	if s.listPermissions != nil {
		return s.listPermissions(ctx, limit, offset)
	}
	return nil, nil
}

func (s *stubStore) GetPermission(ctx context.Context, id int64) (Permission, error) {
	if s.getPermission != nil {
		return s.getPermission(ctx, id)
	}
	return Permission{}, ErrNotFound
}

func (s *stubStore) GetPermissionByName(ctx context.Context, name string) (Permission, error) {
	if s.getPermissionByName != nil {
		return s.getPermissionByName(ctx, name)
	}
	return Permission{}, ErrNotFound
}

func (s *stubStore) ListPermissionsByVersion(ctx context.Context, version string, limit, offset int) ([]Permission, error) {
	return nil, nil
}

func (s *stubStore) ListPermissionsByMethod(ctx context.Context, method string, limit, offset int) ([]Permission, error) {
	return nil, nil
}

func (s *stubStore) ListPermissionsByModuleFeature(ctx context.Context, module, feature string, limit, offset int) ([]Permission, error) {
	return nil, nil
}

func (s *stubStore) CreateProject(ctx context.Context, name string, logoURL *string) (Project, error) {
	if s.createProject != nil {
		return s.createProject(ctx, name, logoURL)
	}
	return Project{}, ErrNotFound
}

func (s *stubStore) GetProject(ctx context.Context, id int64) (Project, error) {
	if s.getProject != nil {
		return s.getProject(ctx, id)
	}
	return Project{}, ErrNotFound
}

func (s *stubStore) ListProjects(ctx context.Context, limit, offset int) ([]Project, error) {
	if s.listProjects != nil {
		return s.listProjects(ctx, limit, offset)
	}
	return nil, nil
}

func (s *stubStore) UpdateProject(ctx context.Context, id int64, upd ProjectUpdate) (Project, error) {
	if s.updateProject != nil {
		return s.updateProject(ctx, id, upd)
	}
	return Project{}, ErrNotFound
}

func (s *stubStore) SoftDeleteProject(ctx context.Context, id int64) (Project, error) {
	if s.softDeleteProject != nil {
		return s.softDeleteProject(ctx, id)
	}
	return Project{}, ErrNotFound
}

func (s *stubStore) AppendAudit(ctx context.Context, entry AuditEntry) error {
	s.audits = append(s.audits, entry)
	return nil
}

func (s *stubStore) lastAudit(t *testing.T) AuditEntry {
	t.Helper()
	if len(s.audits) == 0 {
		t.Fatal("expected an audit entry")
	}
	return s.audits[len(s.audits)-1]
}

func newTestService(t *testing.T, store Store) *Service {
	t.Helper()
	ti, err := NewTokenIssuer("test-secret")
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	svc, err := NewService(store, ti)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestAuthenticateSuccess(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	user := activeTestUser()
	user.PasswordHash = hash

	var touched bool
	store := &stubStore{
		getUserByEmail: func(ctx context.Context, email string) (User, error) {
			if email != user.Email {
				return User{}, ErrNotFound
			}
			return user, nil
		},
		touchLastLogin: func(ctx context.Context, id int64) error {
			touched = true
			return nil
		},
		userPermissions: func(ctx context.Context, id int64) ([]string, error) {
			return []string{"user:read_own", "report:read"}, nil
		},
	}
	svc := newTestService(t, store)

	cred, got, err := svc.Authenticate(context.Background(), "  ADA@example.org ", "s3cret")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("user id = %d, want %d", got.ID, user.ID)
	}
	if !touched {
		t.Fatal("expected last login to be touched")
	}
	claims, err := svc.VerifyToken(cred.Token)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if !claims.HasPermissions("report:read", "user:read_own") {
		t.Fatalf("claims missing permissions: %v", claims.Permissions)
	}
	if entry := store.lastAudit(t); entry.Action != "user.login" || entry.UserID != user.ID {
		t.Fatalf("audit = %+v, want user.login by %d", entry, user.ID)
	}
}

func TestAuthenticateUniformFailures(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	inactive := activeTestUser()
	inactive.Status = UserStatusInactive
	inactive.PasswordHash = hash
	valid := activeTestUser()
	valid.PasswordHash = hash

	store := &stubStore{
		getUserByEmail: func(ctx context.Context, email string) (User, error) {
			switch email {
			case "inactive@example.org":
				return inactive, nil
			case valid.Email:
				return valid, nil
			}
			return User{}, ErrNotFound
		},
	}
	svc := newTestService(t, store)

	cases := []struct {
		name     string
		email    string
		password string
	}{
		{"unknown email", "nobody@example.org", "s3cret"},
		{"inactive account", "inactive@example.org", "s3cret"},
		{"wrong password", valid.Email, "wrong"},
		{"blank password", valid.Email, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := svc.Authenticate(context.Background(), tc.email, tc.password)
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Fatalf("err = %v, want ErrInvalidCredentials", err)
			}
		})
	}
	if len(store.audits) != 0 {
		t.Fatalf("failed logins must not audit, got %d entries", len(store.audits))
	}
}

func TestRegisterHashesPasswordAndAudits(t *testing.T) {
	var created NewUser
	store := &stubStore{
		createUser: func(ctx context.Context, u NewUser) (User, error) {
			created = u
			return User{ID: 9, FullName: u.FullName, Email: u.Email, Status: u.Status}, nil
		},
	}
	svc := newTestService(t, store)

	user, err := svc.Register(context.Background(), RegisterParams{
		FullName: " Grace Hopper ",
		Email:    "Grace@Example.org",
		Password: "compiler",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.Email != "grace@example.org" {
		t.Fatalf("email = %q, want normalized lowercase", user.Email)
	}
	if created.PasswordHash == "compiler" || created.PasswordHash == "" {
		t.Fatal("password must be stored hashed")
	}
	if err := VerifyPassword(created.PasswordHash, "compiler"); err != nil {
		t.Fatalf("stored hash does not verify: %v", err)
	}
	if created.Status != UserStatusActive {
		t.Fatalf("status = %q, want ACTIVE", created.Status)
	}
	if entry := store.lastAudit(t); entry.Action != "user.register" {
		t.Fatalf("audit action = %q, want user.register", entry.Action)
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	store := &stubStore{
		getUserByEmail: func(ctx context.Context, email string) (User, error) {
			return User{ID: 1, Email: email}, nil
		},
	}
	svc := newTestService(t, store)
	_, err := svc.Register(context.Background(), RegisterParams{
		FullName: "Dup",
		Email:    "dup@example.org",
		Password: "pw",
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestRegisterValidatesInput(t *testing.T) {
	svc := newTestService(t, &stubStore{})
	cases := []RegisterParams{
		{FullName: "X", Email: "not-an-email", Password: "pw"},
		{FullName: "", Email: "a@b.c", Password: "pw"},
		{FullName: "X", Email: "a@b.c", Password: "  "},
	}
	for _, p := range cases {
		if _, err := svc.Register(context.Background(), p); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("params %+v: err = %v, want ErrInvalidInput", p, err)
		}
	}
}

func TestChangePasswordRequiresOldPassword(t *testing.T) {
	hash, err := HashPassword("old-pw")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	user := activeTestUser()
	user.PasswordHash = hash

	var storedHash string
	store := &stubStore{
		getUser: func(ctx context.Context, id int64) (User, error) { return user, nil },
		updatePassword: func(ctx context.Context, id int64, h string) error {
			storedHash = h
			return nil
		},
	}
	svc := newTestService(t, store)

	if err := svc.ChangePassword(context.Background(), user.ID, "wrong", "new-pw"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("wrong old password err = %v, want ErrInvalidInput", err)
	}
	if err := svc.ChangePassword(context.Background(), user.ID, "old-pw", "new-pw"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if err := VerifyPassword(storedHash, "new-pw"); err != nil {
		t.Fatalf("new hash does not verify: %v", err)
	}
	if entry := store.lastAudit(t); entry.Action != "user.password_change" {
		t.Fatalf("audit action = %q, want user.password_change", entry.Action)
	}
}

func TestForgotPasswordIsUniform(t *testing.T) {
	user := activeTestUser()
	store := &stubStore{
		getUserByEmail: func(ctx context.Context, email string) (User, error) {
			if email == user.Email {
				return user, nil
			}
			return User{}, ErrNotFound
		},
	}
	svc := newTestService(t, store)

	if err := svc.ForgotPassword(context.Background(), "nobody@example.org"); err != nil {
		t.Fatalf("unknown email must not error: %v", err)
	}
	if len(store.audits) != 0 {
		t.Fatal("unknown email must not audit")
	}

	if err := svc.ForgotPassword(context.Background(), user.Email); err != nil {
		t.Fatalf("ForgotPassword: %v", err)
	}
	entry := store.lastAudit(t)
	if entry.Action != "password.reset_requested" || entry.UserID != user.ID {
		t.Fatalf("audit = %+v, want password.reset_requested by %d", entry, user.ID)
	}
	if tok, ok := entry.Details["reset_token"].(string); !ok || tok == "" {
		t.Fatalf("audit details missing reset token: %v", entry.Details)
	}
}

func TestResetPasswordAlwaysRejects(t *testing.T) {
	svc := newTestService(t, &stubStore{})
	if err := svc.ResetPassword(context.Background(), "some-token", "new-pw"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestDeleteUserLogicalRefusesSelf(t *testing.T) {
	svc := newTestService(t, &stubStore{})
	if _, err := svc.DeleteUserLogical(context.Background(), 5, 5); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestDeleteUserLogicalRefusesAlreadyDeleted(t *testing.T) {
	now := time.Now()
	gone := activeTestUser()
	gone.DeletedAt = &now
	store := &stubStore{
		getUser: func(ctx context.Context, id int64) (User, error) { return gone, nil },
	}
	svc := newTestService(t, store)
	if _, err := svc.DeleteUserLogical(context.Background(), 1, gone.ID); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestDeleteRolePropagatesHolderConflict(t *testing.T) {
	store := &stubStore{
		getRole: func(ctx context.Context, id int64) (Role, error) {
			return Role{ID: id, Name: "Editor"}, nil
		},
		deleteRole: func(ctx context.Context, id int64) error {
			return ErrConflict
		},
	}
	svc := newTestService(t, store)
	if _, err := svc.DeleteRole(context.Background(), 1, 3); !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	if len(store.audits) != 0 {
		t.Fatal("refused deletion must not audit")
	}
}

func TestCreateRoleRejectsDuplicateName(t *testing.T) {
	store := &stubStore{
		getRoleByName: func(ctx context.Context, name string) (Role, error) {
			return Role{ID: 1, Name: name}, nil
		},
	}
	svc := newTestService(t, store)
	if _, err := svc.CreateRole(context.Background(), 1, "Editor", "", nil); !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestCreateProjectRequiresName(t *testing.T) {
	svc := newTestService(t, &stubStore{})
	if _, err := svc.CreateProject(context.Background(), 1, "   ", nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestCreateProjectAudits(t *testing.T) {
	store := &stubStore{
		createProject: func(ctx context.Context, name string, logoURL *string) (Project, error) {
			return Project{ID: 7, Name: name, LogoURL: logoURL}, nil
		},
	}
	svc := newTestService(t, store)
	project, err := svc.CreateProject(context.Background(), 1, "Atlas", nil)
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if project.ID != 7 {
		t.Fatalf("project id = %d", project.ID)
	}
	entry := store.lastAudit(t)
	if entry.Action != "project.create" || entry.UserID != 1 {
		t.Fatalf("audit = %+v", entry)
	}
}

func TestUpdateProjectRejectsBlankName(t *testing.T) {
	svc := newTestService(t, &stubStore{})
	blank := ""
	if _, err := svc.UpdateProject(context.Background(), 1, 7, ProjectUpdate{Name: &blank}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestDeleteProjectLogicalAudits(t *testing.T) {
	store := &stubStore{
		softDeleteProject: func(ctx context.Context, id int64) (Project, error) {
			now := time.Now()
			return Project{ID: id, Name: "Atlas", DeletedAt: &now}, nil
		},
	}
	svc := newTestService(t, store)
	deleted, err := svc.DeleteProjectLogical(context.Background(), 1, 7)
	if err != nil {
		t.Fatalf("DeleteProjectLogical: %v", err)
	}
	if deleted.DeletedAt == nil {
		t.Fatal("expected deleted_at to be set")
	}
	entry := store.lastAudit(t)
	if entry.Action != "project.delete" {
		t.Fatalf("audit action = %s", entry.Action)
	}
}

func TestCheckAuthorizationRevalidatesPrincipal(t *testing.T) {
	user := activeTestUser()
	store := &stubStore{
		getUserByEmail: func(ctx context.Context, email string) (User, error) {
			if email == user.Email {
				return user, nil
			}
			return User{}, ErrNotFound
		},
	}
	svc := newTestService(t, store)

	claims := &Claims{UserID: user.ID, Permissions: []string{"report:read"}}
	claims.Subject = user.Email

	d, err := svc.CheckAuthorization(context.Background(), claims, []string{"report:read"})
	if err != nil {
		t.Fatalf("CheckAuthorization: %v", err)
	}
	if !d.Authorized {
		t.Fatalf("decision = %+v, want authorized", d)
	}

	d, err = svc.CheckAuthorization(context.Background(), claims, []string{"user:delete"})
	if err != nil {
		t.Fatalf("CheckAuthorization: %v", err)
	}
	if d.Authorized || len(d.Missing) != 1 || d.Missing[0] != "user:delete" {
		t.Fatalf("decision = %+v, want user:delete missing", d)
	}

	ghost := &Claims{UserID: 99}
	ghost.Subject = "ghost@example.org"
	if _, err := svc.CheckAuthorization(context.Background(), ghost, nil); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("removed principal err = %v, want ErrInvalidToken", err)
	}
}
