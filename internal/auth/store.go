package auth

import "context"

// UserStore manages principal accounts. Get operations return users with
// their assigned roles loaded in stable assignment order.
type UserStore interface {
	CreateUser(ctx context.Context, u NewUser) (User, error)
	GetUser(ctx context.Context, id int64) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
	ListUsers(ctx context.Context, f UserFilter) ([]User, error)
	UpdateUser(ctx context.Context, id int64, upd UserUpdate) (User, error)
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
	TouchLastLogin(ctx context.Context, id int64) error
	SoftDeleteUser(ctx context.Context, id int64) (User, error)
	// UserPermissions returns the deduplicated union of permission names
	// across all of the user's roles.
	UserPermissions(ctx context.Context, id int64) ([]string, error)
}

// RoleStore manages roles and their permission sets.
type RoleStore interface {
	CreateRole(ctx context.Context, name, description string, permissions []string) (Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	GetRoleByName(ctx context.Context, name string) (Role, error)
	ListRoles(ctx context.Context, limit, offset int) ([]RoleSummary, error)
	UpdateRole(ctx context.Context, id int64, upd RoleUpdate) (Role, error)
	// DeleteRole fails with ErrConflict while any user holds the role.
	DeleteRole(ctx context.Context, id int64) error
	ListRoleUsers(ctx context.Context, roleID int64, limit, offset int) ([]User, error)
}

// PermissionStore reads the seeded permission catalog.
type PermissionStore interface {
	ListPermissions(ctx context.Context, limit, offset int) ([]Permission, error)
	GetPermission(ctx context.Context, id int64) (Permission, error)
	GetPermissionByName(ctx context.Context, name string) (Permission, error)
	ListPermissionsByVersion(ctx context.Context, version string, limit, offset int) ([]Permission, error)
	ListPermissionsByMethod(ctx context.Context, method string, limit, offset int) ([]Permission, error)
	ListPermissionsByModuleFeature(ctx context.Context, module, feature string, limit, offset int) ([]Permission, error)
}

// ProjectStore manages tenant groupings. Reads exclude soft-deleted rows.
type ProjectStore interface {
	CreateProject(ctx context.Context, name string, logoURL *string) (Project, error)
	GetProject(ctx context.Context, id int64) (Project, error)
	ListProjects(ctx context.Context, limit, offset int) ([]Project, error)
	UpdateProject(ctx context.Context, id int64, upd ProjectUpdate) (Project, error)
	SoftDeleteProject(ctx context.Context, id int64) (Project, error)
}

// AuditStore appends immutable entries.
type AuditStore interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
}

// Store is the persistence surface required by the auth subsystem.
type Store interface {
	UserStore
	RoleStore
	PermissionStore
	ProjectStore
	AuditStore
}
