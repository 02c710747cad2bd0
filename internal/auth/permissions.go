package auth

// Canonical permission names seeded in the catalog. Handlers reference these
// constants; the decision engine itself treats names as opaque strings.
const (
	PermUserCreate    = "user:create"
	PermUserList      = "user:list"
	PermUserRead      = "user:read"
	PermUserUpdate    = "user:update"
	PermUserDelete    = "user:delete"
	PermUserReadOwn   = "user:read_own"
	PermUserUpdateOwn = "user:update_own"

	PermRoleCreate = "role:create"
	PermRoleList   = "role:list"
	PermRoleRead   = "role:read"
	PermRoleUpdate = "role:update"
	PermRoleDelete = "role:delete"

	PermPermissionList = "permission:list"
	PermPermissionRead = "permission:read"

	PermProjectCreate = "project:create"
	PermProjectRead   = "project:read"
	PermProjectUpdate = "project:update"
	PermProjectDelete = "project:delete"

	PermInvitationCreate = "invitation:create"
	PermInvitationList   = "invitation:list"
	PermInvitationRead   = "invitation:read"
	PermInvitationCancel = "invitation:cancel"
)
