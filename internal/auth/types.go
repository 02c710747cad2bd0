package auth

import "time"

const (
	UserStatusActive   = "ACTIVE"
	UserStatusInactive = "INACTIVE"
	UserStatusDeleted  = "DELETED"
)

// User is a principal account. Accounts are soft-deleted only: DeletedAt is
// set and the row stays behind for audit references.
type User struct {
	ID           int64      `json:"id"`
	FullName     string     `json:"full_name"`
	Username     *string    `json:"username,omitempty"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	PhoneNumber  *string    `json:"phone_number,omitempty"`
	Status       string     `json:"status"`
	ProjectID    *int64     `json:"project_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
	Roles        []Role     `json:"roles,omitempty"`
}

// Active reports whether the account may authenticate or be issued credentials.
func (u User) Active() bool {
	return u.Status == UserStatusActive && u.DeletedAt == nil
}

// PrimaryRole returns the first assigned role name in store order, or nil.
// Display only; authorization never depends on it.
func (u User) PrimaryRole() *string {
	if len(u.Roles) == 0 {
		return nil
	}
	return &u.Roles[0].Name
}

// Role groups permissions. Names are globally unique.
type Role struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Permissions []Permission `json:"permissions,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// RoleSummary is a listing row carrying the number of users holding the role.
type RoleSummary struct {
	Role
	UserCount int64 `json:"user_count"`
}

// Permission is an atomic named capability ("resource:action") classified by
// API version, HTTP method, and module/feature. Reference data, seeded
// externally and read-only at runtime.
type Permission struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	APIVersion string    `json:"api_version"`
	Method     string    `json:"method"`
	Module     string    `json:"module"`
	Feature    string    `json:"feature"`
	CreatedAt  time.Time `json:"created_at"`
}

// Project scopes users to a tenant grouping. Projects are soft-deleted like
// users; the row stays behind for the accounts that reference it.
type Project struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	LogoURL   *string    `json:"logo_url,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// ProjectUpdate applies partial changes; nil fields are left untouched.
type ProjectUpdate struct {
	Name    *string
	LogoURL *string
}

// NewUser carries the fields needed to create an account. Password must
// already be hashed by the caller.
type NewUser struct {
	FullName     string
	Username     *string
	Email        string
	PasswordHash string
	PhoneNumber  *string
	ProjectID    *int64
	Status       string
	RoleIDs      []int64
}

// UserUpdate applies partial changes; nil fields are left untouched.
type UserUpdate struct {
	FullName    *string
	Username    *string
	Email       *string
	PhoneNumber *string
	Status      *string
	ProjectID   *int64
	RoleIDs     []int64
}

// RoleUpdate applies partial changes; nil fields are left untouched.
// Permissions, when non-nil, replaces the full permission set by name.
type RoleUpdate struct {
	Name        *string
	Description *string
	Permissions []string
}

// UserFilter narrows and pages user listings.
type UserFilter struct {
	Status string
	RoleID int64
	Search string
	Limit  int
	Offset int
}

// AuditEntry is one append-only record of a state-changing action.
type AuditEntry struct {
	ID        int64          `json:"id"`
	UserID    int64          `json:"user_id"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
