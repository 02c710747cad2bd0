package invite

import (
	"time"

	"gatehouse.org/internal/auth"
)

const (
	StatusPending   = "PENDING"
	StatusAccepted  = "ACCEPTED"
	StatusExpired   = "EXPIRED"
	StatusCancelled = "CANCELLED"
)

// Invitation is a single-use, role-carrying offer to create an account for a
// specific email address.
type Invitation struct {
	ID          int64       `json:"id"`
	Code        string      `json:"code"`
	Email       string      `json:"email"`
	Status      string      `json:"status"`
	Roles       []auth.Role `json:"roles,omitempty"`
	CreatedByID int64       `json:"created_by_id"`
	CreatedAt   time.Time   `json:"created_at"`
	ExpiresAt   time.Time   `json:"expires_at"`
}

// Pending reports whether the invitation is still open at the given instant.
// ExpiresAt is the source of truth: a PENDING row past its deadline is
// already unusable even before the sweep relabels it.
func (i Invitation) Pending(now time.Time) bool {
	return i.Status == StatusPending && now.Before(i.ExpiresAt)
}

// RoleIDs returns the attached role ids in assignment order.
func (i Invitation) RoleIDs() []int64 {
	ids := make([]int64, 0, len(i.Roles))
	for _, r := range i.Roles {
		ids = append(ids, r.ID)
	}
	return ids
}

// NewInvitation carries the fields needed to persist a fresh invitation.
type NewInvitation struct {
	Code        string
	Email       string
	RoleIDs     []int64
	CreatedByID int64
	ExpiresAt   time.Time
}

// Filter narrows and pages invitation listings.
type Filter struct {
	Status string
	Email  string
	Limit  int
	Offset int
}

// Redemption carries the account details supplied when an invitee redeems a
// code. The password arrives in plaintext and is hashed before storage.
type Redemption struct {
	Code        string
	Email       string
	FullName    string
	Username    *string
	Password    string
	PhoneNumber *string
}

// CodeCheck is the public, non-enumerating answer to "is this code usable".
// Roles carries names only; ids and holders are not exposed pre-auth.
type CodeCheck struct {
	Valid bool     `json:"valid"`
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles,omitempty"`
}
