package invite

import (
	"context"
	"time"

	"gatehouse.org/internal/auth"
)

// Store is the persistence surface for the invitation lifecycle. Lookups
// return invitations with attached roles loaded. Not-found conditions use
// auth.ErrNotFound; lost state races use ErrNotPending.
type Store interface {
	CreateInvitation(ctx context.Context, inv NewInvitation) (Invitation, error)
	GetInvitation(ctx context.Context, id int64) (Invitation, error)
	GetInvitationByCode(ctx context.Context, code string) (Invitation, error)
	ListInvitations(ctx context.Context, f Filter) ([]Invitation, error)

	// CancelInvitation and AcceptInvitation are compare-and-set transitions
	// guarded on the PENDING state; a row in any other state, including one
	// just moved by a concurrent request, yields ErrNotPending.
	CancelInvitation(ctx context.Context, id int64) (Invitation, error)
	AcceptInvitation(ctx context.Context, id int64) (Invitation, error)

	// SweepExpired relabels PENDING rows whose deadline has passed as
	// EXPIRED and reports how many changed.
	SweepExpired(ctx context.Context, now time.Time) (int64, error)

	// RedeemInvitation runs the full redemption in one transaction: the CAS
	// accept, the account insert, the role copy, and the audit row. Either
	// all commit or none do.
	RedeemInvitation(ctx context.Context, inv Invitation, u auth.NewUser) (auth.User, error)

	auth.AuditStore
}
