package invite

import "errors"

var (
	// ErrNotPending means the invitation exists but has left the PENDING
	// state, including losing a concurrent accept/cancel race.
	ErrNotPending = errors.New("invite: invitation is not pending")
	// ErrExpired means the invitation's deadline has passed, whether or not
	// the sweep has relabeled the row yet.
	ErrExpired = errors.New("invite: invitation has expired")
	// ErrEmailMismatch means the redeeming email does not match the address
	// the invitation was issued for.
	ErrEmailMismatch = errors.New("invite: email does not match invitation")
)
