package auth

import "errors"

var (
	// ErrInvalidCredentials covers unknown email and wrong password alike so
	// callers cannot enumerate accounts.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrInactiveAccount rejects credential issuance for non-active or
	// soft-deleted accounts.
	ErrInactiveAccount = errors.New("auth: account is not active")
	// ErrInvalidToken indicates a bad or expired bearer token (401-class),
	// distinct from an authorization denial.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrForbidden is an authorization denial (403-class).
	ErrForbidden = errors.New("auth: insufficient permissions")

	ErrNotFound     = errors.New("auth: not found")
	ErrConflict     = errors.New("auth: resource conflict")
	ErrInvalidInput = errors.New("auth: invalid input")
)
