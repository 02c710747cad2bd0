package httpapi

import (
	"net/http"

	"gatehouse.org/internal/auth"
)

type authzCheckRequest struct {
	RequiredPermissions []string `json:"required_permissions"`
}

type authzCheckResponse struct {
	Authorized         bool     `json:"authorized"`
	MissingPermissions []string `json:"missing_permissions"`
	UserID             int64    `json:"user_id"`
	Email              string   `json:"email"`
}

// handleAuthzCheck answers "may the caller do X" without performing X.
// Required names are opaque; asking about an unknown permission is a denial
// for it, not an error.
func (a *API) handleAuthzCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req authzCheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	decision, err := a.auth.CheckAuthorization(r.Context(), claims, req.RequiredPermissions)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, authzCheckResponse{
		Authorized:         decision.Authorized,
		MissingPermissions: decision.Missing,
		UserID:             claims.UserID,
		Email:              claims.Email(),
	})
}

// handleAuthzPermissions returns the caller's effective permission set read
// fresh from storage, not the snapshot baked into the token.
func (a *API) handleAuthzPermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	perms, err := a.auth.EffectivePermissions(r.Context(), claims.UserID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":     claims.UserID,
		"permissions": perms,
	})
}
