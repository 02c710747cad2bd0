package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"gatehouse.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/",
	"/healthz",
	"/readyz",
	"/metrics",
	"/v1/info",
	"/v1/auth/register",
	"/v1/auth/register-by-invitation",
	"/v1/auth/login",
	"/v1/auth/forgot-password",
	"/v1/auth/reset-password",
}

var publicPrefixes = []string{
	"/v1/invitations/validate/",
}

// withAuth verifies the bearer token on every non-public route and stores
// the claim set in the request context. Authorization stays with each
// handler; this layer only answers "who is calling".
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := a.auth.VerifyToken(token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, r, http.StatusUnauthorized, "invalid token")
			} else {
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		ctx := auth.ContextWithClaims(r.Context(), claims)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ensurePermissions denies the request unless the caller's claims cover
// every required permission. The 403 body names what was missing.
func (a *API) ensurePermissions(w http.ResponseWriter, r *http.Request, required ...string) bool {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return false
	}
	decision := auth.Decide(claims.Permissions, required)
	if !decision.Authorized {
		writeJSON(w, http.StatusForbidden, map[string]any{
			"error":               auth.ErrForbidden.Error(),
			"missing_permissions": decision.Missing,
		})
		return false
	}
	return true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
