package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/invite"
	"gatehouse.org/internal/obs"
)

// ReadyProbe reports whether downstream dependencies answer.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the auth and invitation services.
type API struct {
	mux        *http.ServeMux
	auth       *auth.Service
	invites    *invite.Service
	readyProbe ReadyProbe
	version    string
}

func New(authSvc *auth.Service, invSvc *invite.Service, rp ReadyProbe, version string) *API {
	a := &API{
		mux:        http.NewServeMux(),
		auth:       authSvc,
		invites:    invSvc,
		readyProbe: rp,
		version:    version,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// authentication
	a.mux.HandleFunc("/v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("/v1/auth/register-by-invitation", a.handleRegisterByInvitation)
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/forgot-password", a.handleForgotPassword)
	a.mux.HandleFunc("/v1/auth/reset-password", a.handleResetPassword)
	a.mux.HandleFunc("/v1/auth/change-password", a.handleChangePassword)
	a.mux.HandleFunc("/v1/auth/me", a.handleMe)

	// authorization decisions
	a.mux.HandleFunc("/v1/authz/check", a.handleAuthzCheck)
	a.mux.HandleFunc("/v1/authz/permissions", a.handleAuthzPermissions)

	// users
	a.mux.HandleFunc("/v1/users", a.handleUsers)
	a.mux.HandleFunc("/v1/users/", a.handleUserResource)

	// roles
	a.mux.HandleFunc("/v1/roles", a.handleRoles)
	a.mux.HandleFunc("/v1/roles/", a.handleRoleResource)

	// projects
	a.mux.HandleFunc("/v1/projects", a.handleProjects)
	a.mux.HandleFunc("/v1/projects/", a.handleProjectResource)

	// permission catalog
	a.mux.HandleFunc("/v1/permissions", a.handlePermissions)
	a.mux.HandleFunc("/v1/permissions/", a.handlePermissionResource)

	// invitations
	a.mux.HandleFunc("/v1/invitations", a.handleInvitations)
	a.mux.HandleFunc("/v1/invitations/", a.handleInvitationResource)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler wires the middleware chain around the mux. Metrics wrap
// everything so even rejected requests are counted.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, 50, 25)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- service handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "gatehouse-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "gatehouse-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
