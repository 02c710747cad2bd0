package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/invite"
)

type createInvitationRequest struct {
	Email    string  `json:"email"`
	RoleIDs  []int64 `json:"role_ids,omitempty"`
	TTLHours int     `json:"ttl_hours,omitempty"`
}

func (a *API) handleInvitations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createInvitation(w, r)
	case http.MethodGet:
		a.listInvitations(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
	}
}

func (a *API) createInvitation(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermissions(w, r, auth.PermInvitationCreate) {
		return
	}
	actorID, _ := auth.UserIDFromContext(r.Context())
	var req createInvitationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	inv, err := a.invites.Create(r.Context(), actorID, req.Email, req.RoleIDs, time.Duration(req.TTLHours)*time.Hour)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "invitation.create", map[string]any{"invitation_id": inv.ID, "email": inv.Email})
	w.Header().Set("Location", fmt.Sprintf("/v1/invitations/%d", inv.ID))
	writeJSON(w, http.StatusCreated, inv)
}

func (a *API) listInvitations(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermissions(w, r, auth.PermInvitationList) {
		return
	}
	invitations, err := a.invites.List(r.Context(), invite.Filter{
		Status: r.URL.Query().Get("status"),
		Email:  strings.TrimSpace(r.URL.Query().Get("email")),
		Limit:  queryInt(r, "limit", 100),
		Offset: queryInt(r, "offset", 0),
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if invitations == nil {
		invitations = []invite.Invitation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"invitations": invitations})
}

func (a *API) handleInvitationResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/invitations/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")

	// Public, non-enumerating code check used by the registration page.
	if parts[0] == "validate" {
		if len(parts) != 2 {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.validateInvitationCode(w, r, parts[1])
		return
	}

	id, ok := pathID(parts[0])
	if !ok || len(parts) != 1 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermissions(w, r, auth.PermInvitationRead) {
			return
		}
		inv, err := a.invites.Get(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, inv)
	case http.MethodDelete:
		if !a.ensurePermissions(w, r, auth.PermInvitationCancel) {
			return
		}
		actorID, _ := auth.UserIDFromContext(r.Context())
		inv, err := a.invites.Cancel(r.Context(), actorID, id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "invitation.cancel", map[string]any{"invitation_id": id})
		writeJSON(w, http.StatusOK, inv)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func (a *API) validateInvitationCode(w http.ResponseWriter, r *http.Request, code string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	check, err := a.invites.ValidateCode(r.Context(), code)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}
