package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/auth"
)

type createRoleRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

type updateRoleRequest struct {
	Name        *string  `json:"name,omitempty"`
	Description *string  `json:"description,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createRole(w, r)
	case http.MethodGet:
		a.listRoles(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
	}
}

func (a *API) createRole(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermissions(w, r, auth.PermRoleCreate) {
		return
	}
	actorID, _ := auth.UserIDFromContext(r.Context())
	var req createRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.auth.CreateRole(r.Context(), actorID, req.Name, req.Description, req.Permissions)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "role.create", map[string]any{"role_id": role.ID, "name": role.Name})
	w.Header().Set("Location", fmt.Sprintf("/v1/roles/%d", role.ID))
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) listRoles(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermissions(w, r, auth.PermRoleList) {
		return
	}
	roles, err := a.auth.ListRoles(r.Context(), queryInt(r, "limit", 100), queryInt(r, "offset", 0))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if roles == nil {
		roles = []auth.RoleSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/roles/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	id, ok := pathID(parts[0])
	if !ok {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if len(parts) == 2 && parts[1] == "users" {
		a.listRoleUsers(w, r, id)
		return
	}
	if len(parts) != 1 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermissions(w, r, auth.PermRoleRead) {
			return
		}
		role, err := a.auth.GetRole(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, role)
	case http.MethodPut:
		if !a.ensurePermissions(w, r, auth.PermRoleUpdate) {
			return
		}
		actorID, _ := auth.UserIDFromContext(r.Context())
		var req updateRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.auth.UpdateRole(r.Context(), actorID, id, auth.RoleUpdate{
			Name:        req.Name,
			Description: req.Description,
			Permissions: req.Permissions,
		})
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "role.update", map[string]any{"role_id": id})
		writeJSON(w, http.StatusOK, role)
	case http.MethodDelete:
		if !a.ensurePermissions(w, r, auth.PermRoleDelete) {
			return
		}
		actorID, _ := auth.UserIDFromContext(r.Context())
		role, err := a.auth.DeleteRole(r.Context(), actorID, id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "role.delete", map[string]any{"role_id": id})
		writeJSON(w, http.StatusOK, role)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) listRoleUsers(w http.ResponseWriter, r *http.Request, roleID int64) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensurePermissions(w, r, auth.PermRoleRead) {
		return
	}
	users, err := a.auth.GetRoleUsers(r.Context(), roleID, queryInt(r, "limit", 100), queryInt(r, "offset", 0))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if users == nil {
		users = []auth.User{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"role_id": roleID, "users": users})
}
