package httpapi

import (
	"net/http"
	"strings"

	"gatehouse.org/internal/auth"
)

// handlePermissions serves the catalog. Classification filters combine with
// paging; name lookup returns the single matching entry.
func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensurePermissions(w, r, auth.PermPermissionList) {
		return
	}

	q := r.URL.Query()
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)

	if name := strings.TrimSpace(q.Get("name")); name != "" {
		perm, err := a.auth.GetPermissionByName(r.Context(), name)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, perm)
		return
	}

	var (
		perms []auth.Permission
		err   error
	)
	switch {
	case q.Get("version") != "":
		perms, err = a.auth.ListPermissionsByVersion(r.Context(), q.Get("version"), limit, offset)
	case q.Get("method") != "":
		perms, err = a.auth.ListPermissionsByMethod(r.Context(), q.Get("method"), limit, offset)
	case q.Get("module") != "" || q.Get("feature") != "":
		perms, err = a.auth.ListPermissionsByModuleFeature(r.Context(), q.Get("module"), q.Get("feature"), limit, offset)
	default:
		perms, err = a.auth.ListPermissions(r.Context(), limit, offset)
	}
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if perms == nil {
		perms = []auth.Permission{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (a *API) handlePermissionResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensurePermissions(w, r, auth.PermPermissionRead) {
		return
	}
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/permissions/"), "/")
	id, ok := pathID(path)
	if !ok {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	perm, err := a.auth.GetPermission(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, perm)
}
