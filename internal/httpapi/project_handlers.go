package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/auth"
)

type createProjectRequest struct {
	Name    string  `json:"name"`
	LogoURL *string `json:"logo_url,omitempty"`
}

type updateProjectRequest struct {
	Name    *string `json:"name,omitempty"`
	LogoURL *string `json:"logo_url,omitempty"`
}

func (a *API) handleProjects(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createProject(w, r)
	case http.MethodGet:
		a.listProjects(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
	}
}

func (a *API) createProject(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermissions(w, r, auth.PermProjectCreate) {
		return
	}
	actorID, _ := auth.UserIDFromContext(r.Context())
	var req createProjectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	project, err := a.auth.CreateProject(r.Context(), actorID, req.Name, req.LogoURL)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "project.create", map[string]any{"project_id": project.ID})
	w.Header().Set("Location", fmt.Sprintf("/v1/projects/%d", project.ID))
	writeJSON(w, http.StatusCreated, project)
}

func (a *API) listProjects(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermissions(w, r, auth.PermProjectRead) {
		return
	}
	projects, err := a.auth.ListProjects(r.Context(), queryInt(r, "limit", 100), queryInt(r, "offset", 0))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if projects == nil {
		projects = []auth.Project{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

func (a *API) handleProjectResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/projects/"), "/")
	id, ok := pathID(path)
	if !ok {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermissions(w, r, auth.PermProjectRead) {
			return
		}
		project, err := a.auth.GetProject(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, project)
	case http.MethodPut:
		if !a.ensurePermissions(w, r, auth.PermProjectUpdate) {
			return
		}
		actorID, _ := auth.UserIDFromContext(r.Context())
		var req updateProjectRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		project, err := a.auth.UpdateProject(r.Context(), actorID, id, auth.ProjectUpdate{
			Name:    req.Name,
			LogoURL: req.LogoURL,
		})
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "project.update", map[string]any{"project_id": id})
		writeJSON(w, http.StatusOK, project)
	case http.MethodDelete:
		if !a.ensurePermissions(w, r, auth.PermProjectDelete) {
			return
		}
		actorID, _ := auth.UserIDFromContext(r.Context())
		project, err := a.auth.DeleteProjectLogical(r.Context(), actorID, id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "project.delete", map[string]any{"project_id": id})
		writeJSON(w, http.StatusOK, project)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}
