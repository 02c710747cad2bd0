package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/auth"
)

type createUserRequest struct {
	registerRequest
	RoleIDs []int64 `json:"role_ids,omitempty"`
}

type updateUserRequest struct {
	FullName    *string `json:"full_name,omitempty"`
	Username    *string `json:"username,omitempty"`
	Email       *string `json:"email,omitempty"`
	PhoneNumber *string `json:"phone_number,omitempty"`
	Status      *string `json:"status,omitempty"`
	ProjectID   *int64  `json:"project_id,omitempty"`
	RoleIDs     []int64 `json:"role_ids,omitempty"`
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createUser(w, r)
	case http.MethodGet:
		a.listUsers(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
	}
}

func (a *API) createUser(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermissions(w, r, auth.PermUserCreate) {
		return
	}
	actorID, _ := auth.UserIDFromContext(r.Context())
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.auth.CreateUser(r.Context(), actorID, auth.RegisterParams{
		FullName:    req.FullName,
		Username:    req.Username,
		Email:       req.Email,
		Password:    req.Password,
		PhoneNumber: req.PhoneNumber,
		ProjectID:   req.ProjectID,
		RoleIDs:     req.RoleIDs,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.create", map[string]any{"created_user_id": user.ID})
	w.Header().Set("Location", fmt.Sprintf("/v1/users/%d", user.ID))
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermissions(w, r, auth.PermUserList) {
		return
	}
	filter := auth.UserFilter{
		Status: strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status"))),
		Search: strings.TrimSpace(r.URL.Query().Get("search")),
		Limit:  queryInt(r, "limit", 100),
		Offset: queryInt(r, "offset", 0),
	}
	if roleID, ok := pathID(r.URL.Query().Get("role_id")); ok {
		filter.RoleID = roleID
	}
	users, err := a.auth.ListUsers(r.Context(), filter)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if users == nil {
		users = []auth.User{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	id, ok := pathID(path)
	if !ok {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermissions(w, r, auth.PermUserRead) {
			return
		}
		user, err := a.auth.GetUser(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodPut:
		if !a.ensurePermissions(w, r, auth.PermUserUpdate) {
			return
		}
		actorID, _ := auth.UserIDFromContext(r.Context())
		var req updateUserRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		user, err := a.auth.UpdateUser(r.Context(), actorID, id, auth.UserUpdate{
			FullName:    req.FullName,
			Username:    req.Username,
			Email:       req.Email,
			PhoneNumber: req.PhoneNumber,
			Status:      req.Status,
			ProjectID:   req.ProjectID,
			RoleIDs:     req.RoleIDs,
		})
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "user.update", map[string]any{"target_user_id": id})
		writeJSON(w, http.StatusOK, user)
	case http.MethodDelete:
		if !a.ensurePermissions(w, r, auth.PermUserDelete) {
			return
		}
		actorID, _ := auth.UserIDFromContext(r.Context())
		user, err := a.auth.DeleteUserLogical(r.Context(), actorID, id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "user.delete", map[string]any{"target_user_id": id})
		writeJSON(w, http.StatusOK, user)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}
