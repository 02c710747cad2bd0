package httpapi

import (
	"net/http"

	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/invite"
)

type registerRequest struct {
	FullName    string  `json:"full_name"`
	Username    *string `json:"username,omitempty"`
	Email       string  `json:"email"`
	Password    string  `json:"password"`
	PhoneNumber *string `json:"phone_number,omitempty"`
	ProjectID   *int64  `json:"project_id,omitempty"`
}

type registerByInvitationRequest struct {
	Code            string  `json:"code"`
	Email           string  `json:"email"`
	FullName        string  `json:"full_name"`
	Username        *string `json:"username,omitempty"`
	Password        string  `json:"password"`
	PasswordConfirm string  `json:"password_confirm"`
	PhoneNumber     *string `json:"phone_number,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type credentialResponse struct {
	auth.Credential
	User auth.User `json:"user"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.auth.Register(r.Context(), auth.RegisterParams{
		FullName:    req.FullName,
		Username:    req.Username,
		Email:       req.Email,
		Password:    req.Password,
		PhoneNumber: req.PhoneNumber,
		ProjectID:   req.ProjectID,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.register", map[string]any{"user_id": user.ID})
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleRegisterByInvitation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerByInvitationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Password != req.PasswordConfirm {
		writeError(w, r, http.StatusBadRequest, "passwords do not match")
		return
	}
	user, err := a.invites.Redeem(r.Context(), invite.Redemption{
		Code:        req.Code,
		Email:       req.Email,
		FullName:    req.FullName,
		Username:    req.Username,
		Password:    req.Password,
		PhoneNumber: req.PhoneNumber,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	cred, err := a.auth.IssueCredential(r.Context(), user.ID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.register_by_invitation", map[string]any{"user_id": user.ID})
	writeJSON(w, http.StatusCreated, credentialResponse{Credential: cred, User: user})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	cred, user, err := a.auth.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, credentialResponse{Credential: cred, User: user})
}

func (a *API) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.auth.ForgotPassword(r.Context(), req.Email); err != nil {
		handleServiceError(w, r, err)
		return
	}
	// Uniform answer whether or not the account exists.
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "if the email exists, password reset instructions have been sent",
	})
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.auth.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "password updated"})
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermissions(w, r, auth.PermUserUpdateOwn) {
		return
	}
	userID, _ := auth.UserIDFromContext(r.Context())
	var req struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.auth.ChangePassword(r.Context(), userID, req.OldPassword, req.NewPassword); err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.password_change", nil)
	writeJSON(w, http.StatusOK, map[string]any{"message": "password updated"})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	user, err := a.auth.GetUser(r.Context(), claims.UserID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":        user,
		"permissions": claims.Permissions,
	})
}
