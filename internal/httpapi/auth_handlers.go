package httpapi

import (
	"net/http"
	"time"

	"defectra.org/internal/audit"
	"defectra.org/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type quickLoginRequest struct {
	Role string `json:"role"`
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type profileRequest struct {
	Name     *string `json:"name"`
	Email    *string `json:"email"`
	Password *string `json:"password"`
}

type sessionResponse struct {
	Token       string            `json:"token"`
	ExpiresAt   time.Time         `json:"expiresAt"`
	User        auth.User         `json:"user"`
	Permissions []auth.Permission `json:"permissions"`
}

type meResponse struct {
	User        auth.User         `json:"user"`
	Permissions []auth.Permission `json:"permissions"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	u, err := a.users.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		_ = audit.LogEvent(r.Context(), "auth.login.failed", map[string]any{"email": req.Email})
		writeDomainError(w, r, err)
		return
	}
	a.startSession(w, r, http.StatusOK, "auth.login", u)
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	u, err := a.users.Register(r.Context(), auth.RegisterRequest{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	a.startSession(w, r, http.StatusCreated, "auth.register", u)
}

func (a *API) handleQuickLogin(w http.ResponseWriter, r *http.Request) {
	var req quickLoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	u, err := a.users.QuickLogin(r.Context(), req.Role)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	a.startSession(w, r, http.StatusOK, "auth.quick_login", u)
}

func (a *API) startSession(w http.ResponseWriter, r *http.Request, code int, event string, u auth.User) {
	token, expiresAt, err := a.tokens.Issue(u)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	ctx := auth.ContextWithUser(r.Context(), u)
	_ = audit.LogEvent(ctx, event, map[string]any{
		"expires_at": expiresAt.Format(time.RFC3339),
	})
	writeJSON(w, code, sessionResponse{
		Token:       token,
		ExpiresAt:   expiresAt,
		User:        u.Public(),
		Permissions: auth.PermissionsFor(u.Role),
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := a.users.Logout(r.Context()); err != nil {
		writeDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.logout", nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r)
	writeJSON(w, http.StatusOK, meResponse{User: u.Public(), Permissions: auth.PermissionsFor(u.Role)})
}

func (a *API) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	u, err := a.users.UpdateProfile(r.Context(), currentUser(r).ID, auth.ProfileUpdate{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.profile.updated", map[string]any{
		"name_changed":     req.Name != nil,
		"email_changed":    req.Email != nil,
		"password_changed": req.Password != nil,
	})
	writeJSON(w, http.StatusOK, meResponse{User: u.Public(), Permissions: auth.PermissionsFor(u.Role)})
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermission(w, r, auth.PermViewDefects) {
		return
	}
	users := a.users.Users()
	out := make([]auth.User, 0, len(users))
	for _, u := range users {
		out = append(out, u.Public())
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": out})
}

// handleUserHistory lets users read their own activity; reading someone
// else's needs view_reports.
func (a *API) handleUserHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	u := currentUser(r)
	if !a.ensure(w, r, u.ID == id || auth.HasPermission(u, auth.PermViewReports)) {
		return
	}
	if _, found := a.users.User(id); !found {
		writeDomainError(w, r, auth.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": a.store.HistoryForUser(id)})
}
