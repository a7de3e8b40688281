package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"defectra.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/healthz",
	"/readyz",
	"/metrics",
	"/v1/auth/login",
	"/v1/auth/register",
	"/v1/auth/quick-login",
}

// withAuth resolves the bearer token to the session user. A token is honoured
// only while its subject is the current session user.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := a.tokens.Parse(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		userID, err := claims.UserID()
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		current, ok := a.users.CurrentUser()
		if !ok || current.ID != userID {
			writeError(w, r, http.StatusUnauthorized, "session expired")
			return
		}

		ctx := auth.ContextWithUser(r.Context(), current)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ensurePermission writes 403 and returns false when the caller lacks perm.
func (a *API) ensurePermission(w http.ResponseWriter, r *http.Request, perm auth.Permission) bool {
	u, _ := auth.UserFromContext(r.Context())
	return a.ensure(w, r, auth.HasPermission(u, perm))
}

func (a *API) ensure(w http.ResponseWriter, r *http.Request, allowed bool) bool {
	if !allowed {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return false
	}
	return true
}

func currentUser(r *http.Request) *auth.User {
	u, _ := auth.UserFromContext(r.Context())
	return u
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
	return false
}
