package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"defectra.org/internal/auth"
	"defectra.org/internal/obs"
	"defectra.org/internal/query"
	"defectra.org/internal/tracker"
)

const serviceName = "defectra-api"

// Pinger is implemented by storage adapters that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks the storage backend. A nil Store is always ready.
type ReadyProbe struct {
	Store Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	return rp.Store.Ping(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Options tunes the HTTP layer. Zero values select the defaults.
type Options struct {
	Version      string
	Ready        readinessChecker
	RateBurst    int
	RatePerSec   float64
	MaxBodyBytes int64
	CORSOrigins  []string
	Now          func() time.Time
}

// API is the local JSON adapter over the identity service and the domain store.
type API struct {
	mux     *http.ServeMux
	users   *auth.Service
	store   *tracker.Store
	tokens  *auth.Tokens
	ready   readinessChecker
	version string
	now     func() time.Time

	rateBurst  int
	ratePerSec float64
	maxBody    int64
	origins    []string
}

func New(users *auth.Service, st *tracker.Store, tokens *auth.Tokens, opts Options) *API {
	a := &API{
		mux:        http.NewServeMux(),
		users:      users,
		store:      st,
		tokens:     tokens,
		ready:      opts.Ready,
		version:    opts.Version,
		now:        opts.Now,
		rateBurst:  opts.RateBurst,
		ratePerSec: opts.RatePerSec,
		maxBody:    opts.MaxBodyBytes,
		origins:    opts.CORSOrigins,
	}
	if a.ready == nil {
		a.ready = ReadyProbe{}
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 20
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 10
	}
	if a.maxBody <= 0 {
		a.maxBody = 1 << 20
	}

	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("POST /v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("POST /v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("POST /v1/auth/quick-login", a.handleQuickLogin)
	a.mux.HandleFunc("POST /v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("GET /v1/auth/me", a.handleMe)
	a.mux.HandleFunc("PATCH /v1/auth/me", a.handleUpdateProfile)
	a.mux.HandleFunc("GET /v1/users", a.handleListUsers)
	a.mux.HandleFunc("GET /v1/users/{id}/history", a.handleUserHistory)

	a.mux.HandleFunc("GET /v1/projects", a.handleListProjects)
	a.mux.HandleFunc("POST /v1/projects", a.handleCreateProject)
	a.mux.HandleFunc("GET /v1/projects/{id}", a.handleGetProject)
	a.mux.HandleFunc("PATCH /v1/projects/{id}", a.handleUpdateProject)
	a.mux.HandleFunc("DELETE /v1/projects/{id}", a.handleDeleteProject)
	a.mux.HandleFunc("GET /v1/projects/{id}/history", a.handleProjectHistory)

	a.mux.HandleFunc("GET /v1/defects", a.handleListDefects)
	a.mux.HandleFunc("POST /v1/defects", a.handleCreateDefect)
	a.mux.HandleFunc("GET /v1/defects/{id}", a.handleGetDefect)
	a.mux.HandleFunc("PATCH /v1/defects/{id}", a.handleUpdateDefect)
	a.mux.HandleFunc("DELETE /v1/defects/{id}", a.handleDeleteDefect)
	a.mux.HandleFunc("GET /v1/defects/{id}/comments", a.handleListComments)
	a.mux.HandleFunc("POST /v1/defects/{id}/comments", a.handleAddComment)
	a.mux.HandleFunc("GET /v1/defects/{id}/history", a.handleDefectHistory)

	a.mux.HandleFunc("GET /v1/dashboard", a.handleDashboard)
	a.mux.HandleFunc("GET /v1/reports", a.handleReport)

	return a
}

// Handler returns the mux wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = obs.Instrument(a.mux)
	h = a.withAuth(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = MaxBodyBytes(h, a.maxBody)
	h = CORS(h, a.origins)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	return RequestID(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{"error": msg}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// writeDomainError maps core errors onto status codes.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var authField *auth.ValidationError
	var trackerField *tracker.ValidationError
	switch {
	case errors.As(err, &authField):
		writeFieldError(w, r, authField.Field, authField.Message)
	case errors.As(err, &trackerField):
		writeFieldError(w, r, trackerField.Field, trackerField.Message)
	case errors.Is(err, auth.ErrValidation), errors.Is(err, tracker.ErrValidation),
		errors.Is(err, query.ErrUnknownPeriod):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrDuplicateEmail):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrNotFound), errors.Is(err, auth.ErrNoUserForRole),
		errors.Is(err, tracker.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		obs.Error("request_failed", map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"path":       r.URL.Path,
			"error":      err.Error(),
		})
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeFieldError(w http.ResponseWriter, r *http.Request, field, msg string) {
	payload := map[string]any{"error": msg}
	if field != "" {
		payload["field"] = field
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, http.StatusBadRequest, payload)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func queryID(r *http.Request, name string) (*int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, errors.New(name + " must be an integer id")
	}
	return &id, nil
}
