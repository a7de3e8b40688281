package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"defectra.org/internal/auth"
	"defectra.org/internal/seed"
	"defectra.org/internal/store"
	"defectra.org/internal/tracker"
)

type testEnv struct {
	srv   *httptest.Server
	users *auth.Service
	store *tracker.Store
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	ctx := context.Background()
	now := func() time.Time { return time.Date(2025, 9, 20, 12, 0, 0, 0, time.UTC) }

	data, err := seed.Load()
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	kv := store.NewMemory()
	users, err := auth.NewService(ctx, kv, data.Users, auth.WithClock(now), auth.WithHashCost(bcrypt.MinCost))
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	st, err := tracker.New(ctx, kv, data.Tracker(), tracker.WithClock(now), tracker.WithUserLookup(func(id int64) bool {
		_, ok := users.User(id)
		return ok
	}))
	if err != nil {
		t.Fatalf("tracker: %v", err)
	}
	tokens, err := auth.NewTokens("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	if opts.RateBurst == 0 {
		opts.RateBurst = 1000
	}
	if opts.Now == nil {
		opts.Now = now
	}
	srv := httptest.NewServer(New(users, st, tokens, opts).Handler())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, users: users, store: st}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	out := map[string]any{}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, raw, err)
		}
	}
	return resp.StatusCode, out
}

func (e *testEnv) login(t *testing.T, email string) string {
	t.Helper()
	code, body := e.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email":    email,
		"password": "pass123",
	})
	if code != http.StatusOK {
		t.Fatalf("login %s: status %d body %v", email, code, body)
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatalf("login %s: empty token", email)
	}
	return token
}

func TestLoginIssuesTokenAndHidesPassword(t *testing.T) {
	env := newTestEnv(t, Options{})
	code, body := env.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email":    "Manager@Example.com",
		"password": "pass123",
	})
	if code != http.StatusOK {
		t.Fatalf("status %d body %v", code, body)
	}
	user := body["user"].(map[string]any)
	if user["role"] != "manager" {
		t.Fatalf("role = %v", user["role"])
	}
	if user["password"] != "" {
		t.Fatalf("password leaked: %v", user["password"])
	}
	if perms := body["permissions"].([]any); len(perms) == 0 {
		t.Fatal("expected permissions")
	}

	code, me := env.do(t, http.MethodGet, "/v1/auth/me", body["token"].(string), nil)
	if code != http.StatusOK {
		t.Fatalf("me status %d", code)
	}
	if me["user"].(map[string]any)["email"] != "manager@example.com" {
		t.Fatalf("me = %v", me)
	}
}

func TestAuthFailures(t *testing.T) {
	env := newTestEnv(t, Options{})

	cases := []struct {
		name  string
		body  map[string]string
		code  int
		field string
	}{
		{"wrong password", map[string]string{"email": "manager@example.com", "password": "nope123"}, http.StatusUnauthorized, ""},
		{"unknown user", map[string]string{"email": "ghost@example.com", "password": "pass123"}, http.StatusUnauthorized, ""},
		{"short password", map[string]string{"email": "manager@example.com", "password": "123"}, http.StatusBadRequest, "password"},
		{"bad email", map[string]string{"email": "manager", "password": "pass123"}, http.StatusBadRequest, "email"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, body := env.do(t, http.MethodPost, "/v1/auth/login", "", tc.body)
			if code != tc.code {
				t.Fatalf("status = %d, want %d (%v)", code, tc.code, body)
			}
			if tc.field != "" && body["field"] != tc.field {
				t.Fatalf("field = %v, want %s", body["field"], tc.field)
			}
		})
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	env := newTestEnv(t, Options{})

	if code, _ := env.do(t, http.MethodGet, "/v1/defects", "", nil); code != http.StatusUnauthorized {
		t.Fatalf("no token: status %d", code)
	}
	if code, _ := env.do(t, http.MethodGet, "/v1/defects", "garbage", nil); code != http.StatusUnauthorized {
		t.Fatalf("bad token: status %d", code)
	}

	engineer := env.login(t, "engineer@example.com")
	if code, _ := env.do(t, http.MethodGet, "/v1/defects", engineer, nil); code != http.StatusOK {
		t.Fatalf("engineer: status %d", code)
	}

	// A later login replaces the single session.
	manager := env.login(t, "manager@example.com")
	code, body := env.do(t, http.MethodGet, "/v1/defects", engineer, nil)
	if code != http.StatusUnauthorized || body["error"] != "session expired" {
		t.Fatalf("stale token: status %d body %v", code, body)
	}

	if code, _ := env.do(t, http.MethodPost, "/v1/auth/logout", manager, nil); code != http.StatusNoContent {
		t.Fatalf("logout: status %d", code)
	}
	if code, _ := env.do(t, http.MethodGet, "/v1/auth/me", manager, nil); code != http.StatusUnauthorized {
		t.Fatalf("after logout: status %d", code)
	}
}

func TestRegisterAndQuickLogin(t *testing.T) {
	env := newTestEnv(t, Options{})

	code, body := env.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"name": "New Engineer", "email": "new@example.com", "password": "secret1", "role": "engineer",
	})
	if code != http.StatusCreated {
		t.Fatalf("register: status %d body %v", code, body)
	}
	if id := body["user"].(map[string]any)["id"]; id != float64(4) {
		t.Fatalf("id = %v, want 4", id)
	}

	code, _ = env.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"name": "Copy", "email": "NEW@example.com", "password": "secret1", "role": "engineer",
	})
	if code != http.StatusConflict {
		t.Fatalf("duplicate: status %d", code)
	}

	code, body = env.do(t, http.MethodPost, "/v1/auth/quick-login", "", map[string]string{"role": "observer"})
	if code != http.StatusOK || body["user"].(map[string]any)["id"] != float64(3) {
		t.Fatalf("quick login: status %d body %v", code, body)
	}
	if code, _ := env.do(t, http.MethodPost, "/v1/auth/quick-login", "", map[string]string{"role": "admin"}); code != http.StatusNotFound {
		t.Fatalf("unknown role: status %d", code)
	}
}

func TestObserverIsReadOnly(t *testing.T) {
	env := newTestEnv(t, Options{})
	observer := env.login(t, "observer@example.com")

	code, _ := env.do(t, http.MethodPost, "/v1/defects", observer, map[string]any{"title": "Nope"})
	if code != http.StatusForbidden {
		t.Fatalf("create defect: status %d", code)
	}
	if code, _ := env.do(t, http.MethodPatch, "/v1/defects/1", observer, map[string]any{"title": "x"}); code != http.StatusForbidden {
		t.Fatalf("update defect: status %d", code)
	}
	if code, _ := env.do(t, http.MethodGet, "/v1/reports?period=month", observer, nil); code != http.StatusOK {
		t.Fatalf("reports: status %d", code)
	}
}

func TestEngineerDefectPermissions(t *testing.T) {
	env := newTestEnv(t, Options{})
	engineer := env.login(t, "engineer@example.com")

	code, body := env.do(t, http.MethodPatch, "/v1/defects/1", engineer, map[string]any{"status": "in_progress"})
	if code != http.StatusOK || body["status"] != "in_progress" {
		t.Fatalf("own defect: status %d body %v", code, body)
	}
	if code, _ := env.do(t, http.MethodDelete, "/v1/defects/1", engineer, nil); code != http.StatusForbidden {
		t.Fatalf("delete: status %d", code)
	}

	code, body = env.do(t, http.MethodPost, "/v1/defects", engineer, map[string]any{
		"title": "Loose railing", "projectId": 1, "assigneeId": 2,
	})
	if code != http.StatusCreated {
		t.Fatalf("create: status %d body %v", code, body)
	}
	if body["createdBy"] != float64(1) || body["priority"] != "medium" || body["status"] != "new" {
		t.Fatalf("created defect = %v", body)
	}
	if code, _ := env.do(t, http.MethodPatch, "/v1/defects/7", engineer, map[string]any{"title": "Mine now"}); code != http.StatusForbidden {
		t.Fatalf("someone else's defect: status %d", code)
	}
	if code, _ := env.do(t, http.MethodGet, "/v1/reports", engineer, nil); code != http.StatusForbidden {
		t.Fatalf("reports: status %d", code)
	}
	if code, _ := env.do(t, http.MethodPatch, "/v1/defects/99", engineer, map[string]any{"title": "x"}); code != http.StatusNotFound {
		t.Fatalf("missing defect: status %d", code)
	}
}

func TestDefectValidationReportsField(t *testing.T) {
	env := newTestEnv(t, Options{})
	manager := env.login(t, "manager@example.com")

	code, body := env.do(t, http.MethodPost, "/v1/defects", manager, map[string]any{"title": "  "})
	if code != http.StatusBadRequest || body["field"] != "title" {
		t.Fatalf("blank title: status %d body %v", code, body)
	}
	code, body = env.do(t, http.MethodPost, "/v1/defects", manager, map[string]any{"title": "x", "projectId": 42})
	if code != http.StatusBadRequest || body["field"] != "projectId" {
		t.Fatalf("unknown project: status %d body %v", code, body)
	}
	if code, _ := env.do(t, http.MethodPost, "/v1/defects", manager, map[string]any{"title": "x", "bogus": 1}); code != http.StatusBadRequest {
		t.Fatalf("unknown field: status %d", code)
	}
	if code, _ := env.do(t, http.MethodGet, "/v1/defects?status=bogus", manager, nil); code != http.StatusBadRequest {
		t.Fatalf("bad status filter: status %d", code)
	}
}

func TestDefectFiltersAndHistory(t *testing.T) {
	env := newTestEnv(t, Options{})
	manager := env.login(t, "manager@example.com")

	code, body := env.do(t, http.MethodGet, "/v1/defects?project=1&status=in%20progress", manager, nil)
	if code != http.StatusOK {
		t.Fatalf("list: status %d", code)
	}
	defects := body["defects"].([]any)
	if len(defects) != 1 || defects[0].(map[string]any)["id"] != float64(2) {
		t.Fatalf("filtered defects = %v", defects)
	}

	if code, _ := env.do(t, http.MethodPatch, "/v1/defects/2", manager, map[string]any{"priority": "high"}); code != http.StatusOK {
		t.Fatalf("update: status %d", code)
	}
	code, body = env.do(t, http.MethodGet, "/v1/defects/2/history", manager, nil)
	if code != http.StatusOK {
		t.Fatalf("history: status %d", code)
	}
	history := body["history"].([]any)
	if len(history) != 1 {
		t.Fatalf("history = %v", history)
	}
	changes := history[0].(map[string]any)["changes"].(map[string]any)
	priority := changes["priority"].(map[string]any)
	if priority["from"] != "medium" || priority["to"] != "high" || len(changes) != 1 {
		t.Fatalf("changes = %v", changes)
	}
}

func TestManagerDeletesProjectOrphansDefects(t *testing.T) {
	env := newTestEnv(t, Options{})
	manager := env.login(t, "manager@example.com")

	if code, _ := env.do(t, http.MethodDelete, "/v1/projects/1", manager, nil); code != http.StatusNoContent {
		t.Fatalf("delete: status %d", code)
	}
	if code, _ := env.do(t, http.MethodGet, "/v1/projects/1", manager, nil); code != http.StatusNotFound {
		t.Fatalf("get deleted: status %d", code)
	}
	code, body := env.do(t, http.MethodGet, "/v1/defects/1", manager, nil)
	if code != http.StatusOK {
		t.Fatalf("get defect: status %d", code)
	}
	if pid := body["defect"].(map[string]any)["projectId"]; pid != nil {
		t.Fatalf("projectId = %v, want null", pid)
	}
	if code, _ := env.do(t, http.MethodDelete, "/v1/projects/1", manager, nil); code != http.StatusNotFound {
		t.Fatalf("second delete: status %d", code)
	}
}

func TestProjectLifecycle(t *testing.T) {
	env := newTestEnv(t, Options{})
	manager := env.login(t, "manager@example.com")

	code, body := env.do(t, http.MethodPost, "/v1/projects", manager, map[string]any{
		"name": "Tunnel", "managerId": 2, "startDate": "2025-10-01", "endDate": "2026-03-01",
	})
	if code != http.StatusCreated || body["status"] != "active" {
		t.Fatalf("create: status %d body %v", code, body)
	}
	code, body = env.do(t, http.MethodPatch, "/v1/projects/5", manager, map[string]any{"endDate": "2025-09-01"})
	if code != http.StatusBadRequest || body["field"] != "endDate" {
		t.Fatalf("end before start: status %d body %v", code, body)
	}
	code, body = env.do(t, http.MethodGet, "/v1/projects?q=tunnel", manager, nil)
	if code != http.StatusOK || len(body["projects"].([]any)) != 1 {
		t.Fatalf("search: status %d body %v", code, body)
	}

	engineer := env.login(t, "engineer@example.com")
	if code, _ := env.do(t, http.MethodPatch, "/v1/projects/5", engineer, map[string]any{"name": "Mine"}); code != http.StatusForbidden {
		t.Fatalf("engineer update: status %d", code)
	}
}

func TestComments(t *testing.T) {
	env := newTestEnv(t, Options{})
	observer := env.login(t, "observer@example.com")

	code, body := env.do(t, http.MethodPost, "/v1/defects/1/comments", observer, map[string]string{"content": "  Checked on site  "})
	if code != http.StatusCreated || body["content"] != "Checked on site" || body["userId"] != float64(3) {
		t.Fatalf("add: status %d body %v", code, body)
	}
	code, body = env.do(t, http.MethodPost, "/v1/defects/1/comments", observer, map[string]string{"content": " "})
	if code != http.StatusBadRequest || body["field"] != "content" {
		t.Fatalf("empty: status %d body %v", code, body)
	}
	if code, _ := env.do(t, http.MethodPost, "/v1/defects/99/comments", observer, map[string]string{"content": "x"}); code != http.StatusNotFound {
		t.Fatalf("missing defect: status %d", code)
	}
	code, body = env.do(t, http.MethodGet, "/v1/defects/1/comments", observer, nil)
	if code != http.StatusOK || len(body["comments"].([]any)) != 1 {
		t.Fatalf("list: status %d body %v", code, body)
	}
}

func TestDashboardAndReport(t *testing.T) {
	env := newTestEnv(t, Options{})
	manager := env.login(t, "manager@example.com")

	code, body := env.do(t, http.MethodGet, "/v1/dashboard", manager, nil)
	if code != http.StatusOK {
		t.Fatalf("dashboard: status %d", code)
	}
	stats := body["stats"].(map[string]any)
	if stats["totalDefects"] != float64(6) || stats["overdueDefects"] != float64(2) {
		t.Fatalf("stats = %v", stats)
	}
	if recent := body["recentDefects"].([]any); len(recent) != 5 {
		t.Fatalf("recent defects = %d", len(recent))
	}

	code, body = env.do(t, http.MethodGet, "/v1/reports", manager, nil)
	if code != http.StatusOK {
		t.Fatalf("report: status %d", code)
	}
	if body["totalDefects"] != float64(6) || body["avgResolutionDays"] != 5.3 {
		t.Fatalf("report = %v", body)
	}
	if code, _ := env.do(t, http.MethodGet, "/v1/reports?period=decade", manager, nil); code != http.StatusBadRequest {
		t.Fatalf("bad period: status %d", code)
	}
}

func TestUserHistoryAccess(t *testing.T) {
	env := newTestEnv(t, Options{})
	engineer := env.login(t, "engineer@example.com")

	if code, _ := env.do(t, http.MethodPatch, "/v1/defects/1", engineer, map[string]any{"status": "in_progress"}); code != http.StatusOK {
		t.Fatalf("update: status %d", code)
	}
	code, body := env.do(t, http.MethodGet, "/v1/users/1/history", engineer, nil)
	if code != http.StatusOK || len(body["history"].([]any)) != 1 {
		t.Fatalf("own history: status %d body %v", code, body)
	}
	if code, _ := env.do(t, http.MethodGet, "/v1/users/2/history", engineer, nil); code != http.StatusForbidden {
		t.Fatalf("other history: status %d", code)
	}
}

func TestHealthAndReadiness(t *testing.T) {
	env := newTestEnv(t, Options{Version: "test"})
	code, body := env.do(t, http.MethodGet, "/healthz", "", nil)
	if code != http.StatusOK || body["version"] != "test" {
		t.Fatalf("healthz: status %d body %v", code, body)
	}

	failing := newTestEnv(t, Options{Ready: probeFunc(func(context.Context) error { return errors.New("db down") })})
	code, body = failing.do(t, http.MethodGet, "/readyz", "", nil)
	if code != http.StatusServiceUnavailable || body["status"] != "not_ready" {
		t.Fatalf("readyz: status %d body %v", code, body)
	}
}
