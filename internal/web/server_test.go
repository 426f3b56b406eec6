package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/devtrackhq/devtrack/internal/analytics"
	"github.com/devtrackhq/devtrack/internal/config"
	"github.com/devtrackhq/devtrack/internal/storage/bolt"
	"github.com/devtrackhq/devtrack/internal/tracker"
	"github.com/rs/zerolog"
)

func setupServer(t *testing.T) *Server {
	t.Helper()

	store, err := bolt.Open(filepath.Join(t.TempDir(), "devtrack.bolt"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	logger := zerolog.Nop()
	trk := tracker.New(store, nil, nil, logger)
	reporter, err := analytics.NewReporter(store, nil, time.UTC, logger)
	if err != nil {
		t.Fatalf("new reporter: %v", err)
	}

	return NewServer(Config{
		ListenAddr:      "127.0.0.1:0",
		BaseURL:         "http://127.0.0.1",
		JWTSecret:       "test-secret",
		TokenExpiration: time.Hour,
	}, config.OAuthConfig{}, store, trk, reporter, nil, logger)
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func loginAs(t *testing.T, s *Server, email, password string) string {
	t.Helper()

	rec := doJSON(t, s.Router(), http.MethodPost, "/api/auth/login", "", LoginRequest{
		Email:    email,
		Password: password,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed with status %d: %s", rec.Code, rec.Body.String())
	}

	var resp LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.Token
}

func TestSignupLoginAndMe(t *testing.T) {
	s := setupServer(t)

	rec := doJSON(t, s.Router(), http.MethodPost, "/api/auth/signup", "", SignupRequest{
		Email:       "ada@example.com",
		Password:    "correct-horse",
		DisplayName: "Ada",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup failed with status %d: %s", rec.Code, rec.Body.String())
	}

	// Duplicate signup conflicts.
	rec = doJSON(t, s.Router(), http.MethodPost, "/api/auth/signup", "", SignupRequest{
		Email:    "ada@example.com",
		Password: "correct-horse",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate signup, got %d", rec.Code)
	}

	token := loginAs(t, s, "ada@example.com", "correct-horse")

	rec = doJSON(t, s.Router(), http.MethodGet, "/api/auth/me", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("me failed with status %d", rec.Code)
	}
	var me UserInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if me.Email != "ada@example.com" || me.DisplayName != "Ada" {
		t.Fatalf("unexpected me response %+v", me)
	}
}

func TestAuthRequired(t *testing.T) {
	s := setupServer(t)

	for _, path := range []string{"/api/projects", "/api/sessions", "/api/analytics/summary"} {
		rec := doJSON(t, s.Router(), http.MethodGet, path, "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401 without token, got %d", path, rec.Code)
		}
	}

	rec := doJSON(t, s.Router(), http.MethodGet, "/api/projects", "garbage-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", rec.Code)
	}
}

func TestSessionFlowThroughAPI(t *testing.T) {
	s := setupServer(t)

	rec := doJSON(t, s.Router(), http.MethodPost, "/api/auth/signup", "", SignupRequest{
		Email:    "ada@example.com",
		Password: "correct-horse",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup: %d", rec.Code)
	}
	token := loginAs(t, s, "ada@example.com", "correct-horse")

	// Create a project.
	rec = doJSON(t, s.Router(), http.MethodPost, "/api/projects", token, map[string]string{
		"name":  "API",
		"color": "#336699",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create project: %d: %s", rec.Code, rec.Body.String())
	}
	var project struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &project); err != nil {
		t.Fatalf("decode project: %v", err)
	}

	// No session is running yet.
	rec = doJSON(t, s.Router(), http.MethodGet, "/api/sessions/active", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for idle active query, got %d", rec.Code)
	}

	// Start a session.
	rec = doJSON(t, s.Router(), http.MethodPost, "/api/sessions/start", token, map[string]string{
		"project_id": project.ID,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("start session: %d: %s", rec.Code, rec.Body.String())
	}

	// Starting again conflicts.
	rec = doJSON(t, s.Router(), http.MethodPost, "/api/sessions/start", token, map[string]string{
		"project_id": project.ID,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for second start, got %d", rec.Code)
	}

	// Stop with notes.
	rec = doJSON(t, s.Router(), http.MethodPost, "/api/sessions/stop", token, map[string]string{
		"notes": "reviewed handler tests",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("stop session: %d: %s", rec.Code, rec.Body.String())
	}

	// Stopping again conflicts.
	rec = doJSON(t, s.Router(), http.MethodPost, "/api/sessions/stop", token, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for second stop, got %d", rec.Code)
	}

	// The ledger has the session.
	rec = doJSON(t, s.Router(), http.MethodGet, "/api/sessions", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list sessions: %d", rec.Code)
	}
	var listResp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if listResp.Count != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", listResp.Count)
	}

	// Analytics sees it.
	rec = doJSON(t, s.Router(), http.MethodGet, "/api/analytics/summary", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("summary: %d", rec.Code)
	}
	var summary analytics.Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.SessionsCount != 1 {
		t.Fatalf("expected summary to count 1 session, got %d", summary.SessionsCount)
	}
}

func TestAnalyticsDailyWindowValidation(t *testing.T) {
	s := setupServer(t)

	rec := doJSON(t, s.Router(), http.MethodPost, "/api/auth/signup", "", SignupRequest{
		Email:    "ada@example.com",
		Password: "correct-horse",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup: %d", rec.Code)
	}
	token := loginAs(t, s, "ada@example.com", "correct-horse")

	for _, days := range []string{"0", "-3", "9999", "abc"} {
		rec := doJSON(t, s.Router(), http.MethodGet, "/api/analytics/daily?days="+days, token, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("days=%s: expected 400, got %d", days, rec.Code)
		}
	}

	rec = doJSON(t, s.Router(), http.MethodGet, "/api/analytics/daily?days=14", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("daily: %d", rec.Code)
	}
	var daily struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &daily); err != nil {
		t.Fatalf("decode daily: %v", err)
	}
	if daily.Count != 14 {
		t.Fatalf("expected 14 zero-filled days, got %d", daily.Count)
	}
}

func TestProjectOwnershipIsolation(t *testing.T) {
	s := setupServer(t)

	tokens := make(map[string]string)
	for i, email := range []string{"ada@example.com", "grace@example.com"} {
		rec := doJSON(t, s.Router(), http.MethodPost, "/api/auth/signup", "", SignupRequest{
			Email:    email,
			Password: fmt.Sprintf("password-%d", i),
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("signup %s: %d", email, rec.Code)
		}
		tokens[email] = loginAs(t, s, email, fmt.Sprintf("password-%d", i))
	}

	rec := doJSON(t, s.Router(), http.MethodPost, "/api/projects", tokens["ada@example.com"], map[string]string{
		"name": "Secret",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create project: %d", rec.Code)
	}
	var project struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &project); err != nil {
		t.Fatalf("decode project: %v", err)
	}

	// The other user cannot see or start work on it.
	rec = doJSON(t, s.Router(), http.MethodGet, "/api/projects/"+project.ID, tokens["grace@example.com"], nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign project, got %d", rec.Code)
	}
	rec = doJSON(t, s.Router(), http.MethodPost, "/api/sessions/start", tokens["grace@example.com"], map[string]string{
		"project_id": project.ID,
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 starting on foreign project, got %d", rec.Code)
	}
}

func TestEnsureInitialUser(t *testing.T) {
	s := setupServer(t)
	ctx := context.Background()

	if err := EnsureInitialUser(ctx, s.store.Users(), "boss@example.com", "first-password", zerolog.Nop()); err != nil {
		t.Fatalf("ensure initial user: %v", err)
	}

	// A second call is a no-op.
	if err := EnsureInitialUser(ctx, s.store.Users(), "other@example.com", "whatever-pass", zerolog.Nop()); err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	users, err := s.store.Users().List(ctx)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 1 || users[0].Email != "boss@example.com" {
		t.Fatalf("unexpected users %v", users)
	}

	if _, _, err := s.auth.Login(ctx, "boss@example.com", "first-password"); err != nil {
		t.Fatalf("login as initial user: %v", err)
	}
}
