package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/hub"
	"github.com/parley-chat/parley/internal/store"
	"github.com/parley-chat/parley/internal/telemetry"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.Addr = ":0"
	cfg.Server.AllowedOrigins = []string{"http://chat.example"}
	cfg.Auth.JWTSecret = "test-secret-at-least-32-chars-long!!"
	cfg.ApplyDefaults()
	return cfg
}

func newTestServer(t *testing.T) (*Server, *auth.Service) {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	cfg := testConfig()
	accounts := auth.NewService(s, cfg.Auth)
	metrics := telemetry.New(slog.Default())
	h := hub.New(accounts, metrics, slog.Default(), hub.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
	t.Cleanup(h.Close)

	return NewServer(s, accounts, h, metrics, cfg, slog.Default()), accounts
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func parseJSONResponse(t *testing.T, w *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), target); err != nil {
		t.Fatalf("parse response %q: %v", w.Body.String(), err)
	}
}

func registerAndLogin(t *testing.T, srv *Server, username, password string) string {
	t.Helper()
	w := doJSON(t, srv, http.MethodPost, "/api/auth/register", map[string]string{
		"username": username, "password": password,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register status = %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, srv, http.MethodPost, "/api/auth/login", map[string]string{
		"username": username, "password": password,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	parseJSONResponse(t, w, &resp)
	if resp.Token == "" {
		t.Fatal("login returned empty token")
	}
	return resp.Token
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestReadyz(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv, http.MethodGet, "/readyz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
	}
	parseJSONResponse(t, w, &resp)
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
	if resp.Connections != 0 {
		t.Errorf("connections = %d, want 0", resp.Connections)
	}
}

func TestRegister_Validation(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name     string
		username string
		password string
		want     int
	}{
		{"short username", "ab", "password123", http.StatusBadRequest},
		{"short password", "alice", "pw", http.StatusBadRequest},
		{"valid", "alice", "password123", http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, srv, http.MethodPost, "/api/auth/register", map[string]string{
				"username": tt.username, "password": tt.password,
			})
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestRegister_Duplicate(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/auth/register", map[string]string{
		"username": "alice", "password": "password123",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("first register status = %d", w.Code)
	}

	w = doJSON(t, srv, http.MethodPost, "/api/auth/register", map[string]string{
		"username": "alice", "password": "password456",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate register status = %d, want 409", w.Code)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	srv, _ := newTestServer(t)
	registerAndLogin(t, srv, "alice", "password123")

	w := doJSON(t, srv, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "alice", "password": "wrong-password",
	})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestLogin_BadBody(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader([]byte("{broken")))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestLogout(t *testing.T) {
	srv, accounts := newTestServer(t)
	token := registerAndLogin(t, srv, "alice", "password123")

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("logout status = %d: %s", w.Code, w.Body.String())
	}

	// The token is revoked the moment the session row is gone.
	if _, err := accounts.Verify(req.Context(), token); err == nil {
		t.Error("token still verifies after logout")
	}
}

func TestLogout_MissingHeader(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestLogout_InvalidToken(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv, http.MethodGet, "/healthz", nil)

	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q", got)
	}
}

func TestCORS_ClosedPolicy(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://chat.example")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://chat.example" {
		t.Errorf("allowed origin not echoed, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("unknown origin was allowed: %q", got)
	}
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := newRateLimiter(1, 2)

	if !rl.allow("1.2.3.4") || !rl.allow("1.2.3.4") {
		t.Fatal("burst requests should be allowed")
	}
	if rl.allow("1.2.3.4") {
		t.Error("request over burst should be denied")
	}
	// A different key has its own bucket.
	if !rl.allow("5.6.7.8") {
		t.Error("independent key should be allowed")
	}
}

func TestRateLimiter_Refills(t *testing.T) {
	rl := newRateLimiter(100, 1)

	if !rl.allow("k") {
		t.Fatal("first request should pass")
	}
	if rl.allow("k") {
		t.Fatal("bucket should be empty")
	}
	time.Sleep(50 * time.Millisecond)
	if !rl.allow("k") {
		t.Error("bucket should have refilled")
	}
}
