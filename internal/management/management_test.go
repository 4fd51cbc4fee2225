package management

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"pii-redact/internal/blocklist"
	"pii-redact/internal/config"
	"pii-redact/internal/metrics"
)

func testConfig() *config.Config {
	return &config.Config{
		EnableAuditor:  true,
		EnableVerifier: false,
		VerifyEndpoint: "https://verify.example.com",
		ManagementPort: 8091,
		BindAddress:    "127.0.0.1",
	}
}

func newTestServer(t *testing.T, token string) (*Server, *blocklist.Registry) {
	t.Helper()
	dir := t.TempDir()
	reg := blocklist.NewRegistry("", "", filepath.Join(dir, "user.txt"))
	cfg := testConfig()
	cfg.ManagementToken = token
	srv := New(cfg, reg, metrics.New())
	return srv, reg
}

func TestStatus_OK(t *testing.T) {
	srv, _ := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if resp["status"] != "running" {
		t.Errorf("expected status=running, got %v", resp["status"])
	}
}

func TestAuth_NoToken_PassThrough(t *testing.T) {
	srv, _ := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200 with no token configured, got %d", w.Code)
	}
}

func TestAuth_ValidToken(t *testing.T) {
	srv, _ := newTestServer(t, "secret123")
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200 with valid token, got %d", w.Code)
	}
}

func TestAuth_InvalidToken(t *testing.T) {
	srv, _ := newTestServer(t, "secret123")
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with wrong token, got %d", w.Code)
	}
}

func TestAuth_MissingToken(t *testing.T) {
	srv, _ := newTestServer(t, "secret123")
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with missing token, got %d", w.Code)
	}
}

func TestBlocklistAdd_OK(t *testing.T) {
	srv, reg := newTestServer(t, "")
	body := `{"term":"Jane Smith"}`
	req := httptest.NewRequest(http.MethodPost, "/blocklist/add", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !reg.Has("jane smith") {
		t.Error("term was not added to registry")
	}
}

func TestBlocklistAdd_EmptyTerm(t *testing.T) {
	srv, _ := newTestServer(t, "")
	body := `{"term":""}`
	req := httptest.NewRequest(http.MethodPost, "/blocklist/add", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty term, got %d", w.Code)
	}
}

func TestBlocklistAdd_WrongMethod(t *testing.T) {
	srv, _ := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodGet, "/blocklist/add", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for GET, got %d", w.Code)
	}
}

func TestBlocklistRemove_OK(t *testing.T) {
	srv, reg := newTestServer(t, "")
	if err := reg.AddUserTerm("Jane Smith"); err != nil {
		t.Fatalf("AddUserTerm: %v", err)
	}

	body := `{"term":"Jane Smith"}`
	req := httptest.NewRequest(http.MethodPost, "/blocklist/remove", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if reg.Has("jane smith") {
		t.Error("term was not removed from registry")
	}
}

func TestBlocklistReload_OK(t *testing.T) {
	srv, _ := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodPost, "/blocklist/reload", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestBlocklistReload_WrongMethod(t *testing.T) {
	srv, _ := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodGet, "/blocklist/reload", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for GET, got %d", w.Code)
	}
}

func TestMetrics_NotEnabled(t *testing.T) {
	dir := t.TempDir()
	reg := blocklist.NewRegistry("", "", filepath.Join(dir, "user.txt"))
	srv := New(testConfig(), reg, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 when metrics is nil, got %d", w.Code)
	}
}

func TestMetrics_OK(t *testing.T) {
	srv, _ := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
