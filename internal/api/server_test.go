package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/wesm/mailhub/internal/actions"
	"github.com/wesm/mailhub/internal/config"
	"github.com/wesm/mailhub/internal/hub"
	"github.com/wesm/mailhub/internal/scheduler"
	"github.com/wesm/mailhub/internal/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockScheduler implements JobScheduler for tests.
type mockScheduler struct {
	scheduled map[string]bool
	running   bool
	statuses  []scheduler.JobStatus
	triggerFn func(name string) error
	triggered []string
}

func newMockScheduler() *mockScheduler {
	return &mockScheduler{
		scheduled: make(map[string]bool),
		running:   true,
	}
}

func (m *mockScheduler) IsScheduled(name string) bool { return m.scheduled[name] }

func (m *mockScheduler) Trigger(name string) error {
	m.triggered = append(m.triggered, name)
	if m.triggerFn != nil {
		return m.triggerFn(name)
	}
	return nil
}

func (m *mockScheduler) Status() []scheduler.JobStatus { return m.statuses }
func (m *mockScheduler) IsRunning() bool               { return m.running }

// mockHub implements Broadcaster for tests.
type mockHub struct {
	mu       sync.Mutex
	requests []actions.Request
	stats    hub.Stats
}

func (m *mockHub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
}

func (m *mockHub) GenerateAsync(req actions.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
}

func (m *mockHub) Stats() hub.Stats { return m.stats }

func serve(srv *Server, method, path string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{APIPort: 8080, APIKey: "secret"}}
	srv := NewServer(cfg, nil, nil, nil, testLogger())

	w := serve(srv, "GET", "/health")
	if w.Code != http.StatusOK {
		t.Errorf("GET /health status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("health status = %q, want 'ok'", resp["status"])
	}
}

func TestAuthMiddleware(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{APIPort: 8080, APIKey: "secret-key"}}
	srv := NewServer(cfg, testutil.NewTestStore(t), newMockScheduler(), nil, testLogger())

	tests := []struct {
		name       string
		path       string
		headers    []string
		wantStatus int
	}{
		{"no auth", "/api/v1/stats", nil, http.StatusUnauthorized},
		{"wrong key", "/api/v1/stats", []string{"Authorization", "wrong-key"}, http.StatusUnauthorized},
		{"correct key", "/api/v1/stats", []string{"Authorization", "secret-key"}, http.StatusOK},
		{"bearer prefix", "/api/v1/stats", []string{"Authorization", "Bearer secret-key"}, http.StatusOK},
		{"x-api-key header", "/api/v1/stats", []string{"X-API-Key", "secret-key"}, http.StatusOK},
		{"query parameter", "/api/v1/stats?api_key=secret-key", nil, http.StatusOK},
		{"wrong query parameter", "/api/v1/stats?api_key=nope", nil, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(srv, "GET", tt.path, tt.headers...)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestAuthMiddlewareNoKeyConfigured(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{APIPort: 8080}}
	srv := NewServer(cfg, testutil.NewTestStore(t), newMockScheduler(), nil, testLogger())

	if w := serve(srv, "GET", "/api/v1/stats"); w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d when no API key configured", w.Code, http.StatusOK)
	}
}

func TestWebSocketRoute(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{APIPort: 8080, APIKey: "k"}}
	srv := NewServer(cfg, nil, nil, &mockHub{}, testLogger())

	if w := serve(srv, "GET", "/ws"); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated /ws status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if w := serve(srv, "GET", "/ws?api_key=k"); w.Code != http.StatusTeapot {
		t.Errorf("/ws status = %d, want the hub handler", w.Code)
	}
}

func TestWebSocketRouteWithoutHub(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{APIPort: 8080}}
	srv := NewServer(cfg, nil, nil, nil, testLogger())

	if w := serve(srv, "GET", "/ws"); w.Code != http.StatusNotFound {
		t.Errorf("/ws without hub status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestNilStoreReturns503(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{APIPort: 8080}}
	srv := NewServer(cfg, nil, newMockScheduler(), nil, testLogger())

	for _, path := range []string{
		"/api/v1/stats",
		"/api/v1/emails",
		"/api/v1/emails/abc",
		"/api/v1/search?q=test",
	} {
		t.Run(path, func(t *testing.T) {
			if w := serve(srv, "GET", path); w.Code != http.StatusServiceUnavailable {
				t.Errorf("%s: status = %d, want %d", path, w.Code, http.StatusServiceUnavailable)
			}
		})
	}
}

func TestCORSFromConfig(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			APIPort:     8080,
			CORSOrigins: []string{"http://localhost:3000", "http://example.com"},
		},
	}
	srv := NewServer(cfg, nil, nil, nil, testLogger())

	w := serve(srv, "GET", "/health", "Origin", "http://localhost:3000")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("expected CORS header for allowed origin, got %q", got)
	}

	w = serve(srv, "GET", "/health", "Origin", "http://evil.com")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("expected no CORS header for disallowed origin, got %q", got)
	}
}

func TestCORSDisabledByDefault(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{APIPort: 8080}}
	srv := NewServer(cfg, nil, nil, nil, testLogger())

	w := serve(srv, "GET", "/health", "Origin", "http://localhost:3000")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("expected no CORS header when no origins configured, got %q", got)
	}
}

func TestShutdownWithoutStart(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{APIPort: 8080}}
	srv := NewServer(cfg, nil, nil, nil, testLogger())
	if err := srv.Shutdown(t.Context()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}
