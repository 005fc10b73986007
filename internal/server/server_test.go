package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/riskwatch/internal/config"
	"github.com/mbd888/riskwatch/internal/kvstore"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Port = 0
	cfg.LogLevel = "error"
	cfg.ShutdownTimeout = time.Second
	cfg.Risk.Threshold = 55
	cfg.HTTP.RateLimitPerMinute = 0
	return &cfg
}

// newTestServer creates a server over an in-memory store
func newTestServer(t *testing.T) (*Server, *kvstore.MemoryStore) {
	t.Helper()
	mem := kvstore.NewMemoryStore()
	s, err := New(testConfig(), WithStore(mem))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s, mem
}

func serve(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	w := httptest.NewRecorder()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	s.router.ServeHTTP(w, req)

	var resp map[string]interface{}
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to parse response: %v", err)
		}
	}
	return w, resp
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	w, resp := serve(t, s, "GET", "/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
	if resp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp["status"])
	}
	checks, _ := resp["checks"].(map[string]interface{})
	if checks["kvstore"] != "healthy" || checks["job_runner"] != "healthy" {
		t.Errorf("Expected healthy checks, got %v", checks)
	}
}

func TestHealthEndpoint_StoreDown(t *testing.T) {
	s, mem := newTestServer(t)
	mem.SetUnavailable(true)

	w, resp := serve(t, s, "GET", "/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", w.Code)
	}
	if resp["status"] != "degraded" {
		t.Errorf("Expected status 'degraded', got %v", resp["status"])
	}
}

func TestHealthEndpoint_FailedJob(t *testing.T) {
	s, mem := newTestServer(t)
	mem.SetUnavailable(true)

	w, _ := serve(t, s, "POST", "/v1/jobs/features", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503 from failed job, got %d: %s", w.Code, w.Body.String())
	}

	mem.SetUnavailable(false)
	w, resp := serve(t, s, "GET", "/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 after failed job, got %d", w.Code)
	}
	checks, _ := resp["checks"].(map[string]interface{})
	if got, _ := checks["job_runner"].(string); !strings.HasPrefix(got, "unhealthy") {
		t.Errorf("Expected job_runner unhealthy, got %q", got)
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	w, _ := serve(t, s, "GET", "/health/live", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	// Server hasn't called Run() so ready is false
	w, _ := serve(t, s, "GET", "/health/ready", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (not ready), got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestCoreRoutesRegistered(t *testing.T) {
	s, _ := newTestServer(t)

	expected := []string{
		"GET:/health",
		"GET:/health/live",
		"GET:/health/ready",
		"GET:/metrics",
		"GET:/v1/config",
		"PUT:/v1/config",
		"POST:/v1/jobs/features",
		"POST:/v1/jobs/detection",
		"GET:/v1/jobs/history",
		"GET:/v1/jobs/state",
		"GET:/v1/accounts/:id/risk",
		"GET:/v1/users/:id/risk",
		"GET:/v1/flagged",
	}

	routeSet := make(map[string]bool)
	for _, route := range s.router.Routes() {
		routeSet[route.Method+":"+route.Path] = true
	}

	for _, e := range expected {
		if !routeSet[e] {
			t.Errorf("Route %s not registered", e)
		}
	}
}

func TestRequestIDHeader(t *testing.T) {
	s, _ := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/live", nil)
	req.Header.Set("X-Request-ID", "req-123")
	s.router.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "req-123" {
		t.Errorf("Expected request id to be echoed, got %q", got)
	}

	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest("GET", "/health/live", nil))
	if got := w.Header().Get("X-Request-ID"); len(got) != 32 {
		t.Errorf("Expected generated 32-char request id, got %q", got)
	}
}

func TestNotFoundRoute(t *testing.T) {
	s, _ := newTestServer(t)

	w, _ := serve(t, s, "GET", "/v1/nonexistent", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Wiring tests
// ---------------------------------------------------------------------------

func TestRiskConfigSeededFromServerConfig(t *testing.T) {
	s, _ := newTestServer(t)

	w, resp := serve(t, s, "GET", "/v1/config", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	cfg, _ := resp["config"].(map[string]interface{})
	if cfg["risk_threshold"] != 55.0 {
		t.Errorf("Expected risk_threshold 55, got %v", cfg["risk_threshold"])
	}
	if cfg["cooldown_days"] != 7.0 {
		t.Errorf("Expected cooldown_days 7, got %v", cfg["cooldown_days"])
	}
}

func TestJobCycleOverHTTP(t *testing.T) {
	s, mem := newTestServer(t)
	ctx := context.Background()

	// one user with one quiet account
	if err := mem.Put(ctx, kvstore.SetUsers, "u1", kvstore.Record{
		"name":     "Test User",
		"accounts": map[string]interface{}{"a1": map[string]interface{}{"created_date": "2024-01-01"}},
		"devices":  map[string]interface{}{"d1": map[string]interface{}{"device_type": "mobile"}},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	w, resp := serve(t, s, "POST", "/v1/jobs/features", `{"window_days": 7}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	job, _ := resp["job"].(map[string]interface{})
	if job["status"] != "completed" {
		t.Errorf("Expected completed feature job, got %v", job["status"])
	}

	w, resp = serve(t, s, "POST", "/v1/jobs/detection", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	job, _ = resp["job"].(map[string]interface{})
	if job["users_evaluated"] != 1.0 {
		t.Errorf("Expected 1 user evaluated, got %v", job["users_evaluated"])
	}

	w, resp = serve(t, s, "GET", "/v1/jobs/history", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if resp["count"] != 2.0 {
		t.Errorf("Expected 2 history entries, got %v", resp["count"])
	}

	if calls := s.store.Calls(kvstore.OpScan); calls == 0 {
		t.Error("Expected store calls to be instrumented")
	}
}

func TestNew_DefaultsToMemoryStore(t *testing.T) {
	s, err := New(testConfig())
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	if _, ok := s.backend.(*kvstore.MemoryStore); !ok {
		t.Errorf("Expected memory store, got %T", s.backend)
	}
	if _, ok := s.store.Unwrap().(*kvstore.Guarded); !ok {
		t.Errorf("Expected breaker-guarded store, got %T", s.store.Unwrap())
	}
}

func TestNew_InvalidRiskConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Risk.Threshold = 150
	if _, err := New(cfg, WithStore(kvstore.NewMemoryStore())); err == nil {
		t.Fatal("Expected error for out-of-range risk threshold")
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	s, _ := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !s.ready.Load() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !s.ready.Load() {
		t.Fatal("server never became ready")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if s.ready.Load() {
		t.Error("Expected not ready after shutdown")
	}
}

func TestMaskDSN(t *testing.T) {
	got := maskDSN("postgres://app:secret@db:5432/riskwatch?sslmode=disable")
	if strings.Contains(got, "secret") {
		t.Errorf("Expected password masked, got %s", got)
	}
	if !strings.Contains(got, "app:") {
		t.Errorf("Expected username kept, got %s", got)
	}
}

func TestRateLimitedV1(t *testing.T) {
	cfg := testConfig()
	cfg.HTTP.RateLimitPerMinute = 1
	cfg.HTTP.RateLimitBurst = 2
	s, err := New(cfg, WithStore(kvstore.NewMemoryStore()))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	defer s.limiter.Stop()

	for i := 0; i < 2; i++ {
		if w, _ := serve(t, s, "GET", "/v1/config", ""); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, w.Code)
		}
	}
	if w, _ := serve(t, s, "GET", "/v1/config", ""); w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", w.Code)
	}

	// health is outside /v1
	if w, _ := serve(t, s, "GET", "/health/live", ""); w.Code != http.StatusOK {
		t.Errorf("Expected 200 for liveness, got %d", w.Code)
	}
}

func TestInvalidIDParam(t *testing.T) {
	s, _ := newTestServer(t)

	w, resp := serve(t, s, "GET", "/v1/accounts/a%201/risk", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", w.Code)
	}
	if resp["error"] != "invalid_id" {
		t.Errorf("Expected invalid_id, got %v", resp["error"])
	}
}

func TestSecurityHeaders(t *testing.T) {
	s, _ := newTestServer(t)

	w, _ := serve(t, s, "GET", "/v1/config", "")
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Expected Cache-Control no-store, got %q", got)
	}
}
