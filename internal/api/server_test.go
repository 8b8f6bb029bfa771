package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/bifrost/internal/actions"
	"github.com/anstrom/bifrost/internal/auth"
	"github.com/anstrom/bifrost/internal/config"
	"github.com/anstrom/bifrost/internal/logging"
	"github.com/anstrom/bifrost/internal/metrics"
	"github.com/anstrom/bifrost/internal/orchestrator"
	"github.com/anstrom/bifrost/internal/targets"
)

// MockDB provides a mock store pinger for testing.
type MockDB struct {
	mock.Mock
}

func (m *MockDB) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func createTestConfig() config.APIConfig {
	return config.APIConfig{
		Enabled:        true,
		ListenAddr:     "127.0.0.1",
		Port:           0,
		Metrics:        true,
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   5 * time.Second,
		AllowedOrigins: []string{"*"},
	}
}

func createTestDeps(t *testing.T) Deps {
	t.Helper()
	reg, problems := actions.New()
	require.Empty(t, problems)
	store := targets.NewMemoryStore(targets.Snapshot{IP: "10.0.0.1", Alive: true, Ports: []int{22}})
	core := orchestrator.New(reg, store, orchestrator.Options{Logger: logging.NewDiscard()})
	return Deps{
		Core:    core,
		Store:   store,
		Metrics: metrics.NewPrometheus().Registry(),
		Version: "test",
		Logger:  logging.NewDiscard(),
	}
}

func serve(s *Server, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, http.NoBody)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestNewServer(t *testing.T) {
	_, err := New(createTestConfig(), Deps{})
	assert.Error(t, err)

	s, err := New(createTestConfig(), createTestDeps(t))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:0", s.Addr())
	assert.NotNil(t, s.Handlers())
}

func TestRoutes(t *testing.T) {
	s, err := New(createTestConfig(), createTestDeps(t))
	require.NoError(t, err)

	tests := []struct {
		method string
		path   string
		code   int
	}{
		{http.MethodGet, "/api/v1/health", http.StatusOK},
		{http.MethodGet, "/api/v1/status", http.StatusOK},
		{http.MethodGet, "/api/v1/targets", http.StatusOK},
		{http.MethodGet, "/api/v1/targets/10.0.0.1", http.StatusOK},
		{http.MethodGet, "/api/v1/targets/10.0.0.99", http.StatusNotFound},
		{http.MethodGet, "/api/v1/actions", http.StatusOK},
		{http.MethodPost, "/api/v1/discovery/rescan", http.StatusConflict},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodPost, "/api/v1/status", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/v1/nope", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s %s", tt.method, tt.path), func(t *testing.T) {
			w := serve(s, tt.method, tt.path, nil)
			assert.Equal(t, tt.code, w.Code)
		})
	}
}

func TestMiddlewareApplied(t *testing.T) {
	s, err := New(createTestConfig(), createTestDeps(t))
	require.NoError(t, err)

	w := serve(s, http.MethodGet, "/api/v1/status", map[string]string{"Origin": "http://dashboard.local"})
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSPreflight(t *testing.T) {
	cfg := createTestConfig()
	cfg.AllowedOrigins = []string{"http://dashboard.local"}
	key, err := auth.GenerateAPIKey()
	require.NoError(t, err)
	cfg.APIKeyHash = key.Hash
	s, err := New(cfg, createTestDeps(t))
	require.NoError(t, err)

	w := serve(s, http.MethodOptions, "/api/v1/discovery/rescan", map[string]string{
		"Origin":                         "http://dashboard.local",
		"Access-Control-Request-Method":  http.MethodPost,
		"Access-Control-Request-Headers": "X-API-Key",
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://dashboard.local", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, http.MethodPost, w.Header().Get("Access-Control-Allow-Methods"))

	w = serve(s, http.MethodOptions, "/api/v1/status", map[string]string{
		"Origin":                        "http://elsewhere.local",
		"Access-Control-Request-Method": http.MethodGet,
	})
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestPreflightWithoutAllowedOrigins(t *testing.T) {
	cfg := createTestConfig()
	cfg.AllowedOrigins = nil
	s, err := New(cfg, createTestDeps(t))
	require.NoError(t, err)
	assert.Same(t, s.Router(), s.Handler())

	w := serve(s, http.MethodOptions, "/api/v1/status", map[string]string{
		"Origin":                        "http://dashboard.local",
		"Access-Control-Request-Method": http.MethodGet,
	})
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsDisabled(t *testing.T) {
	cfg := createTestConfig()
	cfg.Metrics = false
	s, err := New(cfg, createTestDeps(t))
	require.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, serve(s, http.MethodGet, "/metrics", nil).Code)
}

func TestMetricsExposeBifrostSeries(t *testing.T) {
	s, err := New(createTestConfig(), createTestDeps(t))
	require.NoError(t, err)

	w := serve(s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "bifrost_")
}

func TestAuthenticationWiring(t *testing.T) {
	key, err := auth.GenerateAPIKey()
	require.NoError(t, err)

	cfg := createTestConfig()
	cfg.APIKeyHash = key.Hash
	s, err := New(cfg, createTestDeps(t))
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/api/v1/health", nil).Code)
	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/metrics", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(s, http.MethodGet, "/api/v1/targets", nil).Code)
	assert.Equal(t, http.StatusOK,
		serve(s, http.MethodGet, "/api/v1/targets", map[string]string{"X-API-Key": key.Key}).Code)
}

func TestHealthUsesStorePinger(t *testing.T) {
	db := &MockDB{}
	db.On("Ping", mock.Anything).Return(fmt.Errorf("connection refused")).Once()

	deps := createTestDeps(t)
	deps.StorePinger = db
	s, err := New(createTestConfig(), deps)
	require.NoError(t, err)

	w := serve(s, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "unhealthy", body["status"])
	db.AssertExpectations(t)
}

func TestServerStartStop(t *testing.T) {
	s, err := New(createTestConfig(), createTestDeps(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool { return !strings.HasSuffix(s.Addr(), ":0") }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + s.Addr() + "/api/v1/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "healthy")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServerStartFailsOnBusyPort(t *testing.T) {
	occupied := httptest.NewServer(http.NotFoundHandler())
	defer occupied.Close()

	cfg := createTestConfig()
	host, port, _ := strings.Cut(strings.TrimPrefix(occupied.URL, "http://"), ":")
	cfg.ListenAddr = host
	_, err := fmt.Sscan(port, &cfg.Port)
	require.NoError(t, err)

	s, err := New(cfg, createTestDeps(t))
	require.NoError(t, err)
	assert.Error(t, s.Start(context.Background()))
}
