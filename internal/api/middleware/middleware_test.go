package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/bifrost/internal/auth"
	"github.com/anstrom/bifrost/internal/logging"
)

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter(logging.Config{Level: logging.LevelInfo, Format: logging.FormatJSON}, &buf)

	var seenID string
	handler := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = GetRequestID(r)
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	t.Run("generates request id", func(t *testing.T) {
		buf.Reset()
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/status", http.NoBody))

		assert.True(t, strings.HasPrefix(seenID, "req_"))
		assert.Equal(t, seenID, w.Header().Get("X-Request-ID"))

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "HTTP request", entry["msg"])
		assert.Equal(t, "/api/v1/status", entry["path"])
		assert.EqualValues(t, http.StatusTeapot, entry["status_code"])
		assert.EqualValues(t, len("short and stout"), entry["response_size"])
	})

	t.Run("keeps caller request id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		req.Header.Set("X-Request-ID", "abc-123")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, "abc-123", seenID)
		assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
	})
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := Recovery(logging.NewDiscard())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/targets", http.NoBody)
	req = req.WithContext(context.WithValue(req.Context(), RequestIDKey, "req-1"))
	w := httptest.NewRecorder()

	require.NotPanics(t, func() { handler.ServeHTTP(w, req) })
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Internal server error", body["error"])
	assert.Equal(t, "req-1", body["request_id"])
}

func TestAuthenticationMiddleware(t *testing.T) {
	generated, err := auth.GenerateAPIKey()
	require.NoError(t, err)

	tests := []struct {
		name           string
		path           string
		headers        map[string]string
		expectedStatus int
		shouldCallNext bool
	}{
		{
			name:           "valid key in X-API-Key header",
			path:           "/api/v1/status",
			headers:        map[string]string{"X-API-Key": generated.Key},
			expectedStatus: http.StatusOK,
			shouldCallNext: true,
		},
		{
			name:           "valid key as bearer token",
			path:           "/api/v1/targets",
			headers:        map[string]string{"Authorization": "Bearer " + generated.Key},
			expectedStatus: http.StatusOK,
			shouldCallNext: true,
		},
		{
			name:           "invalid key",
			path:           "/api/v1/status",
			headers:        map[string]string{"X-API-Key": "bf_wrong"},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "missing key",
			path:           "/api/v1/actions",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "non-bearer authorization",
			path:           "/api/v1/status",
			headers:        map[string]string{"Authorization": "Basic " + generated.Key},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "health endpoint bypass",
			path:           "/api/v1/health",
			expectedStatus: http.StatusOK,
			shouldCallNext: true,
		},
		{
			name:           "metrics endpoint bypass",
			path:           "/metrics",
			expectedStatus: http.StatusOK,
			shouldCallNext: true,
		},
	}

	handlerFor := func(called *bool) http.Handler {
		return Authentication(generated.Hash, logging.NewDiscard())(okHandler(called))
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nextCalled := false
			req := httptest.NewRequest(http.MethodGet, tt.path, http.NoBody)
			req = req.WithContext(context.WithValue(req.Context(), RequestIDKey, "test-req-123"))
			for key, value := range tt.headers {
				req.Header.Set(key, value)
			}
			w := httptest.NewRecorder()

			handlerFor(&nextCalled).ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, tt.shouldCallNext, nextCalled)

			if tt.expectedStatus == http.StatusUnauthorized {
				assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

				var response map[string]interface{}
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
				assert.Contains(t, response["error"], "Authentication")
				assert.Equal(t, "test-req-123", response["request_id"])
			}
		})
	}
}

func TestAuthenticationDisabledWithoutHash(t *testing.T) {
	nextCalled := false
	handler := Authentication("", logging.NewDiscard())(okHandler(&nextCalled))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/status", http.NoBody))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, nextCalled)
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	nextCalled := false
	w := httptest.NewRecorder()
	SecurityHeaders()(okHandler(&nextCalled)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	assert.True(t, nextCalled)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
}

func TestGetRequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	assert.Equal(t, "unknown", GetRequestID(req))

	req = req.WithContext(context.WithValue(req.Context(), RequestIDKey, "req-42"))
	assert.Equal(t, "req-42", GetRequestID(req))

	req = req.WithContext(context.WithValue(req.Context(), RequestIDKey, 42))
	assert.Equal(t, "unknown", GetRequestID(req))
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		expected   string
	}{
		{name: "forwarded for", headers: map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, remoteAddr: "10.0.0.1:1234", expected: "203.0.113.7"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": "203.0.113.8"}, remoteAddr: "10.0.0.1:1234", expected: "203.0.113.8"},
		{name: "remote addr", remoteAddr: "192.168.1.5:5555", expected: "192.168.1.5"},
		{name: "remote addr without port", remoteAddr: "192.168.1.5", expected: "192.168.1.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.expected, getClientIP(req))
		})
	}
}

func TestResponseWriterHijack(t *testing.T) {
	rw := &responseWriter{ResponseWriter: httptest.NewRecorder(), statusCode: http.StatusOK}
	_, _, err := rw.Hijack()
	assert.Error(t, err, "recorder cannot be hijacked")

	var hijacked atomic.Bool
	srv := httptest.NewServer(Logging(logging.NewDiscard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, err := w.(http.Hijacker).Hijack()
		if err == nil {
			hijacked.Store(true)
			_, _ = conn.Write([]byte("HTTP/1.1 204 No Content\r\nConnection: close\r\n\r\n"))
			_ = conn.Close()
		}
	})))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.True(t, hijacked.Load())
}
