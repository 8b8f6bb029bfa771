package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/anstrom/bifrost/internal/logging"
	"github.com/anstrom/bifrost/internal/orchestrator"
)

// Pinger checks a backing dependency such as the target database.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatusSource is the part of the orchestrator the status endpoints read.
type StatusSource interface {
	Label() *orchestrator.Label
	LastCycle() orchestrator.CycleResult
	Mode() orchestrator.Mode
}

const healthCheckTimeout = 5 * time.Second

// Health states.
const (
	StatusHealthy       = "healthy"
	StatusUnhealthy     = "unhealthy"
	StatusNotConfigured = "not configured"
)

// HealthHandler serves the health and status endpoints.
type HealthHandler struct {
	source    StatusSource
	store     Pinger
	version   string
	logger    *logging.Logger
	startTime time.Time
}

// NewHealthHandler creates a new health handler. store may be nil when the
// target table is kept in memory.
func NewHealthHandler(source StatusSource, store Pinger, version string, logger *logging.Logger) *HealthHandler {
	return &HealthHandler{
		source:    source,
		store:     store,
		version:   version,
		logger:    logger.WithComponent("api.health"),
		startTime: time.Now(),
	}
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]string `json:"checks"`
}

// StatusResponse represents the daemon status.
type StatusResponse struct {
	Version    string                   `json:"version"`
	Uptime     string                   `json:"uptime"`
	Mode       orchestrator.Mode        `json:"dispatch_mode"`
	Label      orchestrator.LabelState  `json:"label"`
	LastCycle  orchestrator.CycleResult `json:"last_cycle"`
	Goroutines int                      `json:"goroutines"`
	Timestamp  time.Time                `json:"timestamp"`
}

// Health reports 200 when the target store answers and 503 otherwise.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"store": StatusNotConfigured}
	overall := StatusHealthy
	code := http.StatusOK

	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			h.logger.Warn("Store health check failed", "error", err)
			checks["store"] = StatusUnhealthy
			overall = StatusUnhealthy
			code = http.StatusServiceUnavailable
		} else {
			checks["store"] = StatusHealthy
		}
	}

	writeJSON(w, r, code, HealthResponse{
		Status:    overall,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Checks:    checks,
	})
}

// Status reports the current label and the last cycle summary.
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, StatusResponse{
		Version:    h.version,
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
		Mode:       h.source.Mode(),
		Label:      h.source.Label().Snapshot(),
		LastCycle:  h.source.LastCycle(),
		Goroutines: runtime.NumGoroutine(),
		Timestamp:  time.Now().UTC(),
	})
}
