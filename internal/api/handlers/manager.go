package handlers

import (
	"net/http"

	"github.com/anstrom/bifrost/internal/actions"
	"github.com/anstrom/bifrost/internal/logging"
	"github.com/anstrom/bifrost/internal/orchestrator"
	"github.com/anstrom/bifrost/internal/targets"
)

// Core is the orchestrator surface the API depends on.
type Core interface {
	StatusSource
	Rescanner
	Registry() *actions.Registry
}

// HandlerManager groups the API handlers.
type HandlerManager struct {
	health  *HealthHandler
	targets *TargetsHandler
	stream  *LabelStream
}

// New creates the handlers. storePinger may be nil.
func New(core Core, store targets.Store, storePinger Pinger, version string, logger *logging.Logger) *HandlerManager {
	return &HandlerManager{
		health:  NewHealthHandler(core, storePinger, version, logger),
		targets: NewTargetsHandler(store, core.Registry(), core, logger),
		stream:  NewLabelStream(core.Label(), logger),
	}
}

// Health handles GET /health.
func (hm *HandlerManager) Health(w http.ResponseWriter, r *http.Request) { hm.health.Health(w, r) }

// Status handles GET /status.
func (hm *HandlerManager) Status(w http.ResponseWriter, r *http.Request) { hm.health.Status(w, r) }

// ListTargets handles GET /targets.
func (hm *HandlerManager) ListTargets(w http.ResponseWriter, r *http.Request) {
	hm.targets.ListTargets(w, r)
}

// GetTarget handles GET /targets/{ip}.
func (hm *HandlerManager) GetTarget(w http.ResponseWriter, r *http.Request) { hm.targets.GetTarget(w, r) }

// ListActions handles GET /actions.
func (hm *HandlerManager) ListActions(w http.ResponseWriter, r *http.Request) {
	hm.targets.ListActions(w, r)
}

// Rescan handles POST /discovery/rescan.
func (hm *HandlerManager) Rescan(w http.ResponseWriter, r *http.Request) { hm.targets.Rescan(w, r) }

// LabelWebSocket handles GET /status/ws.
func (hm *HandlerManager) LabelWebSocket(w http.ResponseWriter, r *http.Request) {
	hm.stream.ServeHTTP(w, r)
}

// Stream returns the websocket handler.
func (hm *HandlerManager) Stream() *LabelStream { return hm.stream }

var _ Core = (*orchestrator.Core)(nil)
