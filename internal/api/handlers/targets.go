package handlers

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/anstrom/bifrost/internal/actions"
	"github.com/anstrom/bifrost/internal/logging"
	"github.com/anstrom/bifrost/internal/targets"
)

// Rescanner queues a network rescan; false means no discoverer is wired.
type Rescanner interface {
	RequestRescan() bool
}

// TargetsHandler exposes the target table and the action registry.
type TargetsHandler struct {
	store     targets.Store
	registry  *actions.Registry
	rescanner Rescanner
	logger    *logging.Logger
}

// NewTargetsHandler creates a new targets handler.
func NewTargetsHandler(store targets.Store, registry *actions.Registry, rescanner Rescanner,
	logger *logging.Logger) *TargetsHandler {
	return &TargetsHandler{
		store:     store,
		registry:  registry,
		rescanner: rescanner,
		logger:    logger.WithComponent("api.targets"),
	}
}

// TargetsResponse lists the target table.
type TargetsResponse struct {
	Targets []targets.Snapshot `json:"targets"`
	Total   int                `json:"total"`
	Alive   int                `json:"alive"`
}

// ActionInfo describes one registered action.
type ActionInfo struct {
	Name       string `json:"name"`
	Port       int    `json:"port,omitempty"`
	Parent     string `json:"parent,omitempty"`
	Standalone bool   `json:"standalone"`
}

// ListTargets returns every row of the target table.
func (h *TargetsHandler) ListTargets(w http.ResponseWriter, r *http.Request) {
	rows, err := h.store.Read(r.Context())
	if err != nil {
		h.logger.Error("Failed to read targets", "error", err)
		writeError(w, r, http.StatusInternalServerError, fmt.Errorf("failed to read targets"))
		return
	}

	resp := TargetsResponse{Targets: rows, Total: len(rows)}
	if resp.Targets == nil {
		resp.Targets = []targets.Snapshot{}
	}
	for _, row := range rows {
		if row.Alive {
			resp.Alive++
		}
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// GetTarget returns the row for the IP in the path.
func (h *TargetsHandler) GetTarget(w http.ResponseWriter, r *http.Request) {
	ip := mux.Vars(r)["ip"]
	rows, err := h.store.Read(r.Context())
	if err != nil {
		h.logger.Error("Failed to read targets", "error", err)
		writeError(w, r, http.StatusInternalServerError, fmt.Errorf("failed to read targets"))
		return
	}
	for _, row := range rows {
		if row.IP == ip {
			writeJSON(w, r, http.StatusOK, row)
			return
		}
	}
	writeError(w, r, http.StatusNotFound, fmt.Errorf("target %s not found", ip))
}

// ListActions returns the registry in dispatch order.
func (h *TargetsHandler) ListActions(w http.ResponseWriter, r *http.Request) {
	all := h.registry.All()
	out := make([]ActionInfo, 0, len(all))
	for _, a := range all {
		out = append(out, ActionInfo{
			Name:       a.Name(),
			Port:       a.Port(),
			Parent:     a.Parent(),
			Standalone: actions.IsStandalone(a),
		})
	}
	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"actions":   out,
		"discovery": h.registry.DiscoveryEnabled(),
	})
}

// Rescan asks the orchestrator to rediscover hosts before its next cycle.
func (h *TargetsHandler) Rescan(w http.ResponseWriter, r *http.Request) {
	if h.rescanner == nil || !h.rescanner.RequestRescan() {
		writeError(w, r, http.StatusConflict, fmt.Errorf("network discovery is not enabled"))
		return
	}
	h.logger.Info("Rescan requested via API")
	writeJSON(w, r, http.StatusAccepted, map[string]string{"status": "queued"})
}
