package handlers

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/anstrom/bifrost/internal/api/middleware"
	"github.com/anstrom/bifrost/internal/logging"
	"github.com/anstrom/bifrost/internal/orchestrator"
)

const (
	writeWait       = 10 * time.Second                                   // Time allowed to write a message to the peer
	pongWait        = 60 * time.Second                                   // Time to read next pong message from peer
	pingPeriodRatio = 0.9                                                // Ratio of pongWait for pingPeriod
	pingPeriod      = time.Duration(float64(pongWait) * pingPeriodRatio) // Send pings to peer (must be < pongWait)
	maxMessageSize  = 512                                                // Maximum message size allowed from peer
	bufferSize      = 16                                                 // Label updates buffered per client
)

// LabelStream pushes every label change to websocket clients as JSON.
type LabelStream struct {
	label    *orchestrator.Label
	logger   *logging.Logger
	upgrader websocket.Upgrader
	clients  atomic.Int64
}

// NewLabelStream creates a websocket handler for label updates.
func NewLabelStream(label *orchestrator.Label, logger *logging.Logger) *LabelStream {
	return &LabelStream{
		label:  label,
		logger: logger.WithComponent("api.websocket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origins are enforced by the CORS layer.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Clients returns the number of connected clients.
func (h *LabelStream) Clients() int {
	return int(h.clients.Load())
}

// ServeHTTP upgrades the connection and streams label states until the
// client goes away. The current state is sent first.
func (h *LabelStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", "request_id", requestID, "error", err)
		return
	}

	updates, unsubscribe := h.label.Subscribe(bufferSize)
	h.clients.Add(1)
	h.logger.Info("Label stream client connected", "request_id", requestID, "remote_addr", r.RemoteAddr)

	done := make(chan struct{})
	go h.readPump(conn, requestID, done)
	h.writePump(conn, requestID, updates, done)

	unsubscribe()
	h.clients.Add(-1)
	h.logger.Info("Label stream client disconnected", "request_id", requestID)
}

// readPump drains client frames so pongs and close frames are processed.
func (h *LabelStream) readPump(conn *websocket.Conn, requestID string, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket unexpected close", "request_id", requestID, "error", err)
			}
			return
		}
	}
}

// writePump sends label states and keepalive pings.
func (h *LabelStream) writePump(conn *websocket.Conn, requestID string, updates <-chan orchestrator.LabelState,
	done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := conn.Close(); err != nil {
			h.logger.Debug("Error closing connection", "request_id", requestID, "error", err)
		}
	}()

	if err := h.send(conn, h.label.Snapshot()); err != nil {
		return
	}

	for {
		select {
		case <-done:
			return
		case state := <-updates:
			if err := h.send(conn, state); err != nil {
				h.logger.Debug("Write failed, closing connection", "request_id", requestID, "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.logger.Debug("Ping failed, closing connection", "request_id", requestID, "error", err)
				return
			}
		}
	}
}

func (h *LabelStream) send(conn *websocket.Conn, state orchestrator.LabelState) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(state)
}
