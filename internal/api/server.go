// Package api provides the bifrost status API: the status label and last
// cycle summary, the target table, the action registry, a websocket stream
// of label changes and the Prometheus metrics endpoint.
package api

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apihandlers "github.com/anstrom/bifrost/internal/api/handlers"
	"github.com/anstrom/bifrost/internal/api/middleware"
	"github.com/anstrom/bifrost/internal/config"
	"github.com/anstrom/bifrost/internal/logging"
	"github.com/anstrom/bifrost/internal/targets"
)

const (
	serverShutdownTimeout = 30 * time.Second
	idleTimeout           = 60 * time.Second
	maxHeaderBytes        = 1 << 20
)

// Deps are the components the API reads from.
type Deps struct {
	Core  apihandlers.Core
	Store targets.Store
	// StorePinger is checked by /health; nil for the in-memory store.
	StorePinger apihandlers.Pinger
	// Metrics is served at /metrics when set and metrics are enabled.
	Metrics *prometheus.Registry
	Version string
	Logger  *logging.Logger
}

// Server represents the API server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	handlers   *apihandlers.HandlerManager
	config     config.APIConfig
	logger     *logging.Logger

	mu       sync.Mutex
	listener net.Listener
}

// New creates a new API server instance.
func New(cfg config.APIConfig, deps Deps) (*Server, error) {
	if deps.Core == nil || deps.Store == nil {
		return nil, fmt.Errorf("api server requires an orchestrator and a target store")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithComponent("api")

	s := &Server{
		router:   mux.NewRouter(),
		handlers: apihandlers.New(deps.Core, deps.Store, deps.StorePinger, deps.Version, logger),
		config:   cfg,
		logger:   logger,
	}

	s.setupRoutes(deps.Metrics)

	s.httpServer = &http.Server{
		Addr:           net.JoinHostPort(cfg.ListenAddr, strconv.Itoa(cfg.Port)),
		Handler:        s.setupMiddleware(),
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    idleTimeout,
		MaxHeaderBytes: maxHeaderBytes,
	}
	return s, nil
}

// Start serves until ctx is cancelled or the listener fails. Cancellation
// triggers a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("API server failed to listen: %w", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("Starting API server",
		"address", ln.Addr().String(),
		"read_timeout", s.httpServer.ReadTimeout,
		"write_timeout", s.httpServer.WriteTimeout,
		"auth", s.config.APIKeyHash != "")

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("API server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errChan:
		return err
	}
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("API server shutdown error", "error", err)
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("API server stopped successfully")
	return nil
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes(registry *prometheus.Registry) {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", s.handlers.Health).Methods(http.MethodGet)
	api.HandleFunc("/status", s.handlers.Status).Methods(http.MethodGet)
	api.HandleFunc("/status/ws", s.handlers.LabelWebSocket).Methods(http.MethodGet)
	api.HandleFunc("/targets", s.handlers.ListTargets).Methods(http.MethodGet)
	api.HandleFunc("/targets/{ip}", s.handlers.GetTarget).Methods(http.MethodGet)
	api.HandleFunc("/actions", s.handlers.ListActions).Methods(http.MethodGet)
	api.HandleFunc("/discovery/rescan", s.handlers.Rescan).Methods(http.MethodPost)

	if s.config.Metrics && registry != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
}

// setupMiddleware configures middleware for the API server and returns the
// root handler. CORS wraps the router so preflight requests are answered
// before route matching and authentication.
func (s *Server) setupMiddleware() http.Handler {
	s.router.Use(mux.MiddlewareFunc(middleware.Recovery(s.logger)))
	s.router.Use(mux.MiddlewareFunc(middleware.Logging(s.logger)))
	s.router.Use(mux.MiddlewareFunc(middleware.SecurityHeaders()))
	s.router.Use(mux.MiddlewareFunc(middleware.Authentication(s.config.APIKeyHash, s.logger)))

	if len(s.config.AllowedOrigins) == 0 {
		return s.router
	}
	corsOptions := handlers.AllowedOrigins(s.config.AllowedOrigins)
	corsHeaders := handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-API-Key"})
	corsMethods := handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions})
	return handlers.CORS(corsOptions, corsHeaders, corsMethods)(s.router)
}

// Handler returns the root handler served by the HTTP server.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Router returns the configured router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// Handlers exposes the handler set.
func (s *Server) Handlers() *apihandlers.HandlerManager {
	return s.handlers
}
