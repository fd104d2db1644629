// Package api exposes the control surface over HTTP: engine lifecycle,
// recipient management, quota inspection and profile administration.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mkrv/messengerq/internal/automation"
	"github.com/mkrv/messengerq/internal/config"
	"github.com/mkrv/messengerq/internal/engine"
	"github.com/mkrv/messengerq/internal/metrics"
	"github.com/mkrv/messengerq/internal/quota"
	"github.com/mkrv/messengerq/internal/store"
)

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	store      *store.Store
	quota      *quota.Tracker
	engine     *engine.Engine
	sandbox    *automation.Sandbox // nil when a real backend is wired
	config     *config.APIConfig
	logger     *slog.Logger
	startTime  time.Time
}

// NewServer creates a new API server. sandbox may be nil; its routes then
// answer 503.
func NewServer(s *store.Store, q *quota.Tracker, eng *engine.Engine, sandbox *automation.Sandbox, cfg *config.APIConfig, logger *slog.Logger) *Server {
	srv := &Server{
		router:    chi.NewRouter(),
		store:     s,
		quota:     q,
		engine:    eng,
		sandbox:   sandbox,
		config:    cfg,
		logger:    logger,
		startTime: time.Now(),
	}

	srv.setupRoutes()
	return srv
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(metrics.HTTPMiddleware)
	s.router.Use(middleware.Recoverer)

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	// API v1 routes (auth required)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/engine", func(r chi.Router) {
			r.Get("/", s.handleEngineStatus)
			r.Post("/start", s.handleEngineStart)
			r.Post("/pause", s.handleEnginePause)
			r.Post("/resume", s.handleEngineResume)
			r.Post("/stop", s.handleEngineStop)
			r.Post("/login-only", s.handleEngineLoginOnly)
			r.Post("/profile", s.handleEngineSwitchProfile)
		})

		r.Route("/uids", func(r chi.Router) {
			r.Get("/", s.handleUIDList)
			r.Post("/import", s.handleUIDImport)
			r.Get("/export", s.handleUIDExport)
			r.Get("/{id}", s.handleUIDGet)
			r.Post("/{id}/retry", s.handleUIDRetry)
		})

		r.Get("/quota", s.handleQuota)

		r.Route("/profiles", func(r chi.Router) {
			r.Get("/", s.handleProfileList)
			r.Post("/", s.handleProfileCreate)
			r.Put("/{id}", s.handleProfileUpdate)
		})

		s.registerSandboxRoutes(r)
	})
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Router exposes the handler for tests
func (s *Server) Router() http.Handler {
	return s.router
}
