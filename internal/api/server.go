package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/foxzi/rotor/internal/config"
	"github.com/foxzi/rotor/internal/metrics"
	"github.com/foxzi/rotor/internal/rotation"
	"github.com/foxzi/rotor/internal/store"
)

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	manager    *rotation.Manager
	servers    *store.ServerRepository
	settings   *store.SettingsRepository
	db         *store.DB
	config     *config.APIConfig
	version    string
	logger     *slog.Logger
	startTime  time.Time
}

// NewServer creates a new API server
func NewServer(mgr *rotation.Manager, servers *store.ServerRepository, settings *store.SettingsRepository, db *store.DB, cfg *config.APIConfig, version string, logger *slog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		manager:   mgr,
		servers:   servers,
		settings:  settings,
		db:        db,
		config:    cfg,
		version:   version,
		logger:    logger,
		startTime: time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(metrics.HTTPMiddleware)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Route("/owners/{owner}", func(r chi.Router) {
			r.Post("/next/{kind}", s.handleNext)
			r.Post("/probe", s.handleProbe)
			r.Post("/delay", s.handleDelay)
			r.Get("/stats", s.handleStats)
			r.Get("/servers", s.handleServers)
			r.Get("/settings", s.handleSettingsGet)
			r.Put("/settings", s.handleSettingsPut)
			r.Delete("/settings", s.handleSettingsDelete)
		})
		r.Route("/servers/{id}", func(r chi.Router) {
			r.Post("/success", s.handleSuccess)
			r.Post("/failure", s.handleFailure)
		})
		r.Get("/campaigns/{campaign}/settings", s.handleCampaignSettingsGet)
		r.Put("/campaigns/{campaign}/settings", s.handleCampaignSettingsPut)
		r.Delete("/campaigns/{campaign}/settings", s.handleCampaignSettingsDelete)
	})
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
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
