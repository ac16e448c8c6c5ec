package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/foxzi/rotor/internal/api"
	"github.com/foxzi/rotor/internal/config"
	"github.com/foxzi/rotor/internal/metrics"
	"github.com/foxzi/rotor/internal/models"
	"github.com/foxzi/rotor/internal/probe"
	"github.com/foxzi/rotor/internal/rotation"
	"github.com/foxzi/rotor/internal/state"
	"github.com/foxzi/rotor/internal/store"
	"github.com/foxzi/rotor/internal/worker"
)

// App is the main application
type App struct {
	config        *config.Config
	db            *store.DB
	cache         *state.Cache
	manager       *rotation.Manager
	apiServer     *api.Server
	worker        *worker.Worker
	metricsServer *metrics.Server
	collector     *metrics.Collector
	logger        *slog.Logger
}

// New creates a new application
func New(cfg *config.Config, version string) (*App, error) {
	// Setup logger
	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	// Open persistent store
	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := db.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate store: %w", err)
	}

	// Open shared fast state
	cache, err := state.New(cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state cache: %w", err)
	}

	servers := store.NewServerRepository(db.DB)
	settings := store.NewSettingsRepository(db.DB)

	// Sync configured servers into the store
	if err := seedServers(servers, cfg.Servers, logger); err != nil {
		return nil, err
	}

	// Create probers and health monitor
	smtpProber := probe.NewSMTPProber(cfg.Probe.Timeout, cfg.Probe.HELOName)
	proxyProber := probe.NewProxyProber(cfg.Probe.Timeout, cfg.Probe.CheckURL)
	monitor := rotation.NewHealthMonitor(servers, smtpProber, proxyProber, logger.With("component", "monitor"))

	// Create rotation manager
	defaults, err := cfg.Rotation.DefaultSettings()
	if err != nil {
		return nil, err
	}
	manager := rotation.NewManager(servers, settings, cache, monitor, defaults, cfg.State.CursorTTL, logger.With("component", "rotation"))

	// Create API server
	apiServer := api.NewServer(manager, servers, settings, db, &cfg.API, version, logger.With("component", "api"))

	// Create background worker if enabled
	var w *worker.Worker
	if cfg.Worker.Enabled {
		w = worker.New(manager, worker.Config{
			ProbeInterval:      cfg.Worker.ProbeInterval,
			CleanupInterval:    cfg.Worker.CleanupInterval,
			CleanupWindow:      cfg.Worker.CleanupWindow,
			CleanupMinFailures: cfg.Worker.CleanupMinFailures,
		}, logger.With("component", "worker"))
		logger.Info("background worker enabled",
			"probe_interval", cfg.Worker.ProbeInterval,
			"cleanup_interval", cfg.Worker.CleanupInterval)
	}

	// Create metrics server and gauge collector if enabled
	var metricsServer *metrics.Server
	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		m := metrics.New()
		metrics.SetGlobal(m)
		metricsServer = metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path, cfg.Metrics.AllowedIPs, logger.With("component", "metrics"))
		collector = metrics.NewCollector(m, poolCountsAdapter{servers}, cfg.State.Path, 15*time.Second, logger.With("component", "metrics"))
		logger.Info("metrics enabled", "addr", cfg.Metrics.ListenAddr, "path", cfg.Metrics.Path)
	}

	return &App{
		config:        cfg,
		db:            db,
		cache:         cache,
		manager:       manager,
		apiServer:     apiServer,
		worker:        w,
		metricsServer: metricsServer,
		collector:     collector,
		logger:        logger,
	}, nil
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting rotor",
		"api_addr", a.config.API.ListenAddr,
		"database", a.config.Database.Path,
		"state", a.config.State.Path,
	)

	// Create context that listens for signals
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Start background loops
	if a.worker != nil {
		a.worker.Start(ctx)
	}
	if a.collector != nil {
		a.collector.Start(ctx)
	}

	// Channel to collect errors
	errCh := make(chan error, 2)

	// Start API server
	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	// Start metrics server if enabled
	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	// Graceful shutdown
	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	// Create timeout context
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop background loops first (no probes against a closing store)
	if a.worker != nil {
		a.worker.Stop()
	}
	if a.collector != nil {
		a.collector.Stop()
	}

	// Shutdown servers
	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}
	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	// Close storage
	if err := a.cache.Close(); err != nil {
		a.logger.Error("state cache close error", "error", err)
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("store close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// seedServers upserts configured endpoints. Records already in the store
// keep their counters, health state and active flag; only credentials and
// connection settings are refreshed.
func seedServers(repo *store.ServerRepository, seeds []config.SeedServer, logger *slog.Logger) error {
	for _, seed := range seeds {
		kind, err := models.ParseKind(seed.Kind)
		if err != nil {
			return fmt.Errorf("seed server %s:%d: %w", seed.Host, seed.Port, err)
		}
		tlsMode, err := models.ParseTLSMode(seed.TLS)
		if err != nil {
			return fmt.Errorf("seed server %s:%d: %w", seed.Host, seed.Port, err)
		}
		srv := &models.Server{
			OwnerID:  seed.Owner,
			Kind:     kind,
			Host:     seed.Host,
			Port:     seed.Port,
			Username: seed.Username,
			Password: seed.Password,
			TLSMode:  tlsMode,
			Scheme:   seed.Scheme,
		}
		if err := repo.UpsertEndpoint(srv); err != nil {
			return fmt.Errorf("seed server %s:%d: %w", seed.Host, seed.Port, err)
		}
	}
	if len(seeds) > 0 {
		logger.Info("synced servers from config", "count", len(seeds))
	}
	return nil
}

// poolCountsAdapter bridges the server repository to the gauge collector
type poolCountsAdapter struct {
	servers *store.ServerRepository
}

func (p poolCountsAdapter) PoolCounts(_ context.Context) ([]metrics.PoolCount, error) {
	rows, err := p.servers.PoolCounts()
	if err != nil {
		return nil, err
	}
	out := make([]metrics.PoolCount, 0, len(rows))
	for _, row := range rows {
		out = append(out, metrics.PoolCount{
			Owner:   row.OwnerID,
			Kind:    string(row.Kind),
			Total:   row.Total,
			Active:  row.Active,
			Healthy: row.Healthy,
		})
	}
	return out, nil
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
