package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/foxzi/rotor/internal/rotation"
)

// Worker runs the background probe and cleanup loops. The probe loop ticks
// at a fixed base interval and probes each owner only when that owner's own
// health check interval has elapsed, so one slow owner cannot starve the
// schedule of another.
type Worker struct {
	manager            *rotation.Manager
	probeInterval      time.Duration
	cleanupInterval    time.Duration
	cleanupWindow      time.Duration
	cleanupMinFailures int
	logger             *slog.Logger

	mu        sync.Mutex
	lastProbe map[string]time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Config contains worker loop settings
type Config struct {
	ProbeInterval      time.Duration
	CleanupInterval    time.Duration
	CleanupWindow      time.Duration
	CleanupMinFailures int
}

// New creates a worker over the rotation manager
func New(mgr *rotation.Manager, cfg Config, logger *slog.Logger) *Worker {
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 30 * time.Second
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Hour
	}
	if cfg.CleanupWindow <= 0 {
		cfg.CleanupWindow = 24 * time.Hour
	}
	if cfg.CleanupMinFailures <= 0 {
		cfg.CleanupMinFailures = 10
	}

	return &Worker{
		manager:            mgr,
		probeInterval:      cfg.ProbeInterval,
		cleanupInterval:    cfg.CleanupInterval,
		cleanupWindow:      cfg.CleanupWindow,
		cleanupMinFailures: cfg.CleanupMinFailures,
		logger:             logger,
		lastProbe:          make(map[string]time.Time),
		stopCh:             make(chan struct{}),
	}
}

// Start starts the probe and cleanup loops
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("starting background worker",
		"probe_interval", w.probeInterval,
		"cleanup_interval", w.cleanupInterval,
	)

	w.wg.Add(2)
	go w.probeLoop(ctx)
	go w.cleanupLoop(ctx)
}

// Stop stops the loops gracefully
func (w *Worker) Stop() {
	w.logger.Info("stopping background worker")
	close(w.stopCh)
	w.wg.Wait()
	w.logger.Info("background worker stopped")
}

func (w *Worker) probeLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.probeDueOwners(ctx)
		}
	}
}

func (w *Worker) cleanupLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.runCleanup()
		}
	}
}

// probeDueOwners sweeps every owner whose health check interval has elapsed
func (w *Worker) probeDueOwners(ctx context.Context) {
	owners, err := w.manager.Owners()
	if err != nil {
		w.logger.Error("failed to list owners for probing", "error", err)
		return
	}

	now := time.Now()
	for _, owner := range owners {
		settings, err := w.manager.SettingsFor(owner)
		if err != nil {
			w.logger.Error("failed to resolve settings", "owner", owner, "error", err)
			continue
		}
		if !w.due(owner, settings.HealthCheckInterval, now) {
			continue
		}

		report, err := w.manager.ProbeOwner(ctx, owner, "")
		if err != nil {
			w.logger.Error("probe sweep failed", "owner", owner, "error", err)
			if ctx.Err() != nil {
				return
			}
			continue
		}
		w.markProbed(owner, now)

		if report.Unhealthy > 0 {
			w.logger.Warn("probe sweep found unhealthy servers",
				"owner", owner,
				"probed", report.Probed,
				"unhealthy", report.Unhealthy,
			)
		} else {
			w.logger.Debug("probe sweep complete", "owner", owner, "probed", report.Probed)
		}
	}
}

func (w *Worker) due(owner string, interval time.Duration, now time.Time) bool {
	if interval <= 0 {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	last, ok := w.lastProbe[owner]
	return !ok || now.Sub(last) >= interval
}

func (w *Worker) markProbed(owner string, at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastProbe[owner] = at
}

func (w *Worker) runCleanup() {
	n, err := w.manager.Cleanup(w.cleanupWindow, w.cleanupMinFailures, false)
	if err != nil {
		w.logger.Error("cleanup sweep failed", "error", err)
		return
	}
	if n > 0 {
		w.logger.Info("cleanup sweep deactivated servers", "count", n)
	}
}
