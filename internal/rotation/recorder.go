package rotation

import (
	"fmt"
	"log/slog"

	"github.com/foxzi/rotor/internal/metrics"
	"github.com/foxzi/rotor/internal/models"
	"github.com/foxzi/rotor/internal/probe"
	"github.com/foxzi/rotor/internal/state"
	"github.com/foxzi/rotor/internal/store"
)

// Recorder applies delivery outcomes to a server's persisted counters. The
// store updates are single atomic statements, so concurrent workers never
// lose an increment.
type Recorder struct {
	servers *store.ServerRepository
	cache   *state.Cache
	logger  *slog.Logger
}

// NewRecorder creates a recorder over the server store and diagnostics cache.
func NewRecorder(servers *store.ServerRepository, cache *state.Cache, logger *slog.Logger) *Recorder {
	return &Recorder{
		servers: servers,
		cache:   cache,
		logger:  logger,
	}
}

// RecordSuccess counts one successful delivery: increments totals, resets the
// failure streak, restores health, and folds the response time into the
// smoothed average. responseMs <= 0 means "not measured".
func (r *Recorder) RecordSuccess(server *models.Server, responseMs float64) error {
	if err := r.servers.RecordSuccess(server.ID, responseMs); err != nil {
		return fmt.Errorf("failed to record success: %w", err)
	}

	if responseMs > 0 {
		if err := r.cache.AddSample(server.ID, responseMs); err != nil {
			r.logger.Warn("failed to store response sample", "server_id", server.ID, "error", err)
		}
	}

	metrics.IncResults(string(server.Kind), "success")
	return nil
}

// RecordFailure counts one failed delivery: increments totals and the
// consecutive-failure streak, stores the truncated error, and flips health
// once the streak reaches maxFailures.
func (r *Recorder) RecordFailure(server *models.Server, message string, kind probe.FailureKind, maxFailures int) error {
	if err := r.servers.RecordFailure(server.ID, message, maxFailures); err != nil {
		return fmt.Errorf("failed to record failure: %w", err)
	}

	if err := r.cache.AddError(server.ID, message); err != nil {
		r.logger.Warn("failed to store error entry", "server_id", server.ID, "error", err)
	}

	if kind == "" {
		kind = probe.FailureUnknown
	}
	metrics.IncResults(string(server.Kind), "failure")
	metrics.IncFailuresByKind(string(server.Kind), string(kind))
	return nil
}
