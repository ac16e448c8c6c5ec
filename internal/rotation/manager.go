package rotation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/foxzi/rotor/internal/metrics"
	"github.com/foxzi/rotor/internal/models"
	"github.com/foxzi/rotor/internal/probe"
	"github.com/foxzi/rotor/internal/state"
	"github.com/foxzi/rotor/internal/store"
)

// Manager is the façade the send path talks to, once per outbound message:
// pick a relay, pick a proxy, pace the send, report the outcome. Effective
// settings are campaign overrides merged over owner settings merged over the
// configured defaults.
type Manager struct {
	servers  *store.ServerRepository
	settings *store.SettingsRepository
	cache    *state.Cache
	selector *Selector
	recorder *Recorder
	monitor  *HealthMonitor
	defaults models.RotationSettings
	logger   *slog.Logger

	mu     sync.Mutex
	delays map[string]*delayEntry
}

type delayParams struct {
	enabled  bool
	min, max float64
	seed     int64
}

type delayEntry struct {
	params delayParams
	gen    *Delay
}

// NewManager wires the selection, recording, and probing components over the
// shared store and cache. defaults fills in for owners without stored
// settings.
func NewManager(
	servers *store.ServerRepository,
	settings *store.SettingsRepository,
	cache *state.Cache,
	monitor *HealthMonitor,
	defaults models.RotationSettings,
	cursorTTL time.Duration,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		servers:  servers,
		settings: settings,
		cache:    cache,
		selector: NewSelector(servers, cache, cursorTTL, logger),
		recorder: NewRecorder(servers, cache, logger),
		monitor:  monitor,
		defaults: defaults,
		logger:   logger,
		delays:   make(map[string]*delayEntry),
	}
}

// NextSMTP selects the next relay for one outbound message. Returns
// (nil, nil) when no server is available.
func (m *Manager) NextSMTP(ownerID, campaignID string) (*models.Server, error) {
	return m.next(ownerID, campaignID, models.KindSMTP)
}

// NextProxy selects the next proxy for one outbound message. Returns
// (nil, nil) when no server is available.
func (m *Manager) NextProxy(ownerID, campaignID string) (*models.Server, error) {
	return m.next(ownerID, campaignID, models.KindProxy)
}

func (m *Manager) next(ownerID, campaignID string, kind models.Kind) (*models.Server, error) {
	settings, err := m.Effective(ownerID, campaignID)
	if err != nil {
		return nil, err
	}
	return m.selector.Next(ownerID, kind, settings)
}

// RecordSuccess reports one successful delivery through the server and
// returns the refreshed record. Returns (nil, nil) when the server does
// not exist.
func (m *Manager) RecordSuccess(serverID string, responseMs float64) (*models.Server, error) {
	srv, err := m.servers.GetByID(serverID)
	if err != nil || srv == nil {
		return nil, err
	}
	if err := m.recorder.RecordSuccess(srv, responseMs); err != nil {
		return nil, err
	}
	return m.servers.GetByID(serverID)
}

// RecordFailure reports one failed delivery through the server and returns
// the refreshed record, so callers see a health flip immediately. kind may
// be empty when the caller could not categorize the error. Returns
// (nil, nil) when the server does not exist.
func (m *Manager) RecordFailure(serverID, message string, kind probe.FailureKind) (*models.Server, error) {
	srv, err := m.servers.GetByID(serverID)
	if err != nil || srv == nil {
		return nil, err
	}

	settings, err := m.SettingsFor(srv.OwnerID)
	if err != nil {
		return nil, err
	}
	if err := m.recorder.RecordFailure(srv, message, kind, settings.MaxFailures); err != nil {
		return nil, err
	}
	return m.servers.GetByID(serverID)
}

// ApplyDelay blocks for the owner's (or campaign's) inter-message delay and
// returns the seconds actually waited.
func (m *Manager) ApplyDelay(ctx context.Context, ownerID, campaignID string) (float64, error) {
	settings, err := m.Effective(ownerID, campaignID)
	if err != nil {
		return 0, err
	}

	waited := m.delayFor(ownerID, campaignID, settings).Apply(ctx)
	if waited > 0 {
		metrics.ObserveDelay(waited)
	}
	return waited, nil
}

// delayFor returns the cached generator for the owner/campaign pair,
// rebuilding it when the effective delay parameters changed. Keeping the
// generator alive lets a seeded sequence progress across calls.
func (m *Manager) delayFor(ownerID, campaignID string, settings models.RotationSettings) *Delay {
	params := delayParams{
		enabled: settings.DelayEnabled,
		min:     settings.DelayMinSeconds,
		max:     settings.DelayMaxSeconds,
		seed:    settings.DelaySeed,
	}
	key := ownerID + "|" + campaignID

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.delays[key]
	if !ok || e.params != params {
		e = &delayEntry{
			params: params,
			gen:    NewDelay(params.enabled, params.min, params.max, params.seed),
		}
		m.delays[key] = e
	}
	return e.gen
}

// ProbeOwner runs a sequential probe sweep over the owner's active servers.
// An empty kind probes both kinds.
func (m *Manager) ProbeOwner(ctx context.Context, ownerID string, kind models.Kind) (*ProbeReport, error) {
	settings, err := m.SettingsFor(ownerID)
	if err != nil {
		return nil, err
	}
	return m.monitor.ProbeOwner(ctx, ownerID, kind, settings.MaxFailures)
}

// Cleanup deactivates servers broken past the window. See
// HealthMonitor.Cleanup.
func (m *Manager) Cleanup(window time.Duration, minFailures int, dryRun bool) (int64, error) {
	return m.monitor.Cleanup(window, minFailures, dryRun)
}

// Owners lists owners with at least one active server.
func (m *Manager) Owners() ([]string, error) {
	return m.servers.Owners()
}

// Stats assembles the owner's aggregate and per-server counters, success
// rates, and scores. Scores are computed for every server, healthy or not,
// so the ranking view shows the whole pool.
func (m *Manager) Stats(ownerID string) (*models.OwnerStats, error) {
	byKind, err := m.servers.AggregateByKind(ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate stats: %w", err)
	}

	servers, err := m.servers.List(models.ServerFilter{OwnerID: ownerID})
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}

	now := time.Now()
	stats := &models.OwnerStats{
		OwnerID: ownerID,
		SMTP:    byKind[models.KindSMTP],
		Proxy:   byKind[models.KindProxy],
		Servers: make([]models.ServerStats, 0, len(servers)),
	}

	for i := range servers {
		srv := &servers[i]
		entry := models.ServerStats{
			ID:                  srv.ID,
			Kind:                srv.Kind,
			Host:                srv.Host,
			Port:                srv.Port,
			IsActive:            srv.IsActive,
			IsHealthy:           srv.IsHealthy,
			TotalRequests:       srv.TotalRequests,
			SuccessfulRequests:  srv.SuccessfulRequests,
			FailedRequests:      srv.FailedRequests,
			ConsecutiveFailures: srv.ConsecutiveFailures,
			SuccessRate:         srv.SuccessRate(),
			AverageResponseMs:   srv.AverageResponseMs,
			Score:               Score(srv, now),
			LastUsed:            srv.LastUsed,
			LastHealthCheck:     srv.LastHealthCheck,
			LastError:           srv.LastError,
		}

		errs, err := m.cache.Errors(srv.ID)
		if err != nil {
			m.logger.Warn("failed to read recent errors", "server_id", srv.ID, "error", err)
		}
		for _, e := range errs {
			entry.RecentErrors = append(entry.RecentErrors, e.Message)
		}

		stats.Servers = append(stats.Servers, entry)
	}

	return stats, nil
}

// SettingsFor returns the owner's rotation settings with the configured
// defaults filling any unset values.
func (m *Manager) SettingsFor(ownerID string) (models.RotationSettings, error) {
	stored, err := m.settings.GetRotationSettings(ownerID)
	if err != nil {
		return models.RotationSettings{}, fmt.Errorf("failed to load rotation settings: %w", err)
	}

	if stored == nil {
		s := m.defaults
		s.OwnerID = ownerID
		return s, nil
	}

	s := *stored
	if s.Strategy == "" {
		s.Strategy = m.defaults.Strategy
	}
	if s.MaxFailures <= 0 {
		s.MaxFailures = m.defaults.MaxFailures
	}
	if s.HealthCheckInterval <= 0 {
		s.HealthCheckInterval = m.defaults.HealthCheckInterval
	}
	return s, nil
}

// Effective returns the owner settings with campaign overrides merged on
// top. An empty or unknown campaign leaves the owner settings unchanged.
func (m *Manager) Effective(ownerID, campaignID string) (models.RotationSettings, error) {
	settings, err := m.SettingsFor(ownerID)
	if err != nil {
		return settings, err
	}
	if campaignID == "" {
		return settings, nil
	}

	overrides, err := m.settings.GetCampaignSettings(campaignID)
	if err != nil {
		return settings, fmt.Errorf("failed to load campaign settings: %w", err)
	}
	return settings.Merged(overrides), nil
}
