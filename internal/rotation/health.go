package rotation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/foxzi/rotor/internal/metrics"
	"github.com/foxzi/rotor/internal/models"
	"github.com/foxzi/rotor/internal/probe"
	"github.com/foxzi/rotor/internal/store"
)

// HealthMonitor runs active probes against servers and folds the outcomes
// into their health state. Probes count as health checks, not usage: a probe
// success touches no request counters, a probe failure does (it is a real
// observed failure).
type HealthMonitor struct {
	servers *store.ServerRepository
	smtp    probe.Prober
	proxy   probe.Prober
	logger  *slog.Logger
}

// NewHealthMonitor creates a monitor with one prober per server kind.
func NewHealthMonitor(servers *store.ServerRepository, smtp, proxy probe.Prober, logger *slog.Logger) *HealthMonitor {
	return &HealthMonitor{
		servers: servers,
		smtp:    smtp,
		proxy:   proxy,
		logger:  logger,
	}
}

// ProbeResult is the outcome of probing one server.
type ProbeResult struct {
	ServerID  string            `json:"server_id"`
	Kind      models.Kind       `json:"kind"`
	Host      string            `json:"host"`
	Port      int               `json:"port"`
	Healthy   bool              `json:"healthy"`
	Failure   probe.FailureKind `json:"failure,omitempty"`
	ConnectMs float64           `json:"connect_ms"`
	AuthMs    float64           `json:"auth_ms,omitempty"`
	Message   string            `json:"message,omitempty"`
}

// ProbeReport aggregates the results of one probe sweep over an owner.
type ProbeReport struct {
	OwnerID   string        `json:"owner_id"`
	Probed    int           `json:"probed"`
	Healthy   int           `json:"healthy"`
	Unhealthy int           `json:"unhealthy"`
	Servers   []ProbeResult `json:"servers"`
}

// ProbeServer probes one server and applies the outcome to its stored state.
// maxFailures is the owner's health-flip threshold.
func (m *HealthMonitor) ProbeServer(ctx context.Context, server *models.Server, maxFailures int) ProbeResult {
	prober := m.smtp
	if server.Kind == models.KindProxy {
		prober = m.proxy
	}

	res := prober.Probe(ctx, server)

	metrics.ObserveProbeDuration(string(server.Kind), "connect", res.ConnectTime.Seconds())
	if res.AuthTime > 0 {
		metrics.ObserveProbeDuration(string(server.Kind), "auth", res.AuthTime.Seconds())
	}

	if res.Healthy {
		metrics.IncProbes(string(server.Kind), "success")
		if err := m.servers.MarkProbeSuccess(server.ID); err != nil {
			m.logger.Error("failed to apply probe success", "server_id", server.ID, "error", err)
		}
	} else {
		metrics.IncProbes(string(server.Kind), "failure")
		metrics.IncProbeFailures(string(res.Kind))
		if err := m.servers.MarkProbeFailure(server.ID, res.Message, maxFailures); err != nil {
			m.logger.Error("failed to apply probe failure", "server_id", server.ID, "error", err)
		}
		m.logger.Warn("probe failed",
			"server_id", server.ID,
			"addr", server.Addr(),
			"kind", string(server.Kind),
			"failure", string(res.Kind),
			"error", res.Message,
		)
	}

	return ProbeResult{
		ServerID:  server.ID,
		Kind:      server.Kind,
		Host:      server.Host,
		Port:      server.Port,
		Healthy:   res.Healthy,
		Failure:   res.Kind,
		ConnectMs: float64(res.ConnectTime) / float64(time.Millisecond),
		AuthMs:    float64(res.AuthTime) / float64(time.Millisecond),
		Message:   res.Message,
	}
}

// ProbeOwner probes every active server for the owner sequentially, keeping
// the outbound burst bounded. An empty kind probes both kinds. The sweep
// stops early when the context is cancelled.
func (m *HealthMonitor) ProbeOwner(ctx context.Context, ownerID string, kind models.Kind, maxFailures int) (*ProbeReport, error) {
	servers, err := m.servers.List(models.ServerFilter{OwnerID: ownerID, Kind: kind, OnlyActive: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list servers for probing: %w", err)
	}

	report := &ProbeReport{OwnerID: ownerID}
	for i := range servers {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		res := m.ProbeServer(ctx, &servers[i], maxFailures)
		report.Probed++
		if res.Healthy {
			report.Healthy++
		} else {
			report.Unhealthy++
		}
		report.Servers = append(report.Servers, res)
	}

	return report, nil
}

// Cleanup deactivates servers that stayed unhealthy past the look-back
// window with at least minFailures consecutive failures. Records are kept,
// never deleted. With dryRun only the would-be count is returned.
func (m *HealthMonitor) Cleanup(window time.Duration, minFailures int, dryRun bool) (int64, error) {
	if dryRun {
		n, err := m.servers.CountBroken(window, minFailures)
		return int64(n), err
	}

	n, err := m.servers.DeactivateBroken(window, minFailures)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate broken servers: %w", err)
	}
	if n > 0 {
		m.logger.Info("deactivated broken servers", "count", n, "window", window, "min_failures", minFailures)
	}
	return n, nil
}
