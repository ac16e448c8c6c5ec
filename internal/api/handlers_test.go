package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/foxzi/rotor/internal/config"
	"github.com/foxzi/rotor/internal/models"
	"github.com/foxzi/rotor/internal/probe"
	"github.com/foxzi/rotor/internal/rotation"
	"github.com/foxzi/rotor/internal/state"
	"github.com/foxzi/rotor/internal/store"
)

// fakeProber implements probe.Prober without touching the network
type fakeProber struct {
	healthy bool
}

func (p *fakeProber) Probe(ctx context.Context, server *models.Server) probe.Result {
	if p.healthy {
		return probe.Result{Healthy: true, ConnectTime: 5 * time.Millisecond}
	}
	return probe.Result{Kind: probe.FailureConnect, Message: "connection refused"}
}

func setupTestServer(t *testing.T) (*Server, *store.ServerRepository, *store.SettingsRepository) {
	t.Helper()

	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})

	cache, err := state.New(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("failed to open test cache: %v", err)
	}
	t.Cleanup(func() {
		cache.Close()
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	servers := store.NewServerRepository(db.DB)
	settings := store.NewSettingsRepository(db.DB)
	monitor := rotation.NewHealthMonitor(servers, &fakeProber{healthy: true}, &fakeProber{healthy: true}, logger)

	defaults := models.RotationSettings{
		SMTPEnabled:         true,
		ProxyEnabled:        true,
		Strategy:            models.StrategyRoundRobin,
		MaxFailures:         3,
		HealthCheckInterval: 5 * time.Minute,
	}
	mgr := rotation.NewManager(servers, settings, cache, monitor, defaults, 0, logger)

	cfg := &config.APIConfig{ListenAddr: ":8080"}
	server := NewServer(mgr, servers, settings, db, cfg, "test", logger)
	return server, servers, settings
}

func seedServer(t *testing.T, repo *store.ServerRepository, owner string, kind models.Kind, host string) *models.Server {
	t.Helper()

	s := &models.Server{
		OwnerID:   owner,
		Kind:      kind,
		Host:      host,
		Port:      587,
		Username:  "mailer",
		Password:  "hunter2",
		IsActive:  true,
		IsHealthy: true,
	}
	if err := repo.Create(s); err != nil {
		t.Fatalf("Create(%s) error = %v", host, err)
	}
	return s
}

func doRequest(t *testing.T, server *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	server, _, _ := setupTestServer(t)

	w := doRequest(t, server, "GET", "/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("Status = %q, want %q", resp.Status, "ok")
	}
	if resp.Version != "test" {
		t.Errorf("Version = %q, want %q", resp.Version, "test")
	}
}

func TestNextEndpoint(t *testing.T) {
	server, repo, _ := setupTestServer(t)

	seedServer(t, repo, "acme", models.KindSMTP, "a.test.com")
	seedServer(t, repo, "acme", models.KindSMTP, "b.test.com")

	want := []string{"a.test.com", "b.test.com", "a.test.com"}
	for i, host := range want {
		w := doRequest(t, server, "POST", "/api/v1/owners/acme/next/smtp", "")
		if w.Code != http.StatusOK {
			t.Fatalf("call %d: Status = %d, want %d. Body: %s", i, w.Code, http.StatusOK, w.Body.String())
		}
		if strings.Contains(w.Body.String(), "hunter2") {
			t.Fatal("response leaked the server password")
		}

		var resp models.Server
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if resp.Host != host {
			t.Errorf("call %d: Host = %q, want %q", i, resp.Host, host)
		}
		if resp.ID == "" {
			t.Error("response has no server ID")
		}
	}
}

func TestNextEndpointNoServers(t *testing.T) {
	server, _, _ := setupTestServer(t)

	w := doRequest(t, server, "POST", "/api/v1/owners/nobody/next/smtp", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusNotFound)
	}

	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Error != "no server available" {
		t.Errorf("Error = %q, want %q", resp.Error, "no server available")
	}
}

func TestNextEndpointBadKind(t *testing.T) {
	server, _, _ := setupTestServer(t)

	w := doRequest(t, server, "POST", "/api/v1/owners/acme/next/imap", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestNextEndpointCampaignOverride(t *testing.T) {
	server, repo, settings := setupTestServer(t)

	strong := seedServer(t, repo, "acme", models.KindSMTP, "a.test.com")
	seedServer(t, repo, "acme", models.KindSMTP, "b.test.com")
	for i := 0; i < 5; i++ {
		if err := repo.RecordSuccess(strong.ID, 40); err != nil {
			t.Fatalf("RecordSuccess() error = %v", err)
		}
	}

	strategy := models.StrategyBestPerformance
	err := settings.SaveCampaignSettings(&models.CampaignSettings{
		CampaignID: "blast-42",
		OwnerID:    "acme",
		Strategy:   &strategy,
	})
	if err != nil {
		t.Fatalf("SaveCampaignSettings() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		w := doRequest(t, server, "POST", "/api/v1/owners/acme/next/smtp?campaign=blast-42", "")
		if w.Code != http.StatusOK {
			t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
		}
		var resp models.Server
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if resp.ID != strong.ID {
			t.Errorf("campaign selection = %q, want the best performer", resp.Host)
		}
	}
}

func TestRecordSuccessEndpoint(t *testing.T) {
	server, repo, _ := setupTestServer(t)
	srv := seedServer(t, repo, "acme", models.KindSMTP, "a.test.com")

	w := doRequest(t, server, "POST", "/api/v1/servers/"+srv.ID+"/success", `{"response_time_ms": 120}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d. Body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp RecordResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.TotalRequests != 1 || !resp.IsHealthy {
		t.Errorf("response = %+v, want 1 request and healthy", resp)
	}

	// Empty body means an unmeasured send
	w = doRequest(t, server, "POST", "/api/v1/servers/"+srv.ID+"/success", "")
	if w.Code != http.StatusOK {
		t.Fatalf("empty body: Status = %d, want %d", w.Code, http.StatusOK)
	}

	got, err := repo.GetByID(srv.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.TotalRequests != 2 || got.SuccessfulRequests != 2 {
		t.Errorf("counters = %d/%d, want 2/2", got.TotalRequests, got.SuccessfulRequests)
	}
	if got.AverageResponseMs != 120 {
		t.Errorf("AverageResponseMs = %f, want 120", got.AverageResponseMs)
	}
}

func TestRecordSuccessUnknownServer(t *testing.T) {
	server, _, _ := setupTestServer(t)

	w := doRequest(t, server, "POST", "/api/v1/servers/no-such-id/success", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestRecordFailureEndpoint(t *testing.T) {
	server, repo, _ := setupTestServer(t)
	srv := seedServer(t, repo, "acme", models.KindSMTP, "a.test.com")

	var resp RecordResponse
	for i := 0; i < 3; i++ {
		w := doRequest(t, server, "POST", "/api/v1/servers/"+srv.ID+"/failure",
			`{"error": "connection refused", "kind": "connect"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("call %d: Status = %d, want %d. Body: %s", i, w.Code, http.StatusOK, w.Body.String())
		}
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
	}

	// Default threshold is 3; the last response reflects the flip
	if resp.IsHealthy {
		t.Error("response still healthy after reaching the failure limit")
	}
	if resp.ConsecutiveFailures != 3 {
		t.Errorf("ConsecutiveFailures = %d, want 3", resp.ConsecutiveFailures)
	}
}

func TestRecordFailureValidation(t *testing.T) {
	server, repo, _ := setupTestServer(t)
	srv := seedServer(t, repo, "acme", models.KindSMTP, "a.test.com")

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing error", `{"kind": "connect"}`, http.StatusBadRequest},
		{"bad kind", `{"error": "x", "kind": "cosmic"}`, http.StatusBadRequest},
		{"invalid json", `{invalid}`, http.StatusBadRequest},
		{"kind optional", `{"error": "x"}`, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, server, "POST", "/api/v1/servers/"+srv.ID+"/failure", tt.body)
			if w.Code != tt.want {
				t.Errorf("Status = %d, want %d. Body: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestStatsEndpoint(t *testing.T) {
	server, repo, _ := setupTestServer(t)

	a := seedServer(t, repo, "acme", models.KindSMTP, "a.test.com")
	seedServer(t, repo, "acme", models.KindProxy, "p.test.com")
	for i := 0; i < 3; i++ {
		if err := repo.RecordSuccess(a.ID, 90); err != nil {
			t.Fatalf("RecordSuccess() error = %v", err)
		}
	}

	w := doRequest(t, server, "GET", "/api/v1/owners/acme/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp models.OwnerStats
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.OwnerID != "acme" {
		t.Errorf("OwnerID = %q, want acme", resp.OwnerID)
	}
	if resp.SMTP.Total != 1 || resp.SMTP.Requests != 3 {
		t.Errorf("SMTP aggregate = %+v, want 1 server with 3 requests", resp.SMTP)
	}
	if resp.Proxy.Total != 1 {
		t.Errorf("Proxy aggregate = %+v, want 1 server", resp.Proxy)
	}
	if len(resp.Servers) != 2 {
		t.Errorf("Servers has %d entries, want 2", len(resp.Servers))
	}
	for _, s := range resp.Servers {
		if s.Score <= 0 {
			t.Errorf("server %s score = %f, want positive", s.Host, s.Score)
		}
	}
}

func TestServersEndpoint(t *testing.T) {
	server, repo, _ := setupTestServer(t)

	seedServer(t, repo, "acme", models.KindSMTP, "a.test.com")
	seedServer(t, repo, "acme", models.KindSMTP, "b.test.com")
	seedServer(t, repo, "acme", models.KindProxy, "p.test.com")

	w := doRequest(t, server, "GET", "/api/v1/owners/acme/servers", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}
	if strings.Contains(w.Body.String(), "hunter2") {
		t.Fatal("listing leaked a server password")
	}

	var resp ServersResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Count != 3 {
		t.Errorf("Count = %d, want 3", resp.Count)
	}

	w = doRequest(t, server, "GET", "/api/v1/owners/acme/servers?kind=proxy", "")
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Count != 1 || resp.Servers[0].Kind != models.KindProxy {
		t.Errorf("filtered response = %+v, want only the proxy", resp)
	}

	w = doRequest(t, server, "GET", "/api/v1/owners/acme/servers?kind=bogus", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want %d for a bad kind filter", w.Code, http.StatusBadRequest)
	}
}

func TestProbeEndpoint(t *testing.T) {
	server, repo, _ := setupTestServer(t)

	seedServer(t, repo, "acme", models.KindSMTP, "a.test.com")
	seedServer(t, repo, "acme", models.KindProxy, "p.test.com")

	w := doRequest(t, server, "POST", "/api/v1/owners/acme/probe", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d. Body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var report rotation.ProbeReport
	if err := json.NewDecoder(w.Body).Decode(&report); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if report.Probed != 2 || report.Healthy != 2 {
		t.Errorf("report = %+v, want 2 probed 2 healthy", report)
	}

	w = doRequest(t, server, "POST", "/api/v1/owners/acme/probe?kind=smtp", "")
	if err := json.NewDecoder(w.Body).Decode(&report); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if report.Probed != 1 {
		t.Errorf("filtered report probed %d, want 1", report.Probed)
	}
}

func TestDelayEndpoint(t *testing.T) {
	server, _, settings := setupTestServer(t)

	w := doRequest(t, server, "POST", "/api/v1/owners/acme/delay", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp DelayResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.WaitedSeconds != 0 {
		t.Errorf("WaitedSeconds = %f, want 0 with delays off", resp.WaitedSeconds)
	}

	err := settings.SaveRotationSettings(&models.RotationSettings{
		OwnerID:         "acme",
		SMTPEnabled:     true,
		Strategy:        models.StrategyRoundRobin,
		MaxFailures:     3,
		DelayEnabled:    true,
		DelayMinSeconds: 0.01,
		DelayMaxSeconds: 0.01,
	})
	if err != nil {
		t.Fatalf("SaveRotationSettings() error = %v", err)
	}

	w = doRequest(t, server, "POST", "/api/v1/owners/acme/delay", "")
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.WaitedSeconds != 0.01 {
		t.Errorf("WaitedSeconds = %f, want the fixed 0.01", resp.WaitedSeconds)
	}
}
