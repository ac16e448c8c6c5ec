package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/foxzi/rotor/internal/models"
)

func TestOwnerSettingsLifecycle(t *testing.T) {
	server, _, _ := setupTestServer(t)

	// Unstored owners run on defaults
	w := doRequest(t, server, "GET", "/api/v1/owners/acme/settings", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp SettingsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Source != "defaults" {
		t.Errorf("Source = %q, want defaults", resp.Source)
	}
	if resp.Settings.Strategy != string(models.StrategyRoundRobin) {
		t.Errorf("Strategy = %q, want the default round_robin", resp.Settings.Strategy)
	}

	body := `{
		"smtp_enabled": true,
		"proxy_enabled": true,
		"strategy": "least_used",
		"max_failures": 5,
		"health_check_interval_seconds": 600,
		"delay_enabled": true,
		"delay_min_seconds": 0.5,
		"delay_max_seconds": 2
	}`
	w = doRequest(t, server, "PUT", "/api/v1/owners/acme/settings", body)
	if w.Code != http.StatusOK {
		t.Fatalf("PUT Status = %d, want %d. Body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Source != "stored" {
		t.Errorf("Source = %q, want stored after PUT", resp.Source)
	}
	if resp.Settings.Strategy != string(models.StrategyLeastUsed) || resp.Settings.MaxFailures != 5 {
		t.Errorf("settings = %+v, want the saved values", resp.Settings)
	}
	if resp.Settings.HealthCheckIntervalSeconds != 600 {
		t.Errorf("HealthCheckIntervalSeconds = %d, want 600", resp.Settings.HealthCheckIntervalSeconds)
	}

	// DELETE reverts to defaults
	w = doRequest(t, server, "DELETE", "/api/v1/owners/acme/settings", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("DELETE Status = %d, want %d", w.Code, http.StatusNoContent)
	}
	w = doRequest(t, server, "GET", "/api/v1/owners/acme/settings", "")
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Source != "defaults" || resp.Settings.Strategy != string(models.StrategyRoundRobin) {
		t.Errorf("after delete: %+v, want defaults again", resp)
	}
}

func TestOwnerSettingsValidation(t *testing.T) {
	server, _, _ := setupTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"unknown strategy", `{"strategy": "fastest"}`},
		{"negative delay", `{"delay_min_seconds": -1}`},
		{"invalid json", `{invalid}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, server, "PUT", "/api/v1/owners/acme/settings", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("Status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestCampaignSettingsLifecycle(t *testing.T) {
	server, _, _ := setupTestServer(t)

	w := doRequest(t, server, "GET", "/api/v1/campaigns/blast-42/settings", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("Status = %d, want %d for a campaign without overrides", w.Code, http.StatusNotFound)
	}

	// owner_id is required
	w = doRequest(t, server, "PUT", "/api/v1/campaigns/blast-42/settings", `{"strategy": "random"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Status = %d, want %d without owner_id", w.Code, http.StatusBadRequest)
	}

	w = doRequest(t, server, "PUT", "/api/v1/campaigns/blast-42/settings",
		`{"owner_id": "acme", "strategy": "random", "delay_enabled": false}`)
	if w.Code != http.StatusOK {
		t.Fatalf("PUT Status = %d, want %d. Body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var overrides models.CampaignSettings
	w = doRequest(t, server, "GET", "/api/v1/campaigns/blast-42/settings", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET Status = %d, want %d", w.Code, http.StatusOK)
	}
	if err := json.NewDecoder(w.Body).Decode(&overrides); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if overrides.Strategy == nil || *overrides.Strategy != models.StrategyRandom {
		t.Errorf("Strategy = %v, want random", overrides.Strategy)
	}
	if overrides.DelayEnabled == nil || *overrides.DelayEnabled {
		t.Errorf("DelayEnabled = %v, want explicit false", overrides.DelayEnabled)
	}
	if overrides.MaxFailures != nil {
		t.Errorf("MaxFailures = %v, want nil to inherit the owner value", overrides.MaxFailures)
	}

	w = doRequest(t, server, "PUT", "/api/v1/campaigns/blast-42/settings",
		`{"owner_id": "acme", "strategy": "warp"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want %d for an unknown strategy", w.Code, http.StatusBadRequest)
	}

	w = doRequest(t, server, "DELETE", "/api/v1/campaigns/blast-42/settings", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("DELETE Status = %d, want %d", w.Code, http.StatusNoContent)
	}
	w = doRequest(t, server, "GET", "/api/v1/campaigns/blast-42/settings", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Status = %d, want %d after delete", w.Code, http.StatusNotFound)
	}
}
