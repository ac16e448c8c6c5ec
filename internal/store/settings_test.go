package store

import (
	"testing"
	"time"

	"github.com/foxzi/rotor/internal/models"
)

func TestSettingsRepositoryRotationRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSettingsRepository(db.DB)

	got, err := repo.GetRotationSettings("acme")
	if err != nil {
		t.Fatalf("GetRotationSettings() error = %v", err)
	}
	if got != nil {
		t.Errorf("GetRotationSettings() = %v, want nil for unknown owner", got)
	}

	s := &models.RotationSettings{
		OwnerID:             "acme",
		SMTPEnabled:         true,
		ProxyEnabled:        false,
		Strategy:            models.StrategyLeastUsed,
		MaxFailures:         5,
		HealthCheckInterval: 10 * time.Minute,
		DelayEnabled:        true,
		DelayMinSeconds:     0.5,
		DelayMaxSeconds:     2.5,
		DelaySeed:           7,
	}
	if err := repo.SaveRotationSettings(s); err != nil {
		t.Fatalf("SaveRotationSettings() error = %v", err)
	}

	got, err = repo.GetRotationSettings("acme")
	if err != nil {
		t.Fatalf("GetRotationSettings() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetRotationSettings() = nil after save")
	}
	if got.Strategy != models.StrategyLeastUsed {
		t.Errorf("Strategy = %v, want least_used", got.Strategy)
	}
	if got.ProxyEnabled {
		t.Error("ProxyEnabled = true, want false")
	}
	if got.MaxFailures != 5 {
		t.Errorf("MaxFailures = %v, want 5", got.MaxFailures)
	}
	if got.HealthCheckInterval != 10*time.Minute {
		t.Errorf("HealthCheckInterval = %v, want 10m", got.HealthCheckInterval)
	}
	if !got.DelayEnabled || got.DelayMinSeconds != 0.5 || got.DelayMaxSeconds != 2.5 {
		t.Errorf("delay = %v/%v/%v, want true/0.5/2.5", got.DelayEnabled, got.DelayMinSeconds, got.DelayMaxSeconds)
	}
	if got.DelaySeed != 7 {
		t.Errorf("DelaySeed = %v, want 7", got.DelaySeed)
	}

	// Saving again replaces the row
	s.Strategy = models.StrategyRandom
	s.MaxFailures = 3
	if err := repo.SaveRotationSettings(s); err != nil {
		t.Fatalf("SaveRotationSettings() error = %v", err)
	}
	got, _ = repo.GetRotationSettings("acme")
	if got.Strategy != models.StrategyRandom || got.MaxFailures != 3 {
		t.Errorf("after update strategy/max = %v/%v, want random/3", got.Strategy, got.MaxFailures)
	}
}

func TestSettingsRepositoryCampaignOverrides(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSettingsRepository(db.DB)

	got, err := repo.GetCampaignSettings("camp-1")
	if err != nil {
		t.Fatalf("GetCampaignSettings() error = %v", err)
	}
	if got != nil {
		t.Errorf("GetCampaignSettings() = %v, want nil for unknown campaign", got)
	}

	strategy := models.StrategyBestPerformance
	delayEnabled := true
	delayMax := 3.0
	c := &models.CampaignSettings{
		CampaignID:      "camp-1",
		OwnerID:         "acme",
		Strategy:        &strategy,
		DelayEnabled:    &delayEnabled,
		DelayMaxSeconds: &delayMax,
	}
	if err := repo.SaveCampaignSettings(c); err != nil {
		t.Fatalf("SaveCampaignSettings() error = %v", err)
	}

	got, err = repo.GetCampaignSettings("camp-1")
	if err != nil {
		t.Fatalf("GetCampaignSettings() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetCampaignSettings() = nil after save")
	}
	if got.Strategy == nil || *got.Strategy != models.StrategyBestPerformance {
		t.Errorf("Strategy = %v, want best_performance", got.Strategy)
	}
	if got.DelayEnabled == nil || !*got.DelayEnabled {
		t.Error("DelayEnabled override lost")
	}
	if got.DelayMaxSeconds == nil || *got.DelayMaxSeconds != 3.0 {
		t.Errorf("DelayMaxSeconds = %v, want 3.0", got.DelayMaxSeconds)
	}

	// Unset fields stay nil and inherit the owner value on merge
	if got.SMTPEnabled != nil || got.ProxyEnabled != nil || got.MaxFailures != nil {
		t.Error("unset overrides should come back nil")
	}
	if got.DelayMinSeconds != nil || got.DelaySeed != nil {
		t.Error("unset delay overrides should come back nil")
	}

	owner := models.RotationSettings{
		OwnerID:         "acme",
		SMTPEnabled:     true,
		ProxyEnabled:    true,
		Strategy:        models.StrategyRoundRobin,
		MaxFailures:     3,
		DelayMinSeconds: 1,
		DelayMaxSeconds: 2,
	}
	merged := owner.Merged(got)
	if merged.Strategy != models.StrategyBestPerformance {
		t.Errorf("merged Strategy = %v, want campaign override", merged.Strategy)
	}
	if merged.MaxFailures != 3 {
		t.Errorf("merged MaxFailures = %v, want owner value 3", merged.MaxFailures)
	}
	if !merged.DelayEnabled || merged.DelayMaxSeconds != 3.0 || merged.DelayMinSeconds != 1 {
		t.Errorf("merged delay = %v/%v/%v, want true/1/3", merged.DelayEnabled, merged.DelayMinSeconds, merged.DelayMaxSeconds)
	}
}

func TestSettingsRepositoryDelete(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSettingsRepository(db.DB)

	s := &models.RotationSettings{
		OwnerID:     "acme",
		SMTPEnabled: true,
		Strategy:    models.StrategyLeastUsed,
		MaxFailures: 5,
	}
	if err := repo.SaveRotationSettings(s); err != nil {
		t.Fatalf("SaveRotationSettings() error = %v", err)
	}
	if err := repo.DeleteRotationSettings("acme"); err != nil {
		t.Fatalf("DeleteRotationSettings() error = %v", err)
	}
	got, err := repo.GetRotationSettings("acme")
	if err != nil {
		t.Fatalf("GetRotationSettings() error = %v", err)
	}
	if got != nil {
		t.Errorf("GetRotationSettings() = %v, want nil after delete", got)
	}

	strategy := models.StrategyRandom
	c := &models.CampaignSettings{
		CampaignID: "camp-1",
		OwnerID:    "acme",
		Strategy:   &strategy,
	}
	if err := repo.SaveCampaignSettings(c); err != nil {
		t.Fatalf("SaveCampaignSettings() error = %v", err)
	}
	if err := repo.DeleteCampaignSettings("camp-1"); err != nil {
		t.Fatalf("DeleteCampaignSettings() error = %v", err)
	}
	gotC, err := repo.GetCampaignSettings("camp-1")
	if err != nil {
		t.Fatalf("GetCampaignSettings() error = %v", err)
	}
	if gotC != nil {
		t.Errorf("GetCampaignSettings() = %v, want nil after delete", gotC)
	}

	// Deleting rows that never existed is a no-op
	if err := repo.DeleteRotationSettings("ghost"); err != nil {
		t.Errorf("DeleteRotationSettings(missing) error = %v", err)
	}
	if err := repo.DeleteCampaignSettings("ghost"); err != nil {
		t.Errorf("DeleteCampaignSettings(missing) error = %v", err)
	}
}
