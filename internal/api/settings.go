package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/rotor/internal/models"
)

// SettingsPayload is the wire form of owner rotation settings; the health
// check interval travels as seconds
type SettingsPayload struct {
	SMTPEnabled                bool    `json:"smtp_enabled"`
	ProxyEnabled               bool    `json:"proxy_enabled"`
	Strategy                   string  `json:"strategy"`
	MaxFailures                int     `json:"max_failures"`
	HealthCheckIntervalSeconds int64   `json:"health_check_interval_seconds"`
	DelayEnabled               bool    `json:"delay_enabled"`
	DelayMinSeconds            float64 `json:"delay_min_seconds"`
	DelayMaxSeconds            float64 `json:"delay_max_seconds"`
	DelaySeed                  int64   `json:"delay_seed"`
}

// SettingsResponse is the response for GET /owners/{owner}/settings.
// Source tells whether the owner has a stored row or runs on defaults.
type SettingsResponse struct {
	OwnerID  string          `json:"owner_id"`
	Source   string          `json:"source"` // stored or defaults
	Settings SettingsPayload `json:"settings"`
}

// CampaignSettingsRequest is the request body for PUT
// /campaigns/{campaign}/settings. Absent fields inherit the owner value.
type CampaignSettingsRequest struct {
	OwnerID         string   `json:"owner_id"`
	SMTPEnabled     *bool    `json:"smtp_enabled,omitempty"`
	ProxyEnabled    *bool    `json:"proxy_enabled,omitempty"`
	Strategy        *string  `json:"strategy,omitempty"`
	MaxFailures     *int     `json:"max_failures,omitempty"`
	DelayEnabled    *bool    `json:"delay_enabled,omitempty"`
	DelayMinSeconds *float64 `json:"delay_min_seconds,omitempty"`
	DelayMaxSeconds *float64 `json:"delay_max_seconds,omitempty"`
	DelaySeed       *int64   `json:"delay_seed,omitempty"`
}

func settingsPayload(s models.RotationSettings) SettingsPayload {
	return SettingsPayload{
		SMTPEnabled:                s.SMTPEnabled,
		ProxyEnabled:               s.ProxyEnabled,
		Strategy:                   string(s.Strategy),
		MaxFailures:                s.MaxFailures,
		HealthCheckIntervalSeconds: int64(s.HealthCheckInterval / time.Second),
		DelayEnabled:               s.DelayEnabled,
		DelayMinSeconds:            s.DelayMinSeconds,
		DelayMaxSeconds:            s.DelayMaxSeconds,
		DelaySeed:                  s.DelaySeed,
	}
}

func (p SettingsPayload) toSettings(ownerID string) (models.RotationSettings, error) {
	s := models.RotationSettings{
		OwnerID:             ownerID,
		SMTPEnabled:         p.SMTPEnabled,
		ProxyEnabled:        p.ProxyEnabled,
		MaxFailures:         p.MaxFailures,
		HealthCheckInterval: time.Duration(p.HealthCheckIntervalSeconds) * time.Second,
		DelayEnabled:        p.DelayEnabled,
		DelayMinSeconds:     p.DelayMinSeconds,
		DelayMaxSeconds:     p.DelayMaxSeconds,
		DelaySeed:           p.DelaySeed,
	}
	if p.Strategy != "" {
		strategy, err := models.ParseStrategy(p.Strategy)
		if err != nil {
			return s, err
		}
		s.Strategy = strategy
	}
	return s, nil
}

// handleSettingsGet handles GET /api/v1/owners/{owner}/settings
func (s *Server) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")

	stored, err := s.settings.GetRotationSettings(owner)
	if err != nil {
		s.logger.Error("failed to load rotation settings", "owner", owner, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to load settings")
		return
	}

	effective, err := s.manager.SettingsFor(owner)
	if err != nil {
		s.logger.Error("failed to resolve settings", "owner", owner, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to load settings")
		return
	}

	source := "defaults"
	if stored != nil {
		source = "stored"
	}
	s.sendJSON(w, http.StatusOK, SettingsResponse{
		OwnerID:  owner,
		Source:   source,
		Settings: settingsPayload(effective),
	})
}

// handleSettingsPut handles PUT /api/v1/owners/{owner}/settings
func (s *Server) handleSettingsPut(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")

	var req SettingsPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.DelayMinSeconds < 0 || req.DelayMaxSeconds < 0 {
		s.sendError(w, http.StatusBadRequest, "delay bounds must not be negative")
		return
	}

	settings, err := req.toSettings(owner)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.settings.SaveRotationSettings(&settings); err != nil {
		s.logger.Error("failed to save rotation settings", "owner", owner, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to save settings")
		return
	}
	s.logger.Info("rotation settings updated", "owner", owner, "strategy", string(settings.Strategy))

	effective, err := s.manager.SettingsFor(owner)
	if err != nil {
		s.logger.Error("failed to resolve settings", "owner", owner, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to load settings")
		return
	}
	s.sendJSON(w, http.StatusOK, SettingsResponse{
		OwnerID:  owner,
		Source:   "stored",
		Settings: settingsPayload(effective),
	})
}

// handleSettingsDelete handles DELETE /api/v1/owners/{owner}/settings.
// The owner reverts to the configured defaults.
func (s *Server) handleSettingsDelete(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")

	if err := s.settings.DeleteRotationSettings(owner); err != nil {
		s.logger.Error("failed to delete rotation settings", "owner", owner, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to delete settings")
		return
	}
	s.logger.Info("rotation settings reset to defaults", "owner", owner)

	w.WriteHeader(http.StatusNoContent)
}

// handleCampaignSettingsGet handles GET /api/v1/campaigns/{campaign}/settings
func (s *Server) handleCampaignSettingsGet(w http.ResponseWriter, r *http.Request) {
	campaign := chi.URLParam(r, "campaign")

	overrides, err := s.settings.GetCampaignSettings(campaign)
	if err != nil {
		s.logger.Error("failed to load campaign settings", "campaign", campaign, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to load settings")
		return
	}
	if overrides == nil {
		s.sendError(w, http.StatusNotFound, "Campaign has no overrides")
		return
	}

	s.sendJSON(w, http.StatusOK, overrides)
}

// handleCampaignSettingsPut handles PUT /api/v1/campaigns/{campaign}/settings
func (s *Server) handleCampaignSettingsPut(w http.ResponseWriter, r *http.Request) {
	campaign := chi.URLParam(r, "campaign")

	var req CampaignSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.OwnerID == "" {
		s.sendError(w, http.StatusBadRequest, "owner_id is required")
		return
	}

	overrides := &models.CampaignSettings{
		CampaignID:      campaign,
		OwnerID:         req.OwnerID,
		SMTPEnabled:     req.SMTPEnabled,
		ProxyEnabled:    req.ProxyEnabled,
		MaxFailures:     req.MaxFailures,
		DelayEnabled:    req.DelayEnabled,
		DelayMinSeconds: req.DelayMinSeconds,
		DelayMaxSeconds: req.DelayMaxSeconds,
		DelaySeed:       req.DelaySeed,
	}
	if req.Strategy != nil {
		strategy, err := models.ParseStrategy(*req.Strategy)
		if err != nil {
			s.sendError(w, http.StatusBadRequest, err.Error())
			return
		}
		overrides.Strategy = &strategy
	}

	if err := s.settings.SaveCampaignSettings(overrides); err != nil {
		s.logger.Error("failed to save campaign settings", "campaign", campaign, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to save settings")
		return
	}
	s.logger.Info("campaign settings updated", "campaign", campaign, "owner", req.OwnerID)

	s.sendJSON(w, http.StatusOK, overrides)
}

// handleCampaignSettingsDelete handles DELETE /api/v1/campaigns/{campaign}/settings
func (s *Server) handleCampaignSettingsDelete(w http.ResponseWriter, r *http.Request) {
	campaign := chi.URLParam(r, "campaign")

	if err := s.settings.DeleteCampaignSettings(campaign); err != nil {
		s.logger.Error("failed to delete campaign settings", "campaign", campaign, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to delete settings")
		return
	}
	s.logger.Info("campaign settings removed", "campaign", campaign)

	w.WriteHeader(http.StatusNoContent)
}
