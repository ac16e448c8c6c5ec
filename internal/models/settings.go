package models

import "time"

// RotationSettings holds per-owner rotation behavior. One row per owner;
// owners without a row get the configured defaults.
type RotationSettings struct {
	OwnerID             string        `json:"owner_id"`
	SMTPEnabled         bool          `json:"smtp_enabled"`
	ProxyEnabled        bool          `json:"proxy_enabled"`
	Strategy            Strategy      `json:"strategy"`
	MaxFailures         int           `json:"max_failures"`
	HealthCheckInterval time.Duration `json:"health_check_interval"`
	DelayEnabled        bool          `json:"delay_enabled"`
	DelayMinSeconds     float64       `json:"delay_min_seconds"`
	DelayMaxSeconds     float64       `json:"delay_max_seconds"`
	DelaySeed           int64         `json:"delay_seed"` // 0 = time-seeded
	UpdatedAt           time.Time     `json:"updated_at"`
}

// EnabledFor reports whether rotation is on for the given kind
func (s *RotationSettings) EnabledFor(kind Kind) bool {
	if kind == KindProxy {
		return s.ProxyEnabled
	}
	return s.SMTPEnabled
}

// CampaignSettings overrides owner settings for one campaign.
// Nil fields inherit the owner value.
type CampaignSettings struct {
	CampaignID      string    `json:"campaign_id"`
	OwnerID         string    `json:"owner_id"`
	SMTPEnabled     *bool     `json:"smtp_enabled,omitempty"`
	ProxyEnabled    *bool     `json:"proxy_enabled,omitempty"`
	Strategy        *Strategy `json:"strategy,omitempty"`
	MaxFailures     *int      `json:"max_failures,omitempty"`
	DelayEnabled    *bool     `json:"delay_enabled,omitempty"`
	DelayMinSeconds *float64  `json:"delay_min_seconds,omitempty"`
	DelayMaxSeconds *float64  `json:"delay_max_seconds,omitempty"`
	DelaySeed       *int64    `json:"delay_seed,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Merged returns the owner settings with campaign overrides applied
// field by field. The health check interval stays owner-level: probing
// is scheduled per owner, not per campaign.
func (s RotationSettings) Merged(c *CampaignSettings) RotationSettings {
	if c == nil {
		return s
	}
	if c.SMTPEnabled != nil {
		s.SMTPEnabled = *c.SMTPEnabled
	}
	if c.ProxyEnabled != nil {
		s.ProxyEnabled = *c.ProxyEnabled
	}
	if c.Strategy != nil {
		s.Strategy = *c.Strategy
	}
	if c.MaxFailures != nil {
		s.MaxFailures = *c.MaxFailures
	}
	if c.DelayEnabled != nil {
		s.DelayEnabled = *c.DelayEnabled
	}
	if c.DelayMinSeconds != nil {
		s.DelayMinSeconds = *c.DelayMinSeconds
	}
	if c.DelayMaxSeconds != nil {
		s.DelayMaxSeconds = *c.DelayMaxSeconds
	}
	if c.DelaySeed != nil {
		s.DelaySeed = *c.DelaySeed
	}
	return s
}
