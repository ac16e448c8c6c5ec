package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/foxzi/rotor/internal/models"
)

type SettingsRepository struct {
	db *sql.DB
}

func NewSettingsRepository(db *sql.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// GetRotationSettings returns the stored settings for an owner, or
// (nil, nil) when the owner has none and defaults apply
func (r *SettingsRepository) GetRotationSettings(ownerID string) (*models.RotationSettings, error) {
	s := &models.RotationSettings{}
	var intervalSeconds int64
	err := r.db.QueryRow(`
		SELECT owner_id, smtp_enabled, proxy_enabled, strategy, max_failures,
			health_check_interval_seconds, delay_enabled, delay_min_seconds,
			delay_max_seconds, delay_seed, updated_at
		FROM rotation_settings WHERE owner_id = ?`, ownerID,
	).Scan(&s.OwnerID, &s.SMTPEnabled, &s.ProxyEnabled, &s.Strategy, &s.MaxFailures,
		&intervalSeconds, &s.DelayEnabled, &s.DelayMinSeconds,
		&s.DelayMaxSeconds, &s.DelaySeed, &s.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.HealthCheckInterval = time.Duration(intervalSeconds) * time.Second
	return s, nil
}

// SaveRotationSettings inserts or replaces the settings row for an owner
func (r *SettingsRepository) SaveRotationSettings(s *models.RotationSettings) error {
	s.UpdatedAt = time.Now()
	_, err := r.db.Exec(`
		INSERT INTO rotation_settings (owner_id, smtp_enabled, proxy_enabled, strategy, max_failures,
			health_check_interval_seconds, delay_enabled, delay_min_seconds, delay_max_seconds, delay_seed, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner_id) DO UPDATE SET
			smtp_enabled = excluded.smtp_enabled,
			proxy_enabled = excluded.proxy_enabled,
			strategy = excluded.strategy,
			max_failures = excluded.max_failures,
			health_check_interval_seconds = excluded.health_check_interval_seconds,
			delay_enabled = excluded.delay_enabled,
			delay_min_seconds = excluded.delay_min_seconds,
			delay_max_seconds = excluded.delay_max_seconds,
			delay_seed = excluded.delay_seed,
			updated_at = excluded.updated_at`,
		s.OwnerID, s.SMTPEnabled, s.ProxyEnabled, s.Strategy, s.MaxFailures,
		int64(s.HealthCheckInterval/time.Second), s.DelayEnabled, s.DelayMinSeconds,
		s.DelayMaxSeconds, s.DelaySeed, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save rotation settings: %w", err)
	}
	return nil
}

// GetCampaignSettings returns the override row for a campaign, or
// (nil, nil) when the campaign has none
func (r *SettingsRepository) GetCampaignSettings(campaignID string) (*models.CampaignSettings, error) {
	c := &models.CampaignSettings{}
	var (
		smtpEnabled, proxyEnabled, delayEnabled sql.NullBool
		strategy                                sql.NullString
		maxFailures, delaySeed                  sql.NullInt64
		delayMin, delayMax                      sql.NullFloat64
	)
	err := r.db.QueryRow(`
		SELECT campaign_id, owner_id, smtp_enabled, proxy_enabled, strategy, max_failures,
			delay_enabled, delay_min_seconds, delay_max_seconds, delay_seed, updated_at
		FROM campaign_settings WHERE campaign_id = ?`, campaignID,
	).Scan(&c.CampaignID, &c.OwnerID, &smtpEnabled, &proxyEnabled, &strategy, &maxFailures,
		&delayEnabled, &delayMin, &delayMax, &delaySeed, &c.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if smtpEnabled.Valid {
		c.SMTPEnabled = &smtpEnabled.Bool
	}
	if proxyEnabled.Valid {
		c.ProxyEnabled = &proxyEnabled.Bool
	}
	if strategy.Valid {
		st := models.Strategy(strategy.String)
		c.Strategy = &st
	}
	if maxFailures.Valid {
		mf := int(maxFailures.Int64)
		c.MaxFailures = &mf
	}
	if delayEnabled.Valid {
		c.DelayEnabled = &delayEnabled.Bool
	}
	if delayMin.Valid {
		c.DelayMinSeconds = &delayMin.Float64
	}
	if delayMax.Valid {
		c.DelayMaxSeconds = &delayMax.Float64
	}
	if delaySeed.Valid {
		c.DelaySeed = &delaySeed.Int64
	}
	return c, nil
}

// SaveCampaignSettings inserts or replaces the override row for a
// campaign. Nil fields store as NULL and inherit the owner value.
func (r *SettingsRepository) SaveCampaignSettings(c *models.CampaignSettings) error {
	c.UpdatedAt = time.Now()
	_, err := r.db.Exec(`
		INSERT INTO campaign_settings (campaign_id, owner_id, smtp_enabled, proxy_enabled, strategy, max_failures,
			delay_enabled, delay_min_seconds, delay_max_seconds, delay_seed, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(campaign_id) DO UPDATE SET
			owner_id = excluded.owner_id,
			smtp_enabled = excluded.smtp_enabled,
			proxy_enabled = excluded.proxy_enabled,
			strategy = excluded.strategy,
			max_failures = excluded.max_failures,
			delay_enabled = excluded.delay_enabled,
			delay_min_seconds = excluded.delay_min_seconds,
			delay_max_seconds = excluded.delay_max_seconds,
			delay_seed = excluded.delay_seed,
			updated_at = excluded.updated_at`,
		c.CampaignID, c.OwnerID, c.SMTPEnabled, c.ProxyEnabled, c.Strategy, c.MaxFailures,
		c.DelayEnabled, c.DelayMinSeconds, c.DelayMaxSeconds, c.DelaySeed, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save campaign settings: %w", err)
	}
	return nil
}

// DeleteRotationSettings removes the owner's settings row; the owner
// falls back to the configured defaults. Deleting a missing row is not
// an error.
func (r *SettingsRepository) DeleteRotationSettings(ownerID string) error {
	if _, err := r.db.Exec(`DELETE FROM rotation_settings WHERE owner_id = ?`, ownerID); err != nil {
		return fmt.Errorf("failed to delete rotation settings: %w", err)
	}
	return nil
}

// DeleteCampaignSettings removes a campaign's override row
func (r *SettingsRepository) DeleteCampaignSettings(campaignID string) error {
	if _, err := r.db.Exec(`DELETE FROM campaign_settings WHERE campaign_id = ?`, campaignID); err != nil {
		return fmt.Errorf("failed to delete campaign settings: %w", err)
	}
	return nil
}
