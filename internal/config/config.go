package config

import (
	"fmt"
	"os"
	"time"

	"github.com/foxzi/rotor/internal/models"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Database DatabaseConfig `yaml:"database"`
	State    StateConfig    `yaml:"state"`
	API      APIConfig      `yaml:"api"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Probe    ProbeConfig    `yaml:"probe"`
	Worker   WorkerConfig   `yaml:"worker"`
	Rotation RotationConfig `yaml:"rotation"`
	Servers  []SeedServer   `yaml:"servers"` // synced into the store on startup
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// DatabaseConfig contains persistent store settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// StateConfig contains shared fast state settings
type StateConfig struct {
	Path      string        `yaml:"path"`
	CursorTTL time.Duration `yaml:"cursor_ttl"` // rotation cursor lifetime (default: 1h)
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	ListenAddr   string        `yaml:"listen_addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // HTTP read timeout (default: 30s)
	WriteTimeout time.Duration `yaml:"write_timeout"` // HTTP write timeout (default: 30s)
	IdleTimeout  time.Duration `yaml:"idle_timeout"`  // HTTP idle timeout (default: 60s)
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled    bool     `yaml:"enabled"`
	ListenAddr string   `yaml:"listen_addr"` // Default: :9090
	Path       string   `yaml:"path"`        // Default: /metrics
	AllowedIPs []string `yaml:"allowed_ips"` // IPs/CIDRs allowed to scrape; empty allows all
}

// ProbeConfig contains health probe settings
type ProbeConfig struct {
	Timeout  time.Duration `yaml:"timeout"`   // per-probe connection timeout (default: 15s)
	CheckURL string        `yaml:"check_url"` // endpoint fetched through proxies
	HELOName string        `yaml:"helo_name"` // EHLO hostname for relay probes
}

// WorkerConfig contains background loop settings
type WorkerConfig struct {
	Enabled            bool          `yaml:"enabled"`
	ProbeInterval      time.Duration `yaml:"probe_interval"`       // base tick; per-owner intervals gate actual probing
	CleanupInterval    time.Duration `yaml:"cleanup_interval"`     // how often the deactivation sweep runs
	CleanupWindow      time.Duration `yaml:"cleanup_window"`       // unhealthy longer than this gets deactivated
	CleanupMinFailures int           `yaml:"cleanup_min_failures"` // and with at least this many consecutive failures
}

// RotationConfig contains the rotation defaults applied to owners
// without stored settings
type RotationConfig struct {
	SMTPEnabled         bool          `yaml:"smtp_enabled"`
	ProxyEnabled        bool          `yaml:"proxy_enabled"`
	Strategy            string        `yaml:"strategy"`
	MaxFailures         int           `yaml:"max_failures"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	Delay               DelayConfig   `yaml:"delay"`
}

// DelayConfig contains delivery pacing settings
type DelayConfig struct {
	Enabled    bool    `yaml:"enabled"`
	MinSeconds float64 `yaml:"min_seconds"`
	MaxSeconds float64 `yaml:"max_seconds"`
	Seed       int64   `yaml:"seed"` // 0 = time-seeded
}

// SeedServer declares one server record to upsert at startup.
// Counters and the active flag of an existing record are left alone.
type SeedServer struct {
	Owner    string `yaml:"owner"`
	Kind     string `yaml:"kind"` // smtp, proxy
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	TLS      string `yaml:"tls"`    // smtp: none, starttls, tls
	Scheme   string `yaml:"scheme"` // proxy: http, https, socks5
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Database.Path == "" {
		c.Database.Path = "/var/lib/rotor/rotor.db"
	}

	if c.State.Path == "" {
		c.State.Path = "/var/lib/rotor/state.db"
	}
	if c.State.CursorTTL == 0 {
		c.State.CursorTTL = time.Hour
	}

	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 30 * time.Second
	}
	if c.API.WriteTimeout == 0 {
		c.API.WriteTimeout = 30 * time.Second
	}
	if c.API.IdleTimeout == 0 {
		c.API.IdleTimeout = 60 * time.Second
	}

	// Metrics defaults
	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	// Probe defaults
	if c.Probe.Timeout == 0 {
		c.Probe.Timeout = 15 * time.Second
	}
	if c.Probe.CheckURL == "" {
		c.Probe.CheckURL = "https://api.ipify.org"
	}
	if c.Probe.HELOName == "" {
		hostname, _ := os.Hostname()
		if hostname == "" {
			hostname = "rotor.local"
		}
		c.Probe.HELOName = hostname
	}

	// Worker defaults; enabled unless the section says otherwise
	if !c.Worker.Enabled && c.Worker.ProbeInterval == 0 && c.Worker.CleanupInterval == 0 {
		c.Worker.Enabled = true
	}
	if c.Worker.ProbeInterval == 0 {
		c.Worker.ProbeInterval = time.Minute
	}
	if c.Worker.CleanupInterval == 0 {
		c.Worker.CleanupInterval = time.Hour
	}
	if c.Worker.CleanupWindow == 0 {
		c.Worker.CleanupWindow = 24 * time.Hour
	}
	if c.Worker.CleanupMinFailures == 0 {
		c.Worker.CleanupMinFailures = 10
	}

	// Rotation defaults; both kinds rotate unless the section says otherwise
	if !c.Rotation.SMTPEnabled && !c.Rotation.ProxyEnabled && c.Rotation.Strategy == "" {
		c.Rotation.SMTPEnabled = true
		c.Rotation.ProxyEnabled = true
	}
	if c.Rotation.Strategy == "" {
		c.Rotation.Strategy = string(models.StrategyRoundRobin)
	}
	if c.Rotation.MaxFailures == 0 {
		c.Rotation.MaxFailures = 3
	}
	if c.Rotation.HealthCheckInterval == 0 {
		c.Rotation.HealthCheckInterval = 5 * time.Minute
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	if _, err := models.ParseStrategy(c.Rotation.Strategy); err != nil {
		return fmt.Errorf("invalid rotation.strategy: %w", err)
	}
	if c.Rotation.MaxFailures < 1 {
		return fmt.Errorf("rotation.max_failures must be at least 1")
	}
	if err := validateDelay(c.Rotation.Delay); err != nil {
		return err
	}

	if c.State.CursorTTL < 0 {
		return fmt.Errorf("state.cursor_ttl must not be negative")
	}
	if c.Probe.Timeout <= 0 {
		return fmt.Errorf("probe.timeout must be positive")
	}
	if c.Probe.CheckURL == "" {
		return fmt.Errorf("probe.check_url is required")
	}

	for i, s := range c.Servers {
		if err := validateSeedServer(s); err != nil {
			return fmt.Errorf("servers[%d]: %w", i, err)
		}
	}

	return nil
}

// DefaultSettings converts the rotation section into the settings
// applied to owners without stored overrides
func (r RotationConfig) DefaultSettings() (models.RotationSettings, error) {
	strategy, err := models.ParseStrategy(r.Strategy)
	if err != nil {
		return models.RotationSettings{}, fmt.Errorf("invalid rotation.strategy: %w", err)
	}
	return models.RotationSettings{
		SMTPEnabled:         r.SMTPEnabled,
		ProxyEnabled:        r.ProxyEnabled,
		Strategy:            strategy,
		MaxFailures:         r.MaxFailures,
		HealthCheckInterval: r.HealthCheckInterval,
		DelayEnabled:        r.Delay.Enabled,
		DelayMinSeconds:     r.Delay.MinSeconds,
		DelayMaxSeconds:     r.Delay.MaxSeconds,
		DelaySeed:           r.Delay.Seed,
	}, nil
}

func validateDelay(d DelayConfig) error {
	if d.MinSeconds < 0 || d.MaxSeconds < 0 {
		return fmt.Errorf("rotation.delay min_seconds and max_seconds must not be negative")
	}
	return nil
}

func validateSeedServer(s SeedServer) error {
	if s.Owner == "" {
		return fmt.Errorf("owner is required")
	}
	if s.Host == "" {
		return fmt.Errorf("host is required")
	}
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port %d is out of range", s.Port)
	}

	kind, err := models.ParseKind(s.Kind)
	if err != nil {
		return err
	}

	switch kind {
	case models.KindSMTP:
		if _, err := models.ParseTLSMode(s.TLS); err != nil {
			return err
		}
	case models.KindProxy:
		validSchemes := map[string]bool{"": true, "http": true, "https": true, "socks5": true}
		if !validSchemes[s.Scheme] {
			return fmt.Errorf("unknown proxy scheme %q", s.Scheme)
		}
	}

	return nil
}
