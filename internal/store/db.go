package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	*sql.DB
}

func New(path string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &DB{db}, nil
}

func (db *DB) Migrate() error {
	migrations := []string{
		migrationServers,
		migrationRotationSettings,
		migrationCampaignSettings,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

const migrationServers = `
CREATE TABLE IF NOT EXISTS servers (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    host TEXT NOT NULL,
    port INTEGER NOT NULL,
    username TEXT NOT NULL DEFAULT '',
    password TEXT NOT NULL DEFAULT '',
    tls_mode TEXT NOT NULL DEFAULT '',
    scheme TEXT NOT NULL DEFAULT '',
    is_active INTEGER NOT NULL DEFAULT 1,
    is_healthy INTEGER NOT NULL DEFAULT 1,
    total_requests INTEGER NOT NULL DEFAULT 0,
    successful_requests INTEGER NOT NULL DEFAULT 0,
    failed_requests INTEGER NOT NULL DEFAULT 0,
    consecutive_failures INTEGER NOT NULL DEFAULT 0,
    average_response_ms REAL NOT NULL DEFAULT 0,
    last_used TIMESTAMP,
    last_health_check TIMESTAMP,
    unhealthy_since TIMESTAMP,
    last_error TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(owner_id, kind, host, port)
);
CREATE INDEX IF NOT EXISTS idx_servers_owner_kind ON servers(owner_id, kind);
CREATE INDEX IF NOT EXISTS idx_servers_health ON servers(is_active, is_healthy);
`

const migrationRotationSettings = `
CREATE TABLE IF NOT EXISTS rotation_settings (
    owner_id TEXT PRIMARY KEY,
    smtp_enabled INTEGER NOT NULL DEFAULT 1,
    proxy_enabled INTEGER NOT NULL DEFAULT 1,
    strategy TEXT NOT NULL DEFAULT 'round_robin',
    max_failures INTEGER NOT NULL DEFAULT 3,
    health_check_interval_seconds INTEGER NOT NULL DEFAULT 300,
    delay_enabled INTEGER NOT NULL DEFAULT 0,
    delay_min_seconds REAL NOT NULL DEFAULT 0,
    delay_max_seconds REAL NOT NULL DEFAULT 0,
    delay_seed INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

const migrationCampaignSettings = `
CREATE TABLE IF NOT EXISTS campaign_settings (
    campaign_id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    smtp_enabled INTEGER,
    proxy_enabled INTEGER,
    strategy TEXT,
    max_failures INTEGER,
    delay_enabled INTEGER,
    delay_min_seconds REAL,
    delay_max_seconds REAL,
    delay_seed INTEGER,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_campaign_settings_owner ON campaign_settings(owner_id);
`
