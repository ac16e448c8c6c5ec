package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/foxzi/rotor/internal/models"
	"github.com/google/uuid"
)

// maxErrorLen bounds the stored last_error string
const maxErrorLen = 512

const serverColumns = `id, owner_id, kind, host, port, username, password, tls_mode, scheme,
	is_active, is_healthy, total_requests, successful_requests, failed_requests,
	consecutive_failures, average_response_ms, last_used, last_health_check,
	unhealthy_since, last_error, created_at, updated_at`

type ServerRepository struct {
	db *sql.DB
}

func NewServerRepository(db *sql.DB) *ServerRepository {
	return &ServerRepository{db: db}
}

// Create creates a new server record
func (r *ServerRepository) Create(s *models.Server) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt

	_, err := r.db.Exec(`
		INSERT INTO servers (id, owner_id, kind, host, port, username, password, tls_mode, scheme, is_active, is_healthy, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.OwnerID, s.Kind, s.Host, s.Port, s.Username, s.Password, s.TLSMode, s.Scheme,
		s.IsActive, s.IsHealthy, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	return nil
}

// GetByID returns a server by ID
func (r *ServerRepository) GetByID(id string) (*models.Server, error) {
	row := r.db.QueryRow(`SELECT `+serverColumns+` FROM servers WHERE id = ?`, id)
	s, err := scanServer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// List returns servers matching the filter in stable endpoint order
func (r *ServerRepository) List(filter models.ServerFilter) ([]models.Server, error) {
	query := `SELECT ` + serverColumns + ` FROM servers WHERE 1=1`
	args := []any{}

	if filter.OwnerID != "" {
		query += " AND owner_id = ?"
		args = append(args, filter.OwnerID)
	}
	if filter.Kind != "" {
		query += " AND kind = ?"
		args = append(args, filter.Kind)
	}
	if filter.OnlyActive {
		query += " AND is_active = 1"
	}
	if filter.OnlyHealthy {
		query += " AND is_healthy = 1"
	}

	query += " ORDER BY host, port"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	servers := []models.Server{}
	for rows.Next() {
		s, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, *s)
	}

	return servers, nil
}

// Candidates returns the selection pool for one owner and kind:
// active and healthy records in stable endpoint order
func (r *ServerRepository) Candidates(ownerID string, kind models.Kind) ([]models.Server, error) {
	return r.List(models.ServerFilter{
		OwnerID:     ownerID,
		Kind:        kind,
		OnlyActive:  true,
		OnlyHealthy: true,
	})
}

// UpsertEndpoint inserts a record or refreshes the credentials of an
// existing one. Counters, health state and the active flag of an
// existing record are left alone.
func (r *ServerRepository) UpsertEndpoint(s *models.Server) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	now := time.Now()

	_, err := r.db.Exec(`
		INSERT INTO servers (id, owner_id, kind, host, port, username, password, tls_mode, scheme, is_active, is_healthy, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, 1, ?, ?)
		ON CONFLICT(owner_id, kind, host, port) DO UPDATE SET
			username = excluded.username,
			password = excluded.password,
			tls_mode = excluded.tls_mode,
			scheme = excluded.scheme,
			updated_at = excluded.updated_at`,
		s.ID, s.OwnerID, s.Kind, s.Host, s.Port, s.Username, s.Password, s.TLSMode, s.Scheme, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert server: %w", err)
	}
	return nil
}

// SetActive enables or disables a server. Re-enabling clears the
// failure streak so the server rejoins the pool immediately.
func (r *ServerRepository) SetActive(id string, active bool) error {
	if active {
		_, err := r.db.Exec(`
			UPDATE servers SET is_active = 1, is_healthy = 1, consecutive_failures = 0, unhealthy_since = NULL, updated_at = ?
			WHERE id = ?`, time.Now(), id)
		return err
	}
	_, err := r.db.Exec("UPDATE servers SET is_active = 0, updated_at = ? WHERE id = ?", time.Now(), id)
	return err
}

// RecordSuccess applies one successful send as a single atomic row
// update: counters, streak reset, health restore, smoothed response
// time and the last_used stamp. responseMs <= 0 means the caller did
// not measure a response time and the average is left alone.
func (r *ServerRepository) RecordSuccess(id string, responseMs float64) error {
	now := time.Now()
	_, err := r.db.Exec(`
		UPDATE servers SET
			total_requests = total_requests + 1,
			successful_requests = successful_requests + 1,
			consecutive_failures = 0,
			is_healthy = 1,
			unhealthy_since = NULL,
			average_response_ms = CASE
				WHEN ? <= 0 THEN average_response_ms
				WHEN average_response_ms <= 0 THEN ?
				ELSE average_response_ms * 0.8 + ? * 0.2
			END,
			last_used = ?,
			updated_at = ?
		WHERE id = ?`,
		responseMs, responseMs, responseMs, now, now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to record success: %w", err)
	}
	return nil
}

// RecordFailure applies one failed send as a single atomic row update.
// The health flip happens in the same statement once the streak reaches
// maxFailures.
func (r *ServerRepository) RecordFailure(id, errMsg string, maxFailures int) error {
	now := time.Now()
	_, err := r.db.Exec(`
		UPDATE servers SET
			total_requests = total_requests + 1,
			failed_requests = failed_requests + 1,
			consecutive_failures = consecutive_failures + 1,
			is_healthy = CASE WHEN consecutive_failures + 1 >= ? THEN 0 ELSE is_healthy END,
			unhealthy_since = CASE WHEN consecutive_failures + 1 >= ? AND unhealthy_since IS NULL THEN ? ELSE unhealthy_since END,
			last_used = ?,
			last_error = ?,
			updated_at = ?
		WHERE id = ?`,
		maxFailures, maxFailures, now, now, truncateError(errMsg), now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to record failure: %w", err)
	}
	return nil
}

// MarkProbeSuccess records a passed health probe. Request counters are
// not touched; probes are not traffic.
func (r *ServerRepository) MarkProbeSuccess(id string) error {
	now := time.Now()
	_, err := r.db.Exec(`
		UPDATE servers SET
			consecutive_failures = 0,
			is_healthy = 1,
			unhealthy_since = NULL,
			last_health_check = ?,
			updated_at = ?
		WHERE id = ?`,
		now, now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark probe success: %w", err)
	}
	return nil
}

// MarkProbeFailure records a failed health probe: failure counters and
// the streak advance, last_health_check is stamped, and the health flip
// happens at the threshold.
func (r *ServerRepository) MarkProbeFailure(id, errMsg string, maxFailures int) error {
	now := time.Now()
	_, err := r.db.Exec(`
		UPDATE servers SET
			total_requests = total_requests + 1,
			failed_requests = failed_requests + 1,
			consecutive_failures = consecutive_failures + 1,
			is_healthy = CASE WHEN consecutive_failures + 1 >= ? THEN 0 ELSE is_healthy END,
			unhealthy_since = CASE WHEN consecutive_failures + 1 >= ? AND unhealthy_since IS NULL THEN ? ELSE unhealthy_since END,
			last_health_check = ?,
			last_error = ?,
			updated_at = ?
		WHERE id = ?`,
		maxFailures, maxFailures, now, now, truncateError(errMsg), now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark probe failure: %w", err)
	}
	return nil
}

// DeactivateBroken disables servers that have been unhealthy for longer
// than window with at least minFailures consecutive failures. Records
// are never deleted.
func (r *ServerRepository) DeactivateBroken(window time.Duration, minFailures int) (int64, error) {
	now := time.Now()
	res, err := r.db.Exec(`
		UPDATE servers SET is_active = 0, updated_at = ?
		WHERE is_active = 1 AND is_healthy = 0
			AND consecutive_failures >= ?
			AND unhealthy_since IS NOT NULL AND unhealthy_since <= ?`,
		now, minFailures, now.Add(-window),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate broken servers: %w", err)
	}
	return res.RowsAffected()
}

// CountBroken returns how many servers DeactivateBroken would disable
func (r *ServerRepository) CountBroken(window time.Duration, minFailures int) (int, error) {
	var n int
	err := r.db.QueryRow(`
		SELECT COUNT(*) FROM servers
		WHERE is_active = 1 AND is_healthy = 0
			AND consecutive_failures >= ?
			AND unhealthy_since IS NOT NULL AND unhealthy_since <= ?`,
		minFailures, time.Now().Add(-window),
	).Scan(&n)
	return n, err
}

// Owners returns the owners that have at least one active server
func (r *ServerRepository) Owners() ([]string, error) {
	rows, err := r.db.Query("SELECT DISTINCT owner_id FROM servers WHERE is_active = 1 ORDER BY owner_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	owners := []string{}
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, err
		}
		owners = append(owners, owner)
	}

	return owners, nil
}

// AggregateByKind returns per-kind aggregate counters for one owner
func (r *ServerRepository) AggregateByKind(ownerID string) (map[models.Kind]models.KindStats, error) {
	rows, err := r.db.Query(`
		SELECT kind, COUNT(*),
			COALESCE(SUM(is_active), 0),
			COALESCE(SUM(CASE WHEN is_active = 1 AND is_healthy = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(total_requests), 0),
			COALESCE(SUM(successful_requests), 0),
			COALESCE(SUM(failed_requests), 0)
		FROM servers WHERE owner_id = ? GROUP BY kind`, ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[models.Kind]models.KindStats{}
	for rows.Next() {
		var kind models.Kind
		var ks models.KindStats
		err := rows.Scan(&kind, &ks.Total, &ks.Active, &ks.Healthy, &ks.Requests, &ks.Successful, &ks.Failed)
		if err != nil {
			return nil, err
		}
		stats[kind] = ks
	}

	return stats, nil
}

// PoolCount is one owner+kind row of pool-size counts.
type PoolCount struct {
	OwnerID string
	Kind    models.Kind
	Total   int
	Active  int
	Healthy int
}

// PoolCounts returns pool-size counts grouped by owner and kind, across all
// owners
func (r *ServerRepository) PoolCounts() ([]PoolCount, error) {
	rows, err := r.db.Query(`
		SELECT owner_id, kind, COUNT(*),
			COALESCE(SUM(is_active), 0),
			COALESCE(SUM(CASE WHEN is_active = 1 AND is_healthy = 1 THEN 1 ELSE 0 END), 0)
		FROM servers GROUP BY owner_id, kind`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := []PoolCount{}
	for rows.Next() {
		var pc PoolCount
		if err := rows.Scan(&pc.OwnerID, &pc.Kind, &pc.Total, &pc.Active, &pc.Healthy); err != nil {
			return nil, err
		}
		counts = append(counts, pc)
	}

	return counts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanServer(row rowScanner) (*models.Server, error) {
	s := &models.Server{}
	var lastUsed, lastCheck, unhealthySince sql.NullTime
	err := row.Scan(
		&s.ID, &s.OwnerID, &s.Kind, &s.Host, &s.Port, &s.Username, &s.Password,
		&s.TLSMode, &s.Scheme, &s.IsActive, &s.IsHealthy,
		&s.TotalRequests, &s.SuccessfulRequests, &s.FailedRequests,
		&s.ConsecutiveFailures, &s.AverageResponseMs,
		&lastUsed, &lastCheck, &unhealthySince, &s.LastError,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.LastUsed = nullTimePtr(lastUsed)
	s.LastHealthCheck = nullTimePtr(lastCheck)
	s.UnhealthySince = nullTimePtr(unhealthySince)
	return s, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}

func truncateError(msg string) string {
	if len(msg) > maxErrorLen {
		return msg[:maxErrorLen]
	}
	return msg
}
