package models

import "time"

// ServerStats is one server's slice of an owner stats report
type ServerStats struct {
	ID                  string     `json:"id"`
	Kind                Kind       `json:"kind"`
	Host                string     `json:"host"`
	Port                int        `json:"port"`
	IsActive            bool       `json:"is_active"`
	IsHealthy           bool       `json:"is_healthy"`
	TotalRequests       int64      `json:"total_requests"`
	SuccessfulRequests  int64      `json:"successful_requests"`
	FailedRequests      int64      `json:"failed_requests"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	SuccessRate         float64    `json:"success_rate"`
	AverageResponseMs   float64    `json:"average_response_ms"`
	Score               float64    `json:"score"`
	LastUsed            *time.Time `json:"last_used,omitempty"`
	LastHealthCheck     *time.Time `json:"last_health_check,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
	RecentErrors        []string   `json:"recent_errors,omitempty"`
}

// KindStats aggregates counters for one kind
type KindStats struct {
	Total      int   `json:"total"`
	Active     int   `json:"active"`
	Healthy    int   `json:"healthy"`
	Requests   int64 `json:"requests"`
	Successful int64 `json:"successful"`
	Failed     int64 `json:"failed"`
}

// OwnerStats is the full diagnostic report for one owner. Scores are
// computed for every server, healthy or not, so operators can rank a
// degraded pool.
type OwnerStats struct {
	OwnerID string        `json:"owner_id"`
	SMTP    KindStats     `json:"smtp"`
	Proxy   KindStats     `json:"proxy"`
	Servers []ServerStats `json:"servers"`
}
