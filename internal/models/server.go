package models

import (
	"fmt"
	"net/url"
	"time"
)

// Kind identifies which of the two endpoint types a record describes.
type Kind string

const (
	KindSMTP  Kind = "smtp"
	KindProxy Kind = "proxy"
)

// ParseKind validates a kind name coming from config or an API path.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindSMTP, KindProxy:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown server kind %q", s)
	}
}

// TLSMode controls how a relay connection is encrypted
type TLSMode string

const (
	TLSNone     TLSMode = "none"
	TLSStartTLS TLSMode = "starttls"
	TLSImplicit TLSMode = "tls"
)

// ParseTLSMode validates a TLS mode name; empty means none
func ParseTLSMode(s string) (TLSMode, error) {
	switch TLSMode(s) {
	case "":
		return TLSNone, nil
	case TLSNone, TLSStartTLS, TLSImplicit:
		return TLSMode(s), nil
	default:
		return "", fmt.Errorf("unknown tls mode %q", s)
	}
}

// Server represents one relay or proxy endpoint plus its rolling
// health and usage counters
type Server struct {
	ID                  string     `json:"id"`
	OwnerID             string     `json:"owner_id"`
	Kind                Kind       `json:"kind"`
	Host                string     `json:"host"`
	Port                int        `json:"port"`
	Username            string     `json:"username,omitempty"`
	Password            string     `json:"-"` // never expose
	TLSMode             TLSMode    `json:"tls_mode,omitempty"` // smtp only: none, starttls, tls
	Scheme              string     `json:"scheme,omitempty"`   // proxy only: http, https, socks5
	IsActive            bool       `json:"is_active"`
	IsHealthy           bool       `json:"is_healthy"`
	TotalRequests       int64      `json:"total_requests"`
	SuccessfulRequests  int64      `json:"successful_requests"`
	FailedRequests      int64      `json:"failed_requests"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	AverageResponseMs   float64    `json:"average_response_ms"`
	LastUsed            *time.Time `json:"last_used,omitempty"`
	LastHealthCheck     *time.Time `json:"last_health_check,omitempty"`
	UnhealthySince      *time.Time `json:"unhealthy_since,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Addr returns the host:port endpoint address
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// HasAuth reports whether credentials are configured
func (s *Server) HasAuth() bool {
	return s.Username != ""
}

// Selectable reports whether the server may participate in rotation
func (s *Server) Selectable() bool {
	return s.IsActive && s.IsHealthy
}

// SuccessRate returns successful/total; 0 when the server has no history.
// Callers that need a neutral prior for unused servers check TotalRequests
// themselves.
func (s *Server) SuccessRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.SuccessfulRequests) / float64(s.TotalRequests)
}

// ProxyURL builds the scheme://[user:pass@]host:port URL for proxy dialing
func (s *Server) ProxyURL() *url.URL {
	u := &url.URL{
		Scheme: s.Scheme,
		Host:   s.Addr(),
	}
	if u.Scheme == "" {
		u.Scheme = "http"
	}
	if s.HasAuth() {
		u.User = url.UserPassword(s.Username, s.Password)
	}
	return u
}

// ServerFilter for listing servers
type ServerFilter struct {
	OwnerID     string
	Kind        Kind
	OnlyActive  bool
	OnlyHealthy bool
}
