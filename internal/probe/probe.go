package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/foxzi/rotor/internal/models"
)

// FailureKind categorizes why a probe failed
type FailureKind string

const (
	FailureAuth       FailureKind = "auth"
	FailureConnect    FailureKind = "connect"
	FailureDisconnect FailureKind = "disconnect"
	FailureTimeout    FailureKind = "timeout"
	FailureUnknown    FailureKind = "unknown"
)

// ParseFailureKind validates a failure category name coming from an API
// request; empty means unknown.
func ParseFailureKind(s string) (FailureKind, error) {
	switch FailureKind(s) {
	case "":
		return FailureUnknown, nil
	case FailureAuth, FailureConnect, FailureDisconnect, FailureTimeout, FailureUnknown:
		return FailureKind(s), nil
	default:
		return "", fmt.Errorf("unknown failure kind %q", s)
	}
}

// Result is the outcome of one probe. ConnectTime covers dialing,
// greeting and TLS negotiation; AuthTime covers authentication only.
type Result struct {
	Healthy     bool          `json:"healthy"`
	Kind        FailureKind   `json:"kind,omitempty"` // set when unhealthy
	ConnectTime time.Duration `json:"connect_time"`
	AuthTime    time.Duration `json:"auth_time"`
	Message     string        `json:"message,omitempty"`
}

// Prober checks one server endpoint
type Prober interface {
	Probe(ctx context.Context, server *models.Server) Result
}

// categorize maps an error to a failure kind. Timeouts take precedence
// over the phase default.
func categorize(err error, phase FailureKind) FailureKind {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	return phase
}

func failure(err error, phase FailureKind, connectTime, authTime time.Duration) Result {
	return Result{
		Kind:        categorize(err, phase),
		ConnectTime: connectTime,
		AuthTime:    authTime,
		Message:     err.Error(),
	}
}
