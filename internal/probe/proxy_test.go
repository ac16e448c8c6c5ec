package probe

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/foxzi/rotor/internal/models"
)

// proxyServer runs an httptest server acting as a plain HTTP proxy:
// it answers any absolute-URI request itself
func proxyServer(t *testing.T, handler http.HandlerFunc) *models.Server {
	t.Helper()

	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	host, port := hostPort(t, ts.Listener.Addr().String())
	return &models.Server{
		Kind:   models.KindProxy,
		Scheme: "http",
		Host:   host,
		Port:   port,
	}
}

func TestProxyProberSuccess(t *testing.T) {
	server := proxyServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("93.184.216.34"))
	})

	prober := NewProxyProber(5*time.Second, "http://check.invalid/")
	res := prober.Probe(context.Background(), server)

	if !res.Healthy {
		t.Fatalf("Probe() unhealthy: kind=%v message=%q", res.Kind, res.Message)
	}
	if res.ConnectTime <= 0 {
		t.Error("ConnectTime not recorded")
	}
}

func TestProxyProberBadStatus(t *testing.T) {
	server := proxyServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	prober := NewProxyProber(5*time.Second, "http://check.invalid/")
	res := prober.Probe(context.Background(), server)

	if res.Healthy {
		t.Fatal("Probe() healthy on 503")
	}
	if res.Kind != FailureUnknown {
		t.Errorf("Kind = %v, want unknown", res.Kind)
	}
	if res.Message == "" {
		t.Error("expected non-empty message")
	}
}

func TestProxyProberAuthRequired(t *testing.T) {
	server := proxyServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusProxyAuthRequired)
	})

	prober := NewProxyProber(5*time.Second, "http://check.invalid/")
	res := prober.Probe(context.Background(), server)

	if res.Healthy {
		t.Fatal("Probe() healthy on 407")
	}
	if res.Kind != FailureAuth {
		t.Errorf("Kind = %v, want auth", res.Kind)
	}
}

func TestProxyProberConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	host, port := hostPort(t, ln.Addr().String())
	ln.Close()

	prober := NewProxyProber(2*time.Second, "http://check.invalid/")
	res := prober.Probe(context.Background(), &models.Server{
		Kind:   models.KindProxy,
		Scheme: "http",
		Host:   host,
		Port:   port,
	})

	if res.Healthy {
		t.Fatal("Probe() healthy against a closed port")
	}
	if res.Kind != FailureConnect {
		t.Errorf("Kind = %v, want connect", res.Kind)
	}
}

func TestProxyProberTimeout(t *testing.T) {
	server := proxyServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	})

	prober := NewProxyProber(100*time.Millisecond, "http://check.invalid/")
	res := prober.Probe(context.Background(), server)

	if res.Healthy {
		t.Fatal("Probe() healthy against a stalled proxy")
	}
	if res.Kind != FailureTimeout {
		t.Errorf("Kind = %v, want timeout", res.Kind)
	}
}

func TestProxyProberSocksConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	host, port := hostPort(t, ln.Addr().String())
	ln.Close()

	prober := NewProxyProber(2*time.Second, "http://check.invalid/")
	res := prober.Probe(context.Background(), &models.Server{
		Kind:   models.KindProxy,
		Scheme: "socks5",
		Host:   host,
		Port:   port,
	})

	if res.Healthy {
		t.Fatal("Probe() healthy against a closed socks5 port")
	}
	if res.Kind != FailureConnect && res.Kind != FailureTimeout {
		t.Errorf("Kind = %v, want connect or timeout", res.Kind)
	}
}
