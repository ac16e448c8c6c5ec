package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/net/proxy"

	"github.com/foxzi/rotor/internal/models"
)

// ProxyProber checks a proxy by fetching one small page through it
// from a known endpoint
type ProxyProber struct {
	timeout  time.Duration
	checkURL string
}

func NewProxyProber(timeout time.Duration, checkURL string) *ProxyProber {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &ProxyProber{timeout: timeout, checkURL: checkURL}
}

func (p *ProxyProber) Probe(ctx context.Context, server *models.Server) Result {
	transport, err := p.transport(server)
	if err != nil {
		return failure(err, FailureConnect, 0, 0)
	}

	client := &http.Client{Transport: transport, Timeout: p.timeout}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.checkURL, nil)
	if err != nil {
		return failure(err, FailureUnknown, 0, 0)
	}

	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return failure(err, FailureConnect, elapsed, 0)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 400 {
		kind := FailureUnknown
		if resp.StatusCode == http.StatusProxyAuthRequired {
			kind = FailureAuth
		}
		return Result{
			Kind:        kind,
			ConnectTime: elapsed,
			Message:     fmt.Sprintf("check request returned %s", resp.Status),
		}
	}

	return Result{Healthy: true, ConnectTime: elapsed}
}

// transport builds an HTTP transport routed through the server:
// CONNECT-style proxying for http/https schemes, a SOCKS5 dialer
// otherwise
func (p *ProxyProber) transport(server *models.Server) (*http.Transport, error) {
	u := server.ProxyURL()

	if u.Scheme == "socks5" {
		dialer, err := proxy.FromURL(u, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("failed to build socks5 dialer: %w", err)
		}
		transport := &http.Transport{}
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.Dial = dialer.Dial
		}
		return transport, nil
	}

	return &http.Transport{Proxy: http.ProxyURL(u)}, nil
}
