package probe

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/foxzi/rotor/internal/models"
)

// SMTPProber checks a relay by connecting, negotiating TLS when
// configured, authenticating when credentials are present and closing
// cleanly. No message is submitted.
type SMTPProber struct {
	timeout  time.Duration
	heloName string
}

func NewSMTPProber(timeout time.Duration, heloName string) *SMTPProber {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if heloName == "" {
		heloName = "localhost"
	}
	return &SMTPProber{timeout: timeout, heloName: heloName}
}

func (p *SMTPProber) Probe(ctx context.Context, server *models.Server) Result {
	start := time.Now()

	client, err := p.connect(ctx, server)
	connectTime := time.Since(start)
	if err != nil {
		return failure(err, FailureConnect, connectTime, 0)
	}
	defer client.Close()

	var authTime time.Duration
	if server.HasAuth() {
		authStart := time.Now()
		err := p.auth(client, server)
		authTime = time.Since(authStart)
		if err != nil {
			return failure(err, FailureAuth, connectTime, authTime)
		}
	}

	if err := client.Quit(); err != nil {
		return failure(err, FailureDisconnect, connectTime, authTime)
	}

	return Result{Healthy: true, ConnectTime: connectTime, AuthTime: authTime}
}

// connect dials the relay, waits for the greeting and completes EHLO
// plus any TLS negotiation
func (p *SMTPProber) connect(ctx context.Context, server *models.Server) (*smtp.Client, error) {
	dialer := &net.Dialer{Timeout: p.timeout}
	addr := server.Addr()

	var conn net.Conn
	var err error
	if server.TLSMode == models.TLSImplicit {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: server.Host}}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, err
	}
	conn.SetDeadline(time.Now().Add(p.timeout))

	var client *smtp.Client
	if server.TLSMode == models.TLSStartTLS {
		client, err = smtp.NewClientStartTLS(conn, &tls.Config{ServerName: server.Host})
		if err != nil {
			return nil, err
		}
	} else {
		client = smtp.NewClient(conn)
	}
	client.CommandTimeout = p.timeout
	client.SubmissionTimeout = p.timeout

	if err := client.Hello(p.heloName); err != nil {
		client.Close()
		return nil, err
	}

	return client, nil
}

// auth authenticates with PLAIN when offered, falling back to LOGIN
func (p *SMTPProber) auth(client *smtp.Client, server *models.Server) error {
	ok, mechs := client.Extension("AUTH")
	if !ok {
		return errors.New("server does not advertise AUTH")
	}

	var auth sasl.Client
	if strings.Contains(mechs, sasl.Plain) || !strings.Contains(mechs, sasl.Login) {
		auth = sasl.NewPlainClient("", server.Username, server.Password)
	} else {
		auth = sasl.NewLoginClient(server.Username, server.Password)
	}

	return client.Auth(auth)
}
