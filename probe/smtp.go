package probe

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/SeanNg93/Gmail-app-password-tester/consts"
	"github.com/SeanNg93/Gmail-app-password-tester/input"
	"github.com/SeanNg93/Gmail-app-password-tester/logger"
	"github.com/SeanNg93/Gmail-app-password-tester/pkg/metrics"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// SMTPProber checks a credential against a submission endpoint. It tries
// implicit TLS on TLSAddr first and, only if that attempt fails for any
// reason, STARTTLS on StartTLSAddr over a fresh connection.
type SMTPProber struct {
	TLSAddr      string
	StartTLSAddr string
	Options
}

// NewSMTPProber creates a prober for the implicit-TLS and STARTTLS
// submission endpoints (host:port each).
func NewSMTPProber(tlsAddr, startTLSAddr string, opts Options) *SMTPProber {
	return &SMTPProber{TLSAddr: tlsAddr, StartTLSAddr: startTLSAddr, Options: opts}
}

// Probe returns OK when either attempt authenticates. When both fail the
// Outcome error is a *FallbackError holding both causes. Each attempt gets
// its own timeout.
func (p *SMTPProber) Probe(ctx context.Context, cred input.Credential, timeout time.Duration) Outcome {
	p.step("  [SMTP] Connecting SSL %s ...", p.TLSAddr)
	implicitErr := p.attempt(ctx, cred, timeout, "tls", p.implicitTLS)
	if implicitErr == nil {
		return success()
	}

	p.step("  [SMTP] SSL failed: %s. Trying STARTTLS on %s ...", redact(implicitErr.Error(), cred.AppPassword), port(p.StartTLSAddr))
	startTLSErr := p.attempt(ctx, cred, timeout, "starttls", p.startTLS)
	if startTLSErr == nil {
		return success()
	}

	err := &FallbackError{Implicit: implicitErr, StartTLS: startTLSErr}
	logger.Debug("SMTP probe failed", "email", cred.Email, "error", redact(err.Error(), cred.AppPassword))
	return failure(err, cred.AppPassword)
}

type smtpSession func(ctx context.Context, cred input.Credential, timeout time.Duration) error

func (p *SMTPProber) attempt(ctx context.Context, cred input.Credential, timeout time.Duration, variant string, session smtpSession) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := annotate(ctx, session(ctx, cred, timeout), timeout)

	metrics.ProbeAttempts.WithLabelValues("smtp", variant, Result(err)).Inc()
	metrics.ProbeDuration.WithLabelValues("smtp", variant).Observe(elapsedSince(start))
	return err
}

func (p *SMTPProber) implicitTLS(ctx context.Context, cred input.Credential, timeout time.Duration) error {
	conn, release, err := dial(ctx, p.TLSAddr, p.tlsConfigFor(p.TLSAddr))
	if err != nil {
		return err
	}
	defer release()

	c := p.newClient(conn, cred, timeout)
	defer c.Close()

	if err := c.Hello(p.heloName()); err != nil {
		return fmt.Errorf("ehlo: %w", err)
	}

	p.step("  [SMTP] Connected (SSL). Logging in ...")
	return p.authenticate(c, cred)
}

func (p *SMTPProber) startTLS(ctx context.Context, cred input.Credential, timeout time.Duration) error {
	conn, release, err := dial(ctx, p.StartTLSAddr, nil)
	if err != nil {
		return err
	}
	defer release()

	c := p.newClient(conn, cred, timeout)
	defer c.Close()

	if err := c.Hello(p.heloName()); err != nil {
		return fmt.Errorf("ehlo: %w", err)
	}
	// StartTLS greets the server again once the upgrade is done.
	if err := c.StartTLS(p.tlsConfigFor(p.StartTLSAddr)); err != nil {
		return fmt.Errorf("%w: starttls: %w", consts.ErrTLSNegotiation, err)
	}

	p.step("  [SMTP] Connected (STARTTLS). Logging in ...")
	return p.authenticate(c, cred)
}

func (p *SMTPProber) newClient(conn net.Conn, cred input.Credential, timeout time.Duration) *smtp.Client {
	c := smtp.NewClient(p.wrap(conn, "smtp", cred.AppPassword))
	c.CommandTimeout = timeout
	return c
}

// authenticate runs AUTH PLAIN. Once it succeeds the verdict is final:
// QUIT errors are swallowed.
func (p *SMTPProber) authenticate(c *smtp.Client, cred input.Credential) error {
	if err := c.Auth(sasl.NewPlainClient("", cred.Email, cred.AppPassword)); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := c.Quit(); err != nil {
		logger.Debug("SMTP quit failed after successful auth", "email", cred.Email, "error", err)
	}
	return nil
}

func (p *SMTPProber) heloName() string {
	if p.HeloName == "" {
		return consts.DefaultHeloName
	}
	return p.HeloName
}

func port(addr string) string {
	if _, p, err := net.SplitHostPort(addr); err == nil {
		return p
	}
	return addr
}
