package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/SeanNg93/Gmail-app-password-tester/input"
	"github.com/SeanNg93/Gmail-app-password-tester/logger"
	"github.com/SeanNg93/Gmail-app-password-tester/pkg/metrics"
	"github.com/emersion/go-imap/v2/imapclient"
)

// IMAPProber checks a credential against an implicit-TLS IMAP endpoint:
// connect, LOGIN, NOOP, LOGOUT.
type IMAPProber struct {
	Addr string
	Options
}

// NewIMAPProber creates a prober for the IMAP endpoint at addr (host:port).
func NewIMAPProber(addr string, opts Options) *IMAPProber {
	return &IMAPProber{Addr: addr, Options: opts}
}

// Probe runs one login-only session. The whole session, including connect
// and TLS handshake, is bounded by timeout. There is no retry.
func (p *IMAPProber) Probe(ctx context.Context, cred input.Credential, timeout time.Duration) Outcome {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := annotate(ctx, p.session(ctx, cred), timeout)

	metrics.ProbeAttempts.WithLabelValues("imap", "tls", Result(err)).Inc()
	metrics.ProbeDuration.WithLabelValues("imap", "tls").Observe(elapsedSince(start))

	if err != nil {
		logger.Debug("IMAP probe failed", "email", cred.Email, "addr", p.Addr, "error", redact(err.Error(), cred.AppPassword))
		return failure(err, cred.AppPassword)
	}
	return success()
}

func (p *IMAPProber) session(ctx context.Context, cred input.Credential) error {
	p.step("  [IMAP] Connecting %s ...", p.Addr)
	conn, release, err := dial(ctx, p.Addr, p.tlsConfigFor(p.Addr))
	if err != nil {
		return err
	}
	defer release()

	client := imapclient.New(p.wrap(conn, "imap", cred.AppPassword), &imapclient.Options{})
	defer client.Close()

	if err := client.WaitGreeting(); err != nil {
		return fmt.Errorf("greeting: %w", err)
	}

	p.step("  [IMAP] Connected, logging in ...")
	if err := client.Login(cred.Email, cred.AppPassword).Wait(); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	p.step("  [IMAP] Logged in, NOOP ...")
	if err := client.Noop().Wait(); err != nil {
		return fmt.Errorf("noop: %w", err)
	}

	// Authentication and NOOP already succeeded; a failed LOGOUT does not
	// change the verdict.
	if err := client.Logout().Wait(); err != nil {
		logger.Debug("IMAP logout failed", "email", cred.Email, "error", err)
	}
	return nil
}
