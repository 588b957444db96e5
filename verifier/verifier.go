// Package verifier checks one credential against both endpoints.
package verifier

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/SeanNg93/Gmail-app-password-tester/consts"
	"github.com/SeanNg93/Gmail-app-password-tester/input"
	"github.com/SeanNg93/Gmail-app-password-tester/pkg/metrics"
	"github.com/SeanNg93/Gmail-app-password-tester/probe"
)

// Prober performs one login-only check. Implementations report failures
// through the Outcome, never by panicking or returning errors.
type Prober interface {
	Probe(ctx context.Context, cred input.Credential, timeout time.Duration) probe.Outcome
}

// Result is the verdict for one credential. It carries the email only.
type Result struct {
	Email          string
	IMAP           probe.Outcome
	SMTP           probe.Outcome
	ElapsedSeconds float64 // rounded to two decimals
}

// OK reports whether both probes succeeded.
func (r Result) OK() bool {
	return r.IMAP.OK && r.SMTP.OK
}

// Outcome classifies the result for metrics and summaries.
func (r Result) Outcome() string {
	switch {
	case r.OK():
		return "ok"
	case r.IMAP.OK || r.SMTP.OK:
		return "partial"
	default:
		return "failed"
	}
}

// Verifier runs the IMAP probe, pauses, then runs the SMTP probe. It holds
// no per-credential state and is safe for concurrent use.
type Verifier struct {
	IMAP    Prober
	SMTP    Prober
	Timeout time.Duration
	// Pause separates the two probes so the provider does not see two
	// connections in the same instant.
	Pause time.Duration
}

// New creates a Verifier.
func New(imap, smtp Prober, timeout, pause time.Duration) *Verifier {
	return &Verifier{IMAP: imap, SMTP: smtp, Timeout: timeout, Pause: pause}
}

// Verify checks cred. A failed IMAP probe does not skip the SMTP probe.
func (v *Verifier) Verify(ctx context.Context, cred input.Credential) Result {
	start := time.Now()
	metrics.CredentialsInFlight.Inc()
	defer metrics.CredentialsInFlight.Dec()

	imapOutcome := v.IMAP.Probe(ctx, cred, v.Timeout)
	sleep(ctx, v.Pause)
	smtpOutcome := v.SMTP.Probe(ctx, cred, v.Timeout)

	elapsed := round2(time.Since(start).Seconds())
	metrics.VerifyDuration.Observe(elapsed)

	return Result{
		Email:          cred.Email,
		IMAP:           imapOutcome,
		SMTP:           smtpOutcome,
		ElapsedSeconds: elapsed,
	}
}

// InternalFailure builds the result reported when verification of email
// broke down unexpectedly. Both probes are marked failed with the cause.
func InternalFailure(email string, cause any, elapsed time.Duration) Result {
	err := fmt.Errorf("%w: %v", consts.ErrInternal, cause)
	failed := probe.Outcome{Err: err, Detail: err.Error()}
	return Result{Email: email, IMAP: failed, SMTP: failed, ElapsedSeconds: round2(elapsed.Seconds())}
}

func round2(seconds float64) float64 {
	return math.Round(seconds*100) / 100
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
