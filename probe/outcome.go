// Package probe performs login-only checks against mail endpoints.
//
// IMAPProber logs in over implicit TLS, issues NOOP and logs out.
// SMTPProber authenticates over implicit TLS and falls back to STARTTLS on a
// second port. Neither sends nor reads mail. Failures never escape as
// errors: every attempt ends in an Outcome whose Detail carries the cause.
package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/SeanNg93/Gmail-app-password-tester/consts"
	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-smtp"
)

// Outcome is the result of one probe.
type Outcome struct {
	OK     bool
	Detail string // empty when OK
	Err    error  // underlying cause, nil when OK
}

func success() Outcome {
	return Outcome{OK: true}
}

func failure(err error, secret string) Outcome {
	return Outcome{Err: err, Detail: redact(err.Error(), secret)}
}

// FallbackError keeps both causes when implicit TLS and STARTTLS both fail.
type FallbackError struct {
	Implicit error
	StartTLS error
}

// Error renders the report form "SSL:<first>; STARTTLS:<second>".
func (e *FallbackError) Error() string {
	return fmt.Sprintf("SSL:%v; STARTTLS:%v", e.Implicit, e.StartTLS)
}

func (e *FallbackError) Unwrap() []error {
	return []error{e.Implicit, e.StartTLS}
}

// StepFunc receives human-readable progress lines in verbose mode.
type StepFunc func(format string, args ...any)

// annotate turns a raw attempt error into one that names timeouts and TLS
// failures. ctx is the attempt context.
func annotate(ctx context.Context, err error, timeout time.Duration) error {
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || isTimeout(err) {
		return fmt.Errorf("%w after %s: %w", consts.ErrProbeTimeout, timeout, err)
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%w: %w", context.Canceled, err)
	}
	if errors.Is(err, consts.ErrTLSNegotiation) || errors.Is(err, consts.ErrAuthRejected) {
		return err
	}
	if isTLSError(err) {
		return fmt.Errorf("%w: %w", consts.ErrTLSNegotiation, err)
	}
	if isAuthRejection(err) {
		return fmt.Errorf("%w: %w", consts.ErrAuthRejected, err)
	}
	return err
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout())
}

func isTLSError(err error) bool {
	var (
		verifyErr    *tls.CertificateVerificationError
		headerErr    tls.RecordHeaderError
		alertErr     tls.AlertError
		authorityErr x509.UnknownAuthorityError
		hostErr      x509.HostnameError
	)
	return errors.As(err, &verifyErr) || errors.As(err, &headerErr) || errors.As(err, &alertErr) ||
		errors.As(err, &authorityErr) || errors.As(err, &hostErr)
}

func isAuthRejection(err error) bool {
	var imapErr *imap.Error
	if errors.As(err, &imapErr) {
		return imapErr.Type == imap.StatusResponseTypeNo
	}
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		// 535 authentication credentials invalid, 534 web login required
		return smtpErr.Code == 535 || smtpErr.Code == 534
	}
	return false
}

// Result returns the metrics label for an attempt error.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, consts.ErrProbeTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, consts.ErrTLSNegotiation):
		return "tls_error"
	case errors.Is(err, consts.ErrAuthRejected):
		return "auth_rejected"
	default:
		return "error"
	}
}
