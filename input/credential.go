// Package input turns the uploaded CSV into credentials to probe and rows to
// skip. Malformed rows are data: they become Skip records, never errors.
package input

import (
	"fmt"
	"log/slog"
)

// Credential is a well-formed (email, app password) pair. Both fields are
// non-empty; Classify is the only constructor.
type Credential struct {
	Email       string
	AppPassword string
}

// String returns the email only, so a Credential never leaks its secret
// through fmt verbs.
func (c Credential) String() string {
	return c.Email
}

// GoString keeps %#v from printing the secret.
func (c Credential) GoString() string {
	return fmt.Sprintf("input.Credential{Email:%q}", c.Email)
}

// LogValue implements slog.LogValuer.
func (c Credential) LogValue() slog.Value {
	return slog.StringValue(c.Email)
}

// SkipReason explains why a row was not probed.
type SkipReason int

const (
	MissingEmail SkipReason = iota + 1
	MissingAppPassword
)

func (r SkipReason) String() string {
	switch r {
	case MissingEmail:
		return "missing email"
	case MissingAppPassword:
		return "missing app_password"
	default:
		return "unknown"
	}
}

// Skip records an input row that was excluded from probing. Identity is the
// row's email, or a "(row N)" placeholder when the email is empty.
type Skip struct {
	Identity string
	Row      int
	Reason   SkipReason
}
