package helpers

import "strings"

const redacted = "[REDACTED]"

// MaskSensitive redacts credentials from a single client protocol line.
//
// IMAP:  "<tag> LOGIN <user> <pass>"         keeps the user
// IMAP:  "<tag> AUTHENTICATE <mech> <data>"  keeps the mechanism
// SMTP:  "AUTH <mech> <initial-response>"    keeps the mechanism
//
// Other lines are returned unchanged.
func MaskSensitive(line string) string {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return line
	}

	var keep int
	switch {
	case strings.EqualFold(parts[0], "AUTH"):
		keep = 2
	case len(parts) > 1 && strings.EqualFold(parts[1], "LOGIN"):
		keep = 3
	case len(parts) > 1 && strings.EqualFold(parts[1], "AUTHENTICATE"):
		keep = 3
	default:
		return line
	}

	if len(parts) > keep {
		return strings.Join(parts[:keep], " ") + " " + redacted
	}
	// e.g. "AUTH LOGIN" where the data comes on the next line.
	return line
}

// minRedactLen is the shortest secret RedactSecret acts on. Shorter values
// match reply codes and ordinary words, not just an echoed secret.
const minRedactLen = 8

// RedactSecret replaces every occurrence of secret in text. Servers
// occasionally echo what they received in error replies, and those replies
// end up in report detail columns.
func RedactSecret(text, secret string) string {
	if len(secret) < minRedactLen || !strings.Contains(text, secret) {
		return text
	}
	return strings.ReplaceAll(text, secret, redacted)
}
