// Package report merges verification results and skipped rows into the CSV
// report written at the end of a run.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/SeanNg93/Gmail-app-password-tester/input"
	"github.com/SeanNg93/Gmail-app-password-tester/verifier"
)

// Header is the fixed column set of the report.
var Header = []string{"email", "imap_ok", "imap_error", "smtp_ok", "smtp_error", "elapsed_s"}

const (
	StatusOK   = "OK"
	StatusFail = "FAIL"
	StatusSkip = "SKIP"
)

// Row is one report line.
type Row struct {
	Email     string
	IMAPOK    string
	IMAPError string
	SMTPOK    string
	SMTPError string
	Elapsed   string
}

func (r Row) record() []string {
	return []string{r.Email, r.IMAPOK, r.IMAPError, r.SMTPOK, r.SMTPError, r.Elapsed}
}

// FromResult maps a verification result to a row.
func FromResult(r verifier.Result) Row {
	return Row{
		Email:     r.Email,
		IMAPOK:    Status(r.IMAP.OK),
		IMAPError: r.IMAP.Detail,
		SMTPOK:    Status(r.SMTP.OK),
		SMTPError: r.SMTP.Detail,
		Elapsed:   FormatElapsed(r.ElapsedSeconds),
	}
}

// FromSkip maps a skipped input row. The reason fills both error columns
// and elapsed stays empty.
func FromSkip(s input.Skip) Row {
	reason := s.Reason.String()
	return Row{
		Email:     s.Identity,
		IMAPOK:    StatusSkip,
		IMAPError: reason,
		SMTPOK:    StatusSkip,
		SMTPError: reason,
	}
}

// Build returns results in emission order followed by skips in input order.
func Build(results []verifier.Result, skips []input.Skip) []Row {
	rows := make([]Row, 0, len(results)+len(skips))
	for _, r := range results {
		rows = append(rows, FromResult(r))
	}
	for _, s := range skips {
		rows = append(rows, FromSkip(s))
	}
	return rows
}

// Status renders a probe verdict.
func Status(ok bool) string {
	if ok {
		return StatusOK
	}
	return StatusFail
}

// FormatElapsed renders seconds with at most two decimals and always at
// least one, so whole seconds read "3.0".
func FormatElapsed(seconds float64) string {
	s := strconv.FormatFloat(seconds, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// Write emits the header and rows as CSV.
func Write(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("failed to write report header: %w", err)
	}
	for _, row := range rows {
		if err := cw.Write(row.record()); err != nil {
			return fmt.Errorf("failed to write report row for %s: %w", row.Email, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush report: %w", err)
	}
	return nil
}

// WriteFile writes the report to path through a temporary file in the same
// directory, so an interrupted write never leaves a truncated report behind.
func WriteFile(path string, rows []Row) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = Write(tmp, rows); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close report file: %w", err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to set report permissions: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move report into place: %w", err)
	}
	return nil
}
