package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/SeanNg93/Gmail-app-password-tester/input"
	"github.com/SeanNg93/Gmail-app-password-tester/report"
	"github.com/SeanNg93/Gmail-app-password-tester/verifier"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	skipStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
)

// progress writes the user-facing run log. Probe step lines arrive from
// worker goroutines, so every write holds mu.
type progress struct {
	mu    sync.Mutex
	out   io.Writer
	color bool
}

func newProgress(out io.Writer) *progress {
	return &progress{out: out, color: isTerminal(out)}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *progress) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format+"\n", args...)
}

func (p *progress) status(ok bool) string {
	word := report.Status(ok)
	if !p.color {
		return word
	}
	if ok {
		return okStyle.Render(word)
	}
	return failStyle.Render(word)
}

func (p *progress) Start(valid, skipped, concurrency int, timeout time.Duration) {
	p.printf("Testing %d valid account(s) (skipping %d row(s) missing email/app_password) with concurrency=%d timeout=%ss ...",
		valid, skipped, concurrency, formatSeconds(timeout))
}

func (p *progress) Skip(s input.Skip) {
	tag := "[SKIP]"
	if p.color {
		tag = skipStyle.Render(tag)
	}
	p.printf("%s %s: %s", tag, s.Identity, s.Reason)
}

func (p *progress) Dispatch(cred input.Credential) {
	p.printf("--> Testing %s", cred.Email)
}

func (p *progress) Step(format string, args ...any) {
	p.printf(format, args...)
}

func (p *progress) Result(r verifier.Result) {
	p.printf("[%s] IMAP=%s; SMTP=%s; %ss", r.Email, p.status(r.IMAP.OK), p.status(r.SMTP.OK), report.FormatElapsed(r.ElapsedSeconds))
}

func (p *progress) Cooldown(d time.Duration) {
	p.printf("  Sleeping %ss before next account (per request)...", formatSeconds(d))
}

func (p *progress) Interrupted() {
	p.printf("Interrupted: accounts not finished in time are reported as failed.")
}

func (p *progress) Summary(s report.Summary) {
	p.printf("Summary: %s", s)
}

func (p *progress) Done(path string) {
	p.printf("Done. Report written to: %s", path)
}
