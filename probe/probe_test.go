package probe

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SeanNg93/Gmail-app-password-tester/consts"
	"github.com/SeanNg93/Gmail-app-password-tester/input"
	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCred = input.Credential{Email: "user@example.com", AppPassword: "abcdefghijklmnop"}

// stepRecorder collects verbose step lines.
type stepRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *stepRecorder) step(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, fmt.Sprintf(format, args...))
}

func (r *stepRecorder) joined() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.lines, "\n")
}

func TestIMAPProber_Success(t *testing.T) {
	serverTLS, clientTLS := testTLS(t)
	addr := imapServer(t, serverTLS, testCred.Email, testCred.AppPassword)

	steps := &stepRecorder{}
	p := NewIMAPProber(addr, Options{TLSConfig: clientTLS, Steps: steps.step})

	out := p.Probe(context.Background(), testCred, 5*time.Second)
	require.True(t, out.OK, "detail: %s", out.Detail)
	assert.Empty(t, out.Detail)
	assert.NoError(t, out.Err)

	assert.Contains(t, steps.joined(), "  [IMAP] Connecting "+addr+" ...")
	assert.Contains(t, steps.joined(), "  [IMAP] Logged in, NOOP ...")
}

func TestIMAPProber_AuthRejected(t *testing.T) {
	serverTLS, clientTLS := testTLS(t)
	addr := imapServer(t, serverTLS, testCred.Email, "another-password")

	out := NewIMAPProber(addr, Options{TLSConfig: clientTLS}).Probe(context.Background(), testCred, 5*time.Second)
	require.False(t, out.OK)
	assert.ErrorIs(t, out.Err, consts.ErrAuthRejected)
	assert.Contains(t, out.Detail, "Invalid credentials")
	assert.NotContains(t, out.Detail, testCred.AppPassword)

	var imapErr *imap.Error
	assert.True(t, errors.As(out.Err, &imapErr))
}

func TestIMAPProber_UntrustedCertificate(t *testing.T) {
	serverTLS, _ := testTLS(t)
	addr := imapServer(t, serverTLS, testCred.Email, testCred.AppPassword)

	out := NewIMAPProber(addr, Options{TLSConfig: &tls.Config{MinVersion: tls.VersionTLS12}}).
		Probe(context.Background(), testCred, 5*time.Second)
	require.False(t, out.OK)
	assert.ErrorIs(t, out.Err, consts.ErrTLSNegotiation)
	assert.Equal(t, "tls_error", Result(out.Err))

	// Disabling verification lets the same server through.
	out = NewIMAPProber(addr, Options{TLSConfig: &tls.Config{InsecureSkipVerify: true}}).
		Probe(context.Background(), testCred, 5*time.Second)
	assert.True(t, out.OK, "detail: %s", out.Detail)
}

func TestIMAPProber_ConnectionRefused(t *testing.T) {
	out := NewIMAPProber(closedAddr(t), Options{}).Probe(context.Background(), testCred, 2*time.Second)
	require.False(t, out.OK)
	assert.NotEmpty(t, out.Detail)
	assert.Equal(t, "error", Result(out.Err))
}

func TestIMAPProber_Timeout(t *testing.T) {
	_, clientTLS := testTLS(t)
	addr := silentServer(t)

	start := time.Now()
	out := NewIMAPProber(addr, Options{TLSConfig: clientTLS}).Probe(context.Background(), testCred, 300*time.Millisecond)
	elapsed := time.Since(start)

	require.False(t, out.OK)
	assert.ErrorIs(t, out.Err, consts.ErrProbeTimeout)
	assert.True(t, strings.HasPrefix(out.Detail, "timed out after 300ms"), out.Detail)
	assert.Less(t, elapsed, 3*time.Second, "the timeout bounds the whole attempt")
}

func TestIMAPProber_Canceled(t *testing.T) {
	_, clientTLS := testTLS(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := NewIMAPProber(silentServer(t), Options{TLSConfig: clientTLS}).Probe(ctx, testCred, 5*time.Second)
	require.False(t, out.OK)
	assert.ErrorIs(t, out.Err, context.Canceled)
	assert.Equal(t, "canceled", Result(out.Err))
}

func TestSMTPProber_ImplicitTLS(t *testing.T) {
	serverTLS, clientTLS := testTLS(t)
	tlsAddr := smtpServer(t, serverTLS, true, testCred.Email, testCred.AppPassword)

	steps := &stepRecorder{}
	p := NewSMTPProber(tlsAddr, closedAddr(t), Options{TLSConfig: clientTLS, Steps: steps.step})

	out := p.Probe(context.Background(), testCred, 5*time.Second)
	require.True(t, out.OK, "detail: %s", out.Detail)
	assert.Contains(t, steps.joined(), "  [SMTP] Connected (SSL). Logging in ...")
	assert.NotContains(t, steps.joined(), "STARTTLS")
}

func TestSMTPProber_FallsBackToStartTLS(t *testing.T) {
	serverTLS, clientTLS := testTLS(t)
	startTLSAddr := smtpServer(t, serverTLS, false, testCred.Email, testCred.AppPassword)
	_, startTLSPort, _ := net.SplitHostPort(startTLSAddr)

	steps := &stepRecorder{}
	p := NewSMTPProber(closedAddr(t), startTLSAddr, Options{TLSConfig: clientTLS, Steps: steps.step, HeloName: "checker.local"})

	out := p.Probe(context.Background(), testCred, 5*time.Second)
	require.True(t, out.OK, "detail: %s", out.Detail)
	assert.Empty(t, out.Detail)
	assert.Contains(t, steps.joined(), "  [SMTP] SSL failed: ")
	assert.Contains(t, steps.joined(), ". Trying STARTTLS on "+startTLSPort+" ...")
	assert.Contains(t, steps.joined(), "  [SMTP] Connected (STARTTLS). Logging in ...")
}

func TestSMTPProber_FallbackAfterImplicitTLSRejection(t *testing.T) {
	serverTLS, clientTLS := testTLS(t)
	// Implicit TLS endpoint rejects the password, STARTTLS accepts it.
	tlsAddr := smtpServer(t, serverTLS, true, testCred.Email, "stale")
	startTLSAddr := smtpServer(t, serverTLS, false, testCred.Email, testCred.AppPassword)

	out := NewSMTPProber(tlsAddr, startTLSAddr, Options{TLSConfig: clientTLS}).Probe(context.Background(), testCred, 5*time.Second)
	assert.True(t, out.OK, "detail: %s", out.Detail)
}

func TestSMTPProber_BothFail(t *testing.T) {
	serverTLS, clientTLS := testTLS(t)
	tlsAddr := smtpServer(t, serverTLS, true, testCred.Email, "other")
	startTLSAddr := smtpServer(t, serverTLS, false, testCred.Email, "other")

	out := NewSMTPProber(tlsAddr, startTLSAddr, Options{TLSConfig: clientTLS}).Probe(context.Background(), testCred, 5*time.Second)
	require.False(t, out.OK)

	var fallback *FallbackError
	require.True(t, errors.As(out.Err, &fallback))
	assert.Error(t, fallback.Implicit)
	assert.Error(t, fallback.StartTLS)

	assert.True(t, strings.HasPrefix(out.Detail, "SSL:"), out.Detail)
	assert.Contains(t, out.Detail, "; STARTTLS:")
	assert.NotContains(t, out.Detail, testCred.AppPassword)

	var smtpErr *smtp.SMTPError
	require.True(t, errors.As(fallback.StartTLS, &smtpErr))
	assert.Equal(t, 535, smtpErr.Code)
	assert.ErrorIs(t, out.Err, consts.ErrAuthRejected)
}

func TestSMTPProber_StartTLSUntrusted(t *testing.T) {
	serverTLS, _ := testTLS(t)
	startTLSAddr := smtpServer(t, serverTLS, false, testCred.Email, testCred.AppPassword)

	out := NewSMTPProber(closedAddr(t), startTLSAddr, Options{TLSConfig: &tls.Config{MinVersion: tls.VersionTLS12}}).
		Probe(context.Background(), testCred, 5*time.Second)
	require.False(t, out.OK)

	var fallback *FallbackError
	require.True(t, errors.As(out.Err, &fallback))
	assert.ErrorIs(t, fallback.StartTLS, consts.ErrTLSNegotiation)
}

func TestSMTPProber_EachAttemptHasItsOwnTimeout(t *testing.T) {
	_, clientTLS := testTLS(t)
	p := NewSMTPProber(silentServer(t), silentServer(t), Options{TLSConfig: clientTLS})

	start := time.Now()
	out := p.Probe(context.Background(), testCred, 200*time.Millisecond)
	elapsed := time.Since(start)

	require.False(t, out.OK)
	var fallback *FallbackError
	require.True(t, errors.As(out.Err, &fallback))
	assert.ErrorIs(t, fallback.Implicit, consts.ErrProbeTimeout)
	assert.ErrorIs(t, fallback.StartTLS, consts.ErrProbeTimeout)
	assert.GreaterOrEqual(t, elapsed, 400*time.Millisecond)
	assert.Less(t, elapsed, 3*time.Second)
}

func TestFallbackError(t *testing.T) {
	first := errors.New("connection refused")
	second := errors.New("535 bad credentials")
	err := &FallbackError{Implicit: first, StartTLS: second}

	assert.Equal(t, "SSL:connection refused; STARTTLS:535 bad credentials", err.Error())
	assert.ErrorIs(t, err, first)
	assert.ErrorIs(t, err, second)
}

func TestAnnotate(t *testing.T) {
	bg := context.Background()
	expired, cancel := context.WithTimeout(bg, -time.Second)
	defer cancel()
	canceled, cancel2 := context.WithCancel(bg)
	cancel2()

	tests := []struct {
		name string
		ctx  context.Context
		err  error
		want string
	}{
		{"nil", bg, nil, "ok"},
		{"deadline", expired, errors.New("read: use of closed connection"), "timeout"},
		{"canceled", canceled, errors.New("read: use of closed connection"), "canceled"},
		{"imap no", bg, &imap.Error{Type: imap.StatusResponseTypeNo, Text: "Invalid credentials"}, "auth_rejected"},
		{"smtp 535", bg, &smtp.SMTPError{Code: 535, Message: "bad"}, "auth_rejected"},
		{"smtp 534", bg, &smtp.SMTPError{Code: 534, Message: "web login required"}, "auth_rejected"},
		{"smtp 421", bg, &smtp.SMTPError{Code: 421, Message: "busy"}, "error"},
		{"tls alert", bg, tls.AlertError(40), "tls_error"},
		{"already tagged", bg, fmt.Errorf("%w: starttls: boom", consts.ErrTLSNegotiation), "tls_error"},
		{"plain", bg, errors.New("connection refused"), "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := annotate(tt.ctx, tt.err, 20*time.Second)
			assert.Equal(t, tt.want, Result(got))
			if tt.err != nil {
				assert.ErrorIs(t, got, tt.err)
			}
		})
	}

	err := annotate(expired, errors.New("i/o timeout"), 20*time.Second)
	assert.True(t, strings.HasPrefix(err.Error(), "timed out after 20s: "), err.Error())

	tagged := fmt.Errorf("%w: x", consts.ErrTLSNegotiation)
	assert.Equal(t, tagged, annotate(bg, tagged, time.Second), "tagged errors are not wrapped twice")
}

func TestFailureRedactsSecret(t *testing.T) {
	out := failure(errors.New("server said: bad password abcdefghijklmnop"), "abcdefghijklmnop")
	assert.False(t, out.OK)
	assert.Equal(t, "server said: bad password [REDACTED]", out.Detail)
	assert.Contains(t, out.Err.Error(), "abcdefghijklmnop", "the raw error stays in memory only")

	short := failure(errors.New("535 5.7.8 Username and Password not accepted"), "535")
	assert.Equal(t, "535 5.7.8 Username and Password not accepted", short.Detail)
}

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func captureDebugLog(t *testing.T) *syncBuffer {
	t.Helper()
	buf := &syncBuffer{}
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return buf
}

func TestTraceConnMasksCredentials(t *testing.T) {
	logs := captureDebugLog(t)

	client, server := net.Pipe()
	defer server.Close()
	traced := Options{Trace: true}.wrap(client, "imap", "hunter2hunter2")
	defer traced.Close()

	go func() {
		buf := make([]byte, 256)
		for {
			n, err := server.Read(buf)
			if err != nil {
				return
			}
			if strings.Contains(string(buf[:n]), "NOOP") {
				server.Write([]byte("A2 OK echo hunter2hunter2\r\n"))
			}
		}
	}()

	_, err := traced.Write([]byte("A1 LOGIN user@example.com hunter2hunter2\r\n"))
	require.NoError(t, err)
	_, err = traced.Write([]byte("A2 NOOP\r\n"))
	require.NoError(t, err)
	reply := make([]byte, 64)
	n, err := traced.Read(reply)
	require.NoError(t, err)
	assert.Contains(t, string(reply[:n]), "A2 OK")

	_, err = traced.Write([]byte{0x16, 0x03, 0x01, 0x00, 0x05})
	require.NoError(t, err)

	out := logs.String()
	assert.Contains(t, out, "A1 LOGIN user@example.com [REDACTED]")
	assert.Contains(t, out, "A2 NOOP")
	assert.Contains(t, out, "encrypted=true")
	assert.NotContains(t, out, "hunter2hunter2")
}

func TestTraceDisabledLeavesConnAlone(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	assert.Same(t, client, Options{}.wrap(client, "smtp", "x"))
}

func TestTLSConfigForSetsServerName(t *testing.T) {
	base := &tls.Config{MinVersion: tls.VersionTLS13}
	cfg := Options{TLSConfig: base}.tlsConfigFor("imap.gmail.com:993")
	assert.Equal(t, "imap.gmail.com", cfg.ServerName)
	assert.Empty(t, base.ServerName, "the shared config is not modified")
	assert.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)

	assert.Equal(t, "smtp.gmail.com", Options{}.tlsConfigFor("smtp.gmail.com:465").ServerName)
}
