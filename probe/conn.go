package probe

import (
	"bytes"
	"context"
	"crypto/tls"
	"net"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/SeanNg93/Gmail-app-password-tester/helpers"
	"github.com/SeanNg93/Gmail-app-password-tester/logger"
)

// Options are shared by both probers.
type Options struct {
	// TLSConfig is cloned per attempt; ServerName is filled from the address
	// when empty.
	TLSConfig *tls.Config
	HeloName  string
	Steps     StepFunc
	// Trace logs redacted protocol lines at debug level.
	Trace bool
}

func (o Options) step(format string, args ...any) {
	if o.Steps != nil {
		o.Steps(format, args...)
	}
}

func (o Options) tlsConfigFor(addr string) *tls.Config {
	var cfg *tls.Config
	if o.TLSConfig != nil {
		cfg = o.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if cfg.ServerName == "" {
		if host, _, err := net.SplitHostPort(addr); err == nil {
			cfg.ServerName = host
		}
	}
	return cfg
}

// dial opens a TCP connection, or a TLS connection when tlsConfig is set.
// The connection inherits the context deadline and is closed as soon as ctx
// ends, which bounds protocol clients that manage their own deadlines.
func dial(ctx context.Context, addr string, tlsConfig *tls.Config) (net.Conn, func(), error) {
	var (
		conn net.Conn
		err  error
	)
	if tlsConfig != nil {
		d := &tls.Dialer{NetDialer: &net.Dialer{}, Config: tlsConfig}
		conn, err = d.DialContext(ctx, "tcp", addr)
	} else {
		d := &net.Dialer{}
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	release := func() {
		stop()
		conn.Close()
	}
	return conn, release, nil
}

// traceConn logs protocol lines passing through a connection with
// credentials masked. Non-text chunks, such as TLS records after STARTTLS on
// a plain socket, are summarized by size.
type traceConn struct {
	net.Conn
	protocol string
	secret   string
}

func newTraceConn(conn net.Conn, protocol, secret string) net.Conn {
	return &traceConn{Conn: conn, protocol: protocol, secret: secret}
}

func (c *traceConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if n > 0 {
		c.log("S", p[:n])
	}
	return n, err
}

func (c *traceConn) Write(p []byte) (int, error) {
	c.log("C", p)
	return c.Conn.Write(p)
}

func (c *traceConn) log(dir string, chunk []byte) {
	if !isText(chunk) {
		logger.Debug("Protocol trace", "protocol", c.protocol, "dir", dir, "bytes", len(chunk), "encrypted", true)
		return
	}
	for _, line := range strings.Split(strings.TrimRight(string(chunk), "\r\n"), "\n") {
		line = strings.TrimRight(line, "\r")
		logger.Debug("Protocol trace", "protocol", c.protocol, "dir", dir,
			"line", redact(helpers.MaskSensitive(line), c.secret))
	}
}

func isText(b []byte) bool {
	if !utf8.Valid(b) {
		return false
	}
	return bytes.IndexFunc(b, func(r rune) bool {
		return unicode.IsControl(r) && r != '\r' && r != '\n' && r != '\t'
	}) < 0
}

func redact(text, secret string) string {
	return helpers.RedactSecret(text, secret)
}

func (o Options) wrap(conn net.Conn, protocol, secret string) net.Conn {
	if o.Trace {
		return newTraceConn(conn, protocol, secret)
	}
	return conn
}

func elapsedSince(start time.Time) float64 {
	return time.Since(start).Seconds()
}
