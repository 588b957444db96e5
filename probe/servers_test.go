package probe

import (
	"bufio"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/require"
)

// testTLS returns a server config with a fresh self-signed certificate for
// 127.0.0.1 and a client config that trusts it.
func testTLS(t *testing.T) (server, client *tls.Config) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "probe test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	pool := x509.NewCertPool()
	pool.AddCert(cert)

	server = &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key, Leaf: cert}},
		MinVersion:   tls.VersionTLS12,
	}
	client = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	return server, client
}

// closedAddr returns a loopback address nothing listens on.
func closedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

// silentServer accepts connections and never says anything.
func silentServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})
	return ln.Addr().String()
}

// SMTP

type smtpBackend struct {
	username, password string
}

func (b *smtpBackend) NewSession(*smtp.Conn) (smtp.Session, error) {
	return &fakeSMTPSession{backend: b}, nil
}

type fakeSMTPSession struct {
	backend *smtpBackend
}

func (s *fakeSMTPSession) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *fakeSMTPSession) Auth(mech string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(_, username, password string) error {
		if username != s.backend.username || password != s.backend.password {
			return smtp.ErrAuthFailed
		}
		return nil
	}), nil
}

func (s *fakeSMTPSession) Mail(string, *smtp.MailOptions) error {
	return errors.New("probe tests never send mail")
}

func (s *fakeSMTPSession) Rcpt(string, *smtp.RcptOptions) error {
	return errors.New("probe tests never send mail")
}

func (s *fakeSMTPSession) Data(io.Reader) error {
	return errors.New("probe tests never send mail")
}

func (s *fakeSMTPSession) Reset() {}

func (s *fakeSMTPSession) Logout() error {
	return nil
}

// smtpServer starts a go-smtp server accepting username/password. With
// implicit set the listener speaks TLS from the first byte; otherwise the
// server offers STARTTLS and refuses AUTH before it.
func smtpServer(t *testing.T, serverTLS *tls.Config, implicit bool, username, password string) string {
	t.Helper()

	s := smtp.NewServer(&smtpBackend{username: username, password: password})
	s.Domain = "localhost"
	s.TLSConfig = serverTLS
	s.ReadTimeout = 5 * time.Second
	s.WriteTimeout = 5 * time.Second

	var ln net.Listener
	var err error
	if implicit {
		ln, err = tls.Listen("tcp", "127.0.0.1:0", serverTLS)
	} else {
		ln, err = net.Listen("tcp", "127.0.0.1:0")
	}
	require.NoError(t, err)

	go s.Serve(ln)
	t.Cleanup(func() { s.Close() })
	return ln.Addr().String()
}

// IMAP

// imapServer is a scripted IMAP4rev1 responder over TLS that understands
// just enough for LOGIN, NOOP and LOGOUT.
func imapServer(t *testing.T, serverTLS *tls.Config, username, password string) string {
	t.Helper()
	ln, err := tls.Listen("tcp", "127.0.0.1:0", serverTLS)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveIMAP(conn, username, password)
		}
	}()
	return ln.Addr().String()
}

func serveIMAP(conn net.Conn, username, password string) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))

	w := bufio.NewWriter(conn)
	reply := func(format string, args ...any) {
		fmt.Fprintf(w, format+"\r\n", args...)
		w.Flush()
	}

	reply("* OK [CAPABILITY IMAP4rev1] test server ready")
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		fields := imapFields(strings.TrimRight(line, "\r\n"))
		if len(fields) < 2 {
			continue
		}
		tag, cmd := fields[0], strings.ToUpper(fields[1])

		switch cmd {
		case "CAPABILITY":
			reply("* CAPABILITY IMAP4rev1")
			reply("%s OK CAPABILITY completed", tag)
		case "LOGIN":
			if len(fields) == 4 && fields[2] == username && fields[3] == password {
				reply("%s OK [CAPABILITY IMAP4rev1] LOGIN completed", tag)
			} else {
				reply("%s NO [AUTHENTICATIONFAILED] Invalid credentials (Failure)", tag)
			}
		case "NOOP":
			reply("%s OK NOOP completed", tag)
		case "LOGOUT":
			reply("* BYE logging out")
			reply("%s OK LOGOUT completed", tag)
			return
		default:
			reply("%s BAD unknown command", tag)
		}
	}
}

// imapFields splits a command line into atoms and quoted strings.
func imapFields(line string) []string {
	var (
		fields []string
		cur    strings.Builder
		quoted bool
		inWord bool
	)
	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case quoted && ch == '\\' && i+1 < len(line):
			i++
			cur.WriteByte(line[i])
		case ch == '"':
			quoted = !quoted
			inWord = true
		case ch == ' ' && !quoted:
			if inWord {
				fields = append(fields, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteByte(ch)
			inWord = true
		}
	}
	if inWord {
		fields = append(fields, cur.String())
	}
	return fields
}
