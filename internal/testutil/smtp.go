// Package testutil provides in-memory servers used by package tests.
package testutil

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	tlsutil "github.com/shineum/captionmail/internal/tls"
)

// Message is a message accepted by the test server.
type Message struct {
	From string
	To   []string
	Data []byte
	// TLS reports whether the session was encrypted when DATA was sent.
	TLS bool
}

// SMTPOption configures a TestSMTPServer.
type SMTPOption func(*smtpOptions)

type smtpOptions struct {
	startTLS    bool
	implicitTLS bool
	rejectData  bool
	username    string
	password    string
}

// WithSTARTTLS advertises STARTTLS using a self-signed certificate.
func WithSTARTTLS() SMTPOption {
	return func(o *smtpOptions) { o.startTLS = true }
}

// WithImplicitTLS wraps the listener in TLS so clients must connect over TLS.
func WithImplicitTLS() SMTPOption {
	return func(o *smtpOptions) { o.implicitTLS = true }
}

// WithRejectData makes the server answer DATA with a permanent 554 error.
func WithRejectData() SMTPOption {
	return func(o *smtpOptions) { o.rejectData = true }
}

// WithCredentials sets the only AUTH PLAIN credentials the server accepts.
func WithCredentials(username, password string) SMTPOption {
	return func(o *smtpOptions) {
		o.username = username
		o.password = password
	}
}

// memoryBackend stores every accepted message.
type memoryBackend struct {
	opts *smtpOptions

	mu       sync.Mutex
	messages []Message
}

func (b *memoryBackend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	return &memorySession{backend: b, conn: c}, nil
}

type memorySession struct {
	backend *memoryBackend
	conn    *smtp.Conn
	authed  bool
	from    string
	to      []string
}

func (s *memorySession) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *memorySession) Auth(mech string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if username != s.backend.opts.username || password != s.backend.opts.password {
			return errors.New("invalid credentials")
		}
		s.authed = true
		return nil
	}), nil
}

func (s *memorySession) Mail(from string, opts *smtp.MailOptions) error {
	if !s.authed {
		return smtp.ErrAuthRequired
	}
	s.from = from
	return nil
}

func (s *memorySession) Rcpt(to string, opts *smtp.RcptOptions) error {
	s.to = append(s.to, to)
	return nil
}

func (s *memorySession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if s.backend.opts.rejectData {
		return &smtp.SMTPError{
			Code:         554,
			EnhancedCode: smtp.EnhancedCode{5, 7, 1},
			Message:      "Message rejected",
		}
	}

	_, encrypted := s.conn.TLSConnectionState()

	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	s.backend.messages = append(s.backend.messages, Message{
		From: s.from,
		To:   s.to,
		Data: data,
		TLS:  encrypted,
	})
	return nil
}

func (s *memorySession) Reset() {
	s.from = ""
	s.to = nil
}

func (s *memorySession) Logout() error {
	return nil
}

// TestSMTPServer is a running in-memory SMTP server bound to 127.0.0.1.
type TestSMTPServer struct {
	Host string
	Port int
	// RootCAs trusts the server certificate when TLS is enabled.
	RootCAs *x509.CertPool

	server  *smtp.Server
	backend *memoryBackend
}

// NewTestSMTPServer starts a server on a random port and stops it when the
// test finishes. By default it accepts the credentials test-user/test-pass.
func NewTestSMTPServer(t *testing.T, opts ...SMTPOption) *TestSMTPServer {
	t.Helper()

	o := &smtpOptions{username: "test-user", password: "test-pass"}
	for _, opt := range opts {
		opt(o)
	}

	be := &memoryBackend{opts: o}
	s := smtp.NewServer(be)
	s.Domain = "localhost"
	s.AllowInsecureAuth = true
	s.ReadTimeout = 10 * time.Second
	s.WriteTimeout = 10 * time.Second

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	ts := &TestSMTPServer{server: s, backend: be}

	if o.startTLS || o.implicitTLS {
		serverCfg, _, pool, err := tlsutil.SelfSigned("localhost", "127.0.0.1")
		if err != nil {
			t.Fatalf("failed to generate certificate: %v", err)
		}
		ts.RootCAs = pool
		if o.startTLS {
			s.TLSConfig = serverCfg
		}
		if o.implicitTLS {
			listener = tls.NewListener(listener, serverCfg)
		}
	}

	addr := listener.Addr().(*net.TCPAddr)
	ts.Host = addr.IP.String()
	ts.Port = addr.Port

	go func() {
		if err := s.Serve(listener); err != nil && !errors.Is(err, smtp.ErrServerClosed) {
			t.Logf("SMTP server error: %v", err)
		}
	}()

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Logf("failed to close SMTP server: %v", err)
		}
	})

	return ts
}

// Addr returns host:port.
func (s *TestSMTPServer) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Username returns the accepted username.
func (s *TestSMTPServer) Username() string {
	return s.backend.opts.username
}

// Password returns the accepted password.
func (s *TestSMTPServer) Password() string {
	return s.backend.opts.password
}

// ClientTLSConfig returns a client configuration that trusts the server.
func (s *TestSMTPServer) ClientTLSConfig() *tls.Config {
	return &tls.Config{
		ServerName: s.Host,
		RootCAs:    s.RootCAs,
		MinVersion: tls.VersionTLS12,
	}
}

// Messages returns a copy of the messages received so far.
func (s *TestSMTPServer) Messages() []Message {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	out := make([]Message, len(s.backend.messages))
	copy(out, s.backend.messages)
	return out
}
