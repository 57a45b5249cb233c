// Package smtp delivers messages over authenticated SMTP submission. It backs
// both the primary SMTP provider and the sandbox mailbox.
package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"

	"github.com/shineum/captionmail/internal/email"
	"github.com/shineum/captionmail/internal/provider"
)

// ImplicitTLSPort is the submission port that expects TLS from the first byte.
const ImplicitTLSPort = 465

const defaultTimeout = 30 * time.Second

// Account describes an SMTP submission endpoint and its credentials.
type Account struct {
	Host     string
	Port     int
	Username string
	Password string

	// ImplicitTLS dials straight into TLS. Otherwise STARTTLS is used when
	// the server advertises it.
	ImplicitTLS bool

	// TLSConfig overrides the client TLS settings. Nil verifies Host against
	// the system roots.
	TLSConfig *tls.Config

	// Timeout bounds dialing and every SMTP command.
	Timeout time.Duration
}

// Deliver submits a rendered message to the account's server and returns the
// server's final DATA response text.
func Deliver(ctx context.Context, acct Account, msg *email.Rendered) (string, error) {
	timeout := acct.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	tlsCfg := acct.TLSConfig
	if tlsCfg == nil {
		tlsCfg = &tls.Config{ServerName: acct.Host, MinVersion: tls.VersionTLS12}
	}

	addr := net.JoinHostPort(acct.Host, strconv.Itoa(acct.Port))

	c, err := connect(ctx, acct, addr, timeout, tlsCfg)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("smtp delivery to %s aborted: %w", addr, ctxErr)
		}
		return "", err
	}
	c.CommandTimeout = timeout
	c.SubmissionTimeout = timeout
	defer c.Close()

	// Closing the connection unblocks any in-flight command.
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	status, err := submit(c, acct, msg)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("smtp delivery to %s aborted: %w", addr, ctxErr)
		}
		return "", err
	}
	return status, nil
}

// errNoSTARTTLS is the text go-smtp reports when STARTTLS is not advertised.
const errNoSTARTTLS = "doesn't support STARTTLS"

// connect returns a client ready for AUTH. Without implicit TLS it upgrades
// with STARTTLS, and redials for a plain session only when the server does
// not advertise the extension.
func connect(ctx context.Context, acct Account, addr string, timeout time.Duration, tlsCfg *tls.Config) (*gosmtp.Client, error) {
	conn, err := dial(ctx, acct.ImplicitTLS, addr, timeout, tlsCfg)
	if err != nil {
		return nil, err
	}
	if acct.ImplicitTLS {
		return gosmtp.NewClient(conn), nil
	}

	c, err := startTLS(ctx, conn, timeout, tlsCfg)
	if err == nil {
		return c, nil
	}
	if !strings.Contains(err.Error(), errNoSTARTTLS) {
		return nil, fmt.Errorf("STARTTLS failed: %w", err)
	}

	conn, err = dial(ctx, false, addr, timeout, tlsCfg)
	if err != nil {
		return nil, err
	}
	return gosmtp.NewClient(conn), nil
}

// startTLS runs the greeting, EHLO and STARTTLS exchange within timeout.
func startTLS(ctx context.Context, conn net.Conn, timeout time.Duration, tlsCfg *tls.Config) (*gosmtp.Client, error) {
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(hctx, func() { _ = conn.Close() })

	c, err := gosmtp.NewClientStartTLS(conn, tlsCfg)
	if !stop() {
		if err == nil {
			_ = c.Close()
		}
		return nil, fmt.Errorf("STARTTLS negotiation: %w", hctx.Err())
	}
	return c, err
}

func dial(ctx context.Context, implicitTLS bool, addr string, timeout time.Duration, tlsCfg *tls.Config) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: timeout}

	var (
		conn net.Conn
		err  error
	)
	if implicitTLS {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsCfg}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return conn, nil
}

func submit(c *gosmtp.Client, acct Account, msg *email.Rendered) (string, error) {
	if acct.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", acct.Username, acct.Password)); err != nil {
			return "", fmt.Errorf("authentication failed: %w", err)
		}
	}

	if err := c.Mail(msg.From, nil); err != nil {
		return "", fmt.Errorf("MAIL FROM rejected: %w", err)
	}
	if err := c.Rcpt(msg.To, nil); err != nil {
		return "", fmt.Errorf("RCPT TO rejected: %w", err)
	}

	w, err := c.Data()
	if err != nil {
		return "", fmt.Errorf("DATA rejected: %w", err)
	}
	if _, err := w.Write(msg.Data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to write message: %w", err)
	}
	resp, err := w.CloseWithResponse()
	if err != nil {
		return "", fmt.Errorf("message rejected: %w", err)
	}

	// The message is already accepted; a failed QUIT does not undo that.
	_ = c.Quit()

	return resp.StatusText, nil
}

// Config holds the primary SMTP provider settings.
type Config struct {
	Account

	// From is the From header, optionally with a display name.
	From string

	// FailFatal turns every failure into a FatalFailure. When false the
	// dispatcher moves on to the next provider.
	FailFatal bool
}

// Provider is the primary SMTP delivery path.
type Provider struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a primary SMTP provider. The port selects the connection
// security mode: ImplicitTLSPort dials TLS, anything else upgrades with
// STARTTLS when offered.
func New(cfg Config, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.ImplicitTLS = cfg.Port == ImplicitTLSPort
	return &Provider{cfg: cfg, logger: logger}
}

// Name returns "smtp".
func (p *Provider) Name() string {
	return "smtp"
}

// Kind returns email.ProviderPrimarySMTP.
func (p *Provider) Kind() email.ProviderKind {
	return email.ProviderPrimarySMTP
}

// Attempt renders msg and submits it once.
func (p *Provider) Attempt(ctx context.Context, msg *email.Message) provider.Result {
	rendered, err := email.BuildMIME(p.cfg.From, msg)
	if err != nil {
		return p.fail(err)
	}

	status, err := Deliver(ctx, p.cfg.Account, rendered)
	if err != nil {
		return p.fail(err)
	}

	p.logger.Debug("smtp server accepted message",
		"host", p.cfg.Host,
		"message_id", rendered.MessageID,
		"response", status,
	)
	return provider.Success(rendered.MessageID)
}

func (p *Provider) fail(err error) provider.Result {
	err = fmt.Errorf("smtp %s: %w", p.cfg.Host, err)
	if p.cfg.FailFatal {
		return provider.Fatal(err)
	}
	return provider.Soft(err)
}
