// Package sendgrid implements a Provider that relays messages through the
// SendGrid v3 mail send API.
package sendgrid

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sendgrid/rest"
	sg "github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/shineum/captionmail/internal/email"
	"github.com/shineum/captionmail/internal/provider"
)

const (
	// DefaultBaseURL is the production SendGrid API host.
	DefaultBaseURL = "https://api.sendgrid.com"

	sendEndpoint    = "/v3/mail/send"
	messageIDHeader = "X-Message-Id"
)

// Config holds the configuration for creating a SendGrid Provider.
type Config struct {
	APIKey  string
	BaseURL string
	From    string
	Timeout time.Duration
}

// Provider sends emails via the SendGrid API. Every failure is soft.
type Provider struct {
	cfg Config
}

// New creates a SendGrid Provider.
func New(cfg Config) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Provider{cfg: cfg}
}

// Name returns "sendgrid".
func (p *Provider) Name() string {
	return "sendgrid"
}

// Kind returns email.ProviderAPIRelay.
func (p *Provider) Kind() email.ProviderKind {
	return email.ProviderAPIRelay
}

// Attempt submits msg once. The message id comes from the X-Message-Id header.
func (p *Provider) Attempt(ctx context.Context, msg *email.Message) provider.Result {
	id, err := p.send(ctx, msg)
	if err != nil {
		return provider.Soft(fmt.Errorf("sendgrid: %w", err))
	}
	return provider.Success(id)
}

func (p *Provider) send(ctx context.Context, msg *email.Message) (string, error) {
	m, err := buildMail(p.cfg.From, msg)
	if err != nil {
		return "", err
	}

	req := sg.GetRequest(p.cfg.APIKey, sendEndpoint, p.cfg.BaseURL)
	req.Method = rest.Post
	req.Body = mail.GetRequestBody(m)

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	resp, err := sg.MakeRequestWithContext(ctx, req)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("API error (HTTP %d): %s", resp.StatusCode, strings.TrimSpace(resp.Body))
	}

	id := http.Header(resp.Headers).Get(messageIDHeader)
	if id == "" {
		return "", errors.New("response carried no message id")
	}
	return id, nil
}

func buildMail(from string, msg *email.Message) (*mail.SGMailV3, error) {
	sender, err := mail.ParseEmail(from)
	if err != nil {
		return nil, fmt.Errorf("invalid from address %q: %w", from, err)
	}
	rcpt, err := mail.ParseEmail(msg.To)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient address %q: %w", msg.To, err)
	}

	m := mail.NewV3Mail()
	m.SetFrom(sender)
	m.Subject = msg.Subject

	p := mail.NewPersonalization()
	p.AddTos(rcpt)
	m.AddPersonalizations(p)
	m.AddContent(mail.NewContent("text/html", msg.HTMLBody))

	for _, att := range msg.Attachments {
		a := mail.NewAttachment()
		a.SetContent(base64.StdEncoding.EncodeToString(att.Content))
		a.SetType(att.ContentType)
		a.SetFilename(att.Filename)
		a.SetDisposition("attachment")
		m.AddAttachment(a)
	}

	return m, nil
}
