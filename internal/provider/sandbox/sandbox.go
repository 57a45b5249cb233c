// Package sandbox implements the last-resort Provider. It provisions a
// disposable mailbox from a nodemailer-compatible account API, submits the
// message through that mailbox's SMTP server and reports a web preview link.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/shineum/captionmail/internal/email"
	"github.com/shineum/captionmail/internal/provider"
	"github.com/shineum/captionmail/internal/provider/smtp"
)

// DefaultAPIURL is the public disposable-account service.
const DefaultAPIURL = "https://api.nodemailer.com"

// defaultWebURL is used when the account response does not name a web UI.
const defaultWebURL = "https://ethereal.email"

// requestor identifies this application to the account API.
const requestor = "captionmail"

// msgIDPattern extracts the sandbox message id from the DATA response,
// e.g. "Accepted [STATUS=new MSGID=Yh7x...]".
var msgIDPattern = regexp.MustCompile(`MSGID=([^\s\]]+)`)

// Config holds the sandbox provider settings.
type Config struct {
	APIURL  string
	From    string
	Version string
	Timeout time.Duration

	// HTTPClient overrides the client used for provisioning.
	HTTPClient *http.Client

	// SMTPAccount is applied on top of the provisioned SMTP account. Only
	// TLSConfig and Timeout are read.
	SMTPAccount smtp.Account
}

// Account is a provisioned disposable mailbox.
type Account struct {
	User string
	Pass string
	SMTP smtp.Account
	Web  string
}

// Provider delivers through a freshly provisioned disposable mailbox.
// Every failure is fatal because nothing follows it in the chain.
// @MX:ANCHOR: [AUTO] External system integration point for the disposable mailbox API
// @MX:REASON: Submissions with no real delivery channel always end here
type Provider struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a sandbox Provider.
func New(cfg Config, logger *slog.Logger) *Provider {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{cfg: cfg, httpClient: client, logger: logger}
}

// Name returns "sandbox".
func (p *Provider) Name() string {
	return "sandbox"
}

// Kind returns email.ProviderSandbox.
func (p *Provider) Kind() email.ProviderKind {
	return email.ProviderSandbox
}

// Attempt provisions a mailbox, sends msg through it and returns the preview URL.
func (p *Provider) Attempt(ctx context.Context, msg *email.Message) provider.Result {
	acct, err := p.Provision(ctx)
	if err != nil {
		return provider.Fatal(fmt.Errorf("sandbox provisioning failed: %w", err))
	}

	rendered, err := email.BuildMIME(p.cfg.From, msg)
	if err != nil {
		return provider.Fatal(err)
	}

	status, err := smtp.Deliver(ctx, acct.SMTP, rendered)
	if err != nil {
		return provider.Fatal(fmt.Errorf("sandbox delivery failed: %w", err))
	}

	previewURL := PreviewURL(acct.Web, status)
	p.logger.Debug("sandbox mailbox accepted message",
		"user", acct.User,
		"message_id", rendered.MessageID,
		"preview_url", previewURL,
	)

	return provider.Result{
		Status:     provider.Delivered,
		Info:       rendered.MessageID,
		PreviewURL: previewURL,
	}
}

// Provision requests a new disposable mailbox from the account API.
func (p *Provider) Provision(ctx context.Context) (*Account, error) {
	body, err := json.Marshal(accountRequest{Requestor: requestor, Version: p.cfg.Version})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	url := strings.TrimRight(p.cfg.APIURL, "/") + "/user"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("account API returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var ar accountResponse
	if err := json.Unmarshal(respBody, &ar); err != nil {
		return nil, fmt.Errorf("failed to decode account response: %w", err)
	}
	if ar.Status != "success" {
		msg := ar.Error
		if msg == "" {
			msg = "status " + ar.Status
		}
		return nil, fmt.Errorf("account API refused request: %s", msg)
	}
	if ar.User == "" || ar.Pass == "" || ar.SMTP.Host == "" || ar.SMTP.Port == 0 {
		return nil, fmt.Errorf("account API returned incomplete credentials")
	}

	web := ar.Web
	if web == "" {
		web = defaultWebURL
	}

	return &Account{
		User: ar.User,
		Pass: ar.Pass,
		SMTP: smtp.Account{
			Host:        ar.SMTP.Host,
			Port:        ar.SMTP.Port,
			Username:    ar.User,
			Password:    ar.Pass,
			ImplicitTLS: ar.SMTP.Secure,
			TLSConfig:   p.cfg.SMTPAccount.TLSConfig,
			Timeout:     p.cfg.SMTPAccount.Timeout,
		},
		Web: strings.TrimRight(web, "/"),
	}, nil
}

// PreviewURL builds the web link for a message accepted with the given DATA
// response. Without a message id it links to the mailbox inbox.
func PreviewURL(web, status string) string {
	if m := msgIDPattern.FindStringSubmatch(status); m != nil {
		return web + "/message/" + m[1]
	}
	return web + "/messages"
}
