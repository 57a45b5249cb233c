// Package resend implements a Provider that relays messages through the
// Resend HTTP API.
package resend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shineum/captionmail/internal/email"
	"github.com/shineum/captionmail/internal/provider"
)

// DefaultBaseURL is the production Resend API.
const DefaultBaseURL = "https://api.resend.com"

// Config holds the configuration for creating a Resend Provider.
type Config struct {
	APIKey  string
	BaseURL string
	From    string
	Timeout time.Duration
}

// Provider sends emails via POST /emails. Every failure is soft.
type Provider struct {
	apiKey     string
	from       string
	endpoint   string
	timeout    time.Duration
	httpClient *http.Client
}

// New creates a Resend Provider.
func New(cfg Config) *Provider {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Provider{
		apiKey:     cfg.APIKey,
		from:       cfg.From,
		endpoint:   strings.TrimRight(base, "/") + "/emails",
		timeout:    cfg.Timeout,
		httpClient: &http.Client{},
	}
}

// Name returns "resend".
func (p *Provider) Name() string {
	return "resend"
}

// Kind returns email.ProviderAPIRelay.
func (p *Provider) Kind() email.ProviderKind {
	return email.ProviderAPIRelay
}

// Attempt posts msg once and reports the returned id.
func (p *Provider) Attempt(ctx context.Context, msg *email.Message) provider.Result {
	id, err := p.send(ctx, msg)
	if err != nil {
		return provider.Soft(fmt.Errorf("resend: %w", err))
	}
	return provider.Success(id)
}

func (p *Provider) send(ctx context.Context, msg *email.Message) (string, error) {
	bodyJSON, err := json.Marshal(buildSendRequest(p.from, msg))
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(bodyJSON))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp errorResponse
		if jsonErr := json.Unmarshal(body, &errResp); jsonErr == nil && errResp.Message != "" {
			return "", fmt.Errorf("API error (HTTP %d): %s", resp.StatusCode, errResp.Message)
		}
		return "", fmt.Errorf("API error (HTTP %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var sr sendResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if sr.ID == "" {
		return "", errors.New("response carried no message id")
	}
	return sr.ID, nil
}

func buildSendRequest(from string, msg *email.Message) *sendRequest {
	attachments := make([]attachment, 0, len(msg.Attachments))
	for _, att := range msg.Attachments {
		attachments = append(attachments, attachment{
			Filename:    att.Filename,
			Content:     base64.StdEncoding.EncodeToString(att.Content),
			ContentType: att.ContentType,
		})
	}
	return &sendRequest{
		From:        from,
		To:          []string{msg.To},
		Subject:     msg.Subject,
		HTML:        msg.HTMLBody,
		Attachments: attachments,
	}
}
