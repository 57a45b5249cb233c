package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/shineum/captionmail/internal/email"
	"github.com/shineum/captionmail/internal/provider"
)

const (
	graphScope     = "https://graph.microsoft.com/.default"
	defaultTimeout = 15 * time.Second

	// requestIDHeader identifies the accepted request; sendMail returns no body.
	requestIDHeader = "request-id"
)

// Config holds the configuration for creating a Graph Provider.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Sender       string
	Timeout      time.Duration
}

// Provider sends emails via the Microsoft Graph API using OAuth2
// client credentials authentication. Every failure is soft.
// @MX:ANCHOR: [AUTO] External system integration point for Microsoft Graph API
// @MX:REASON: Relay delivery flows through this provider when Graph is configured
type Provider struct {
	graphURL   string
	timeout    time.Duration
	httpClient *http.Client
	tokens     oauth2.TokenSource
}

// New creates a Graph Provider for the sender's mailbox.
func New(cfg Config) *Provider {
	tokenURL := fmt.Sprintf(
		"https://login.microsoftonline.com/%s/oauth2/v2.0/token",
		url.PathEscape(cfg.TenantID),
	)
	graphURL := fmt.Sprintf(
		"https://graph.microsoft.com/v1.0/users/%s/sendMail",
		url.PathEscape(cfg.Sender),
	)
	return newWithOverrides(cfg, graphURL, tokenURL, &http.Client{})
}

// newWithOverrides creates a Provider with custom URLs and HTTP client,
// used for testing.
func newWithOverrides(cfg Config, graphURL, tokenURL string, client *http.Client) *Provider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       []string{graphScope},
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	// The token source keeps this context for every refresh.
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{
		Transport: client.Transport,
		Timeout:   cfg.Timeout,
	})

	return &Provider{
		graphURL:   graphURL,
		timeout:    cfg.Timeout,
		httpClient: client,
		tokens:     cc.TokenSource(tokenCtx),
	}
}

// Name returns the provider name.
func (g *Provider) Name() string {
	return "msgraph"
}

// Kind returns email.ProviderAPIRelay.
func (g *Provider) Kind() email.ProviderKind {
	return email.ProviderAPIRelay
}

// Attempt posts msg to sendMail once. Graph answers 202 with no body, so the
// request-id response header is reported as the message id.
func (g *Provider) Attempt(ctx context.Context, msg *email.Message) provider.Result {
	id, err := g.send(ctx, msg)
	if err != nil {
		return provider.Soft(fmt.Errorf("msgraph: %w", err))
	}
	return provider.Success(id)
}

func (g *Provider) send(ctx context.Context, msg *email.Message) (string, error) {
	bodyJSON, err := json.Marshal(buildSendMailRequest(msg))
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	token, err := g.tokens.Token()
	if err != nil {
		return "", fmt.Errorf("failed to get access token: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.graphURL, bytes.NewReader(bodyJSON))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	token.SetAuthHeader(req)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		id := resp.Header.Get(requestIDHeader)
		if id == "" {
			return "", errors.New("response carried no request-id")
		}
		return id, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var graphErrResp graphErrorResponse
	if jsonErr := json.Unmarshal(body, &graphErrResp); jsonErr == nil && graphErrResp.Error.Message != "" {
		return "", &sendError{
			statusCode: resp.StatusCode,
			code:       graphErrResp.Error.Code,
			message:    graphErrResp.Error.Message,
		}
	}

	return "", &sendError{statusCode: resp.StatusCode, message: strings.TrimSpace(string(body))}
}

// sendError is a non-2xx answer from the sendMail endpoint.
type sendError struct {
	statusCode int
	code       string
	message    string
}

func (e *sendError) Error() string {
	if e.code != "" {
		return fmt.Sprintf("Graph API error (HTTP %d, %s): %s", e.statusCode, e.code, e.message)
	}
	return fmt.Sprintf("Graph API error (HTTP %d): %s", e.statusCode, e.message)
}
