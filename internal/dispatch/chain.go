package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shineum/captionmail/internal/config"
	"github.com/shineum/captionmail/internal/provider"
	"github.com/shineum/captionmail/internal/provider/graph"
	"github.com/shineum/captionmail/internal/provider/resend"
	"github.com/shineum/captionmail/internal/provider/sandbox"
	"github.com/shineum/captionmail/internal/provider/sendgrid"
	"github.com/shineum/captionmail/internal/provider/ses"
	"github.com/shineum/captionmail/internal/provider/smtp"
	tlsutil "github.com/shineum/captionmail/internal/tls"
)

// FromConfig builds the delivery chain primary SMTP, API relay, sandbox.
// Unconfigured stages are left out. version is reported to the sandbox
// account API.
func FromConfig(ctx context.Context, cfg *config.Config, version string, logger *slog.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var chain []provider.Provider

	if cfg.SMTPConfigured() {
		tlsCfg, err := tlsutil.ClientConfig(cfg.SMTP.Host, cfg.SMTP.CAFile)
		if err != nil {
			return nil, fmt.Errorf("smtp TLS: %w", err)
		}
		chain = append(chain, smtp.New(smtp.Config{
			Account: smtp.Account{
				Host:      cfg.SMTP.Host,
				Port:      cfg.SMTP.Port,
				Username:  cfg.SMTP.Username,
				Password:  cfg.SMTP.Password,
				TLSConfig: tlsCfg,
				Timeout:   cfg.SMTP.Timeout,
			},
			From:      cfg.EmailFrom,
			FailFatal: cfg.SMTPFailureIsFatal(),
		}, logger))
	}

	relay, err := relayFromConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if relay != nil {
		chain = append(chain, relay)
	}

	if !cfg.Sandbox.Disabled {
		chain = append(chain, sandbox.New(sandbox.Config{
			APIURL:      cfg.Sandbox.APIURL,
			From:        cfg.EmailFrom,
			Version:     version,
			Timeout:     cfg.Relay.Timeout,
			SMTPAccount: smtp.Account{Timeout: cfg.SMTP.Timeout},
		}, logger))
	}

	d := New(logger, chain...)
	logger.Info("delivery chain configured", "providers", d.Providers())
	return d, nil
}

// relayFromConfig returns the API relay selected by cfg.RelayKind, or nil.
func relayFromConfig(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	switch cfg.RelayKind() {
	case config.RelayResend:
		return resend.New(resend.Config{
			APIKey:  cfg.Resend.APIKey,
			BaseURL: cfg.Resend.BaseURL,
			From:    cfg.EmailFrom,
			Timeout: cfg.Relay.Timeout,
		}), nil
	case config.RelaySendGrid:
		return sendgrid.New(sendgrid.Config{
			APIKey:  cfg.SendGrid.APIKey,
			BaseURL: cfg.SendGrid.BaseURL,
			From:    cfg.EmailFrom,
			Timeout: cfg.Relay.Timeout,
		}), nil
	case config.RelaySES:
		p, err := ses.New(ctx, ses.Config{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
			Sender:          cfg.SES.Sender,
			Timeout:         cfg.Relay.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("ses relay: %w", err)
		}
		return p, nil
	case config.RelayGraph:
		return graph.New(graph.Config{
			TenantID:     cfg.Graph.TenantID,
			ClientID:     cfg.Graph.ClientID,
			ClientSecret: cfg.Graph.ClientSecret,
			Sender:       cfg.Graph.Sender,
			Timeout:      cfg.Relay.Timeout,
		}), nil
	default:
		return nil, nil
	}
}
