// Package dispatch walks an ordered chain of delivery providers and reports
// which one handled a message.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shineum/captionmail/internal/email"
	"github.com/shineum/captionmail/internal/provider"
)

// DeliveryError is returned when a provider reports a fatal failure.
type DeliveryError struct {
	Provider email.ProviderKind
	Name     string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery via %s (%s) failed: %v", e.Provider, e.Name, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Dispatcher tries providers in order until one delivers.
type Dispatcher struct {
	providers []provider.Provider
	logger    *slog.Logger
}

// New creates a Dispatcher over the given providers, highest priority first.
func New(logger *slog.Logger, providers ...provider.Provider) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{providers: providers, logger: logger}
}

// Providers returns the names of the chain in priority order.
func (d *Dispatcher) Providers() []string {
	names := make([]string, 0, len(d.providers))
	for _, p := range d.providers {
		names = append(names, p.Name())
	}
	return names
}

// Dispatch delivers msg through the first provider that accepts it. A soft
// failure moves on to the next provider; a fatal failure stops the chain and
// is returned as a *DeliveryError. When every provider soft-fails the result
// is email.NotSent().
func (d *Dispatcher) Dispatch(ctx context.Context, msg *email.Message) (email.Outcome, error) {
	for _, p := range d.providers {
		res := p.Attempt(ctx, msg)

		switch res.Status {
		case provider.Delivered:
			out := email.Outcome{
				Sent:     true,
				Provider: p.Kind(),
				Info:     res.Info,
			}
			if p.Kind() == email.ProviderSandbox {
				out.PreviewURL = res.PreviewURL
			}
			d.logger.Info("email delivered",
				"provider", p.Name(),
				"kind", string(p.Kind()),
				"info", res.Info,
			)
			return out, nil

		case provider.FatalFailure:
			d.logger.Error("email delivery failed",
				"provider", p.Name(),
				"kind", string(p.Kind()),
				"error", res.Err,
			)
			return email.Outcome{}, &DeliveryError{Provider: p.Kind(), Name: p.Name(), Err: res.Err}

		default:
			d.logger.Warn("email provider failed, trying next",
				"provider", p.Name(),
				"kind", string(p.Kind()),
				"error", res.Err,
			)
		}
	}

	d.logger.Warn("no email provider accepted the message", "providers", len(d.providers))
	return email.NotSent(), nil
}
