// Package provider defines the interface for email delivery backends and the
// result each delivery attempt reports back to the dispatcher.
package provider

import (
	"context"

	"github.com/shineum/captionmail/internal/email"
)

// Provider is the interface that email delivery backends must implement.
type Provider interface {
	// Attempt tries to deliver msg once. Implementations classify their own
	// failures; they never retry.
	Attempt(ctx context.Context, msg *email.Message) Result

	// Kind reports the delivery path this provider represents.
	Kind() email.ProviderKind

	// Name returns the human-readable name of this provider.
	Name() string
}

// Status classifies the result of a delivery attempt.
type Status int

const (
	// Delivered means the provider accepted the message.
	Delivered Status = iota
	// SoftFailure means the next provider in the chain should be tried.
	SoftFailure
	// FatalFailure aborts the submission.
	FatalFailure
)

func (s Status) String() string {
	switch s {
	case Delivered:
		return "delivered"
	case SoftFailure:
		return "soft_failure"
	case FatalFailure:
		return "fatal_failure"
	default:
		return "unknown"
	}
}

// Result is what a single Attempt reports.
type Result struct {
	Status Status
	// Info is the provider message id, when one is known.
	Info string
	// PreviewURL is only set by the sandbox provider.
	PreviewURL string
	Err        error
}

// Success builds a Delivered result.
func Success(info string) Result {
	return Result{Status: Delivered, Info: info}
}

// Soft builds a SoftFailure result.
func Soft(err error) Result {
	return Result{Status: SoftFailure, Err: err}
}

// Fatal builds a FatalFailure result.
func Fatal(err error) Result {
	return Result{Status: FatalFailure, Err: err}
}
