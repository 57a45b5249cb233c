// Package email defines the notification message and delivery outcome types
// shared by the orchestrator, the dispatcher and every delivery provider.
package email

// ProviderKind identifies which delivery path handled a message.
type ProviderKind string

const (
	ProviderPrimarySMTP ProviderKind = "primary-smtp"
	ProviderAPIRelay    ProviderKind = "api-relay"
	ProviderSandbox     ProviderKind = "sandbox"
	ProviderNone        ProviderKind = "none"
)

// Message is a notification ready for delivery.
type Message struct {
	To          string
	Subject     string
	HTMLBody    string
	Attachments []Attachment
}

// Attachment represents a file attached to an email message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Outcome describes the result of dispatching a single Message.
type Outcome struct {
	Sent       bool         `json:"sent"`
	Provider   ProviderKind `json:"provider"`
	Info       string       `json:"info,omitempty"`
	PreviewURL string       `json:"previewUrl,omitempty"`
}

// NotSent is the outcome reported when no provider accepted the message.
func NotSent() Outcome {
	return Outcome{Sent: false, Provider: ProviderNone}
}
