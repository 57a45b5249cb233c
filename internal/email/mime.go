package email

import (
	"bytes"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jhillyerd/enmime"
)

// Rendered is an RFC 5322 message produced by BuildMIME.
type Rendered struct {
	From      string // bare envelope sender
	To        string // bare envelope recipient
	MessageID string
	Data      []byte
}

// BuildMIME renders msg as a multipart MIME message sent from the given
// address. The from value may carry a display name ("Name <addr>").
func BuildMIME(from string, msg *Message) (*Rendered, error) {
	sender, err := mail.ParseAddress(from)
	if err != nil {
		return nil, fmt.Errorf("invalid from address %q: %w", from, err)
	}
	rcpt, err := mail.ParseAddress(msg.To)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient address %q: %w", msg.To, err)
	}

	messageID := NewMessageID(sender.Address)

	builder := enmime.Builder().
		From(sender.Name, sender.Address).
		To(rcpt.Name, rcpt.Address).
		Subject(msg.Subject).
		Date(time.Now()).
		Header("Message-Id", messageID).
		HTML([]byte(msg.HTMLBody))

	for _, att := range msg.Attachments {
		builder = builder.AddAttachment(att.Content, att.ContentType, att.Filename)
	}

	root, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build MIME message: %w", err)
	}

	var buf bytes.Buffer
	if err := root.Encode(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode MIME message: %w", err)
	}

	return &Rendered{
		From:      sender.Address,
		To:        rcpt.Address,
		MessageID: messageID,
		Data:      buf.Bytes(),
	}, nil
}

// NewMessageID returns a fresh angle-bracketed Message-Id using the domain of addr.
func NewMessageID(addr string) string {
	domain := "localhost"
	if at := strings.LastIndex(addr, "@"); at >= 0 && at < len(addr)-1 {
		domain = addr[at+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}
