// Package submission turns an uploaded photo into a captioned thumbnail and
// emails both to the submitter.
package submission

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"html/template"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/shineum/captionmail/internal/caption"
	"github.com/shineum/captionmail/internal/email"
	"github.com/shineum/captionmail/internal/thumbnail"
)

const (
	// Subject is the subject line of every notification.
	Subject = "Your AI Caption and Thumbnail"

	// AttachmentName is the filename of the attached thumbnail.
	AttachmentName = "thumbnail.jpg"
)

var bodyTemplate = template.Must(template.New("body").Parse(`
<div style="font-family:system-ui,Segoe UI,Arial,sans-serif;color:#111">
  <h2 style="margin:0 0 12px">Your AI Caption</h2>
  <p style="margin:0 0 16px;white-space:pre-line">{{.Caption}}</p>
  <h3 style="margin:20px 0 8px">Thumbnail</h3>
  <img src="{{.Thumbnail}}" alt="thumbnail" style="max-width:100%;border-radius:8px;border:1px solid #eee" />
</div>`))

// Submission is one uploaded photo with its optional context text.
type Submission struct {
	Email     string
	Text      string
	Image     []byte
	ImageMime string
}

// Result is returned to the submitter.
type Result struct {
	Caption          string        `json:"caption"`
	ThumbnailDataURL string        `json:"thumbnailDataUrl"`
	Email            string        `json:"email"`
	EmailResult      email.Outcome `json:"emailResult"`
}

// ValidationError reports a submission the caller must correct.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Captioner produces a caption. It never fails.
type Captioner interface {
	Generate(ctx context.Context, req caption.Request) caption.Caption
}

// Dispatcher delivers a message and reports which provider handled it.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg *email.Message) (email.Outcome, error)
}

// Service runs submissions.
type Service struct {
	captions   Captioner
	dispatcher Dispatcher
	logger     *slog.Logger
}

// New creates a Service.
func New(logger *slog.Logger, captions Captioner, dispatcher Dispatcher) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		captions:   captions,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Submit validates sub, builds the thumbnail and caption concurrently, emails
// them and returns the combined result. Validation failures are returned as
// *ValidationError; thumbnail and fatal delivery failures abort the submission.
func (s *Service) Submit(ctx context.Context, sub Submission) (*Result, error) {
	to := strings.TrimSpace(sub.Email)
	if to == "" {
		return nil, &ValidationError{Message: "Missing email"}
	}
	if len(sub.Image) == 0 {
		return nil, &ValidationError{Message: "Missing image"}
	}

	var (
		thumb *thumbnail.Thumbnail
		capt  caption.Caption
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t, err := thumbnail.Generate(sub.Image)
		if err != nil {
			return err
		}
		thumb = t
		return nil
	})
	g.Go(func() error {
		capt = s.captions.Generate(gctx, caption.Request{
			Context:   strings.TrimSpace(sub.Text),
			Image:     sub.Image,
			ImageMime: sub.ImageMime,
		})
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	thumbURL := "data:" + thumb.ContentType + ";base64," + base64.StdEncoding.EncodeToString(thumb.Bytes)

	html, err := renderBody(capt.Text, thumbURL)
	if err != nil {
		return nil, err
	}

	msg := &email.Message{
		To:       to,
		Subject:  Subject,
		HTMLBody: html,
		Attachments: []email.Attachment{
			{
				Filename:    AttachmentName,
				ContentType: thumb.ContentType,
				Content:     thumb.Bytes,
			},
		},
	}

	outcome, err := s.dispatcher.Dispatch(ctx, msg)
	if err != nil {
		return nil, err
	}

	s.logger.Info("submission processed",
		"caption_source", capt.Source,
		"thumbnail_width", thumb.Width,
		"thumbnail_height", thumb.Height,
		"sent", outcome.Sent,
		"provider", string(outcome.Provider),
	)

	return &Result{
		Caption:          capt.Text,
		ThumbnailDataURL: thumbURL,
		Email:            to,
		EmailResult:      outcome,
	}, nil
}

// renderBody escapes the caption and embeds the thumbnail inline.
func renderBody(captionText, thumbURL string) (string, error) {
	var buf bytes.Buffer
	err := bodyTemplate.Execute(&buf, struct {
		Caption   string
		Thumbnail template.URL
	}{
		Caption:   captionText,
		Thumbnail: template.URL(thumbURL),
	})
	if err != nil {
		return "", fmt.Errorf("failed to render email body: %w", err)
	}
	return buf.String(), nil
}
