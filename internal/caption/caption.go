// Package caption produces short social-media captions for uploaded photos.
//
// A Generator first asks its configured AI Backend. Any backend failure or
// empty answer is logged and absorbed, and a deterministic caption derived
// from the user's context text is returned instead, so callers always get a
// usable caption.
package caption

import (
	"context"
	"encoding/base64"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// DefaultContext replaces empty context text in the fallback caption.
	DefaultContext = "A memorable moment captured perfectly."

	// MaxFallbackRunes bounds the length of a fallback caption.
	MaxFallbackRunes = 220

	// MaxTokens caps the length of an AI generated caption.
	MaxTokens = 120

	fallbackMarker = " ✨"
)

const systemPrompt = "You write short, catchy, human-like social captions. 1-2 sentences. Avoid hashtags unless clearly helpful."

// SourceFallback marks a caption produced without an AI backend.
const SourceFallback = "fallback"

// Request is the input to caption generation.
type Request struct {
	// Context is free text supplied by the user. May be empty.
	Context string
	// Image is the original upload. Optional.
	Image     []byte
	ImageMime string
}

// Caption is a generated caption and where it came from.
type Caption struct {
	Text   string
	Source string
}

// Backend is a remote AI model able to caption a photo.
type Backend interface {
	// Caption returns the raw model answer.
	Caption(ctx context.Context, req Request) (string, error)

	// Name returns the human-readable name of this backend.
	Name() string
}

// Generator produces captions, preferring its Backend when one is set.
type Generator struct {
	logger  *slog.Logger
	backend Backend
	timeout time.Duration
}

// New creates a Generator. A nil backend always yields the fallback caption.
// A zero timeout leaves the backend call bounded only by ctx.
func New(logger *slog.Logger, backend Backend, timeout time.Duration) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		logger:  logger,
		backend: backend,
		timeout: timeout,
	}
}

// Generate never fails: backend errors fall through to Fallback.
func (g *Generator) Generate(ctx context.Context, req Request) Caption {
	if g.backend != nil {
		text, err := g.ask(ctx, req)
		switch {
		case err != nil:
			g.logger.Warn("caption backend failed, using fallback",
				"backend", g.backend.Name(),
				"error", err,
			)
		case text == "":
			g.logger.Warn("caption backend returned empty text, using fallback",
				"backend", g.backend.Name(),
			)
		default:
			g.logger.Debug("caption generated", "backend", g.backend.Name())
			return Caption{Text: text, Source: g.backend.Name()}
		}
	}

	return Caption{Text: Fallback(req.Context), Source: SourceFallback}
}

func (g *Generator) ask(ctx context.Context, req Request) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	text, err := g.backend.Caption(ctx, req)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// Fallback builds the deterministic caption for the given context text.
func Fallback(contextText string) string {
	base := strings.TrimSpace(contextText)
	if base == "" {
		base = DefaultContext
	}
	if !strings.HasSuffix(base, ".") {
		base += "."
	}
	return truncateRunes(base+fallbackMarker, MaxFallbackRunes)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// userPrompt is the text part of the request sent to every backend.
func userPrompt(contextText string) string {
	c := strings.TrimSpace(contextText)
	if c == "" {
		c = "(none)"
	}
	return "Context: " + c + "\nCreate the best caption for this photo."
}

func imageMime(req Request) string {
	if req.ImageMime == "" {
		return "image/jpeg"
	}
	return req.ImageMime
}

func dataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
