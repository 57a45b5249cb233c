package caption

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Gemini captions photos with a Google Gemini model.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini backend. baseURL may be empty for the public API.
func NewGemini(ctx context.Context, apiKey, model, baseURL string) (*Gemini, error) {
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &Gemini{client: client, model: model}, nil
}

// Caption implements Backend.
func (g *Gemini) Caption(ctx context.Context, req Request) (string, error) {
	parts := []*genai.Part{genai.NewPartFromText(userPrompt(req.Context))}
	if len(req.Image) > 0 {
		parts = append(parts, genai.NewPartFromBytes(req.Image, imageMime(req)))
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
			Temperature:       genai.Ptr[float32](0.7),
			MaxOutputTokens:   MaxTokens,
		},
	)
	if err != nil {
		return "", fmt.Errorf("gemini generate content failed: %w", err)
	}

	return resp.Text(), nil
}

// Name returns the backend name.
func (g *Gemini) Name() string {
	return "gemini"
}
