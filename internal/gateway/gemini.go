package gateway

import (
	"context"
	"fmt"
	"iter"

	"google.golang.org/genai"
)

// Gemini calls Google's Gemini API through the genai SDK.
type Gemini struct {
	client *genai.Client
}

// NewGemini creates a Gemini gateway authenticated with apiKey.
func NewGemini(ctx context.Context, apiKey string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Gemini{client: client}, nil
}

// Generate returns the full response text.
func (g *Gemini) Generate(ctx context.Context, req Request) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, req.Model, genai.Text(req.Prompt), nil)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", errEmptyResponse
	}
	return text, nil
}

// Stream yields response fragments as the model produces them.
func (g *Gemini) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for resp, err := range g.client.Models.GenerateContentStream(ctx, req.Model, genai.Text(req.Prompt), nil) {
			if err != nil {
				yield("", fmt.Errorf("gemini stream: %w", err))
				return
			}
			if resp == nil {
				continue
			}
			if !yield(resp.Text(), nil) {
				return
			}
		}
	}
}
