// Package gemini wraps the Gemini API for the chat routes and the live
// voice sessions.
package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Config carries the API key and generation parameters shared by the chat
// and live services.
type Config struct {
	APIKey string

	Temperature     float64
	TopP            float64
	TopK            int
	MaxOutputTokens int
}

// Client owns the underlying genai client.
type Client struct {
	cfg    Config
	client *genai.Client
}

// New creates a Gemini API client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}
	return &Client{cfg: cfg, client: client}, nil
}

func (c *Client) generationConfig(instructions string) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(c.cfg.Temperature)),
		TopP:            genai.Ptr(float32(c.cfg.TopP)),
		TopK:            genai.Ptr(float32(c.cfg.TopK)),
		MaxOutputTokens: int32(c.cfg.MaxOutputTokens),
		Tools:           []*genai.Tool{searchProductsTool()},
	}
	if instructions != "" {
		cfg.SystemInstruction = genai.NewContentFromText(instructions, genai.RoleUser)
	}
	return cfg
}
