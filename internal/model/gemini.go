package model

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiGenerator calls the Gemini API through the genai SDK.
type GeminiGenerator struct {
	client      *genai.Client
	model       string
	temperature float32
	maxTokens   int32
}

// NewGeminiGenerator creates a Gemini-backed generator.
func NewGeminiGenerator(cfg Config) (*GeminiGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 512
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GeminiGenerator{
		client:      client,
		model:       model,
		temperature: float32(cfg.Temperature),
		maxTokens:   int32(maxTokens),
	}, nil
}

// Generate produces a response for the query given the assembled context.
func (g *GeminiGenerator) Generate(ctx context.Context, systemPrompt, contextBlob, query string) (string, error) {
	var sb strings.Builder
	if contextBlob != "" {
		sb.WriteString("Context:\n")
		sb.WriteString(contextBlob)
		sb.WriteString("\n\n")
	}
	sb.WriteString("User: ")
	sb.WriteString(query)

	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(g.temperature),
		MaxOutputTokens: g.maxTokens,
	}
	if systemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}

	contents := []*genai.Content{
		genai.NewContentFromText(sb.String(), genai.RoleUser),
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return "", &GenerationError{Op: "gemini", Err: err}
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", &GenerationError{Op: "gemini", Err: fmt.Errorf("empty response")}
	}
	return text, nil
}
