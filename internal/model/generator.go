// Package model wraps the language-model collaborator behind a small
// generation interface so the pipeline never talks to a vendor SDK directly.
package model

import (
	"context"
	"errors"
	"fmt"
)

// Generator produces a raw candidate response from context and query.
type Generator interface {
	// Generate returns the model's text for the given prompt parts.
	// Failures surface as *GenerationError.
	Generate(ctx context.Context, systemPrompt, contextBlob, query string) (string, error)
}

// GenerationError wraps collaborator failures (timeouts, exhaustion, API
// errors). The pipeline treats these as non-fatal and falls back.
type GenerationError struct {
	Op  string
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed (%s): %v", e.Op, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// IsGenerationError reports whether err is a generation failure.
func IsGenerationError(err error) bool {
	var ge *GenerationError
	return errors.As(err, &ge)
}

// Config holds generator configuration.
type Config struct {
	Provider    string // "gemini" or "mock"
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
}

// NewGenerator creates a generator based on configuration.
func NewGenerator(cfg Config) (Generator, error) {
	switch cfg.Provider {
	case "gemini":
		return NewGeminiGenerator(cfg)
	case "mock", "":
		return &StaticGenerator{}, nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", cfg.Provider)
	}
}

// StaticGenerator echoes a canned acknowledgement. Used by tests and by the
// mock provider so the loop can run without credentials.
type StaticGenerator struct {
	Reply string
}

// Generate returns the configured reply, or a plain acknowledgement.
func (g *StaticGenerator) Generate(_ context.Context, _, _, query string) (string, error) {
	if g.Reply != "" {
		return g.Reply, nil
	}
	return fmt.Sprintf("I hear you: %s", query), nil
}
