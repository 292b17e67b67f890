package persona

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"aria/internal/model"
)

// Voice rewrites raw model output into the persona's register. When the
// rewrite model is unavailable or fails, the raw response passes through
// unchanged so the pipeline never loses a reply to a styling step.
type Voice struct {
	persona   *Persona
	generator model.Generator
	logger    *zap.Logger
}

// NewVoice builds a voice transform. A nil generator yields passthrough.
func NewVoice(p *Persona, gen model.Generator, logger *zap.Logger) *Voice {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Voice{persona: p, generator: gen, logger: logger}
}

// Apply transforms a raw response into the persona's voice.
func (v *Voice) Apply(ctx context.Context, query, raw string) string {
	if v.generator == nil || strings.TrimSpace(raw) == "" {
		return raw
	}

	system := v.persona.PromptContext() +
		"\nRewrite the draft reply below in your own voice. Keep its meaning and facts. Return only the rewritten reply."
	styled, err := v.generator.Generate(ctx, system, "Draft reply:\n"+raw, query)
	if err != nil {
		v.logger.Warn("persona voice transform failed, using raw response", zap.Error(err))
		return raw
	}
	styled = strings.TrimSpace(styled)
	if styled == "" {
		return raw
	}
	return styled
}
