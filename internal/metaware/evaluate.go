package metaware

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"aria/internal/memory"
	"aria/internal/model"
)

// Assessment is one external-style evaluation of recent behavior.
type Assessment struct {
	Score      float64 // overall quality in [0,1]
	Confidence float64 // how much evidence backed the score
	Summary    string
	Sampled    int
	At         time.Time
}

// EvaluatorConfig tunes external evaluation.
type EvaluatorConfig struct {
	SampleSize int     // interactions reviewed per pass
	Threshold  float64 // scores below this flag degraded quality
}

// Evaluator rates recent interactions from an outside perspective, using a
// separate judgment prompt so the agent is not grading its own homework
// with its own persona.
type Evaluator struct {
	cfg    EvaluatorConfig
	gen    model.Generator
	store  *memory.Store
	logger *zap.Logger
}

// NewEvaluator builds an evaluator.
func NewEvaluator(cfg EvaluatorConfig, gen model.Generator, store *memory.Store, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = 10
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.7
	}
	return &Evaluator{cfg: cfg, gen: gen, store: store, logger: logger}
}

// Threshold exposes the degraded-quality line for callers reacting to it.
func (e *Evaluator) Threshold() float64 {
	return e.cfg.Threshold
}

// Evaluate reviews a sample of recent interactions. Confidence scales with
// how much of the requested sample actually existed, so a near-empty store
// produces low-confidence assessments that barely move anything downstream.
func (e *Evaluator) Evaluate(ctx context.Context) (*Assessment, error) {
	if e.gen == nil {
		return nil, nil
	}

	recent, err := e.store.RetrieveLastInteractions(ctx, e.cfg.SampleSize)
	if err != nil {
		return nil, fmt.Errorf("load interactions for evaluation: %w", err)
	}
	if len(recent) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	for _, it := range recent {
		fmt.Fprintf(&sb, "User: %s\nAssistant: %s\n---\n", it.Query, it.Response)
	}

	system := "You are an outside reviewer auditing an assistant's conversations. " +
		"Rate overall quality for helpfulness, accuracy and tone. " +
		"Answer with a number between 0.0 and 1.0 on the first line, then one sentence of justification."
	raw, err := e.gen.Generate(ctx, system, sb.String(), "Rate these conversations.")
	if err != nil {
		return nil, fmt.Errorf("external evaluation: %w", err)
	}

	score, err := parseUnitScore(raw)
	if err != nil {
		return nil, fmt.Errorf("external evaluation: %w", err)
	}

	confidence := float64(len(recent)) / float64(e.cfg.SampleSize)
	if confidence > 1 {
		confidence = 1
	}
	summary := ""
	if idx := strings.IndexByte(raw, '\n'); idx >= 0 {
		summary = strings.TrimSpace(raw[idx+1:])
	}

	a := &Assessment{
		Score:      score,
		Confidence: confidence,
		Summary:    summary,
		Sampled:    len(recent),
		At:         time.Now(),
	}
	if score < e.cfg.Threshold {
		e.logger.Warn("external evaluation below threshold",
			zap.Float64("score", score),
			zap.Float64("confidence", confidence))
	}
	return a, nil
}
