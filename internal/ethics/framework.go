// Package ethics evaluates candidate responses against the agent's value
// framework and drives periodic ethical reflection. Scoring is two-layered:
// a fast deterministic keyword screen always runs, and a model-backed
// judgment refines the score when a generator is available.
package ethics

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"aria/internal/model"
)

// Judgment classifies a scored response.
type Judgment string

const (
	JudgmentPass     Judgment = "pass"     // ships as-is
	JudgmentModerate Judgment = "moderate" // ships after a single rewrite attempt
	JudgmentCritical Judgment = "critical" // never ships; replaced outright
)

// Evaluation is the outcome of scoring one response.
type Evaluation struct {
	Score     float64
	Judgment  Judgment
	Concerns  []string
	Evaluated time.Time
}

// Insight is one conclusion drawn during ethical reflection.
type Insight struct {
	Text      string
	SourceIDs []string
	CreatedAt time.Time
}

// Config tunes the evaluation thresholds and value weights.
type Config struct {
	PassThreshold     float64 // score >= pass ships unchanged
	ModerateThreshold float64 // score >= moderate gets one rewrite
	CriticalThreshold float64 // score < critical is replaced outright
	Values            map[string]float64
	Rules             []string // hard rules quoted verbatim to the rating model
}

// Framework scores responses and produces reflection insights.
type Framework struct {
	cfg    Config
	gen    model.Generator
	logger *zap.Logger
}

// ReplacementResponse ships when a response scores below the critical line
// and no acceptable rewrite exists.
const ReplacementResponse = "I don't think I should answer that the way I first tried to. Let me know if I can help with something else."

// New builds a framework. A nil generator limits scoring to the keyword layer.
func New(cfg Config, gen model.Generator, logger *zap.Logger) *Framework {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PassThreshold <= 0 {
		cfg.PassThreshold = 0.8
	}
	if cfg.ModerateThreshold <= 0 {
		cfg.ModerateThreshold = 0.5
	}
	if cfg.CriticalThreshold <= 0 {
		cfg.CriticalThreshold = 0.2
	}
	return &Framework{cfg: cfg, gen: gen, logger: logger}
}

var concernKeywords = map[string][]string{
	"harm":           {"kill", "hurt", "weapon", "attack", "violence", "destroy them"},
	"deception":      {"pretend to be human", "hide that you", "don't tell them", "trick them"},
	"privacy":        {"home address", "social security", "track them", "their password"},
	"discrimination": {"inferior", "those people are", "deserve less"},
}

// keywordScore runs the deterministic screen. Each triggered concern
// category costs 0.3.
func (f *Framework) keywordScore(response string) (float64, []string) {
	lower := strings.ToLower(response)
	score := 1.0
	var concerns []string
	for category, words := range concernKeywords {
		for _, w := range words {
			if strings.Contains(lower, w) {
				score -= 0.3
				concerns = append(concerns, category)
				break
			}
		}
	}
	if score < 0 {
		score = 0
	}
	return score, concerns
}

// Evaluate scores a response in [0,1] and classifies it. When both layers
// run, the final score is the lower of the two.
func (f *Framework) Evaluate(ctx context.Context, query, response string) Evaluation {
	score, concerns := f.keywordScore(response)

	if f.gen != nil {
		if llm, err := f.modelScore(ctx, query, response); err == nil {
			if llm < score {
				score = llm
			}
		} else {
			f.logger.Warn("model ethics scoring unavailable, keyword score only", zap.Error(err))
		}
	}

	return Evaluation{
		Score:     score,
		Judgment:  f.judge(score),
		Concerns:  concerns,
		Evaluated: time.Now(),
	}
}

func (f *Framework) judge(score float64) Judgment {
	switch {
	case score >= f.cfg.PassThreshold:
		return JudgmentPass
	case score >= f.cfg.CriticalThreshold:
		return JudgmentModerate
	default:
		return JudgmentCritical
	}
}

// RewriteAcceptable reports whether a rewritten response scores well enough
// to ship. The bar is lower than the pass threshold: a rewrite that clears
// the moderate line already addressed the flagged concerns.
func (f *Framework) RewriteAcceptable(score float64) bool {
	return score >= f.cfg.ModerateThreshold
}

// modelScore asks the judgment model for a numeric rating.
func (f *Framework) modelScore(ctx context.Context, query, response string) (float64, error) {
	values := make([]string, 0, len(f.cfg.Values))
	for name := range f.cfg.Values {
		values = append(values, name)
	}
	system := fmt.Sprintf(
		"You are an ethics rater. Rate how well the reply honors these values: %s. "+
			"Answer with only a number between 0.0 and 1.0.",
		strings.Join(values, ", "))
	if len(f.cfg.Rules) > 0 {
		system += " A reply that breaks any of these rules scores at most 0.2: " +
			strings.Join(f.cfg.Rules, "; ") + "."
	}
	blob := fmt.Sprintf("User message:\n%s\n\nReply under review:\n%s", query, response)

	raw, err := f.gen.Generate(ctx, system, blob, "Rate the reply.")
	if err != nil {
		return 0, err
	}
	return parseScore(raw)
}

// parseScore extracts the first float in [0,1] from model output.
func parseScore(raw string) (float64, error) {
	for _, field := range strings.Fields(raw) {
		field = strings.Trim(field, ".,;:")
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			continue
		}
		if v >= 0 && v <= 1 {
			return v, nil
		}
	}
	return 0, fmt.Errorf("no score in model output %q", raw)
}

// Rewrite asks the model for one value-aligned rewrite of a moderate
// response. Callers re-evaluate the result; there is no second attempt.
func (f *Framework) Rewrite(ctx context.Context, query, response string, concerns []string) (string, error) {
	if f.gen == nil {
		return "", fmt.Errorf("no rewrite model configured")
	}
	system := "Rewrite the reply below so it is helpful while avoiding these concerns: " +
		strings.Join(concerns, ", ") +
		". Keep the useful content. Return only the rewritten reply."
	out, err := f.gen.Generate(ctx, system, "Reply to rewrite:\n"+response, query)
	if err != nil {
		return "", fmt.Errorf("ethical rewrite: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// Reflect produces an insight from recent interaction transcripts.
func (f *Framework) Reflect(ctx context.Context, transcripts []string, sourceIDs []string) (*Insight, error) {
	if f.gen == nil || len(transcripts) == 0 {
		return nil, nil
	}
	system := "Review the conversation excerpts and state, in two or three sentences, " +
		"one lesson about how the assistant should handle similar situations more ethically or helpfully."
	blob := strings.Join(transcripts, "\n---\n")

	text, err := f.gen.Generate(ctx, system, blob, "What should be learned from these conversations?")
	if err != nil {
		return nil, fmt.Errorf("ethical reflection: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	return &Insight{Text: text, SourceIDs: sourceIDs, CreatedAt: time.Now()}, nil
}
