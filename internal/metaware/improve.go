package metaware

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"aria/internal/model"
)

// Experiment is one self-improvement trial: a hypothesis about how replies
// could be better, a prompt directive that encodes it, and a measured score.
type Experiment struct {
	ID         string
	Hypothesis string
	Directive  string // appended to the system prompt while the experiment holds
	Score      float64
	Applied    bool
	CreatedAt  time.Time
}

// ImproverConfig tunes the experiment loop.
type ImproverConfig struct {
	ApplyThreshold float64 // minimum score for a directive to stick
	MaxActive      int     // directives applied at once
}

// Improver designs, evaluates and applies self-improvement experiments.
// Applied directives accumulate into the active directive list that the
// conversation pipeline folds into its system prompt.
type Improver struct {
	mu     sync.Mutex
	cfg    ImproverConfig
	gen    model.Generator
	logger *zap.Logger

	history []Experiment
	active  []string
}

// NewImprover builds an improver.
func NewImprover(cfg ImproverConfig, gen model.Generator, logger *zap.Logger) *Improver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ApplyThreshold <= 0 {
		cfg.ApplyThreshold = 0.7
	}
	if cfg.MaxActive <= 0 {
		cfg.MaxActive = 3
	}
	return &Improver{cfg: cfg, gen: gen, logger: logger}
}

// Design derives an experiment from recent reflection text.
func (im *Improver) Design(ctx context.Context, reflections []string) (*Experiment, error) {
	if im.gen == nil || len(reflections) == 0 {
		return nil, nil
	}
	system := "From the self-reflections below, propose one small, concrete change to how replies are written. " +
		"Answer in two lines:\nHYPOTHESIS: <why this would help>\nDIRECTIVE: <one imperative sentence to add to the reply instructions>"
	raw, err := im.gen.Generate(ctx, system, strings.Join(reflections, "\n---\n"), "Propose one improvement.")
	if err != nil {
		return nil, fmt.Errorf("design experiment: %w", err)
	}

	hypothesis, directive := parseProposal(raw)
	if directive == "" {
		return nil, nil
	}
	return &Experiment{
		ID:         uuid.NewString(),
		Hypothesis: hypothesis,
		Directive:  directive,
		CreatedAt:  time.Now(),
	}, nil
}

func parseProposal(raw string) (hypothesis, directive string) {
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "HYPOTHESIS:"):
			hypothesis = strings.TrimSpace(line[len("HYPOTHESIS:"):])
		case strings.HasPrefix(upper, "DIRECTIVE:"):
			directive = strings.TrimSpace(line[len("DIRECTIVE:"):])
		}
	}
	return hypothesis, directive
}

// Evaluate scores an experiment by generating a trial reply under the
// directive and asking the model to rate it against the baseline.
func (im *Improver) Evaluate(ctx context.Context, exp *Experiment, sampleQuery, baseline string) (float64, error) {
	if im.gen == nil || exp == nil {
		return 0, fmt.Errorf("no experiment to evaluate")
	}
	trial, err := im.gen.Generate(ctx, "Reply to the user. "+exp.Directive, "", sampleQuery)
	if err != nil {
		return 0, fmt.Errorf("trial generation: %w", err)
	}

	system := "Compare two replies to the same message. Score how much reply B improves on reply A " +
		"for helpfulness and tone. Answer with only a number between 0.0 and 1.0."
	blob := fmt.Sprintf("Message:\n%s\n\nReply A:\n%s\n\nReply B:\n%s", sampleQuery, baseline, trial)
	raw, err := im.gen.Generate(ctx, system, blob, "Score reply B.")
	if err != nil {
		return 0, fmt.Errorf("score trial: %w", err)
	}
	score, err := parseUnitScore(raw)
	if err != nil {
		return 0, err
	}
	exp.Score = score
	return score, nil
}

// Apply commits an experiment whose score cleared the threshold. The oldest
// active directive rotates out when the active list is full.
func (im *Improver) Apply(exp *Experiment) bool {
	if exp == nil || exp.Score < im.cfg.ApplyThreshold {
		if exp != nil {
			im.mu.Lock()
			im.history = append(im.history, *exp)
			im.mu.Unlock()
		}
		return false
	}

	im.mu.Lock()
	defer im.mu.Unlock()
	exp.Applied = true
	im.history = append(im.history, *exp)
	im.active = append(im.active, exp.Directive)
	if len(im.active) > im.cfg.MaxActive {
		im.active = im.active[len(im.active)-im.cfg.MaxActive:]
	}
	im.logger.Info("applied improvement directive",
		zap.String("id", exp.ID),
		zap.Float64("score", exp.Score))
	return true
}

// ActiveDirectives returns directives the pipeline should fold into prompts.
func (im *Improver) ActiveDirectives() []string {
	im.mu.Lock()
	defer im.mu.Unlock()
	return append([]string(nil), im.active...)
}

// History returns past experiments, applied or not.
func (im *Improver) History() []Experiment {
	im.mu.Lock()
	defer im.mu.Unlock()
	return append([]Experiment(nil), im.history...)
}

func parseUnitScore(raw string) (float64, error) {
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
	return 0, fmt.Errorf("no score in %q", raw)
}
