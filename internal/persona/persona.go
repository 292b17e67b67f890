// Package persona holds the agent's identity state: a name, bounded trait
// values, identity statements and narrative text. The persona is the single
// writer of its own state; everyone else reads through accessor copies.
package persona

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Feedback classifies the tone of an interaction.
type Feedback string

const (
	FeedbackPositive Feedback = "positive"
	FeedbackNeutral  Feedback = "neutral"
	FeedbackNegative Feedback = "negative"
)

// State is the serializable persona snapshot.
type State struct {
	Name               string             `json:"name"`
	Traits             map[string]float64 `json:"traits"`
	IdentityStatements []string           `json:"identity_statements"`
	Interests          []string           `json:"interests"`
	CommunicationStyle string             `json:"communication_style"`
	InteractionCount   int64              `json:"interaction_count"`
	DiscoveryCount     int64              `json:"discovery_count"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// Persona owns mutable persona state and applies bounded trait adjustments.
type Persona struct {
	mu     sync.RWMutex
	state  State
	logger *zap.Logger

	changesSinceSave int
	lastSave         time.Time
}

// Config seeds a fresh persona when no snapshot exists.
type Config struct {
	Name               string
	Traits             map[string]float64
	IdentityStatements []string
	Interests          []string
	CommunicationStyle string
}

// New creates a persona from config defaults.
func New(cfg Config, logger *zap.Logger) *Persona {
	if logger == nil {
		logger = zap.NewNop()
	}
	traits := make(map[string]float64, len(cfg.Traits))
	for k, v := range cfg.Traits {
		traits[k] = clamp(v)
	}
	return &Persona{
		state: State{
			Name:               cfg.Name,
			Traits:             traits,
			IdentityStatements: append([]string(nil), cfg.IdentityStatements...),
			Interests:          append([]string(nil), cfg.Interests...),
			CommunicationStyle: cfg.CommunicationStyle,
			UpdatedAt:          time.Now(),
		},
		logger:   logger,
		lastSave: time.Now(),
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// AdjustTrait applies a signed delta to a trait, clamped to [0,1].
// Unknown traits are ignored.
func (p *Persona) AdjustTrait(name string, delta float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.adjustTraitLocked(name, delta)
}

func (p *Persona) adjustTraitLocked(name string, delta float64) {
	current, ok := p.state.Traits[name]
	if !ok {
		return
	}
	p.state.Traits[name] = clamp(current + delta)
	p.state.UpdatedAt = time.Now()
	p.changesSinceSave++
}

// Trait returns the current value of a trait.
func (p *Persona) Trait(name string) (float64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.state.Traits[name]
	return v, ok
}

// Snapshot returns a deep copy of the current state.
func (p *Persona) Snapshot() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.copyStateLocked()
}

func (p *Persona) copyStateLocked() State {
	out := p.state
	out.Traits = make(map[string]float64, len(p.state.Traits))
	for k, v := range p.state.Traits {
		out.Traits[k] = v
	}
	out.IdentityStatements = append([]string(nil), p.state.IdentityStatements...)
	out.Interests = append([]string(nil), p.state.Interests...)
	return out
}

// ApplyInteraction updates traits from an interaction's inferred feedback.
func (p *Persona) ApplyInteraction(query string, feedback Feedback) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch feedback {
	case FeedbackPositive:
		p.adjustTraitLocked("friendliness", 0.01)
		p.adjustTraitLocked("empathy", 0.005)
	case FeedbackNegative:
		p.adjustTraitLocked("friendliness", -0.01)
		p.adjustTraitLocked("analytical", 0.005)
	}

	lower := strings.ToLower(query)
	if strings.Contains(lower, "self-awareness") || strings.Contains(lower, "reflection") {
		p.adjustTraitLocked("curiosity", 0.01)
	}

	p.state.InteractionCount++
	p.state.UpdatedAt = time.Now()
	p.changesSinceSave++
}

var (
	empathyKeywords    = []string{"feel", "emotion", "care", "grief", "love", "comfort", "kindness"}
	analyticalKeywords = []string{"algorithm", "proof", "logic", "data", "structure", "theorem", "analysis"}
)

// ApplyDiscovery nudges traits when a discovery touches emotional or
// analytical registers, scaled by discovery importance.
func (p *Persona) ApplyDiscovery(topic, content string, importance float64) {
	importance = clamp(importance)
	lower := strings.ToLower(topic + " " + content)

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, kw := range empathyKeywords {
		if strings.Contains(lower, kw) {
			p.adjustTraitLocked("empathy", 0.02*importance)
			break
		}
	}
	for _, kw := range analyticalKeywords {
		if strings.Contains(lower, kw) {
			p.adjustTraitLocked("analytical", 0.02*importance)
			break
		}
	}
	p.adjustTraitLocked("curiosity", 0.005*importance)

	p.state.DiscoveryCount++
	p.state.UpdatedAt = time.Now()
	p.changesSinceSave++
}

// ApplyEvaluation applies a larger, confidence-weighted adjustment from an
// external evaluator's overall score in [0,1]. Scores above 0.5 reinforce
// the current register; scores below soften it.
func (p *Persona) ApplyEvaluation(score, confidence float64) {
	score = clamp(score)
	confidence = clamp(confidence)
	delta := (score - 0.5) * 0.1 * confidence

	p.mu.Lock()
	defer p.mu.Unlock()
	p.adjustTraitLocked("friendliness", delta)
	p.adjustTraitLocked("analytical", delta)
	p.state.UpdatedAt = time.Now()
	p.changesSinceSave++

	p.logger.Debug("applied external evaluation to persona",
		zap.Float64("score", score),
		zap.Float64("delta", delta))
}

// PromptContext renders the persona as a system-prompt fragment.
func (p *Persona) PromptContext() string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("You are %s.\n", p.state.Name))
	if p.state.CommunicationStyle != "" {
		sb.WriteString(fmt.Sprintf("Your communication style is %s.\n", p.state.CommunicationStyle))
	}
	for _, stmt := range p.state.IdentityStatements {
		sb.WriteString(stmt)
		sb.WriteString("\n")
	}

	names := make([]string, 0, len(p.state.Traits))
	for name := range p.state.Traits {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sb.WriteString(fmt.Sprintf("Trait %s: %.2f\n", name, p.state.Traits[name]))
	}
	sb.WriteString("Respond only with your own message. Do not roleplay as the user.")
	return sb.String()
}

// InferFeedback classifies the tone of a message by surface sentiment cues.
func InferFeedback(text string) Feedback {
	lower := strings.ToLower(text)
	positive := []string{"thank", "great", "love", "wonderful", "awesome", "nice", "helpful", ":)"}
	negative := []string{"hate", "stupid", "wrong", "useless", "terrible", "bad answer", "awful"}

	for _, w := range negative {
		if strings.Contains(lower, w) {
			return FeedbackNegative
		}
	}
	for _, w := range positive {
		if strings.Contains(lower, w) {
			return FeedbackPositive
		}
	}
	return FeedbackNeutral
}
