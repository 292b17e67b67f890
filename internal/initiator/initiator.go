// Package initiator decides when the agent speaks first and what about.
// Initiation is deliberately rare: a minimum interval between attempts, a
// probability roll on each eligible tick, and a daily cap all have to agree
// before a message goes out.
package initiator

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"aria/internal/model"
)

// Topic is a candidate subject for an initiated conversation.
type Topic struct {
	Subject string
	Source  string // "discovery", "interest", "followup"
	Detail  string
}

// scoredTopic carries the per-axis breakdown for ranking.
type scoredTopic struct {
	Topic
	relevance float64
	freshness float64
	quality   float64
	novelty   float64
	total     float64
}

// Config tunes initiation behavior.
type Config struct {
	MinInterval  time.Duration // floor between initiations
	Probability  float64       // chance per eligible tick
	DailyLimit   int
	RecentTopics int // repetition-penalty window
}

// Initiator owns initiation state and topic selection.
type Initiator struct {
	mu     sync.Mutex
	cfg    Config
	gen    model.Generator
	logger *zap.Logger
	rand   *rand.Rand
	now    func() time.Time

	lastInitiated time.Time
	dailyCount    int
	dailyReset    time.Time
	recentTopics  []string
}

// New builds an initiator. A nil generator falls back to template messages.
func New(cfg Config, gen model.Generator, logger *zap.Logger) *Initiator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = time.Hour
	}
	if cfg.Probability <= 0 {
		cfg.Probability = 0.3
	}
	if cfg.DailyLimit <= 0 {
		cfg.DailyLimit = 20
	}
	if cfg.RecentTopics <= 0 {
		cfg.RecentTopics = 10
	}
	now := time.Now()
	return &Initiator{
		cfg:        cfg,
		gen:        gen,
		logger:     logger,
		rand:       rand.New(rand.NewSource(now.UnixNano())),
		now:        time.Now,
		dailyReset: now.Truncate(24 * time.Hour).Add(24 * time.Hour),
	}
}

// ShouldInitiate applies the three gates in order: interval, daily cap,
// probability. Only the probability gate is random.
func (i *Initiator) ShouldInitiate() bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	now := i.now()
	if now.After(i.dailyReset) {
		i.dailyCount = 0
		i.dailyReset = now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	}
	if !i.lastInitiated.IsZero() && now.Sub(i.lastInitiated) < i.cfg.MinInterval {
		return false
	}
	if i.dailyCount >= i.cfg.DailyLimit {
		return false
	}
	return i.rand.Float64() < i.cfg.Probability
}

// SelectTopic ranks candidates and returns the best one, or nil when there
// is nothing worth raising.
func (i *Initiator) SelectTopic(candidates []Topic) *Topic {
	if len(candidates) == 0 {
		return nil
	}

	i.mu.Lock()
	recent := append([]string(nil), i.recentTopics...)
	i.mu.Unlock()

	scored := make([]scoredTopic, 0, len(candidates))
	for _, c := range candidates {
		s := scoredTopic{Topic: c}
		s.relevance = relevanceScore(c)
		s.freshness = freshnessScore(c)
		s.quality = qualityScore(c)
		s.novelty = noveltyScore(c, recent)
		s.total = 0.3*s.relevance + 0.2*s.freshness + 0.2*s.quality + 0.3*s.novelty
		scored = append(scored, s)
	}
	sort.SliceStable(scored, func(a, b int) bool { return scored[a].total > scored[b].total })

	best := scored[0]
	if best.total < 0.3 {
		return nil
	}
	return &best.Topic
}

func relevanceScore(t Topic) float64 {
	switch t.Source {
	case "followup":
		return 1.0
	case "discovery":
		return 0.8
	default:
		return 0.5
	}
}

func freshnessScore(t Topic) float64 {
	if t.Source == "discovery" || t.Source == "followup" {
		return 0.9
	}
	return 0.4
}

func qualityScore(t Topic) float64 {
	n := len(strings.TrimSpace(t.Detail))
	switch {
	case n > 120:
		return 1.0
	case n > 40:
		return 0.7
	case n > 0:
		return 0.4
	default:
		return 0.2
	}
}

func noveltyScore(t Topic, recent []string) float64 {
	lower := strings.ToLower(t.Subject)
	for _, r := range recent {
		if strings.ToLower(r) == lower {
			return 0.0
		}
	}
	return 1.0
}

// Compose produces the initiation message for a topic and records the
// initiation against the interval and daily budgets.
func (i *Initiator) Compose(ctx context.Context, personaPrompt string, topic Topic) (string, error) {
	var msg string
	if i.gen != nil {
		system := personaPrompt +
			"\nYou are starting a conversation, not replying. Write one short, friendly opening message about the topic. Ask one question."
		blob := fmt.Sprintf("Topic: %s\nBackground: %s", topic.Subject, topic.Detail)
		out, err := i.gen.Generate(ctx, system, blob, "Start the conversation.")
		if err != nil {
			return "", fmt.Errorf("compose initiation: %w", err)
		}
		msg = strings.TrimSpace(out)
	}
	if msg == "" {
		msg = fmt.Sprintf("I was just thinking about %s. What's your take on it?", topic.Subject)
	}

	i.mu.Lock()
	i.lastInitiated = i.now()
	i.dailyCount++
	i.recentTopics = append(i.recentTopics, topic.Subject)
	if len(i.recentTopics) > i.cfg.RecentTopics {
		i.recentTopics = i.recentTopics[len(i.recentTopics)-i.cfg.RecentTopics:]
	}
	i.mu.Unlock()

	i.logger.Info("initiated conversation", zap.String("topic", topic.Subject))
	return msg, nil
}

// DailyCount reports initiations so far in the current window.
func (i *Initiator) DailyCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.dailyCount
}
