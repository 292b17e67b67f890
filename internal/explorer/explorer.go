// Package explorer lets the agent look things up on its own: it searches
// topics drawn from the persona's interests, scores what it finds, and
// queues discoveries for later processing. The queue is bounded; when full,
// the least important unprocessed discovery makes room for a better one.
package explorer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Result is one raw search hit.
type Result struct {
	Title   string
	Content string
	URL     string
}

// Searcher performs a search for a query.
type Searcher interface {
	Search(ctx context.Context, query string, max int) ([]Result, error)
}

// Discovery is one scored, queued finding.
type Discovery struct {
	ID         string
	Topic      string
	Title      string
	Content    string
	URL        string
	Importance float64
	FoundAt    time.Time
	Processed  bool
}

// Config tunes exploration.
type Config struct {
	ResultsPerTopic int
	MaxDiscoveries  int
}

// Explorer runs searches and maintains the discovery queue.
type Explorer struct {
	mu       sync.Mutex
	cfg      Config
	searcher Searcher
	logger   *zap.Logger

	discoveries []*Discovery
	lastTopic   int
}

// New builds an explorer. A nil searcher disables exploration.
func New(cfg Config, searcher Searcher, logger *zap.Logger) *Explorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultsPerTopic <= 0 {
		cfg.ResultsPerTopic = 2
	}
	if cfg.MaxDiscoveries <= 0 {
		cfg.MaxDiscoveries = 20
	}
	return &Explorer{cfg: cfg, searcher: searcher, logger: logger}
}

// Enabled reports whether exploration can run.
func (e *Explorer) Enabled() bool {
	return e.searcher != nil
}

// Explore searches the next interest in rotation and queues scored results.
// It returns how many new discoveries were queued.
func (e *Explorer) Explore(ctx context.Context, interests []string) (int, error) {
	if e.searcher == nil || len(interests) == 0 {
		return 0, nil
	}

	e.mu.Lock()
	topic := interests[e.lastTopic%len(interests)]
	e.lastTopic++
	e.mu.Unlock()

	results, err := e.searcher.Search(ctx, topic, e.cfg.ResultsPerTopic)
	if err != nil {
		return 0, fmt.Errorf("explore %q: %w", topic, err)
	}

	added := 0
	for _, r := range results {
		if strings.TrimSpace(r.Content) == "" {
			continue
		}
		d := &Discovery{
			ID:         uuid.NewString(),
			Topic:      topic,
			Title:      r.Title,
			Content:    r.Content,
			URL:        r.URL,
			Importance: scoreImportance(topic, r, interests),
			FoundAt:    time.Now(),
		}
		if e.enqueue(d) {
			added++
		}
	}
	e.logger.Debug("exploration pass complete",
		zap.String("topic", topic),
		zap.Int("queued", added))
	return added, nil
}

// scoreImportance rates a result in [0,1]: substance of the content plus
// overlap with the agent's other interests.
func scoreImportance(topic string, r Result, interests []string) float64 {
	score := 0.3
	if len(r.Content) > 200 {
		score += 0.2
	} else if len(r.Content) > 50 {
		score += 0.1
	}
	lower := strings.ToLower(r.Title + " " + r.Content)
	for _, interest := range interests {
		if interest != topic && strings.Contains(lower, strings.ToLower(interest)) {
			score += 0.15
		}
	}
	if r.URL != "" {
		score += 0.1
	}
	if score > 1 {
		score = 1
	}
	return score
}

// enqueue adds a discovery, evicting the least important unprocessed entry
// when the queue is full. A discovery less important than everything queued
// is dropped.
func (e *Explorer) enqueue(d *Discovery) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.discoveries) < e.cfg.MaxDiscoveries {
		e.discoveries = append(e.discoveries, d)
		return true
	}

	victim := -1
	for i, existing := range e.discoveries {
		if existing.Processed {
			continue
		}
		if victim == -1 || existing.Importance < e.discoveries[victim].Importance {
			victim = i
		}
	}
	// Processed entries are also fair game once no unprocessed victim exists.
	if victim == -1 {
		victim = 0
		for i, existing := range e.discoveries {
			if existing.FoundAt.Before(e.discoveries[victim].FoundAt) {
				victim = i
			}
		}
		e.discoveries[victim] = d
		return true
	}
	if e.discoveries[victim].Importance >= d.Importance {
		return false
	}
	e.discoveries[victim] = d
	return true
}

// Pending returns unprocessed discoveries, most important first.
func (e *Explorer) Pending() []Discovery {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Discovery, 0, len(e.discoveries))
	for _, d := range e.discoveries {
		if !d.Processed {
			out = append(out, *d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Importance > out[j].Importance })
	return out
}

// MarkProcessed flags a discovery as consumed.
func (e *Explorer) MarkProcessed(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, d := range e.discoveries {
		if d.ID == id {
			d.Processed = true
			return
		}
	}
}

// Recent returns up to n discoveries regardless of state, newest first.
func (e *Explorer) Recent(n int) []Discovery {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Discovery, 0, len(e.discoveries))
	for _, d := range e.discoveries {
		out = append(out, *d)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].FoundAt.After(out[j].FoundAt) })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
