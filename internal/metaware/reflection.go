// Package metaware gives the agent a view of its own behavior: periodic
// reflection over recent conversations, self-improvement experiments, and
// an external-style evaluation of response quality.
package metaware

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"aria/internal/memory"
	"aria/internal/model"
)

// ReflectorConfig controls reflection cadence and scope.
type ReflectorConfig struct {
	EveryNInteractions int // reflect once per N stored interactions
	Depth              int // how many recent interactions to review
}

// Reflector produces reflections over recent conversation history and
// persists them so future context assembly can surface them.
type Reflector struct {
	cfg    ReflectorConfig
	gen    model.Generator
	store  *memory.Store
	logger *zap.Logger

	lastReflectedAt int64 // interaction count at last reflection
}

// NewReflector builds a reflector.
func NewReflector(cfg ReflectorConfig, gen model.Generator, store *memory.Store, logger *zap.Logger) *Reflector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.EveryNInteractions <= 0 {
		cfg.EveryNInteractions = 10
	}
	if cfg.Depth <= 0 {
		cfg.Depth = 5
	}
	return &Reflector{cfg: cfg, gen: gen, store: store, logger: logger}
}

// Due reports whether the interaction counter has crossed a reflection
// boundary since the last reflection.
func (r *Reflector) Due(interactionCount int64) bool {
	if interactionCount == 0 {
		return false
	}
	every := int64(r.cfg.EveryNInteractions)
	return interactionCount/every > r.lastReflectedAt/every
}

// Reflect reviews the last Depth interactions and stores the resulting
// reflection. Returns the stored record, or nil when there was nothing to
// reflect on.
func (r *Reflector) Reflect(ctx context.Context, interactionCount int64) (*memory.ReflectionRecord, error) {
	if r.gen == nil {
		r.lastReflectedAt = interactionCount
		return nil, nil
	}

	recent, err := r.store.RetrieveLastInteractions(ctx, r.cfg.Depth)
	if err != nil {
		return nil, fmt.Errorf("load interactions for reflection: %w", err)
	}
	if len(recent) == 0 {
		r.lastReflectedAt = interactionCount
		return nil, nil
	}

	var sb strings.Builder
	ids := make([]string, 0, len(recent))
	for _, it := range recent {
		fmt.Fprintf(&sb, "User: %s\nAssistant: %s\n---\n", it.Query, it.Response)
		ids = append(ids, it.ID)
	}

	system := "Review your recent conversations. In a few sentences, describe what went well, " +
		"what you would do differently, and one concrete thing to carry into future replies. " +
		"Write in the first person."
	text, err := r.gen.Generate(ctx, system, sb.String(), "Reflect on these conversations.")
	if err != nil {
		return nil, fmt.Errorf("generate reflection: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		r.lastReflectedAt = interactionCount
		return nil, nil
	}

	rec := memory.ReflectionRecord{
		ID:        uuid.NewString(),
		Text:      text,
		SourceIDs: ids,
		CreatedAt: time.Now(),
	}
	if err := r.store.StoreReflection(ctx, rec); err != nil {
		return nil, fmt.Errorf("store reflection: %w", err)
	}
	r.lastReflectedAt = interactionCount
	r.logger.Info("stored reflection", zap.String("id", rec.ID), zap.Int("sources", len(ids)))
	return &rec, nil
}
