package memory

import (
	"context"
	"fmt"
	"strings"
)

// AssemblerConfig bounds the assembled context blob.
type AssemblerConfig struct {
	TopK     int // semantically relevant items
	RecentN  int // recent raw interaction pairs
	MaxBytes int // hard cap on the blob size
}

// Assembler shapes memory query results into a bounded prompt context.
// It is a pure function of the store contents and the query.
type Assembler struct {
	store *Store
	cfg   AssemblerConfig
}

// NewAssembler creates a context assembler over the store.
func NewAssembler(store *Store, cfg AssemblerConfig) *Assembler {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.RecentN <= 0 {
		cfg.RecentN = 5
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 8192
	}
	return &Assembler{store: store, cfg: cfg}
}

// Assemble returns the hybrid context blob: top-K relevant items followed by
// the most recent interaction pairs, truncated to the byte budget.
func (a *Assembler) Assemble(ctx context.Context, query string) (string, error) {
	var sb strings.Builder

	relevant, err := a.store.RetrieveRelevantContext(ctx, query, a.cfg.TopK)
	if err != nil {
		return "", fmt.Errorf("relevant context lookup failed: %w", err)
	}
	if len(relevant) > 0 {
		sb.WriteString("Relevant history:\n")
		for _, item := range relevant {
			sb.WriteString(item.Content)
			sb.WriteString("\n")
		}
	}

	recent, err := a.store.RetrieveLastInteractions(ctx, a.cfg.RecentN)
	if err != nil {
		return "", fmt.Errorf("recent interactions lookup failed: %w", err)
	}
	if len(recent) > 0 {
		sb.WriteString("Recent conversation:\n")
		// Oldest of the window first, so the blob reads chronologically.
		for i := len(recent) - 1; i >= 0; i-- {
			rec := recent[i]
			sb.WriteString(fmt.Sprintf("User: %s\n", rec.Query))
			if rec.Response != "" {
				sb.WriteString(fmt.Sprintf("Aria: %s\n", rec.Response))
			}
		}
	}

	blob := sb.String()
	if len(blob) > a.cfg.MaxBytes {
		blob = blob[:a.cfg.MaxBytes]
	}
	return blob, nil
}
