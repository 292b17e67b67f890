// Package embedding provides vector embedding generation for semantic recall.
// Supports a Google GenAI backend and a deterministic local fallback.
package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
)

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates an embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of embeddings
	Dimensions() int

	// Name returns the engine name
	Name() string
}

// Config holds embedding engine configuration.
type Config struct {
	Provider string // "genai" or "local"
	APIKey   string
	Model    string
}

// NewEngine creates an embedding engine based on configuration.
func NewEngine(cfg Config) (Engine, error) {
	switch cfg.Provider {
	case "genai":
		return NewGenAIEngine(cfg.APIKey, cfg.Model)
	case "local", "":
		return NewLocalEngine(128), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
}

// CosineSimilarity computes cosine similarity between two vectors.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("dimension mismatch: %d vs %d", len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// LocalEngine is a deterministic token-hashing embedder. It captures lexical
// overlap only, but needs no network and keeps recall testable offline.
type LocalEngine struct {
	dims int
}

// NewLocalEngine creates a local engine with the given dimensionality.
func NewLocalEngine(dims int) *LocalEngine {
	if dims <= 0 {
		dims = 128
	}
	return &LocalEngine{dims: dims}
}

// Embed hashes each token into a bucket and L2-normalizes the counts.
func (e *LocalEngine) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,!?;:\"'()[]")
		if tok == "" {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(tok))
		vec[int(h.Sum32())%e.dims]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

// EmbedBatch embeds each text in turn.
func (e *LocalEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions returns the vector dimensionality.
func (e *LocalEngine) Dimensions() int { return e.dims }

// Name returns the engine name.
func (e *LocalEngine) Name() string { return "local" }
