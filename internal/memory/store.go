// Package memory persists interactions and reflections in SQLite and serves
// the semantic and recency queries the context assembler needs.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"aria/internal/embedding"
)

// InteractionRecord is one finished pipeline run. Append-only: rows are never
// mutated after insert.
type InteractionRecord struct {
	ID        string
	Sender    string
	Query     string
	Response  string
	Trace     []string
	CreatedAt time.Time
}

// ReflectionRecord is a generated self-analysis of recent interactions.
type ReflectionRecord struct {
	ID        string
	Text      string
	SourceIDs []string
	CreatedAt time.Time
}

// ContextItem is one retrieved piece of history with its relevance score.
type ContextItem struct {
	Kind    string // "interaction" or "reflection"
	Content string
	Score   float64
}

// Store is the SQLite-backed memory store.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	engine embedding.Engine
	logger *zap.Logger
}

// Open initializes the SQLite database at path. ":memory:" works for tests.
func Open(path string, engine embedding.Engine, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create memory directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logger.Debug("failed to set busy_timeout", zap.Error(err))
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logger.Debug("failed to set journal_mode=WAL", zap.Error(err))
	}

	s := &Store{db: db, engine: engine, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("memory store ready", zap.String("path", path))
	return s, nil
}

func (s *Store) initialize() error {
	interactions := `
	CREATE TABLE IF NOT EXISTS interactions (
		id TEXT PRIMARY KEY,
		sender TEXT NOT NULL,
		query TEXT NOT NULL,
		response TEXT,
		trace TEXT,
		embedding TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_interactions_sender ON interactions(sender);
	CREATE INDEX IF NOT EXISTS idx_interactions_created ON interactions(created_at);
	`

	reflections := `
	CREATE TABLE IF NOT EXISTS reflections (
		id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		source_ids TEXT,
		embedding TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_reflections_created ON reflections(created_at);
	`

	for _, table := range []string{interactions, reflections} {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

func (s *Store) embedText(ctx context.Context, text string) (string, error) {
	if s.engine == nil {
		return "", nil
	}
	vec, err := s.engine.Embed(ctx, text)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(vec)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// StoreInteraction persists a finished interaction exactly once.
func (s *Store) StoreInteraction(ctx context.Context, rec InteractionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	embJSON, err := s.embedText(ctx, rec.Query+" "+rec.Response)
	if err != nil {
		// Embedding failures degrade recall, not durability.
		s.logger.Warn("embedding failed, storing without it", zap.Error(err))
		embJSON = ""
	}
	traceJSON, _ := json.Marshal(rec.Trace)

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO interactions (id, sender, query, response, trace, embedding, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		rec.ID, rec.Sender, rec.Query, rec.Response, string(traceJSON), embJSON, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to store interaction: %w", err)
	}
	return nil
}

// StoreReflection persists a reflection record.
func (s *Store) StoreReflection(ctx context.Context, rec ReflectionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	embJSON, err := s.embedText(ctx, rec.Text)
	if err != nil {
		s.logger.Warn("embedding failed, storing without it", zap.Error(err))
		embJSON = ""
	}
	srcJSON, _ := json.Marshal(rec.SourceIDs)

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO reflections (id, text, source_ids, embedding, created_at) VALUES (?, ?, ?, ?, ?)",
		rec.ID, rec.Text, string(srcJSON), embJSON, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to store reflection: %w", err)
	}
	return nil
}

// RetrieveRelevantContext returns the top-k most semantically relevant items
// across interactions and reflections, best first.
func (s *Store) RetrieveRelevantContext(ctx context.Context, query string, k int) ([]ContextItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if k <= 0 {
		k = 5
	}
	if s.engine == nil {
		return nil, nil
	}

	queryVec, err := s.engine.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	var items []ContextItem

	scan := func(rows *sql.Rows, kind string, format func(a, b string) string) error {
		defer rows.Close()
		for rows.Next() {
			var a, b, embJSON string
			if err := rows.Scan(&a, &b, &embJSON); err != nil {
				continue
			}
			if embJSON == "" {
				continue
			}
			var vec []float32
			if err := json.Unmarshal([]byte(embJSON), &vec); err != nil {
				continue
			}
			score, err := embedding.CosineSimilarity(queryVec, vec)
			if err != nil {
				continue
			}
			items = append(items, ContextItem{Kind: kind, Content: format(a, b), Score: score})
		}
		return rows.Err()
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT query, response, embedding FROM interactions WHERE embedding != '' AND response IS NOT NULL")
	if err != nil {
		return nil, err
	}
	if err := scan(rows, "interaction", func(q, r string) string {
		return fmt.Sprintf("User: %s\nAria: %s", q, r)
	}); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx,
		"SELECT text, '', embedding FROM reflections WHERE embedding != ''")
	if err != nil {
		return nil, err
	}
	if err := scan(rows, "reflection", func(t, _ string) string {
		return fmt.Sprintf("Reflection: %s", t)
	}); err != nil {
		return nil, err
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].Score > items[j].Score })
	if len(items) > k {
		items = items[:k]
	}
	return items, nil
}

// RetrieveLastInteractions returns the n most recent interactions, newest
// first, each paired with its response if one exists.
func (s *Store) RetrieveLastInteractions(ctx context.Context, n int) ([]InteractionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 {
		n = 5
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, sender, query, COALESCE(response, ''), COALESCE(trace, '[]'), created_at FROM interactions ORDER BY created_at DESC, rowid DESC LIMIT ?", n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []InteractionRecord
	for rows.Next() {
		var rec InteractionRecord
		var traceJSON string
		if err := rows.Scan(&rec.ID, &rec.Sender, &rec.Query, &rec.Response, &traceJSON, &rec.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(traceJSON), &rec.Trace)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// RetrieveLastReflections returns the n most recent reflections, newest first.
func (s *Store) RetrieveLastReflections(ctx context.Context, n int) ([]ReflectionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 {
		n = 5
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, text, COALESCE(source_ids, '[]'), created_at FROM reflections ORDER BY created_at DESC, rowid DESC LIMIT ?", n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []ReflectionRecord
	for rows.Next() {
		var rec ReflectionRecord
		var srcJSON string
		if err := rows.Scan(&rec.ID, &rec.Text, &srcJSON, &rec.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(srcJSON), &rec.SourceIDs)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// CountInteractions returns the total number of stored interactions.
func (s *Store) CountInteractions(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM interactions").Scan(&n)
	return n, err
}

// CountReflections returns the total number of stored reflections.
func (s *Store) CountReflections(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM reflections").Scan(&n)
	return n, err
}

// Flush checkpoints the WAL so everything written so far is durable.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.logger.Info("closing memory store")
	return s.db.Close()
}
