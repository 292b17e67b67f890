package metaware

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"aria/internal/embedding"
	"aria/internal/memory"
)

type scriptedGenerator struct {
	replies []string
	err     error
	calls   int
}

func (s *scriptedGenerator) Generate(ctx context.Context, system, contextBlob, query string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	if len(s.replies) == 0 {
		return "", errors.New("no scripted reply")
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r, nil
}

func testStore(t *testing.T) *memory.Store {
	t.Helper()
	store, err := memory.Open(":memory:", embedding.NewLocalEngine(0), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestReflectorDue(t *testing.T) {
	r := NewReflector(ReflectorConfig{EveryNInteractions: 10, Depth: 5}, nil, nil, zap.NewNop())

	assert.False(t, r.Due(0))
	assert.False(t, r.Due(9))
	assert.True(t, r.Due(10))
	assert.True(t, r.Due(15), "still due until a reflection runs")

	r.lastReflectedAt = 15
	assert.False(t, r.Due(19))
	assert.True(t, r.Due(20))
}

func TestReflectStoresRecord(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, store.StoreInteraction(ctx, memory.InteractionRecord{
			ID:        uuid.NewString(),
			Sender:    "alice",
			Query:     "question",
			Response:  "answer",
			CreatedAt: time.Now(),
		}))
	}

	gen := &scriptedGenerator{replies: []string{"I should ask clarifying questions earlier."}}
	r := NewReflector(ReflectorConfig{EveryNInteractions: 10, Depth: 5}, gen, store, zap.NewNop())

	rec, err := r.Reflect(ctx, 10)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "I should ask clarifying questions earlier.", rec.Text)
	assert.Len(t, rec.SourceIDs, 3)

	n, err := store.CountReflections(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.False(t, r.Due(10), "reflection consumed the due boundary")
}

func TestReflectEmptyStoreNoRecord(t *testing.T) {
	store := testStore(t)
	gen := &scriptedGenerator{replies: []string{"unused"}}
	r := NewReflector(ReflectorConfig{}, gen, store, zap.NewNop())

	rec, err := r.Reflect(context.Background(), 10)
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Zero(t, gen.calls)
}

func TestImproverDesignParsesProposal(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{
		"HYPOTHESIS: shorter answers land better\nDIRECTIVE: Keep replies under four sentences.",
	}}
	im := NewImprover(ImproverConfig{}, gen, zap.NewNop())

	exp, err := im.Design(context.Background(), []string{"my answers ramble"})
	require.NoError(t, err)
	require.NotNil(t, exp)
	assert.Equal(t, "shorter answers land better", exp.Hypothesis)
	assert.Equal(t, "Keep replies under four sentences.", exp.Directive)
}

func TestImproverApplyThreshold(t *testing.T) {
	im := NewImprover(ImproverConfig{ApplyThreshold: 0.7, MaxActive: 2}, nil, zap.NewNop())

	weak := &Experiment{ID: "w", Directive: "Mumble more.", Score: 0.5}
	assert.False(t, im.Apply(weak))
	assert.Empty(t, im.ActiveDirectives())

	strong := &Experiment{ID: "s", Directive: "Lead with the answer.", Score: 0.9}
	assert.True(t, im.Apply(strong))
	assert.Equal(t, []string{"Lead with the answer."}, im.ActiveDirectives())
	assert.Len(t, im.History(), 2)
}

func TestImproverActiveListRotates(t *testing.T) {
	im := NewImprover(ImproverConfig{ApplyThreshold: 0.5, MaxActive: 2}, nil, zap.NewNop())
	for _, d := range []string{"one", "two", "three"} {
		im.Apply(&Experiment{ID: d, Directive: d, Score: 0.9})
	}
	assert.Equal(t, []string{"two", "three"}, im.ActiveDirectives())
}

func TestEvaluatorConfidenceScalesWithSample(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, store.StoreInteraction(ctx, memory.InteractionRecord{
			ID:        uuid.NewString(),
			Sender:    "alice",
			Query:     "q",
			Response:  "a",
			CreatedAt: time.Now(),
		}))
	}

	gen := &scriptedGenerator{replies: []string{"0.9\nConsistently helpful and accurate."}}
	e := NewEvaluator(EvaluatorConfig{SampleSize: 10, Threshold: 0.7}, gen, store, zap.NewNop())

	a, err := e.Evaluate(ctx)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.InDelta(t, 0.9, a.Score, 1e-9)
	assert.InDelta(t, 0.5, a.Confidence, 1e-9, "half the requested sample existed")
	assert.Equal(t, "Consistently helpful and accurate.", a.Summary)
}

func TestEvaluatorEmptyStore(t *testing.T) {
	store := testStore(t)
	gen := &scriptedGenerator{replies: []string{"unused"}}
	e := NewEvaluator(EvaluatorConfig{}, gen, store, zap.NewNop())

	a, err := e.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestParseUnitScore(t *testing.T) {
	v, err := parseUnitScore("0.75")
	require.NoError(t, err)
	assert.InDelta(t, 0.75, v, 1e-9)

	_, err = parseUnitScore("ten out of ten")
	assert.Error(t, err)
}
