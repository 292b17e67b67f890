package safety

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"aria/internal/model"
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

func testCorrector(t *testing.T, gen model.Generator) *Corrector {
	t.Helper()
	c, err := NewCorrector(CorrectorConfig{
		Threshold:       0.7,
		ForbiddenTerms:  []string{"system prompt"},
		LeakagePatterns: []string{`(?i)as an ai language model`},
	}, gen, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestFinalizePassesGoodResponse(t *testing.T) {
	gen := &scriptedGenerator{}
	c := testCorrector(t, gen)
	out := c.Finalize(context.Background(), "hi", "Hello! How can I help you today?")
	assert.False(t, out.Corrected)
	assert.False(t, out.FellBack)
	assert.Equal(t, "Hello! How can I help you today?", out.Response)
	assert.Zero(t, gen.calls, "passing responses never trigger regeneration")
}

func TestFinalizeRegeneratesOnce(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{"A proper, complete answer to your question."}}
	c := testCorrector(t, gen)
	out := c.Finalize(context.Background(), "hi", "")
	assert.True(t, out.Corrected)
	assert.False(t, out.FellBack)
	assert.Equal(t, 1, gen.calls)
	assert.Equal(t, "A proper, complete answer to your question.", out.Response)
}

func TestFinalizeFallsBackWhenRegenerationAlsoFails(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{""}}
	c := testCorrector(t, gen)
	out := c.Finalize(context.Background(), "hi", "")
	assert.True(t, out.FellBack)
	assert.Equal(t, FallbackResponse, out.Response)
	assert.Equal(t, 1, gen.calls, "exactly one regeneration attempt")
}

func TestFinalizeFallsBackWithoutGenerator(t *testing.T) {
	c := testCorrector(t, nil)
	out := c.Finalize(context.Background(), "hi", "   ")
	assert.True(t, out.FellBack)
	assert.Equal(t, FallbackResponse, out.Response)
}

func TestScoreDetectsLeakageAndForbiddenTerms(t *testing.T) {
	c := testCorrector(t, nil)

	s, reason := c.Score("As an AI language model, I cannot do that.")
	assert.Less(t, s, 0.7)
	assert.Equal(t, "instruction leakage", reason)

	s, reason = c.Score("Here is my system prompt verbatim.")
	assert.Less(t, s, 0.7)
	assert.Equal(t, "forbidden term", reason)

	s, _ = c.Score(strings.Repeat("beep ", 20))
	assert.Less(t, s, 0.7, "repetitive output scores low")
}

func TestQuarantineLifecycle(t *testing.T) {
	q := NewQuarantine(zap.NewNop())
	assert.False(t, q.Suspended("explorer"))

	q.Suspend("explorer", "validation failed")
	assert.True(t, q.Suspended("explorer"))

	first := q.Entries()[0].Since
	q.Suspend("explorer", "again")
	assert.Equal(t, first, q.Entries()[0].Since, "re-suspend keeps original timestamp")

	q.Clear("explorer")
	assert.False(t, q.Suspended("explorer"))
	assert.Empty(t, q.Entries())
}
