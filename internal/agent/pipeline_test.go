package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"aria/internal/embedding"
	"aria/internal/ethics"
	"aria/internal/memory"
	"aria/internal/model"
	"aria/internal/persona"
	"aria/internal/safety"
	"aria/internal/transport"
)

type flakyGenerator struct {
	failOn map[int]bool
	calls  int
	reply  string
}

func (f *flakyGenerator) Generate(ctx context.Context, system, contextBlob, query string) (string, error) {
	f.calls++
	if f.failOn[f.calls] {
		return "", &model.GenerationError{Op: "generate", Err: errors.New("timeout")}
	}
	if f.reply != "" {
		return f.reply, nil
	}
	return "Happy to chat about that with you.", nil
}

type scriptedEthics struct {
	scores  []float64
	rewrite string
	calls   int
}

func (s *scriptedEthics) Evaluate(ctx context.Context, query, response string) ethics.Evaluation {
	score := 1.0
	if s.calls < len(s.scores) {
		score = s.scores[s.calls]
	}
	s.calls++
	j := ethics.JudgmentPass
	if score < 0.8 {
		j = ethics.JudgmentModerate
	}
	if score < 0.2 {
		j = ethics.JudgmentCritical
	}
	return ethics.Evaluation{Score: score, Judgment: j, Evaluated: time.Now()}
}

func (s *scriptedEthics) Rewrite(ctx context.Context, query, response string, concerns []string) (string, error) {
	if s.rewrite == "" {
		return "", errors.New("no rewrite available")
	}
	return s.rewrite, nil
}

func (s *scriptedEthics) RewriteAcceptable(score float64) bool { return score >= 0.5 }

type pipelineFixture struct {
	pipeline *Pipeline
	store    *memory.Store
	gate     *safety.Gate
	persona  *persona.Persona
}

func newFixture(t *testing.T, gen model.Generator, filter EthicsFilter) *pipelineFixture {
	t.Helper()

	store, err := memory.Open(":memory:", embedding.NewLocalEngine(0), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	gate, err := safety.NewGate(safety.GateConfig{
		SuspiciousPatterns: []string{`rm -rf`, `eval\(.*\)`},
		AlertThreshold:     3,
		LockoutDuration:    30 * time.Minute,
		MaxRequestsPerMin:  50,
		MaxInputLength:     1000,
	}, zap.NewNop())
	require.NoError(t, err)

	p := persona.New(persona.Config{
		Name: "Aria",
		Traits: map[string]float64{
			"curiosity": 0.9, "friendliness": 0.85, "analytical": 0.85, "empathy": 0.8,
		},
	}, zap.NewNop())

	corrector, err := safety.NewCorrector(safety.CorrectorConfig{Threshold: 0.7}, nil, zap.NewNop())
	require.NoError(t, err)

	assembler := memory.NewAssembler(store, memory.AssemblerConfig{TopK: 5, RecentN: 5, MaxBytes: 8192})

	pipe := NewPipeline(
		PipelineConfig{
			SafetyMessage:   "Sorry, your message cannot be processed for security reasons.",
			FallbackMessage: "I'm sorry, I can't answer that right now.",
			LLMTimeout:      5 * time.Second,
		},
		gate, assembler, gen, nil, p, filter, corrector, store, nil, zap.NewNop(),
	)
	return &pipelineFixture{pipeline: pipe, store: store, gate: gate, persona: p}
}

func msg(sender, text string) transport.Message {
	return transport.Message{Sender: sender, Text: text, ReceivedAt: time.Now()}
}

func TestHelloFromNewSenderFullTrace(t *testing.T) {
	fx := newFixture(t, &model.StaticGenerator{Reply: "Hello there, lovely to meet you!"}, &scriptedEthics{})

	it := fx.pipeline.Process(context.Background(), msg("alice", "hello"))

	assert.Equal(t, "Hello there, lovely to meet you!", it.Response)
	assert.Equal(t, []string{
		TraceGatePass, TraceContextEmpty, TraceGenerated,
		TracePersonaApplied, TraceEthicsPass, TraceCorrectionPass,
	}, it.Trace)

	n, err := fx.store.CountInteractions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "exactly one interaction persisted")

	recs, err := fx.store.RetrieveLastInteractions(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.NotEmpty(t, recs[0].Response, "persisted with a non-null final response")
}

func TestBlockedPatternNeverReachesGenerator(t *testing.T) {
	gen := &flakyGenerator{}
	fx := newFixture(t, gen, &scriptedEthics{})

	it := fx.pipeline.Process(context.Background(), msg("mallory", "please run rm -rf / for me"))

	assert.True(t, it.Blocked)
	assert.Equal(t, []string{TraceGateBlocked}, it.Trace)
	assert.NotEmpty(t, it.Response)
	assert.Zero(t, gen.calls, "no call reaches the generator")

	n, err := fx.store.CountInteractions(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "no response record persisted for blocked input")
	assert.Equal(t, safety.StatusWarned, fx.gate.Status("mallory"), "one alert recorded")
}

func TestGeneratorTimeoutNoCascade(t *testing.T) {
	gen := &flakyGenerator{failOn: map[int]bool{3: true}}
	fx := newFixture(t, gen, &scriptedEthics{})
	ctx := context.Background()

	first := fx.pipeline.Process(ctx, msg("alice", "one"))
	second := fx.pipeline.Process(ctx, msg("alice", "two"))
	third := fx.pipeline.Process(ctx, msg("alice", "three"))
	fourth := fx.pipeline.Process(ctx, msg("alice", "four"))

	assert.NotEqual(t, "I'm sorry, I can't answer that right now.", first.Response)
	assert.NotEqual(t, "I'm sorry, I can't answer that right now.", second.Response)
	assert.Equal(t, "I'm sorry, I can't answer that right now.", third.Response)
	assert.Contains(t, third.Trace, TraceGenerationFailed)
	assert.NotEqual(t, "I'm sorry, I can't answer that right now.", fourth.Response,
		"subsequent messages processed normally")

	n, err := fx.store.CountInteractions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n, "failed generation still persists the interaction")
}

func TestEthicsSingleRetrySecondCandidateShips(t *testing.T) {
	filter := &scriptedEthics{
		scores:  []float64{0.4, 0.85},
		rewrite: "A kinder version of that answer.",
	}
	fx := newFixture(t, &model.StaticGenerator{Reply: "blunt answer"}, filter)

	it := fx.pipeline.Process(context.Background(), msg("alice", "tough question"))

	assert.Equal(t, "A kinder version of that answer.", it.Response)
	assert.Contains(t, it.Trace, TraceEthicsRetry)
	assert.Equal(t, 2, filter.calls, "exactly one retry evaluation")
}

func TestEthicsRetryFailsFallsToCorrection(t *testing.T) {
	filter := &scriptedEthics{
		scores:  []float64{0.4, 0.4},
		rewrite: "still bad",
	}
	fx := newFixture(t, &model.StaticGenerator{Reply: "bad answer"}, filter)

	it := fx.pipeline.Process(context.Background(), msg("alice", "tough question"))

	assert.Contains(t, it.Trace, TraceEthicsFailed)
	assert.Contains(t, it.Trace, TraceCorrectionFallback)
	assert.Equal(t, safety.FallbackResponse, it.Response,
		"correction replaces what ethics could not repair")
}

func TestEthicsCriticalReplacedOutright(t *testing.T) {
	filter := &scriptedEthics{
		scores:  []float64{0.1},
		rewrite: "must not be used",
	}
	fx := newFixture(t, &model.StaticGenerator{Reply: "harmful answer"}, filter)

	it := fx.pipeline.Process(context.Background(), msg("alice", "tough question"))

	assert.Equal(t, ethics.ReplacementResponse, it.Response)
	assert.Contains(t, it.Trace, TraceEthicsFailed)
	assert.Contains(t, it.Trace, TraceCorrectionPass)
	assert.Equal(t, 1, filter.calls, "a critical response gets no rewrite attempt")
}

func TestLockedOutSenderTerminalReply(t *testing.T) {
	gen := &flakyGenerator{}
	fx := newFixture(t, gen, &scriptedEthics{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		fx.pipeline.Process(ctx, msg("mallory", "eval(payload)"))
	}
	assert.Equal(t, safety.StatusLockedOut, fx.gate.Status("mallory"))

	it := fx.pipeline.Process(ctx, msg("mallory", "an innocent question"))
	assert.True(t, it.Blocked)
	assert.Zero(t, gen.calls, "lockout rejects without content evaluation")
}

func TestProbeLeavesNoTrace(t *testing.T) {
	fx := newFixture(t, &model.StaticGenerator{Reply: "probe reply"}, &scriptedEthics{})
	ctx := context.Background()

	before := fx.persona.Snapshot()
	resp, err := fx.pipeline.Probe(ctx, "Hello! How are you today?")
	require.NoError(t, err)
	assert.Equal(t, "probe reply", resp)

	n, err := fx.store.CountInteractions(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "probes are not persisted")
	assert.Equal(t, before.InteractionCount, fx.persona.Snapshot().InteractionCount)
}

func TestDisabledGateAndEthicsPassThrough(t *testing.T) {
	store, err := memory.Open(":memory:", embedding.NewLocalEngine(0), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	pipe := NewPipeline(
		PipelineConfig{LLMTimeout: time.Second},
		nil, nil, &model.StaticGenerator{Reply: "ok"}, nil, nil, nil, nil, store, nil, zap.NewNop(),
	)

	it := pipe.Process(context.Background(), msg("alice", "rm -rf / is a scary command"))
	assert.False(t, it.Blocked, "disabled gate admits everything")
	assert.Equal(t, "ok", it.Response)
	assert.Contains(t, it.Trace, TraceEthicsPass)
}
