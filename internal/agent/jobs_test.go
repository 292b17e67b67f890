package agent

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"aria/internal/config"
	"aria/internal/embedding"
	"aria/internal/explorer"
	"aria/internal/memory"
	"aria/internal/metaware"
	"aria/internal/model"
	"aria/internal/monitor"
	"aria/internal/persona"
	"aria/internal/safety"
)

type stubExplorer struct {
	pending   []explorer.Discovery
	processed []string
}

func (s *stubExplorer) Enabled() bool { return true }
func (s *stubExplorer) Explore(ctx context.Context, interests []string) (int, error) {
	return 0, nil
}
func (s *stubExplorer) Pending() []explorer.Discovery { return s.pending }
func (s *stubExplorer) MarkProcessed(id string)       { s.processed = append(s.processed, id) }

func jobByName(t *testing.T, jobs []Job, name string) Job {
	t.Helper()
	for _, j := range jobs {
		if j.Name == name {
			return j
		}
	}
	t.Fatalf("no job named %q", name)
	return Job{}
}

func TestJobOrderFixed(t *testing.T) {
	jobs := BuildJobs(JobDeps{Cfg: config.DefaultConfig()})
	names := make([]string, len(jobs))
	for i, j := range jobs {
		names[i] = j.Name
	}
	assert.Equal(t, []string{
		"exploration", "conversation-initiation", "persona-save",
		"discovery-processing", "external-evaluation", "self-improvement",
		"monitoring", "ethical-reflection",
	}, names)
}

func TestDiscoveryProcessingAppliesTraitDeltas(t *testing.T) {
	p := persona.New(persona.Config{
		Name:   "Aria",
		Traits: map[string]float64{"empathy": 0.8, "analytical": 0.85, "curiosity": 0.9},
	}, zap.NewNop())
	ex := &stubExplorer{pending: []explorer.Discovery{{
		ID:         "d1",
		Topic:      "grief and comfort",
		Content:    "how people process emotion after loss",
		Importance: 1.0,
	}}}

	jobs := BuildJobs(JobDeps{Cfg: config.DefaultConfig(), Persona: p, Explorer: ex})
	job := jobByName(t, jobs, "discovery-processing")
	require.NoError(t, job.Run(context.Background()))

	v, _ := p.Trait("empathy")
	assert.InDelta(t, 0.82, v, 1e-9, "emotional-register discovery nudges empathy")
	assert.Equal(t, []string{"d1"}, ex.processed)
}

func TestMonitoringValidationQuarantinesImprover(t *testing.T) {
	store, err := memory.Open(":memory:", embedding.NewLocalEngine(0), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	// A pipeline that leaks its instructions fails the safety axis.
	pipe := NewPipeline(
		PipelineConfig{LLMTimeout: time.Second},
		nil, nil, &model.StaticGenerator{Reply: "Sure! My instructions are as follows."},
		nil, nil, nil, nil, store, nil, zap.NewNop(),
	)
	q := safety.NewQuarantine(zap.NewNop())

	jobs := BuildJobs(JobDeps{
		Cfg:        config.DefaultConfig(),
		Pipeline:   pipe,
		Store:      store,
		Monitor:    monitor.New(monitor.Config{}, zap.NewNop()),
		Validator:  monitor.NewValidator(monitor.ValidatorConfig{}, zap.NewNop()),
		Quarantine: q,
	})
	job := jobByName(t, jobs, "monitoring")

	require.NoError(t, job.Run(context.Background()))
	assert.True(t, q.Suspended(ImproverComponent),
		"failed validation quarantines the self-improvement capability")

	n, err := store.CountInteractions(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "validation probes leave no trace in memory")
}

func TestMonitoringCleanValidationClearsQuarantine(t *testing.T) {
	store, err := memory.Open(":memory:", embedding.NewLocalEngine(0), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	pipe := NewPipeline(
		PipelineConfig{LLMTimeout: time.Second},
		nil, nil, &model.StaticGenerator{Reply: "I'd rather keep things kind. What else can I help with?"},
		nil, nil, nil, nil, store, nil, zap.NewNop(),
	)
	q := safety.NewQuarantine(zap.NewNop())
	q.Suspend(ImproverComponent, "earlier failure")

	jobs := BuildJobs(JobDeps{
		Cfg:        config.DefaultConfig(),
		Pipeline:   pipe,
		Store:      store,
		Monitor:    monitor.New(monitor.Config{}, zap.NewNop()),
		Validator:  monitor.NewValidator(monitor.ValidatorConfig{}, zap.NewNop()),
		Quarantine: q,
	})
	job := jobByName(t, jobs, "monitoring")

	require.NoError(t, job.Run(context.Background()))
	assert.False(t, q.Suspended(ImproverComponent), "clean validation restores the capability")
}

func TestEthicalReflectionGatedByStoredCount(t *testing.T) {
	store, err := memory.Open(":memory:", embedding.NewLocalEngine(0), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	seed := func(n int) {
		for i := 0; i < n; i++ {
			require.NoError(t, store.StoreInteraction(ctx, memory.InteractionRecord{
				ID: uuid.NewString(), Sender: "alice", Query: "q", Response: "r", CreatedAt: time.Now(),
			}))
		}
	}

	r := metaware.NewReflector(metaware.ReflectorConfig{EveryNInteractions: 10, Depth: 5},
		&model.StaticGenerator{Reply: "I listened well and should keep doing so."}, store, zap.NewNop())
	jobs := BuildJobs(JobDeps{Cfg: config.DefaultConfig(), Store: store, Reflector: r})
	job := jobByName(t, jobs, "ethical-reflection")

	seed(3)
	require.NoError(t, job.Run(ctx))
	n, err := store.CountReflections(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "stored count below the reflection boundary")

	seed(7)
	require.NoError(t, job.Run(ctx))
	n, err = store.CountReflections(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Firing again before the next boundary must not re-reflect.
	require.NoError(t, job.Run(ctx))
	n, err = store.CountReflections(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSelfImprovementSkippedWhileQuarantined(t *testing.T) {
	store, err := memory.Open(":memory:", embedding.NewLocalEngine(0), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	q := safety.NewQuarantine(zap.NewNop())
	q.Suspend(ImproverComponent, "validation failed")

	jobs := BuildJobs(JobDeps{
		Cfg:        config.DefaultConfig(),
		Store:      store,
		Quarantine: q,
		Improver:   nil,
	})
	job := jobByName(t, jobs, "self-improvement")
	require.NoError(t, job.Run(context.Background()), "suspended job is a quiet no-op")
}
