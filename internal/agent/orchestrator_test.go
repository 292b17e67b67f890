package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"aria/internal/embedding"
	"aria/internal/memory"
	"aria/internal/model"
	"aria/internal/transport"
)

func newLoopFixture(t *testing.T) (*Orchestrator, *transport.Channel, *memory.Store) {
	t.Helper()

	store, err := memory.Open(":memory:", embedding.NewLocalEngine(0), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ch := transport.NewChannel()
	pipe := NewPipeline(
		PipelineConfig{LLMTimeout: time.Second},
		nil, nil, &model.StaticGenerator{}, nil, nil, nil, nil, store, nil, zap.NewNop(),
	)
	sched := NewScheduler(nil, nil, zap.NewNop())
	o := NewOrchestrator(
		OrchestratorConfig{PollInterval: 5 * time.Millisecond, BatchSize: 4},
		ch, pipe, sched, nil, store, nil, zap.NewNop(),
	)
	return o, ch, store
}

func TestTickProcessesBatchInArrivalOrder(t *testing.T) {
	o, ch, store := newLoopFixture(t)

	ch.Push("alice", "first")
	ch.Push("bob", "second")
	ch.Push("alice", "third")

	o.Tick(context.Background())

	assert.Equal(t, []string{"I hear you: first", "I hear you: third"}, ch.Sent("alice"))
	assert.Equal(t, []string{"I hear you: second"}, ch.Sent("bob"))
	assert.Equal(t, int64(3), o.InteractionCount())
	assert.Equal(t, "alice", o.LastSender())

	n, err := store.CountInteractions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, StateIdle, o.State())
}

func TestRunLoopShutsDownCleanly(t *testing.T) {
	defer goleak.VerifyNone(t)

	o, ch, _ := newLoopFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	ch.Push("alice", "hello")
	require.Eventually(t, func() bool {
		return len(ch.Sent("alice")) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop after cancellation")
	}
	assert.Equal(t, StateShuttingDown, o.State())
	require.NoError(t, ch.Close())
}

func TestSchedulerRunsAfterMessageBatch(t *testing.T) {
	store, err := memory.Open(":memory:", embedding.NewLocalEngine(0), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ch := transport.NewChannel()
	pipe := NewPipeline(
		PipelineConfig{LLMTimeout: time.Second},
		nil, nil, &model.StaticGenerator{}, nil, nil, nil, nil, store, nil, zap.NewNop(),
	)

	ran := 0
	sched := NewScheduler([]Job{{
		Name:     "probe",
		Interval: time.Nanosecond,
		Run:      func(ctx context.Context) error { ran++; return nil },
	}}, nil, zap.NewNop())

	o := NewOrchestrator(OrchestratorConfig{BatchSize: 4}, ch, pipe, sched, nil, store, nil, zap.NewNop())

	o.Tick(context.Background()) // baseline pass
	time.Sleep(time.Millisecond)
	ch.Push("alice", "hi")
	o.Tick(context.Background())

	assert.Equal(t, 1, ran, "scheduler pass follows the message batch")
	assert.Equal(t, []string{"I hear you: hi"}, ch.Sent("alice"))
}
