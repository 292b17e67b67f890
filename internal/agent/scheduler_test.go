package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func advanceClock(s *Scheduler, start time.Time) *time.Time {
	now := start
	s.now = func() time.Time { return now }
	return &now
}

func TestFirstPassOnlyRecordsBaselines(t *testing.T) {
	ran := 0
	s := NewScheduler([]Job{{
		Name:     "tick",
		Interval: time.Nanosecond,
		Run:      func(ctx context.Context) error { ran++; return nil },
	}}, nil, zap.NewNop())
	now := advanceClock(s, time.Now())

	s.RunPass(context.Background())
	assert.Zero(t, ran, "first pass is baseline only")

	*now = now.Add(time.Second)
	s.RunPass(context.Background())
	assert.Equal(t, 1, ran)
}

func TestIntervalJobNotRerunEarly(t *testing.T) {
	ran := 0
	s := NewScheduler([]Job{{
		Name:     "hourly",
		Interval: time.Hour,
		Run:      func(ctx context.Context) error { ran++; return nil },
	}}, nil, zap.NewNop())
	now := advanceClock(s, time.Now())
	s.RunPass(context.Background()) // baseline

	// Ticks every few seconds must not trigger an hourly job early.
	for i := 0; i < 100; i++ {
		*now = now.Add(5 * time.Second)
		s.RunPass(context.Background())
	}
	assert.Zero(t, ran)

	*now = now.Add(time.Hour)
	s.RunPass(context.Background())
	assert.Equal(t, 1, ran)

	*now = now.Add(30 * time.Minute)
	s.RunPass(context.Background())
	assert.Equal(t, 1, ran, "half an interval is not enough")
}

func TestCounterJobFiresExactlyOnThreshold(t *testing.T) {
	var count int64
	ran := 0
	s := NewScheduler([]Job{{
		Name:   "reflect",
		EveryN: 5,
		Run:    func(ctx context.Context) error { ran++; return nil },
	}}, func() int64 { return count }, zap.NewNop())
	advanceClock(s, time.Now())
	s.RunPass(context.Background()) // baseline

	for count = 1; count <= 4; count++ {
		s.RunPass(context.Background())
	}
	assert.Zero(t, ran, "not before the 5th qualifying interaction")

	count = 5
	s.RunPass(context.Background())
	assert.Equal(t, 1, ran, "fires exactly once after the 5th")

	s.RunPass(context.Background())
	assert.Equal(t, 1, ran, "counter base advanced on success")

	count = 10
	s.RunPass(context.Background())
	assert.Equal(t, 2, ran)
}

func TestFailedCounterJobStaysDue(t *testing.T) {
	var count int64 = 5
	attempts := 0
	fail := true
	s := NewScheduler([]Job{{
		Name:   "reflect",
		EveryN: 5,
		Run: func(ctx context.Context) error {
			attempts++
			if fail {
				return errors.New("boom")
			}
			return nil
		},
	}}, func() int64 { return count }, zap.NewNop())
	advanceClock(s, time.Now())
	count = 0
	s.RunPass(context.Background()) // baseline at 0
	count = 5

	s.RunPass(context.Background())
	assert.Equal(t, 1, attempts)

	// Failure did not consume the counter condition.
	s.RunPass(context.Background())
	assert.Equal(t, 2, attempts, "still due while the condition holds")

	fail = false
	s.RunPass(context.Background())
	assert.Equal(t, 3, attempts)

	s.RunPass(context.Background())
	assert.Equal(t, 3, attempts, "success reset the counter base")
}

func TestFailedIntervalJobWaitsFullInterval(t *testing.T) {
	attempts := 0
	s := NewScheduler([]Job{{
		Name:     "flaky",
		Interval: time.Hour,
		Run: func(ctx context.Context) error {
			attempts++
			return errors.New("boom")
		},
	}}, nil, zap.NewNop())
	now := advanceClock(s, time.Now())
	s.RunPass(context.Background()) // baseline

	*now = now.Add(time.Hour)
	s.RunPass(context.Background())
	assert.Equal(t, 1, attempts)

	*now = now.Add(time.Minute)
	s.RunPass(context.Background())
	assert.Equal(t, 1, attempts, "no tight failure loop")

	*now = now.Add(time.Hour)
	s.RunPass(context.Background())
	assert.Equal(t, 2, attempts)
}

func TestJobFailureIsolatedFromLaterJobs(t *testing.T) {
	order := []string{}
	s := NewScheduler([]Job{
		{
			Name:     "first",
			Interval: time.Minute,
			Run: func(ctx context.Context) error {
				order = append(order, "first")
				return errors.New("boom")
			},
		},
		{
			Name:     "second",
			Interval: time.Minute,
			Run: func(ctx context.Context) error {
				order = append(order, "second")
				return nil
			},
		},
	}, nil, zap.NewNop())
	now := advanceClock(s, time.Now())
	s.RunPass(context.Background())

	*now = now.Add(2 * time.Minute)
	s.RunPass(context.Background())
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestJobsRunInFixedOrder(t *testing.T) {
	order := []string{}
	mk := func(name string) Job {
		return Job{
			Name:     name,
			Interval: time.Minute,
			Run: func(ctx context.Context) error {
				order = append(order, name)
				return nil
			},
		}
	}
	s := NewScheduler([]Job{mk("a"), mk("b"), mk("c")}, nil, zap.NewNop())
	now := advanceClock(s, time.Now())
	s.RunPass(context.Background())
	*now = now.Add(2 * time.Minute)
	s.RunPass(context.Background())
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestDuePredicateTrigger(t *testing.T) {
	due := false
	ran := 0
	s := NewScheduler([]Job{{
		Name: "persona-save",
		Due:  func() bool { return due },
		Run:  func(ctx context.Context) error { ran++; return nil },
	}}, nil, zap.NewNop())
	advanceClock(s, time.Now())
	s.RunPass(context.Background()) // baseline

	s.RunPass(context.Background())
	assert.Zero(t, ran)

	due = true
	s.RunPass(context.Background())
	assert.Equal(t, 1, ran)
}

func TestCancellationStopsBetweenJobs(t *testing.T) {
	ran := []string{}
	ctx, cancel := context.WithCancel(context.Background())
	s := NewScheduler([]Job{
		{
			Name:     "first",
			Interval: time.Minute,
			Run: func(ctx context.Context) error {
				ran = append(ran, "first")
				cancel()
				return nil
			},
		},
		{
			Name:     "second",
			Interval: time.Minute,
			Run: func(ctx context.Context) error {
				ran = append(ran, "second")
				return nil
			},
		},
	}, nil, zap.NewNop())
	now := advanceClock(s, time.Now())
	s.RunPass(ctx)
	*now = now.Add(2 * time.Minute)
	s.RunPass(ctx)
	assert.Equal(t, []string{"first"}, ran, "cancellation observed between jobs")
}
