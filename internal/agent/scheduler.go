package agent

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Job is one periodic task. A job is due when its interval has elapsed since
// the last attempt, or the interaction counter has advanced by EveryN since
// its last success, or its extra Due predicate holds. Unset triggers are
// ignored.
type Job struct {
	Name     string
	Interval time.Duration
	EveryN   int64                           // qualifying interactions between runs
	Due      func() bool                     // extra OR'd trigger, may be nil
	Run      func(ctx context.Context) error // must not be nil
}

type jobState struct {
	lastAttempt time.Time
	counterBase int64
	failures    int64
	runs        int64
}

// Scheduler evaluates a fixed, ordered job list once per pass. Jobs run to
// completion sequentially; one job's failure is logged and isolated, and the
// pass continues with the next job.
type Scheduler struct {
	jobs     []Job
	state    map[string]*jobState
	counter  func() int64 // qualifying-interaction counter source
	logger   *zap.Logger
	now      func() time.Time
	firstRun bool
}

// NewScheduler builds a scheduler over an ordered job list. counter reports
// the orchestrator's qualifying-interaction count.
func NewScheduler(jobs []Job, counter func() int64, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if counter == nil {
		counter = func() int64 { return 0 }
	}
	state := make(map[string]*jobState, len(jobs))
	for _, j := range jobs {
		state[j.Name] = &jobState{}
	}
	return &Scheduler{
		jobs:     jobs,
		state:    state,
		counter:  counter,
		logger:   logger,
		now:      time.Now,
		firstRun: true,
	}
}

// RunPass evaluates every job in order. The very first pass after boot only
// records baselines so intervals are measured from startup, not from zero.
// Cancellation is observed between jobs, never inside one.
func (s *Scheduler) RunPass(ctx context.Context) {
	now := s.now()
	count := s.counter()

	if s.firstRun {
		for _, j := range s.jobs {
			st := s.state[j.Name]
			st.lastAttempt = now
			st.counterBase = count
		}
		s.firstRun = false
		return
	}

	for _, j := range s.jobs {
		select {
		case <-ctx.Done():
			return
		default:
		}

		st := s.state[j.Name]
		if !s.due(j, st, now, count) {
			continue
		}

		err := j.Run(ctx)

		// The attempt timestamp always advances so a failing interval job
		// waits a full interval before retrying. The counter base only
		// advances on success, so a failed counter job stays due while the
		// underlying condition holds.
		st.lastAttempt = s.now()
		st.runs++
		if err != nil {
			st.failures++
			s.logger.Error("periodic job failed",
				zap.String("job", j.Name),
				zap.Error(err))
			continue
		}
		if j.EveryN > 0 {
			st.counterBase = s.counter()
		}
		s.logger.Debug("periodic job completed", zap.String("job", j.Name))
	}
}

func (s *Scheduler) due(j Job, st *jobState, now time.Time, count int64) bool {
	if j.Interval > 0 && now.Sub(st.lastAttempt) >= j.Interval {
		return true
	}
	if j.EveryN > 0 && count-st.counterBase >= j.EveryN {
		return true
	}
	if j.Due != nil && j.Due() {
		return true
	}
	return false
}

// JobStats is a per-job run summary for status reporting.
type JobStats struct {
	Name        string
	Runs        int64
	Failures    int64
	LastAttempt time.Time
}

// Stats returns per-job run counts in job order.
func (s *Scheduler) Stats() []JobStats {
	out := make([]JobStats, 0, len(s.jobs))
	for _, j := range s.jobs {
		st := s.state[j.Name]
		out = append(out, JobStats{
			Name:        j.Name,
			Runs:        st.runs,
			Failures:    st.failures,
			LastAttempt: st.lastAttempt,
		})
	}
	return out
}
