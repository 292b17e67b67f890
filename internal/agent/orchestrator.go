package agent

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"aria/internal/memory"
	"aria/internal/persona"
	"aria/internal/transport"
)

// State is the orchestrator's position in its control cycle.
type State string

const (
	StateIdle             State = "idle"
	StateReceiving        State = "receiving_messages"
	StateProcessing       State = "processing_message"
	StateResponding       State = "responding_to_user"
	StateCheckingPeriodic State = "checking_periodic_tasks"
	StateShuttingDown     State = "shutting_down"
)

// OrchestratorConfig tunes the control loop.
type OrchestratorConfig struct {
	PollInterval    time.Duration
	BatchSize       int
	SchedulerPass   time.Duration // min time between scheduler passes, zero runs every tick
	PersonaSnapshot string
	FallbackMessage string
}

// Orchestrator drives the single-threaded control loop: receive a bounded
// message batch, run each message through the pipeline strictly in arrival
// order, run the periodic scheduler, sleep, repeat. It exclusively owns the
// interaction counter and the last-active-sender that periodic jobs consume.
type Orchestrator struct {
	cfg       OrchestratorConfig
	transport transport.Transport
	pipeline  *Pipeline
	scheduler *Scheduler
	persona   *persona.Persona
	store     *memory.Store
	gate      InputGate
	logger    *zap.Logger

	mu         sync.RWMutex
	state      State
	lastSender string

	lastPass time.Time // loop goroutine only

	interactions atomic.Int64 // qualifying (gate-passing) interactions
}

// NewOrchestrator wires the control loop.
func NewOrchestrator(
	cfg OrchestratorConfig,
	tr transport.Transport,
	pipeline *Pipeline,
	scheduler *Scheduler,
	p *persona.Persona,
	store *memory.Store,
	gate InputGate,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	return &Orchestrator{
		cfg:       cfg,
		transport: tr,
		pipeline:  pipeline,
		scheduler: scheduler,
		persona:   p,
		store:     store,
		gate:      gate,
		logger:    logger,
		state:     StateIdle,
	}
}

// InteractionCount reports gate-passing interactions since startup. The
// scheduler uses this as its counter-trigger source.
func (o *Orchestrator) InteractionCount() int64 {
	return o.interactions.Load()
}

// LastSender reports the most recent sender the agent replied to.
func (o *Orchestrator) LastSender() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lastSender
}

// State reports the orchestrator's current control-loop state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// Run drives the control loop until ctx is cancelled, then performs the
// shutdown flush. Cancellation is observed between messages and between
// scheduler jobs; in-flight work always completes.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("control loop started",
		zap.Duration("poll_interval", o.cfg.PollInterval),
		zap.Int("batch_size", o.cfg.BatchSize))

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		o.Tick(ctx)

		select {
		case <-ctx.Done():
			return o.shutdown()
		case <-ticker.C:
		}
	}
}

// Tick runs one full control cycle: receive, process, respond, periodic.
func (o *Orchestrator) Tick(ctx context.Context) {
	o.setState(StateReceiving)
	msgs, err := o.transport.Receive(o.cfg.BatchSize)
	if err != nil {
		o.logger.Error("failed to receive messages", zap.Error(err))
		msgs = nil
	}

	for _, msg := range msgs {
		select {
		case <-ctx.Done():
			return
		default:
		}
		o.handleMessage(ctx, msg)
	}

	select {
	case <-ctx.Done():
		return
	default:
	}

	o.setState(StateCheckingPeriodic)
	if o.cfg.SchedulerPass <= 0 || time.Since(o.lastPass) >= o.cfg.SchedulerPass {
		o.scheduler.RunPass(ctx)
		o.lastPass = time.Now()
	}
	o.setState(StateIdle)
}

// handleMessage runs one message synchronously to completion. A panic inside
// the pipeline is contained to this message: the sender still gets the
// fallback reply and the batch continues.
func (o *Orchestrator) handleMessage(ctx context.Context, msg transport.Message) {
	o.setState(StateProcessing)

	it := o.safeProcess(ctx, msg)

	o.setState(StateResponding)
	if err := o.transport.Send(msg.Sender, it.Response); err != nil {
		o.logger.Error("failed to send response",
			zap.String("sender", msg.Sender),
			zap.Error(err))
	}

	if !it.Blocked {
		o.interactions.Add(1)
		o.mu.Lock()
		o.lastSender = msg.Sender
		o.mu.Unlock()
	}
}

func (o *Orchestrator) safeProcess(ctx context.Context, msg transport.Message) (it *Interaction) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("pipeline panic", zap.Any("panic", r), zap.String("sender", msg.Sender))
			it = &Interaction{
				Message:  msg,
				Response: o.cfg.FallbackMessage,
				Trace:    []string{TraceCorrectionFallback},
			}
		}
	}()
	return o.pipeline.Process(ctx, msg)
}

// shutdown flushes persona and memory state before releasing collaborators.
func (o *Orchestrator) shutdown() error {
	o.setState(StateShuttingDown)
	o.logger.Info("shutting down")

	if o.gate != nil {
		report := o.gate.Report()
		o.logger.Info("final security report",
			zap.Int64("checked", report.TotalChecked),
			zap.Int64("blocked", report.TotalBlocked),
			zap.Int("active_lockouts", report.ActiveLockout),
			zap.Int("incidents", len(report.Incidents)))
	}

	if o.persona != nil && o.cfg.PersonaSnapshot != "" {
		if err := o.persona.Save(o.cfg.PersonaSnapshot); err != nil {
			o.logger.Error("persona flush failed", zap.Error(err))
		}
	}
	if o.store != nil {
		if err := o.store.Flush(); err != nil {
			o.logger.Error("memory flush failed", zap.Error(err))
		}
	}

	o.logger.Info("control loop stopped",
		zap.Int64("interactions", o.interactions.Load()))
	return nil
}
