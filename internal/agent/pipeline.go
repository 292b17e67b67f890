package agent

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"aria/internal/ethics"
	"aria/internal/memory"
	"aria/internal/model"
	"aria/internal/persona"
	"aria/internal/safety"
	"aria/internal/transport"
)

// PipelineConfig carries the fixed replies and timeouts the stages need.
type PipelineConfig struct {
	SafetyMessage   string
	FallbackMessage string
	LLMTimeout      time.Duration
	ContextTopK     int
}

// Pipeline runs one inbound message through the ordered stages: safety gate,
// context assembly, generation, persona transform, ethical filter, correction
// final gate, persistence. Stages either pass the interaction forward or
// short-circuit to a terminal response; every path ends with a reply.
type Pipeline struct {
	cfg        PipelineConfig
	gate       InputGate
	assembler  *memory.Assembler
	generator  model.Generator
	voice      *persona.Voice
	persona    *persona.Persona
	ethics     EthicsFilter
	corrector  *safety.Corrector
	store      *memory.Store
	directives func() []string
	logger     *zap.Logger

	genFailures int64
	corrections int64
	processed   int64
}

// NewPipeline wires the stages. directives supplies active self-improvement
// directives for the system prompt; nil means none.
func NewPipeline(
	cfg PipelineConfig,
	gate InputGate,
	assembler *memory.Assembler,
	generator model.Generator,
	voice *persona.Voice,
	p *persona.Persona,
	filter EthicsFilter,
	corrector *safety.Corrector,
	store *memory.Store,
	directives func() []string,
	logger *zap.Logger,
) *Pipeline {
	if gate == nil {
		gate = passGate{}
	}
	if filter == nil {
		filter = passEthics{}
	}
	if directives == nil {
		directives = func() []string { return nil }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = 120 * time.Second
	}
	if cfg.SafetyMessage == "" {
		cfg.SafetyMessage = "Sorry, your message contains content that cannot be processed for security reasons."
	}
	if cfg.FallbackMessage == "" {
		cfg.FallbackMessage = safety.FallbackResponse
	}
	return &Pipeline{
		cfg:        cfg,
		gate:       gate,
		assembler:  assembler,
		generator:  generator,
		voice:      voice,
		persona:    p,
		ethics:     filter,
		corrector:  corrector,
		store:      store,
		directives: directives,
		logger:     logger,
	}
}

// Process runs the full pipeline for one message and returns the finished
// interaction. Failures inside stages degrade to fallbacks; Process itself
// never errors.
func (p *Pipeline) Process(ctx context.Context, msg transport.Message) *Interaction {
	return p.run(ctx, msg, false)
}

// Probe runs a validation probe through the same stages without persisting
// the interaction or mutating persona state, so self-checks leave no trace
// in memory.
func (p *Pipeline) Probe(ctx context.Context, query string) (string, error) {
	it := p.run(ctx, transport.Message{Sender: "validation-probe", Text: query, ReceivedAt: time.Now()}, true)
	return it.Response, nil
}

func (p *Pipeline) run(ctx context.Context, msg transport.Message, probe bool) *Interaction {
	it := &Interaction{
		ID:        uuid.NewString(),
		Message:   msg,
		StartedAt: time.Now(),
	}

	// Stage 1: safety gate. Terminal on rejection, nothing is persisted.
	verdict := p.gate.Check(msg.Sender, msg.Text)
	if !verdict.Allowed {
		it.Blocked = true
		it.trace(TraceGateBlocked)
		it.Response = verdict.Reply
		if it.Response == "" {
			it.Response = p.cfg.SafetyMessage
		}
		p.logger.Info("message blocked",
			zap.String("sender", msg.Sender),
			zap.String("reason", verdict.Reason))
		return it
	}
	it.trace(TraceGatePass)
	query := verdict.Sanitized
	if query == "" {
		query = msg.Text
	}

	// Stage 2: context assembly. Failures degrade to an empty context.
	contextBlob := ""
	if p.assembler != nil {
		blob, err := p.assembler.Assemble(ctx, query)
		if err != nil {
			p.logger.Warn("context assembly failed", zap.Error(err))
		} else {
			contextBlob = blob
		}
	}
	if contextBlob == "" {
		it.trace(TraceContextEmpty)
	} else {
		it.trace(TraceContextAssembled)
	}

	// Stage 3: generation. A generator failure short-circuits to the
	// deterministic fallback; the final gate still runs on it.
	response, generated := p.generate(ctx, contextBlob, query)
	if generated {
		it.trace(TraceGenerated)

		// Stage 4: persona transform. Trait adjustment is a side effect and
		// never blocks the response path.
		if p.voice != nil {
			response = p.voice.Apply(ctx, query, response)
		}
		if p.persona != nil && !probe {
			p.persona.ApplyInteraction(query, persona.InferFeedback(query))
		}
		it.trace(TracePersonaApplied)

		// Stage 5: ethical filter with a single retry.
		response = p.filterEthics(ctx, it, query, response)
	} else {
		it.trace(TraceGenerationFailed)
		if !probe {
			p.genFailures++
		}
		response = p.cfg.FallbackMessage
	}

	// Stage 6: correction final gate. Mandatory on every path.
	response = p.finalGate(ctx, it, query, response)
	it.Response = response

	// Stage 7: persistence. Delivery and durability are decoupled; a write
	// failure is logged and the reply still goes out.
	if p.store != nil && !probe {
		rec := memory.InteractionRecord{
			ID:        it.ID,
			Sender:    msg.Sender,
			Query:     msg.Text,
			Response:  it.Response,
			Trace:     it.Trace,
			CreatedAt: it.StartedAt,
		}
		if err := p.store.StoreInteraction(ctx, rec); err != nil {
			it.trace(TracePersistFailed)
			p.logger.Error("failed to persist interaction", zap.Error(err))
		}
	}

	if !probe {
		p.processed++
	}
	return it
}

func (p *Pipeline) generate(ctx context.Context, contextBlob, query string) (string, bool) {
	if p.generator == nil {
		return "", false
	}
	genCtx, cancel := context.WithTimeout(ctx, p.cfg.LLMTimeout)
	defer cancel()

	system := ""
	if p.persona != nil {
		system = p.persona.PromptContext()
	}
	if extra := p.directives(); len(extra) > 0 {
		system += "\n" + strings.Join(extra, "\n")
	}

	out, err := p.generator.Generate(genCtx, system, contextBlob, query)
	if err != nil {
		p.logger.Warn("generation failed", zap.Error(err))
		return "", false
	}
	if strings.TrimSpace(out) == "" {
		return "", false
	}
	return out, true
}

// filterEthics applies the ethical filter. A critical response is replaced
// outright; a moderate one gets the pipeline's single rewrite retry. A
// response that still fails is handed to the final gate marked for
// replacement by returning the empty string, which the corrector always
// rejects.
func (p *Pipeline) filterEthics(ctx context.Context, it *Interaction, query, response string) string {
	ev := p.ethics.Evaluate(ctx, query, response)
	if ev.Judgment == ethics.JudgmentPass {
		it.trace(TraceEthicsPass)
		return response
	}
	if ev.Judgment == ethics.JudgmentCritical {
		it.trace(TraceEthicsFailed)
		return ethics.ReplacementResponse
	}

	rewritten, err := p.ethics.Rewrite(ctx, query, response, ev.Concerns)
	if err == nil && rewritten != "" {
		second := p.ethics.Evaluate(ctx, query, rewritten)
		if p.ethics.RewriteAcceptable(second.Score) {
			it.trace(TraceEthicsRetry)
			return rewritten
		}
	}

	it.trace(TraceEthicsFailed)
	return ""
}

func (p *Pipeline) finalGate(ctx context.Context, it *Interaction, query, response string) string {
	if p.corrector == nil {
		if response == "" {
			it.trace(TraceCorrectionFallback)
			return p.cfg.FallbackMessage
		}
		it.trace(TraceCorrectionPass)
		return response
	}

	outcome := p.corrector.Finalize(ctx, query, response)
	switch {
	case outcome.FellBack:
		it.trace(TraceCorrectionFallback)
		p.corrections++
	case outcome.Corrected:
		it.trace(TraceCorrected)
		p.corrections++
	default:
		it.trace(TraceCorrectionPass)
	}
	return outcome.Response
}

// Stats reports pipeline counters for the monitoring job.
func (p *Pipeline) Stats() (processed, genFailures, corrections int64) {
	return p.processed, p.genFailures, p.corrections
}
