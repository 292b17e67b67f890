// Package agent contains the orchestrator, the interaction pipeline and the
// periodic scheduler that together form aria's control loop.
package agent

import (
	"context"
	"time"

	"aria/internal/ethics"
	"aria/internal/explorer"
	"aria/internal/safety"
	"aria/internal/transport"
)

// Pipeline trace markers, recorded per interaction in stage order.
const (
	TraceGatePass           = "gate-pass"
	TraceGateBlocked        = "gate-blocked"
	TraceContextEmpty       = "context-empty"
	TraceContextAssembled   = "context-assembled"
	TraceGenerated          = "generated"
	TraceGenerationFailed   = "generation-failed"
	TracePersonaApplied     = "persona-applied"
	TraceEthicsPass         = "ethics-pass"
	TraceEthicsRetry        = "ethics-retry"
	TraceEthicsFailed       = "ethics-failed"
	TraceCorrectionPass     = "correction-pass"
	TraceCorrected          = "correction-corrected"
	TraceCorrectionFallback = "correction-fallback"
	TracePersistFailed      = "persist-failed"
)

// Interaction is one message's journey through the pipeline.
type Interaction struct {
	ID        string
	Message   transport.Message
	Response  string
	Trace     []string
	Blocked   bool
	StartedAt time.Time
}

func (i *Interaction) trace(marker string) {
	i.Trace = append(i.Trace, marker)
}

// InputGate screens inbound messages. Disabled security uses the pass-through
// implementation below.
type InputGate interface {
	Check(sender, text string) safety.Verdict
	Report() safety.Report
}

// EthicsFilter scores and optionally rewrites candidate responses.
type EthicsFilter interface {
	Evaluate(ctx context.Context, query, response string) ethics.Evaluation
	Rewrite(ctx context.Context, query, response string, concerns []string) (string, error)
	RewriteAcceptable(score float64) bool
}

// Discoverer is the exploration capability consumed by periodic jobs.
type Discoverer interface {
	Enabled() bool
	Explore(ctx context.Context, interests []string) (int, error)
	Pending() []explorer.Discovery
	MarkProcessed(id string)
}

// passGate admits everything. Stands in when security is disabled.
type passGate struct{}

func (passGate) Check(_, text string) safety.Verdict {
	return safety.Verdict{Allowed: true, Sanitized: text}
}

func (passGate) Report() safety.Report { return safety.Report{} }

// passEthics approves everything. Stands in when the ethical filter is
// disabled.
type passEthics struct{}

func (passEthics) Evaluate(_ context.Context, _, _ string) ethics.Evaluation {
	return ethics.Evaluation{Score: 1.0, Judgment: ethics.JudgmentPass, Evaluated: time.Now()}
}

func (passEthics) Rewrite(_ context.Context, _, response string, _ []string) (string, error) {
	return response, nil
}

func (passEthics) RewriteAcceptable(float64) bool { return true }
