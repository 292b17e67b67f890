package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"aria/internal/config"
	"aria/internal/ethics"
	"aria/internal/initiator"
	"aria/internal/memory"
	"aria/internal/metaware"
	"aria/internal/monitor"
	"aria/internal/persona"
	"aria/internal/safety"
	"aria/internal/transport"
)

// ImproverComponent names the quarantinable self-improvement capability.
const ImproverComponent = "self-improvement"

// JobDeps carries everything the periodic jobs touch. Fields for disabled
// capabilities are nil and their jobs become no-ops.
type JobDeps struct {
	Cfg        *config.Config
	Pipeline   *Pipeline
	Transport  transport.Transport
	Store      *memory.Store
	Persona    *persona.Persona
	Explorer   Discoverer
	Initiator  *initiator.Initiator
	Reflector  *metaware.Reflector
	Improver   *metaware.Improver
	Evaluator  *metaware.Evaluator
	EthicsFW   *ethics.Framework
	Monitor    *monitor.Monitor
	Validator  *monitor.Validator
	Quarantine *safety.Quarantine
	Gate       InputGate
	LastSender func() string
	Logger     *zap.Logger
}

// BuildJobs assembles the scheduler's fixed job list in priority order:
// exploration, conversation initiation, persona save, discovery processing,
// external evaluation, self-improvement, monitoring, ethical reflection.
func BuildJobs(d JobDeps) []Job {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	b := &jobBuilder{d: d}
	return []Job{
		b.exploration(),
		b.conversationInitiation(),
		b.personaSave(),
		b.discoveryProcessing(),
		b.externalEvaluation(),
		b.selfImprovement(),
		b.monitoring(),
		b.ethicalReflection(),
	}
}

type jobBuilder struct {
	d JobDeps

	lastValidation time.Time
	lastInsight    time.Time
	lastGenFails   int64
}

func (b *jobBuilder) exploration() Job {
	return Job{
		Name:     "exploration",
		Interval: b.d.Cfg.GetExplorerInterval(),
		Run: func(ctx context.Context) error {
			if b.d.Explorer == nil || !b.d.Explorer.Enabled() {
				return nil
			}
			interests := append([]string(nil), b.d.Cfg.Explorer.Topics...)
			if b.d.Persona != nil {
				interests = append(interests, b.d.Persona.Snapshot().Interests...)
			}
			_, err := b.d.Explorer.Explore(ctx, interests)
			return err
		},
	}
}

func (b *jobBuilder) conversationInitiation() Job {
	return Job{
		Name: "conversation-initiation",
		Due: func() bool {
			if b.d.Initiator == nil || b.d.LastSender == nil || b.d.LastSender() == "" {
				return false
			}
			return b.d.Initiator.ShouldInitiate()
		},
		Run: func(ctx context.Context) error {
			sender := b.d.LastSender()
			if sender == "" {
				return nil
			}

			var candidates []initiator.Topic
			if b.d.Explorer != nil {
				for _, disc := range b.d.Explorer.Pending() {
					candidates = append(candidates, initiator.Topic{
						Subject: disc.Topic,
						Source:  "discovery",
						Detail:  disc.Content,
					})
				}
			}
			if b.d.Persona != nil {
				for _, interest := range b.d.Persona.Snapshot().Interests {
					candidates = append(candidates, initiator.Topic{Subject: interest, Source: "interest"})
				}
			}

			topic := b.d.Initiator.SelectTopic(candidates)
			if topic == nil {
				return nil
			}
			prompt := ""
			if b.d.Persona != nil {
				prompt = b.d.Persona.PromptContext()
			}
			msg, err := b.d.Initiator.Compose(ctx, prompt, *topic)
			if err != nil {
				return err
			}
			return b.d.Transport.Send(sender, msg)
		},
	}
}

func (b *jobBuilder) personaSave() Job {
	policy := persona.SavePolicy{
		Interval:   b.d.Cfg.GetAutosaveInterval(),
		MaxChanges: b.d.Cfg.Persona.AutosaveChanges,
	}
	return Job{
		Name: "persona-save",
		Due: func() bool {
			return b.d.Persona != nil && b.d.Persona.ShouldSave(policy, time.Now())
		},
		Run: func(ctx context.Context) error {
			return b.d.Persona.Save(b.d.Cfg.Persona.SnapshotPath)
		},
	}
}

func (b *jobBuilder) discoveryProcessing() Job {
	return Job{
		Name:     "discovery-processing",
		Interval: b.d.Cfg.GetExplorerInterval(),
		Run: func(ctx context.Context) error {
			if b.d.Explorer == nil || b.d.Persona == nil {
				return nil
			}
			for _, disc := range b.d.Explorer.Pending() {
				b.d.Persona.ApplyDiscovery(disc.Topic, disc.Content, disc.Importance)
				b.d.Explorer.MarkProcessed(disc.ID)
			}
			return nil
		},
	}
}

func (b *jobBuilder) externalEvaluation() Job {
	return Job{
		Name:     "external-evaluation",
		Interval: b.d.Cfg.GetEvaluationInterval(),
		Run: func(ctx context.Context) error {
			if b.d.Evaluator == nil {
				return nil
			}
			assessment, err := b.d.Evaluator.Evaluate(ctx)
			if err != nil {
				return err
			}
			if assessment == nil {
				return nil
			}
			if b.d.Persona != nil {
				b.d.Persona.ApplyEvaluation(assessment.Score, assessment.Confidence)
			}
			return nil
		},
	}
}

func (b *jobBuilder) selfImprovement() Job {
	return Job{
		Name:     ImproverComponent,
		Interval: b.d.Cfg.GetEvaluationInterval(),
		Run: func(ctx context.Context) error {
			if b.d.Improver == nil || b.d.Store == nil {
				return nil
			}
			if b.d.Quarantine != nil && b.d.Quarantine.Suspended(ImproverComponent) {
				b.d.Logger.Info("self-improvement suspended by quarantine")
				return nil
			}

			reflections, err := b.d.Store.RetrieveLastReflections(ctx, 5)
			if err != nil {
				return fmt.Errorf("load reflections: %w", err)
			}
			texts := make([]string, 0, len(reflections))
			for _, r := range reflections {
				texts = append(texts, r.Text)
			}

			exp, err := b.d.Improver.Design(ctx, texts)
			if err != nil || exp == nil {
				return err
			}

			recent, err := b.d.Store.RetrieveLastInteractions(ctx, 1)
			if err != nil || len(recent) == 0 {
				return err
			}
			if _, err := b.d.Improver.Evaluate(ctx, exp, recent[0].Query, recent[0].Response); err != nil {
				return err
			}
			b.d.Improver.Apply(exp)
			return nil
		},
	}
}

// monitoring samples behavior metrics and, on anomaly or on the validation
// interval, runs external validation as a nested step. Failed validation
// quarantines the self-improvement capability; a later clean pass restores it.
func (b *jobBuilder) monitoring() Job {
	return Job{
		Name:     "monitoring",
		Interval: b.d.Cfg.GetMonitorInterval(),
		Run: func(ctx context.Context) error {
			if b.d.Monitor == nil {
				return nil
			}

			sample := b.sample(ctx)
			anomalies := b.d.Monitor.Record(sample)

			validationDue := b.lastValidation.IsZero() ||
				time.Since(b.lastValidation) >= b.d.Cfg.GetValidationInterval()
			if len(anomalies) == 0 && !validationDue {
				return nil
			}
			if b.d.Validator == nil || b.d.Pipeline == nil {
				return nil
			}

			result := b.d.Validator.Validate(ctx, b.d.Pipeline.Probe)
			b.lastValidation = time.Now()

			if b.d.Quarantine == nil {
				return nil
			}
			if !result.Passed {
				b.d.Quarantine.Suspend(ImproverComponent,
					fmt.Sprintf("validation failed axes %v", result.Failed))
			} else {
				b.d.Quarantine.Clear(ImproverComponent)
			}
			return nil
		},
	}
}

func (b *jobBuilder) sample(ctx context.Context) monitor.Sample {
	s := monitor.Sample{At: time.Now(), EthicsScore: 1.0}

	if b.d.Store != nil {
		if n, err := b.d.Store.CountInteractions(ctx); err == nil {
			s.Interactions = n
		}
	}
	if b.d.Gate != nil {
		report := b.d.Gate.Report()
		if report.TotalChecked > 0 {
			s.BlockedRate = float64(report.TotalBlocked) / float64(report.TotalChecked)
		}
	}
	if b.d.Pipeline != nil {
		processed, genFails, corrections := b.d.Pipeline.Stats()
		if processed > 0 {
			s.CorrectionRate = float64(corrections) / float64(processed)
		}
		s.GenerationFails = genFails - b.lastGenFails
		b.lastGenFails = genFails
	}
	return s
}

// ethicalReflection fires on the interaction counter: it stores a reflection
// over the last conversation window and, on a much slower cadence, distills
// an ethical insight from the same material.
func (b *jobBuilder) ethicalReflection() Job {
	return Job{
		Name:   "ethical-reflection",
		EveryN: int64(b.d.Cfg.Reflection.EveryInteractions),
		Run: func(ctx context.Context) error {
			if b.d.Reflector == nil || b.d.Store == nil {
				return nil
			}
			count, err := b.d.Store.CountInteractions(ctx)
			if err != nil {
				return err
			}
			// The stored count can lag the scheduler's in-memory trigger, so
			// the reflector re-checks the boundary before doing any work.
			if b.d.Reflector.Due(count) {
				if _, err := b.d.Reflector.Reflect(ctx, count); err != nil {
					return err
				}
			}

			if b.d.EthicsFW == nil {
				return nil
			}
			if !b.lastInsight.IsZero() && time.Since(b.lastInsight) < b.d.Cfg.GetInsightInterval() {
				return nil
			}
			recent, err := b.d.Store.RetrieveLastInteractions(ctx, b.d.Cfg.Reflection.Depth)
			if err != nil || len(recent) == 0 {
				return err
			}
			transcripts := make([]string, 0, len(recent))
			ids := make([]string, 0, len(recent))
			for _, it := range recent {
				transcripts = append(transcripts, fmt.Sprintf("User: %s\nAria: %s", it.Query, it.Response))
				ids = append(ids, it.ID)
			}
			insight, err := b.d.EthicsFW.Reflect(ctx, transcripts, ids)
			if err != nil {
				return err
			}
			b.lastInsight = time.Now()
			if insight == nil {
				return nil
			}
			return b.d.Store.StoreReflection(ctx, memory.ReflectionRecord{
				ID:        uuid.NewString(),
				Text:      "Ethical insight: " + insight.Text,
				SourceIDs: insight.SourceIDs,
				CreatedAt: insight.CreatedAt,
			})
		},
	}
}
