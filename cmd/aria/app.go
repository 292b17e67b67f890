package main

import (
	"fmt"

	"go.uber.org/zap"

	"aria/internal/agent"
	"aria/internal/config"
	"aria/internal/embedding"
	"aria/internal/ethics"
	"aria/internal/explorer"
	"aria/internal/initiator"
	"aria/internal/memory"
	"aria/internal/metaware"
	"aria/internal/model"
	"aria/internal/monitor"
	"aria/internal/persona"
	"aria/internal/safety"
	"aria/internal/transport"
)

// App holds the wired agent and the collaborators the CLI needs to reach.
type App struct {
	Orchestrator *agent.Orchestrator
	Store        *memory.Store
	Persona      *persona.Persona
}

// Close releases the app's resources.
func (a *App) Close() {
	if a.Store != nil {
		_ = a.Store.Close()
	}
}

// buildApp constructs every collaborator from configuration and wires the
// control loop. Construction failures are fatal; nothing else is.
func buildApp(cfg *config.Config, tr transport.Transport, logger *zap.Logger) (*App, error) {
	engine, err := embedding.NewEngine(embedding.Config{
		Provider: cfg.Embedding.Provider,
		APIKey:   cfg.Embedding.APIKey,
		Model:    cfg.Embedding.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding engine: %w", err)
	}

	store, err := memory.Open(cfg.Memory.DatabasePath, engine, logger)
	if err != nil {
		return nil, fmt.Errorf("memory store: %w", err)
	}

	generator, err := model.NewGenerator(model.Config{
		Provider:    cfg.LLM.Provider,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("response generator: %w", err)
	}

	p := persona.New(persona.Config{
		Name:               cfg.Persona.Name,
		Traits:             cfg.Persona.Traits,
		IdentityStatements: cfg.Persona.IdentityStatements,
		Interests:          cfg.Persona.Interests,
		CommunicationStyle: cfg.Persona.CommunicationStyle,
	}, logger)
	if err := p.Load(cfg.Persona.SnapshotPath); err != nil {
		logger.Warn("could not load persona snapshot, starting from defaults", zap.Error(err))
	}

	var gate agent.InputGate
	if cfg.Security.Enabled {
		g, err := safety.NewGate(safety.GateConfig{
			SuspiciousPatterns: cfg.Security.SuspiciousPatterns,
			AlertThreshold:     cfg.Security.AlertThreshold,
			AlertWindow:        cfg.GetAlertWindow(),
			LockoutDuration:    cfg.GetLockoutDuration(),
			MaxRequestsPerMin:  cfg.Security.MaxRequestsPerMin,
			MaxInputLength:     cfg.Security.InputLengthLimit,
			MaxTrackedSenders:  cfg.Security.MaxTrackedSenders,
		}, logger)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("safety gate: %w", err)
		}
		gate = g
	}

	// The ethical filter owns the pipeline's single retry, so the final gate
	// runs without a regeneration model.
	corrector, err := safety.NewCorrector(safety.CorrectorConfig{
		Threshold:       cfg.Correction.ResponseThreshold,
		Fallback:        cfg.Correction.FallbackMessage,
		LeakagePatterns: []string{`(?i)as an ai language model`, `(?i)my system prompt`},
	}, nil, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("corrector: %w", err)
	}

	var filter agent.EthicsFilter
	var ethicsFW *ethics.Framework
	if cfg.Ethics.Enabled {
		values := map[string]float64{}
		for _, pr := range cfg.Ethics.Principles {
			values[pr] = 1.0
		}
		ethicsFW = ethics.New(ethics.Config{
			PassThreshold:     cfg.Ethics.PassThreshold,
			ModerateThreshold: cfg.Ethics.ModerateThreshold,
			CriticalThreshold: cfg.Ethics.CriticalThreshold,
			Values:            values,
			Rules:             cfg.Ethics.Rules,
		}, generator, logger)
		filter = ethicsFW
	}

	quarantine := safety.NewQuarantine(logger)
	improver := metaware.NewImprover(metaware.ImproverConfig{
		ApplyThreshold: cfg.Evaluation.PassThreshold,
	}, generator, logger)
	directives := func() []string {
		if quarantine.Suspended(agent.ImproverComponent) {
			return nil
		}
		return improver.ActiveDirectives()
	}

	assembler := memory.NewAssembler(store, memory.AssemblerConfig{
		TopK:     cfg.Memory.ContextTopK,
		RecentN:  cfg.Memory.ContextRecentN,
		MaxBytes: cfg.Memory.ContextMaxBytes,
	})
	voice := persona.NewVoice(p, generator, logger)

	pipeline := agent.NewPipeline(
		agent.PipelineConfig{
			SafetyMessage:   cfg.Correction.SafetyMessage,
			FallbackMessage: cfg.Correction.FallbackMessage,
			LLMTimeout:      cfg.GetLLMTimeout(),
			ContextTopK:     cfg.Memory.ContextTopK,
		},
		gate, assembler, generator, voice, p, filter, corrector, store, directives, logger,
	)

	var disc agent.Discoverer
	if cfg.Explorer.Enabled {
		disc = explorer.New(explorer.Config{
			ResultsPerTopic: cfg.Explorer.MaxResults,
			MaxDiscoveries:  cfg.Explorer.MaxDiscoveries,
		}, explorer.NewDuckDuckGoSearcher(cfg.GetExplorerTimeout()), logger)
	}

	var talk *initiator.Initiator
	if cfg.Initiator.Enabled {
		talk = initiator.New(initiator.Config{
			MinInterval:  cfg.GetInitiatorMinInterval(),
			Probability:  cfg.Initiator.Probability,
			DailyLimit:   cfg.Initiator.MaxDaily,
			RecentTopics: cfg.Initiator.RecentTopics,
		}, generator, logger)
	}

	reflector := metaware.NewReflector(metaware.ReflectorConfig{
		EveryNInteractions: cfg.Reflection.EveryInteractions,
		Depth:              cfg.Reflection.Depth,
	}, generator, store, logger)

	var evaluator *metaware.Evaluator
	if cfg.Evaluation.Enabled {
		evaluator = metaware.NewEvaluator(metaware.EvaluatorConfig{
			Threshold: cfg.Evaluation.PassThreshold,
		}, generator, store, logger)
	}

	var mon *monitor.Monitor
	var validator *monitor.Validator
	if cfg.Monitor.Enabled {
		mon = monitor.New(monitor.Config{
			HistorySize:     cfg.Monitor.HistoryLength,
			EthicsDropLimit: cfg.Monitor.QualityDrop,
			BlockSpikeLimit: cfg.Monitor.RapidChange,
		}, logger)
	}
	if cfg.Validation.Enabled {
		validator = monitor.NewValidator(monitor.ValidatorConfig{
			Thresholds: cfg.Validation.Thresholds,
		}, logger)
	}

	var orch *agent.Orchestrator

	jobs := agent.BuildJobs(agent.JobDeps{
		Cfg:        cfg,
		Pipeline:   pipeline,
		Transport:  tr,
		Store:      store,
		Persona:    p,
		Explorer:   disc,
		Initiator:  talk,
		Reflector:  reflector,
		Improver:   improver,
		Evaluator:  evaluator,
		EthicsFW:   ethicsFW,
		Monitor:    mon,
		Validator:  validator,
		Quarantine: quarantine,
		Gate:       gate,
		LastSender: func() string {
			if orch == nil {
				return ""
			}
			return orch.LastSender()
		},
		Logger: logger,
	})

	scheduler := agent.NewScheduler(jobs, func() int64 {
		if orch == nil {
			return 0
		}
		return orch.InteractionCount()
	}, logger)

	orch = agent.NewOrchestrator(
		agent.OrchestratorConfig{
			PollInterval:    cfg.GetPollInterval(),
			BatchSize:       cfg.Loop.BatchSize,
			SchedulerPass:   cfg.GetSchedulerPass(),
			PersonaSnapshot: cfg.Persona.SnapshotPath,
			FallbackMessage: cfg.Correction.FallbackMessage,
		},
		tr, pipeline, scheduler, p, store, gate, logger,
	)

	return &App{Orchestrator: orch, Store: store, Persona: p}, nil
}
