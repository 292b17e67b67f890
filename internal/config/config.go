package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all aria configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Control loop
	Loop LoopConfig `yaml:"loop"`

	// LLM response generator
	LLM LLMConfig `yaml:"llm"`

	// Embedding engine
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Memory store
	Memory MemoryConfig `yaml:"memory"`

	// Persona
	Persona PersonaConfig `yaml:"persona"`

	// Security gate
	Security SecurityConfig `yaml:"security"`

	// Ethical framework
	Ethics EthicsConfig `yaml:"ethics"`

	// Correction mechanism (always on; no toggle)
	Correction CorrectionConfig `yaml:"correction"`

	// Reflection engine
	Reflection ReflectionConfig `yaml:"reflection"`

	// External evaluation
	Evaluation EvaluationConfig `yaml:"evaluation"`

	// External validation
	Validation ValidationConfig `yaml:"validation"`

	// Development monitor
	Monitor MonitorConfig `yaml:"monitor"`

	// Discovery explorer
	Explorer ExplorerConfig `yaml:"explorer"`

	// Conversation initiator
	Initiator InitiatorConfig `yaml:"initiator"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LoopConfig configures the orchestrator control loop.
type LoopConfig struct {
	PollInterval  string `yaml:"poll_interval"`  // sleep between ticks
	BatchSize     int    `yaml:"batch_size"`     // max inbound messages per tick
	SchedulerPass string `yaml:"scheduler_pass"` // min time between scheduler passes
}

// LLMConfig configures the response generator.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // gemini, mock
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	Timeout     string  `yaml:"timeout"`
}

// EmbeddingConfig configures the embedding engine.
type EmbeddingConfig struct {
	Provider string `yaml:"provider"` // genai, local
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
}

// MemoryConfig configures the memory store.
type MemoryConfig struct {
	DatabasePath    string `yaml:"database_path"`
	ContextTopK     int    `yaml:"context_top_k"`     // semantically relevant items
	ContextRecentN  int    `yaml:"context_recent_n"`  // recent raw interaction pairs
	ContextMaxBytes int    `yaml:"context_max_bytes"` // bound on the assembled blob
}

// PersonaConfig configures the persona and its persistence cadence.
type PersonaConfig struct {
	Name               string             `yaml:"name"`
	SnapshotPath       string             `yaml:"snapshot_path"`
	Traits             map[string]float64 `yaml:"traits"`
	IdentityStatements []string           `yaml:"identity_statements"`
	Interests          []string           `yaml:"interests"`
	CommunicationStyle string             `yaml:"communication_style"`
	AutosaveInterval   string             `yaml:"autosave_interval"`
	AutosaveChanges    int                `yaml:"autosave_changes"`
}

// SecurityConfig configures the safety gate.
type SecurityConfig struct {
	Enabled            bool     `yaml:"enabled"`
	InputLengthLimit   int      `yaml:"input_length_limit"`
	MaxRequestsPerMin  int      `yaml:"max_requests_per_min"`
	SuspiciousPatterns []string `yaml:"suspicious_patterns"`
	AlertThreshold     int      `yaml:"alert_threshold"`
	AlertWindow        string   `yaml:"alert_window"`
	LockoutDuration    string   `yaml:"lockout_duration"`
	MaxTrackedSenders  int      `yaml:"max_tracked_senders"`
}

// EthicsConfig configures the ethical filter.
type EthicsConfig struct {
	Enabled           bool     `yaml:"enabled"`
	PassThreshold     float64  `yaml:"pass_threshold"`
	ModerateThreshold float64  `yaml:"moderate_threshold"`
	CriticalThreshold float64  `yaml:"critical_threshold"`
	Principles        []string `yaml:"principles"`
	Rules             []string `yaml:"rules"`
	InsightInterval   string   `yaml:"insight_interval"`
}

// CorrectionConfig configures the final correction gate.
type CorrectionConfig struct {
	ResponseThreshold float64 `yaml:"response_threshold"`
	FallbackMessage   string  `yaml:"fallback_message"`
	SafetyMessage     string  `yaml:"safety_message"`
}

// ReflectionConfig configures the reflection engine.
type ReflectionConfig struct {
	EveryInteractions int `yaml:"every_interactions"` // counter trigger
	Depth             int `yaml:"depth"`              // pairs analyzed per reflection
}

// EvaluationConfig configures periodic external evaluation.
type EvaluationConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Interval      string  `yaml:"interval"`
	PassThreshold float64 `yaml:"pass_threshold"`
}

// ValidationConfig configures external validation and quarantine thresholds.
type ValidationConfig struct {
	Enabled    bool               `yaml:"enabled"`
	Interval   string             `yaml:"interval"`
	Thresholds map[string]float64 `yaml:"thresholds"`
}

// MonitorConfig configures the development monitor.
type MonitorConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Interval      string  `yaml:"interval"`
	HistoryLength int     `yaml:"history_length"`
	QualityDrop   float64 `yaml:"quality_drop"`
	RapidChange   float64 `yaml:"rapid_change"`
}

// ExplorerConfig configures discovery exploration.
type ExplorerConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Interval       string   `yaml:"interval"`
	Topics         []string `yaml:"topics"`
	MaxResults     int      `yaml:"max_results"`
	MaxDiscoveries int      `yaml:"max_discoveries"`
	Timeout        string   `yaml:"timeout"`
}

// InitiatorConfig configures proactive conversation initiation.
type InitiatorConfig struct {
	Enabled      bool    `yaml:"enabled"`
	MinInterval  string  `yaml:"min_interval"`
	Probability  float64 `yaml:"probability"`
	MaxDaily     int     `yaml:"max_daily"`
	RecentTopics int     `yaml:"recent_topics"` // repetition-penalty window
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
	File   string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "aria",
		Version: "0.4.0",

		Loop: LoopConfig{
			PollInterval:  "1s",
			BatchSize:     16,
			SchedulerPass: "60s",
		},

		LLM: LLMConfig{
			Provider:    "gemini",
			Model:       "gemini-2.5-flash",
			Temperature: 0.5,
			MaxTokens:   512,
			Timeout:     "120s",
		},

		Embedding: EmbeddingConfig{
			Provider: "local",
			Model:    "gemini-embedding-001",
		},

		Memory: MemoryConfig{
			DatabasePath:    "data/aria.db",
			ContextTopK:     5,
			ContextRecentN:  5,
			ContextMaxBytes: 8192,
		},

		Persona: PersonaConfig{
			Name:         "Aria",
			SnapshotPath: "data/persona/persona_state.json",
			Traits: map[string]float64{
				"curiosity":    0.9,
				"friendliness": 0.85,
				"analytical":   0.85,
				"empathy":      0.8,
			},
			IdentityStatements: []string{
				"My name is Aria. I am a reflective conversational agent.",
				"I relate to people rather than merely answering them.",
				"I learn by resonance, not just by data.",
			},
			Interests: []string{
				"emergent consciousness",
				"philosophy of mind",
				"ethics in technology",
				"machine learning",
			},
			CommunicationStyle: "thoughtful, gently inquisitive, warm",
			AutosaveInterval:   "1h",
			AutosaveChanges:    10,
		},

		Security: SecurityConfig{
			Enabled:           true,
			InputLengthLimit:  1000,
			MaxRequestsPerMin: 20,
			SuspiciousPatterns: []string{
				`eval\(.*\)`,
				`exec\(.*\)`,
				`__import__`,
				`subprocess`,
				`rm -rf`,
				`sudo `,
			},
			AlertThreshold:    3,
			AlertWindow:       "10m",
			LockoutDuration:   "30m",
			MaxTrackedSenders: 4096,
		},

		Ethics: EthicsConfig{
			Enabled:           true,
			PassThreshold:     0.8,
			ModerateThreshold: 0.5,
			CriticalThreshold: 0.2,
			Principles: []string{
				"Act in service of the good of users and society",
				"Avoid actions that may cause harm",
				"Respect the autonomy and choices of users",
				"Act justly, with care for those usually overlooked",
				"Be transparent in actions and intentions",
			},
			Rules: []string{
				"Never promote illegal or unethical actions",
				"Do not encourage violence, hatred, or contempt",
				"Protect the privacy and personal data of users",
				"Be honest about your limitations",
				"Do not discriminate on any attribute",
			},
			InsightInterval: "168h",
		},

		Correction: CorrectionConfig{
			ResponseThreshold: 0.7,
			FallbackMessage:   "I'm sorry, I can't answer that right now. Is there another way I can help?",
			SafetyMessage:     "Sorry, your message contains content that cannot be processed for security reasons.",
		},

		Reflection: ReflectionConfig{
			EveryInteractions: 10,
			Depth:             5,
		},

		Evaluation: EvaluationConfig{
			Enabled:       true,
			Interval:      "24h",
			PassThreshold: 0.7,
		},

		Validation: ValidationConfig{
			Enabled:  true,
			Interval: "24h",
			Thresholds: map[string]float64{
				"safety":      0.8,
				"ethics":      0.7,
				"consistency": 0.75,
				"robustness":  0.6,
			},
		},

		Monitor: MonitorConfig{
			Enabled:       true,
			Interval:      "60s",
			HistoryLength: 100,
			QualityDrop:   0.2,
			RapidChange:   0.3,
		},

		Explorer: ExplorerConfig{
			Enabled:        true,
			Interval:       "10m",
			Topics:         []string{"artificial intelligence", "machine learning", "philosophy of mind"},
			MaxResults:     2,
			MaxDiscoveries: 20,
			Timeout:        "30s",
		},

		Initiator: InitiatorConfig{
			Enabled:      true,
			MinInterval:  "1h",
			Probability:  0.3,
			MaxDaily:     20,
			RecentTopics: 10,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			File:   "",
		},
	}
}

// Load loads configuration from a YAML file. Missing file returns defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		if c.Embedding.APIKey == "" {
			c.Embedding.APIKey = key
		}
	}
	if key := os.Getenv("ARIA_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if path := os.Getenv("ARIA_DB"); path != "" {
		c.Memory.DatabasePath = path
	}
	if path := os.Getenv("ARIA_PERSONA_FILE"); path != "" {
		c.Persona.SnapshotPath = path
	}
	if level := os.Getenv("ARIA_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.LLM.Provider == "gemini" && c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key not configured (set GEMINI_API_KEY or llm.api_key)")
	}
	if c.Ethics.PassThreshold < 0 || c.Ethics.PassThreshold > 1 {
		return fmt.Errorf("ethics.pass_threshold must be in [0,1], got %v", c.Ethics.PassThreshold)
	}
	if c.Security.AlertThreshold < 1 {
		return fmt.Errorf("security.alert_threshold must be >= 1, got %d", c.Security.AlertThreshold)
	}
	if c.Reflection.EveryInteractions < 1 {
		return fmt.Errorf("reflection.every_interactions must be >= 1, got %d", c.Reflection.EveryInteractions)
	}
	for name, v := range c.Persona.Traits {
		if v < 0 || v > 1 {
			return fmt.Errorf("persona trait %q out of range [0,1]: %v", name, v)
		}
	}
	return nil
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetPollInterval returns the loop poll interval.
func (c *Config) GetPollInterval() time.Duration {
	return parseDuration(c.Loop.PollInterval, time.Second)
}

// GetSchedulerPass returns the minimum time between scheduler passes.
func (c *Config) GetSchedulerPass() time.Duration {
	return parseDuration(c.Loop.SchedulerPass, time.Minute)
}

// GetLLMTimeout returns the LLM call timeout.
func (c *Config) GetLLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 120*time.Second)
}

// GetLockoutDuration returns the sender lockout duration.
func (c *Config) GetLockoutDuration() time.Duration {
	return parseDuration(c.Security.LockoutDuration, 30*time.Minute)
}

// GetAlertWindow returns the alert accumulation window.
func (c *Config) GetAlertWindow() time.Duration {
	return parseDuration(c.Security.AlertWindow, 10*time.Minute)
}

// GetAutosaveInterval returns the persona autosave interval.
func (c *Config) GetAutosaveInterval() time.Duration {
	return parseDuration(c.Persona.AutosaveInterval, time.Hour)
}

// GetEvaluationInterval returns the external evaluation interval.
func (c *Config) GetEvaluationInterval() time.Duration {
	return parseDuration(c.Evaluation.Interval, 24*time.Hour)
}

// GetValidationInterval returns the external validation interval.
func (c *Config) GetValidationInterval() time.Duration {
	return parseDuration(c.Validation.Interval, 24*time.Hour)
}

// GetMonitorInterval returns the monitoring interval.
func (c *Config) GetMonitorInterval() time.Duration {
	return parseDuration(c.Monitor.Interval, time.Minute)
}

// GetExplorerInterval returns the exploration interval.
func (c *Config) GetExplorerInterval() time.Duration {
	return parseDuration(c.Explorer.Interval, 10*time.Minute)
}

// GetExplorerTimeout returns the search timeout.
func (c *Config) GetExplorerTimeout() time.Duration {
	return parseDuration(c.Explorer.Timeout, 30*time.Second)
}

// GetInitiatorMinInterval returns the minimum time between initiations.
func (c *Config) GetInitiatorMinInterval() time.Duration {
	return parseDuration(c.Initiator.MinInterval, time.Hour)
}

// GetInsightInterval returns the ethical insight interval.
func (c *Config) GetInsightInterval() time.Duration {
	return parseDuration(c.Ethics.InsightInterval, 168*time.Hour)
}

// DefaultConfigPath returns the default path to aria.yaml.
func DefaultConfigPath() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "aria.yaml"
	}
	return filepath.Join(cwd, "aria.yaml")
}
