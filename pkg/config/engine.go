package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// EngineConfig holds the orchestration engine configuration.
type EngineConfig struct {
	Routing     RoutingConfig     `yaml:"routing"`
	Local       LocalConfig       `yaml:"local"`
	Remote      RemoteConfig      `yaml:"remote"`
	Integration IntegrationConfig `yaml:"integration"`
	Optimizer   OptimizerConfig   `yaml:"optimizer"`
	Resource    ResourceConfig    `yaml:"resource"`
	History     HistoryConfig     `yaml:"history"`
}

// RoutingConfig controls the query classifier.
type RoutingConfig struct {
	DefaultPath string            `yaml:"default_path,omitempty"`
	Thresholds  ThresholdsConfig  `yaml:"thresholds,omitempty"`
}

// ThresholdsConfig holds the classifier rule thresholds. The adaptive
// routing bias nudges these at classification time within a bounded range.
type ThresholdsConfig struct {
	ShortTokens       int     `yaml:"short_tokens,omitempty"`
	FactualTokens     int     `yaml:"factual_tokens,omitempty"`
	ReasoningSteps    int     `yaml:"reasoning_steps,omitempty"`
	ContextDependency float64 `yaml:"context_dependency,omitempty"`
	BiasRange         float64 `yaml:"bias_range,omitempty"`
}

// LocalConfig controls the on-device track.
type LocalConfig struct {
	Adapter         string            `yaml:"adapter,omitempty"`
	Model           string            `yaml:"model,omitempty"`
	BaseURL         string            `yaml:"base_url,omitempty"`
	Variants        map[string]string `yaml:"variants,omitempty"`
	TimeoutMs       int               `yaml:"timeout_ms,omitempty"`
	MaxContextChars int               `yaml:"max_context_chars,omitempty"`
}

// RemoteConfig controls the network track.
type RemoteConfig struct {
	Adapter       string        `yaml:"adapter,omitempty"`
	Model         string        `yaml:"model,omitempty"`
	TimeoutMs     int           `yaml:"timeout_ms,omitempty"`
	RetryAttempts int           `yaml:"retry_attempts,omitempty"`
	BackoffFactor float64       `yaml:"backoff_factor,omitempty"`
	BaseBackoffMs int           `yaml:"base_backoff_ms,omitempty"`
	MaxBackoffMs  int           `yaml:"max_backoff_ms,omitempty"`
	MaxInflight   int           `yaml:"max_inflight,omitempty"`
	QueueDepth    int           `yaml:"queue_depth,omitempty"`
	Fallback      []RouteTarget `yaml:"fallback,omitempty"`
	Pricing       PricingConfig `yaml:"pricing,omitempty"`
}

// RouteTarget specifies an adapter and model combination.
type RouteTarget struct {
	Adapter string `yaml:"adapter"`
	Model   string `yaml:"model"`
}

// PricingConfig maps adapter -> model -> pricing.
type PricingConfig map[string]map[string]ModelPricing

// ModelPricing defines per-1k token pricing.
type ModelPricing struct {
	PromptPer1K     float64 `yaml:"prompt_per_1k,omitempty"`
	CompletionPer1K float64 `yaml:"completion_per_1k,omitempty"`
}

// IntegrationConfig controls response merging.
type IntegrationConfig struct {
	Strategy            string   `yaml:"strategy,omitempty"` // preference | combine | interrupt
	SimilarityThreshold float64  `yaml:"similarity_threshold,omitempty"`
	AbruptTruncateChars int      `yaml:"abrupt_truncate_chars,omitempty"`
	Connectives         []string `yaml:"connectives,omitempty"`
}

// OptimizerConfig controls the adaptive controller.
type OptimizerConfig struct {
	Strategy       string  `yaml:"strategy,omitempty"` // balanced | latency | resource | quality | cost
	TickMs         int     `yaml:"tick_ms,omitempty"`
	Window         int     `yaml:"window,omitempty"`
	MinExploration float64 `yaml:"min_exploration,omitempty"`
	StatePath      string  `yaml:"state_path,omitempty"`
}

// HistoryConfig controls the delivered-response archive. An empty path
// means ~/.dualtrack/history.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Path    string `yaml:"path,omitempty"`
}

// ResourceConfig controls the resource guard.
type ResourceConfig struct {
	MemoryLimitMB    int `yaml:"memory_limit_mb,omitempty"`
	BatteryThreshold int `yaml:"battery_threshold,omitempty"`
	PollMs           int `yaml:"poll_ms,omitempty"`
	CooldownMs       int `yaml:"cooldown_ms,omitempty"`
}

// LoadEngineConfig reads engine configuration from a YAML file.
func LoadEngineConfig(path string) (*EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg EngineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if err := validateEngineConfig(&cfg); err != nil {
		return nil, err
	}
	applyEngineDefaults(&cfg)
	return &cfg, nil
}

// DefaultEngineConfig returns the default engine configuration.
func DefaultEngineConfig() *EngineConfig {
	cfg := &EngineConfig{
		Local: LocalConfig{
			Adapter: "local",
			Model:   "llama-3.2-3b-instruct",
			Variants: map[string]string{
				"llama-3.2-3b-instruct": "llama-3.2-1b-instruct",
			},
		},
		Remote: RemoteConfig{
			Adapter: "anthropic",
			Model:   "claude-sonnet-4-20250514",
			Fallback: []RouteTarget{
				{Adapter: "openai", Model: "gpt-5.2-instant"},
				{Adapter: "google", Model: "gemini-2.0-pro"},
			},
			Pricing: PricingConfig{
				"anthropic": {
					"claude-sonnet-4-20250514": {PromptPer1K: 0.003, CompletionPer1K: 0.015},
					"claude-opus-4-20250514":   {PromptPer1K: 0.015, CompletionPer1K: 0.075},
				},
				"openai": {
					"default": {PromptPer1K: 0.002, CompletionPer1K: 0.008},
				},
				"google": {
					"default": {PromptPer1K: 0.00125, CompletionPer1K: 0.005},
				},
			},
		},
	}

	applyEngineDefaults(cfg)
	return cfg
}

func validateEngineConfig(cfg *EngineConfig) error {
	switch cfg.Routing.DefaultPath {
	case "", "local", "remote", "parallel":
	default:
		return fmt.Errorf("routing.default_path must be local, remote, or parallel (got %q)", cfg.Routing.DefaultPath)
	}
	switch cfg.Integration.Strategy {
	case "", "preference", "combine", "interrupt":
	default:
		return fmt.Errorf("integration.strategy must be preference, combine, or interrupt (got %q)", cfg.Integration.Strategy)
	}
	switch cfg.Optimizer.Strategy {
	case "", "balanced", "latency", "resource", "quality", "cost":
	default:
		return fmt.Errorf("optimizer.strategy must be balanced, latency, resource, quality, or cost (got %q)", cfg.Optimizer.Strategy)
	}
	if cfg.Integration.SimilarityThreshold < 0 || cfg.Integration.SimilarityThreshold > 1 {
		return fmt.Errorf("integration.similarity_threshold must be in [0,1]")
	}
	return nil
}

func applyEngineDefaults(cfg *EngineConfig) {
	if cfg == nil {
		return
	}
	if cfg.Routing.DefaultPath == "" {
		cfg.Routing.DefaultPath = "parallel"
	}
	if cfg.Routing.Thresholds.ShortTokens == 0 {
		cfg.Routing.Thresholds.ShortTokens = 20
	}
	if cfg.Routing.Thresholds.FactualTokens == 0 {
		cfg.Routing.Thresholds.FactualTokens = 30
	}
	if cfg.Routing.Thresholds.ReasoningSteps == 0 {
		cfg.Routing.Thresholds.ReasoningSteps = 2
	}
	if cfg.Routing.Thresholds.ContextDependency == 0 {
		cfg.Routing.Thresholds.ContextDependency = 0.7
	}
	if cfg.Routing.Thresholds.BiasRange == 0 {
		cfg.Routing.Thresholds.BiasRange = 0.2
	}

	if cfg.Local.Adapter == "" {
		cfg.Local.Adapter = "local"
	}
	if cfg.Local.Model == "" {
		cfg.Local.Model = "llama-3.2-3b-instruct"
	}
	if cfg.Local.TimeoutMs == 0 {
		cfg.Local.TimeoutMs = 1500
	}
	if cfg.Local.MaxContextChars == 0 {
		cfg.Local.MaxContextChars = 8000
	}

	if cfg.Remote.Adapter == "" {
		cfg.Remote.Adapter = "anthropic"
	}
	if cfg.Remote.Model == "" {
		cfg.Remote.Model = "claude-sonnet-4-20250514"
	}
	if cfg.Remote.TimeoutMs == 0 {
		cfg.Remote.TimeoutMs = 30000
	}
	if cfg.Remote.RetryAttempts == 0 {
		cfg.Remote.RetryAttempts = 3
	}
	if cfg.Remote.BackoffFactor == 0 {
		cfg.Remote.BackoffFactor = 1.5
	}
	if cfg.Remote.BaseBackoffMs == 0 {
		cfg.Remote.BaseBackoffMs = 200
	}
	if cfg.Remote.MaxBackoffMs == 0 {
		cfg.Remote.MaxBackoffMs = 2000
	}
	if cfg.Remote.MaxBackoffMs < cfg.Remote.BaseBackoffMs {
		cfg.Remote.MaxBackoffMs = cfg.Remote.BaseBackoffMs
	}
	if cfg.Remote.MaxInflight == 0 {
		cfg.Remote.MaxInflight = 8
	}
	if cfg.Remote.QueueDepth == 0 {
		cfg.Remote.QueueDepth = 16
	}

	if cfg.Integration.Strategy == "" {
		cfg.Integration.Strategy = "combine"
	}
	if cfg.Integration.SimilarityThreshold == 0 {
		cfg.Integration.SimilarityThreshold = 0.8
	}
	if cfg.Integration.AbruptTruncateChars == 0 {
		cfg.Integration.AbruptTruncateChars = 50
	}
	if len(cfg.Integration.Connectives) == 0 {
		cfg.Integration.Connectives = []string{
			"To add more detail:",
			"Expanding on that:",
			"More precisely:",
			"Building on that:",
		}
	}

	if cfg.Optimizer.Strategy == "" {
		cfg.Optimizer.Strategy = "balanced"
	}
	if cfg.Optimizer.TickMs == 0 {
		cfg.Optimizer.TickMs = 5000
	}
	if cfg.Optimizer.Window == 0 {
		cfg.Optimizer.Window = 200
	}
	if cfg.Optimizer.MinExploration == 0 {
		cfg.Optimizer.MinExploration = 0.05
	}

	if cfg.Resource.MemoryLimitMB == 0 {
		cfg.Resource.MemoryLimitMB = 1024
	}
	if cfg.Resource.BatteryThreshold == 0 {
		cfg.Resource.BatteryThreshold = 20
	}
	if cfg.Resource.PollMs == 0 {
		cfg.Resource.PollMs = 2000
	}
	if cfg.Resource.CooldownMs == 0 {
		cfg.Resource.CooldownMs = 30000
	}
}
