// Package config loads application configuration from environment variables,
// applying defaults suitable for a local Temporal dev setup.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Defaults for a local docker-compose deployment.
const (
	DefaultTemporalHostPort  = "localhost:7233"
	DefaultTemporalNamespace = "default"
	DefaultTaskQueue         = "durable-swarm"

	DefaultProvider       = "openai"
	DefaultOpenAIModel    = "gpt-4o"
	DefaultAnthropicModel = "claude-3-5-sonnet-latest"
)

// Supported model providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// TemporalConfig holds the connection configuration for the durable-execution
// runtime. The backing relational store is managed by the Temporal server;
// the application never connects to it directly.
type TemporalConfig struct {
	HostPort  string `json:"host_port" env:"HOST_PORT"`
	Namespace string `json:"namespace" env:"NAMESPACE"`
	TaskQueue string `json:"task_queue" env:"TASK_QUEUE"`
}

// Config is the application configuration, loadable from the environment.
type Config struct {
	Temporal TemporalConfig `json:"temporal" envPrefix:"TEMPORAL_"`

	// Provider selects the model backend: "openai" or "anthropic".
	Provider string `json:"provider" env:"MODEL_PROVIDER"`

	OpenAIAPIKey string `json:"-"            env:"OPENAI_API_KEY"`
	OpenAIModel  string `json:"openai_model" env:"OPENAI_MODEL"`

	// OpenAIRPS caps OpenAI requests per second client-side. Zero disables
	// throttling and relies on the provider's own limits.
	OpenAIRPS float64 `json:"openai_rps" env:"OPENAI_RPS"`

	AnthropicAPIKey string `json:"-"               env:"ANTHROPIC_API_KEY"`
	AnthropicModel  string `json:"anthropic_model" env:"ANTHROPIC_MODEL"`
}

// Load reads configuration from environment variables, applying defaults.
// Validation failures (unknown provider, missing API key) are returned as
// errors so callers can fail at startup rather than mid-run.
func Load() (*Config, error) {
	cfg := Config{
		Temporal: TemporalConfig{
			HostPort:  DefaultTemporalHostPort,
			Namespace: DefaultTemporalNamespace,
			TaskQueue: DefaultTaskQueue,
		},
		Provider:       DefaultProvider,
		OpenAIModel:    DefaultOpenAIModel,
		AnthropicModel: DefaultAnthropicModel,
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the configuration is complete enough to start.
func (c *Config) Validate() error {
	if c.Temporal.HostPort == "" {
		return fmt.Errorf("config: TEMPORAL_HOST_PORT is required")
	}
	if c.Temporal.TaskQueue == "" {
		return fmt.Errorf("config: TEMPORAL_TASK_QUEUE is required")
	}
	if c.OpenAIRPS < 0 {
		return fmt.Errorf("config: OPENAI_RPS must not be negative, got %v", c.OpenAIRPS)
	}
	switch c.Provider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("config: OPENAI_API_KEY is required when MODEL_PROVIDER=%s", ProviderOpenAI)
		}
	case ProviderAnthropic:
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("config: ANTHROPIC_API_KEY is required when MODEL_PROVIDER=%s", ProviderAnthropic)
		}
	default:
		return fmt.Errorf("config: unknown MODEL_PROVIDER %q (valid: %s, %s)", c.Provider, ProviderOpenAI, ProviderAnthropic)
	}
	return nil
}
