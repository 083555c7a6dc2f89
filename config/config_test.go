package config

import (
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Temporal.HostPort != DefaultTemporalHostPort {
		t.Errorf("HostPort = %q, want default", cfg.Temporal.HostPort)
	}
	if cfg.Temporal.Namespace != DefaultTemporalNamespace {
		t.Errorf("Namespace = %q, want default", cfg.Temporal.Namespace)
	}
	if cfg.Temporal.TaskQueue != DefaultTaskQueue {
		t.Errorf("TaskQueue = %q, want default", cfg.Temporal.TaskQueue)
	}
	if cfg.Provider != ProviderOpenAI {
		t.Errorf("Provider = %q, want openai", cfg.Provider)
	}
	if cfg.OpenAIModel != DefaultOpenAIModel {
		t.Errorf("OpenAIModel = %q, want default", cfg.OpenAIModel)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TEMPORAL_HOST_PORT", "temporal.internal:7233")
	t.Setenv("TEMPORAL_NAMESPACE", "agents")
	t.Setenv("TEMPORAL_TASK_QUEUE", "refunds")
	t.Setenv("MODEL_PROVIDER", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	t.Setenv("ANTHROPIC_MODEL", "claude-test")
	t.Setenv("OPENAI_RPS", "2.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Temporal.HostPort != "temporal.internal:7233" {
		t.Errorf("HostPort = %q", cfg.Temporal.HostPort)
	}
	if cfg.Temporal.Namespace != "agents" {
		t.Errorf("Namespace = %q", cfg.Temporal.Namespace)
	}
	if cfg.Temporal.TaskQueue != "refunds" {
		t.Errorf("TaskQueue = %q", cfg.Temporal.TaskQueue)
	}
	if cfg.Provider != ProviderAnthropic {
		t.Errorf("Provider = %q", cfg.Provider)
	}
	if cfg.AnthropicModel != "claude-test" {
		t.Errorf("AnthropicModel = %q", cfg.AnthropicModel)
	}
	if cfg.OpenAIRPS != 2.5 {
		t.Errorf("OpenAIRPS = %v", cfg.OpenAIRPS)
	}
}

func TestLoadNegativeRPS(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_RPS", "-1")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for negative OPENAI_RPS")
	}
}

func TestLoadMissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for missing OPENAI_API_KEY")
	}
	if !strings.Contains(err.Error(), "OPENAI_API_KEY") {
		t.Errorf("error %q does not name the missing variable", err)
	}
}

func TestLoadUnknownProvider(t *testing.T) {
	t.Setenv("MODEL_PROVIDER", "cohere")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
	if !strings.Contains(err.Error(), "cohere") {
		t.Errorf("error %q does not name the provider", err)
	}
}
