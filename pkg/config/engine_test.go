package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeEngineFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	return path
}

func TestDefaultEngineConfig(t *testing.T) {
	cfg := DefaultEngineConfig()

	if cfg.Routing.DefaultPath != "parallel" {
		t.Fatalf("unexpected default path %q", cfg.Routing.DefaultPath)
	}
	if cfg.Routing.Thresholds.ShortTokens != 20 || cfg.Routing.Thresholds.BiasRange != 0.2 {
		t.Fatalf("unexpected thresholds: %+v", cfg.Routing.Thresholds)
	}
	if cfg.Local.TimeoutMs != 1500 || cfg.Remote.TimeoutMs != 30000 {
		t.Fatalf("unexpected timeouts: local=%d remote=%d", cfg.Local.TimeoutMs, cfg.Remote.TimeoutMs)
	}
	if cfg.Remote.RetryAttempts != 3 {
		t.Fatalf("unexpected retry attempts %d", cfg.Remote.RetryAttempts)
	}
	if len(cfg.Remote.Fallback) != 2 {
		t.Fatalf("expected 2 fallback targets, got %d", len(cfg.Remote.Fallback))
	}
	if cfg.Integration.Strategy != "combine" || cfg.Integration.SimilarityThreshold != 0.8 {
		t.Fatalf("unexpected integration config: %+v", cfg.Integration)
	}
	if len(cfg.Integration.Connectives) == 0 {
		t.Fatalf("expected default connectives")
	}
	if cfg.Optimizer.Window != 200 || cfg.Optimizer.MinExploration != 0.05 {
		t.Fatalf("unexpected optimizer config: %+v", cfg.Optimizer)
	}
}

func TestLoadEngineConfigAppliesDefaults(t *testing.T) {
	path := writeEngineFile(t, `
routing:
  default_path: local
remote:
  model: claude-opus-4-20250514
`)

	cfg, err := LoadEngineConfig(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Routing.DefaultPath != "local" {
		t.Fatalf("explicit value lost: %q", cfg.Routing.DefaultPath)
	}
	if cfg.Remote.Model != "claude-opus-4-20250514" {
		t.Fatalf("explicit model lost: %q", cfg.Remote.Model)
	}
	// Unset fields pick up defaults.
	if cfg.Remote.Adapter != "anthropic" || cfg.Local.TimeoutMs != 1500 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestLoadEngineConfigRejectsBadPath(t *testing.T) {
	path := writeEngineFile(t, "routing:\n  default_path: sideways\n")
	if _, err := LoadEngineConfig(path); err == nil {
		t.Fatalf("expected validation error for bad default path")
	}
}

func TestLoadEngineConfigRejectsBadStrategy(t *testing.T) {
	path := writeEngineFile(t, "integration:\n  strategy: merge-somehow\n")
	if _, err := LoadEngineConfig(path); err == nil {
		t.Fatalf("expected validation error for bad integration strategy")
	}
}

func TestLoadEngineConfigRejectsBadThreshold(t *testing.T) {
	path := writeEngineFile(t, "integration:\n  similarity_threshold: 1.5\n")
	if _, err := LoadEngineConfig(path); err == nil {
		t.Fatalf("expected validation error for out-of-range threshold")
	}
}

func TestLoadEngineConfigMissingFile(t *testing.T) {
	if _, err := LoadEngineConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestHasAdapter(t *testing.T) {
	cfg := &Config{AnthropicAPIKey: "key"}

	if !cfg.HasAdapter("anthropic") {
		t.Fatalf("expected anthropic to be available")
	}
	if cfg.HasAdapter("openai") {
		t.Fatalf("expected openai to be unavailable without a key")
	}
	// Local and mock need no credentials.
	if !cfg.HasAdapter("local") || !cfg.HasAdapter("mock") {
		t.Fatalf("local and mock must always be available")
	}
	if cfg.HasAdapter("unknown") {
		t.Fatalf("unknown adapters must be unavailable")
	}
}
