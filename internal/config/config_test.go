package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadClassifierDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("COMPLEXITY_THRESHOLD", "")
	t.Setenv("NAMED_TOOL_THRESHOLD", "")
	t.Setenv("ANY_TOOL_THRESHOLD", "")
	t.Setenv("MAX_TOOLS", "")
	t.Setenv("MAX_ITERATIONS", "")
	t.Setenv("HISTORY_WINDOW", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ComplexityThreshold != 0.6 {
		t.Fatalf("expected default complexity threshold 0.6, got %v", cfg.ComplexityThreshold)
	}
	if cfg.NamedToolThreshold != 0.3 {
		t.Fatalf("expected default named tool threshold 0.3, got %v", cfg.NamedToolThreshold)
	}
	if cfg.AnyToolThreshold != 0.1 {
		t.Fatalf("expected default any tool threshold 0.1, got %v", cfg.AnyToolThreshold)
	}
	if cfg.MaxTools != 26 {
		t.Fatalf("expected default max tools 26, got %d", cfg.MaxTools)
	}
	if cfg.MaxIterations != 10 {
		t.Fatalf("expected default max iterations 10, got %d", cfg.MaxIterations)
	}
	if cfg.HistoryWindow != 15 {
		t.Fatalf("expected default history window 15, got %d", cfg.HistoryWindow)
	}
}

func TestLoadParsesEnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("COMPLEXITY_THRESHOLD", "0.75")
	t.Setenv("ENABLE_RICH_ENGINE", "false")
	t.Setenv("NATS_SUBJECT", "chat.turns.test")
	t.Setenv("RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("BREAKER_ENABLED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ComplexityThreshold != 0.75 {
		t.Fatalf("expected complexity threshold override, got %v", cfg.ComplexityThreshold)
	}
	if cfg.EnableRichEngine {
		t.Fatal("expected rich engine disabled")
	}
	if cfg.NATSSubject != "chat.turns.test" {
		t.Fatalf("expected subject override, got %q", cfg.NATSSubject)
	}
	if cfg.RetryMaxAttempts != 5 {
		t.Fatalf("expected retry attempts override, got %d", cfg.RetryMaxAttempts)
	}
	if cfg.BreakerEnabled {
		t.Fatal("expected breaker disabled")
	}
}

func TestLoadAppliesYAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	overlay := []byte("max_iterations: 4\nollama_chat_model: qwen2.5:14b\n")
	if err := os.WriteFile(path, overlay, 0o600); err != nil {
		t.Fatalf("write overlay: %v", err)
	}

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("MAX_ITERATIONS", "8")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	// File values win over env.
	if cfg.MaxIterations != 4 {
		t.Fatalf("expected overlay max iterations 4, got %d", cfg.MaxIterations)
	}
	if cfg.OllamaChatModel != "qwen2.5:14b" {
		t.Fatalf("expected overlay chat model, got %q", cfg.OllamaChatModel)
	}
}
