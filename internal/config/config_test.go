package config

import (
	"os"
	"testing"
)

func TestLoadWithDefaults(t *testing.T) {
	os.Unsetenv("AGENTDB_LOG_LEVEL")
	os.Unsetenv("AGENTDB_EMBEDDING_DIM")
	os.Unsetenv("AGENTDB_TRIGGER_MIN_SAMPLES")

	cfg := Load()

	if cfg.LogLevel != "info" {
		t.Errorf("expected default log level 'info', got %s", cfg.LogLevel)
	}
	if cfg.EmbeddingDim != 1536 {
		t.Errorf("expected default embedding dim 1536, got %d", cfg.EmbeddingDim)
	}
	if cfg.Trigger.MinSamples != 50 {
		t.Errorf("expected default min samples 50, got %d", cfg.Trigger.MinSamples)
	}
	if cfg.Routing.ColdStartBlendedMax != 100 {
		t.Errorf("expected default cold-start blended max 100, got %d", cfg.Routing.ColdStartBlendedMax)
	}
	if cfg.Pattern.DuplicateSimilarity != 0.95 {
		t.Errorf("expected default duplicate similarity 0.95, got %v", cfg.Pattern.DuplicateSimilarity)
	}
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	os.Setenv("AGENTDB_LOG_LEVEL", "debug")
	os.Setenv("AGENTDB_EMBEDDING_DIM", "64")
	os.Setenv("AGENTDB_TRIGGER_MIN_SAMPLES", "10")
	defer func() {
		os.Unsetenv("AGENTDB_LOG_LEVEL")
		os.Unsetenv("AGENTDB_EMBEDDING_DIM")
		os.Unsetenv("AGENTDB_TRIGGER_MIN_SAMPLES")
	}()

	cfg := Load()

	if cfg.LogLevel != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.LogLevel)
	}
	if cfg.EmbeddingDim != 64 {
		t.Errorf("expected embedding dim 64, got %d", cfg.EmbeddingDim)
	}
	if cfg.Trigger.MinSamples != 10 {
		t.Errorf("expected min samples 10, got %d", cfg.Trigger.MinSamples)
	}
}

func TestDerivedDurations(t *testing.T) {
	tc := TriggerConfig{CooldownMs: 5000, AutoCheckIntervalMs: 1000, ForceWaitTimeoutMs: 2000}
	if tc.Cooldown().Milliseconds() != 5000 {
		t.Errorf("expected cooldown 5000ms, got %v", tc.Cooldown())
	}
	if tc.AutoCheckInterval().Milliseconds() != 1000 {
		t.Errorf("expected auto-check interval 1000ms, got %v", tc.AutoCheckInterval())
	}
	if tc.ForceWaitTimeout().Milliseconds() != 2000 {
		t.Errorf("expected force-wait timeout 2000ms, got %v", tc.ForceWaitTimeout())
	}
}
