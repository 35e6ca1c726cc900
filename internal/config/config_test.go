package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port == "" {
		t.Fatal("expected default port")
	}
	if cfg.RolloutListN != 20 {
		t.Fatalf("got RolloutListN=%d, want 20", cfg.RolloutListN)
	}
	if cfg.UsesSandboxBackend() {
		t.Fatal("expected sandbox backend disabled by default")
	}
}

func TestLoadRespectsEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("SANDBOX_CONTAINER_ID", "c1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Fatalf("got Port=%q, want 9090", cfg.Port)
	}
	if !cfg.UsesSandboxBackend() {
		t.Fatal("expected sandbox backend enabled when SANDBOX_CONTAINER_ID set")
	}
}

func TestValidateRejectsEmptyPort(t *testing.T) {
	cfg := &Config{RolloutDBPath: "x", RolloutListN: 1, ConversationLog: ConversationLogConfig{QueueSize: 1}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty port")
	}
}

func TestValidateRejectsZeroQueueSize(t *testing.T) {
	cfg := &Config{Port: "8080", RolloutDBPath: "x", RolloutListN: 1}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero queue size")
	}
}
