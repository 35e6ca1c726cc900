// Package config provides application configuration.
//
// Configuration is loaded from environment variables with sensible
// defaults, the same getEnv*/Validate shape the teacher's gateway used,
// scaled down to what this gateway's own components need: listen address,
// optional static-asset directory, the rollout index location, the
// conversation audit trail, and the optional sandbox PTY backend.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ConversationLogConfig controls the per-session NDJSON audit trail.
type ConversationLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// SandboxConfig controls the optional Docker-exec PTY backend. When
// ContainerID is empty, the PTY Bridge uses its local (creack/pty) backend
// instead.
type SandboxConfig struct {
	ContainerID string
	Shell       string
}

// Config holds all application configuration.
type Config struct {
	Host      string
	Port      string
	StaticDir string // optional on-disk static-asset directory; "" disables it

	RolloutDBPath string
	RolloutListN  int

	LoginCredentialPath string

	ConversationLog ConversationLogConfig
	Sandbox         SandboxConfig

	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("AUDIT_LOG_QUEUE_SIZE", 256)
	if queueSize <= 0 {
		queueSize = 256
	}

	cfg := &Config{
		Host:      getEnv("HOST", "0.0.0.0"),
		Port:      getEnv("PORT", "8080"),
		StaticDir: getEnv("STATIC_DIR", ""),

		RolloutDBPath: getEnv("ROLLOUT_DB_PATH", "./data/rollouts.db"),
		RolloutListN:  getEnvInt("ROLLOUT_LIST_LIMIT", 20),

		LoginCredentialPath: getEnv("LOGIN_CREDENTIAL_PATH", "./data/auth.json"),

		ConversationLog: ConversationLogConfig{
			Enabled:   getEnvBool("AUDIT_LOG_ENABLED", true),
			Dir:       getEnv("AUDIT_LOG_DIR", "./data/logs/conversations"),
			QueueSize: queueSize,
		},
		Sandbox: SandboxConfig{
			ContainerID: getEnv("SANDBOX_CONTAINER_ID", ""),
			Shell:       getEnv("SANDBOX_SHELL", "/bin/bash"),
		},

		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.RolloutDBPath == "" {
		return fmt.Errorf("ROLLOUT_DB_PATH cannot be empty")
	}
	if c.RolloutListN <= 0 {
		return fmt.Errorf("ROLLOUT_LIST_LIMIT must be > 0")
	}
	if c.ConversationLog.Enabled && c.ConversationLog.Dir == "" {
		return fmt.Errorf("AUDIT_LOG_DIR cannot be empty when AUDIT_LOG_ENABLED")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("AUDIT_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// UsesSandboxBackend reports whether the PTY Bridge should use the
// Docker-exec backend rather than a local PTY.
func (c *Config) UsesSandboxBackend() bool {
	return c.Sandbox.ContainerID != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
