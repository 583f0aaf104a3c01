// Package config provides application configuration from environment
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultSystemPrompt = "You are a helpful assistant. Answer the user's " +
	"latest message concisely, using the conversation so far as context."

// Config holds all application configuration. Provider credentials are not
// mirrored here: the provider registry resolves its own keys through
// Provider, so adding an upstream never means touching this struct.
type Config struct {
	Port           string
	AllowedOrigins []string
	SystemPrompt   string

	RateLimit  int           // admitted requests per client per window
	RateWindow time.Duration // fixed rate-limit window

	MaxContextMessages int           // bound on stored history length
	MaxPromptChars     int           // bound on the assembled prompt
	SessionTimeout     time.Duration // idle time before a session is evicted
	SweepInterval      time.Duration // background eviction sweep cadence
	ProviderTimeout    time.Duration // per-provider call deadline; 0 disables

	HistoryStore string // "memory" or "redis"
	RedisAddr    string
	RedisPass    string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		AllowedOrigins: splitCSV(getEnv("ALLOWED_ORIGINS", "*")),
		SystemPrompt:   getEnv("SYSTEM_PROMPT", defaultSystemPrompt),

		RateLimit:  getEnvInt("RATE_LIMIT", 100),
		RateWindow: getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),

		MaxContextMessages: getEnvInt("MAX_CONTEXT_MESSAGES", 50),
		MaxPromptChars:     getEnvInt("MAX_PROMPT_CHARS", 10000),
		SessionTimeout:     getEnvDuration("SESSION_TIMEOUT", 30*time.Minute),
		SweepInterval:      getEnvDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
		ProviderTimeout:    getEnvDuration("PROVIDER_TIMEOUT", 2*time.Minute),

		HistoryStore: getEnv("HISTORY_STORE", "memory"),
		RedisAddr:    getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPass:    getEnv("REDIS_PASSWORD", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.RateLimit <= 0 {
		return fmt.Errorf("RATE_LIMIT must be > 0")
	}
	if c.RateWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	if c.MaxContextMessages <= 0 {
		return fmt.Errorf("MAX_CONTEXT_MESSAGES must be > 0")
	}
	if c.MaxPromptChars <= 0 {
		return fmt.Errorf("MAX_PROMPT_CHARS must be > 0")
	}
	if c.SessionTimeout <= 0 {
		return fmt.Errorf("SESSION_TIMEOUT must be > 0")
	}
	if c.HistoryStore != "memory" && c.HistoryStore != "redis" {
		return fmt.Errorf("HISTORY_STORE must be \"memory\" or \"redis\", got %q", c.HistoryStore)
	}
	return nil
}

// Provider resolves a provider configuration key. Provider keys are read
// straight from the environment so the registry's definitions stay
// data-only.
func (c *Config) Provider(key string) string {
	return os.Getenv(key)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
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

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := parts[:0:0]
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
