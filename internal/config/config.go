// Package config loads daemon settings from ~/.academy/config.yaml,
// secrets.yaml and the environment.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// LoadEnv loads variables from the given .env files. Missing files are
// skipped and variables already set in the environment win.
func LoadEnv(paths ...string) error {
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	return nil
}

// ApplyEnv overrides cfg with values from environment variables
func ApplyEnv(cfg *LocalConfig) {
	cfg.Daemon.Port = getEnvInt("ACADEMY_PORT", cfg.Daemon.Port)
	cfg.Daemon.LogLevel = getEnv("ACADEMY_LOG_LEVEL", cfg.Daemon.LogLevel)

	if p, ok := cfg.LLM.Providers["claude"]; ok {
		p.APIKey = getEnv("ANTHROPIC_API_KEY", p.APIKey)
	}
	if p, ok := cfg.LLM.Providers["openai"]; ok {
		p.APIKey = getEnv("OPENAI_API_KEY", p.APIKey)
	}
	if p, ok := cfg.LLM.Providers["ollama"]; ok {
		p.URL = getEnv("OLLAMA_URL", p.URL)
	}
	cfg.LLM.Resilience.Enabled = getEnvBool("ACADEMY_LLM_RESILIENCE", cfg.LLM.Resilience.Enabled)

	cfg.Grading.Backend = getEnv("ACADEMY_GRADING_BACKEND", cfg.Grading.Backend)
	cfg.Grading.URL = getEnv("ACADEMY_GRADING_URL", cfg.Grading.URL)
	cfg.Grading.Token = getEnv("ACADEMY_GRADING_TOKEN", cfg.Grading.Token)

	cfg.Storage.Backend = getEnv("ACADEMY_STORAGE_BACKEND", cfg.Storage.Backend)
	cfg.Storage.DSN = getEnv("ACADEMY_DATABASE_URL", cfg.Storage.DSN)
	cfg.Storage.Redis.Addr = getEnv("ACADEMY_REDIS_ADDR", cfg.Storage.Redis.Addr)
	cfg.Storage.Redis.Password = getEnv("ACADEMY_REDIS_PASSWORD", cfg.Storage.Redis.Password)

	cfg.Events.AMQPURL = getEnv("ACADEMY_AMQP_URL", cfg.Events.AMQPURL)
	cfg.Events.Publish = getEnvBool("ACADEMY_EVENTS_PUBLISH", cfg.Events.Publish)
	cfg.Events.JournalDSN = getEnv("ACADEMY_JOURNAL_URL", cfg.Events.JournalDSN)

	cfg.Tracker.LearnerID = getEnv("ACADEMY_LEARNER_ID", cfg.Tracker.LearnerID)
	cfg.Content.Path = getEnv("ACADEMY_CONTENT_PATH", cfg.Content.Path)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
