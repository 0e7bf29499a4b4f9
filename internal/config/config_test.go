package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{"returns default when not set", "ACADEMY_TEST_UNSET", "default", "", "default"},
		{"returns env value when set", "ACADEMY_TEST_SET", "default", "custom", "custom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}
			if got := getEnv(tt.key, tt.defaultValue); got != tt.want {
				t.Errorf("getEnv(%q, %q) = %q, want %q", tt.key, tt.defaultValue, got, tt.want)
			}
		})
	}
}

func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		want     int
	}{
		{"returns default when not set", "", 100},
		{"parses valid int", "42", 42},
		{"returns default on invalid int", "not-a-number", 100},
		{"parses zero", "0", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv("ACADEMY_TEST_INT", tt.envValue)
			}
			if got := getEnvInt("ACADEMY_TEST_INT", 100); got != tt.want {
				t.Errorf("getEnvInt() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		want     bool
	}{
		{"returns default when not set", "", true},
		{"parses false", "false", false},
		{"parses 0", "0", false},
		{"returns default on invalid bool", "maybe", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv("ACADEMY_TEST_BOOL", tt.envValue)
			}
			if got := getEnvBool("ACADEMY_TEST_BOOL", true); got != tt.want {
				t.Errorf("getEnvBool() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("ACADEMY_PORT", "9000")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-env")
	t.Setenv("OPENAI_API_KEY", "sk-openai-env")
	t.Setenv("ACADEMY_STORAGE_BACKEND", "postgres")
	t.Setenv("ACADEMY_DATABASE_URL", "postgres://academy@db/academy")
	t.Setenv("ACADEMY_REDIS_ADDR", "cache:6379")
	t.Setenv("ACADEMY_AMQP_URL", "amqp://guest:guest@mq:5672/")
	t.Setenv("ACADEMY_LEARNER_ID", "learner-42")

	cfg := DefaultLocalConfig()
	ApplyEnv(cfg)

	if cfg.Daemon.Port != 9000 {
		t.Errorf("Daemon.Port = %d, want 9000", cfg.Daemon.Port)
	}
	if cfg.LLM.Providers["claude"].APIKey != "sk-ant-env" {
		t.Errorf("claude APIKey = %q", cfg.LLM.Providers["claude"].APIKey)
	}
	if cfg.LLM.Providers["openai"].APIKey != "sk-openai-env" {
		t.Errorf("openai APIKey = %q", cfg.LLM.Providers["openai"].APIKey)
	}
	if cfg.Storage.Backend != StoragePostgres || cfg.Storage.DSN != "postgres://academy@db/academy" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.Storage.Redis.Addr != "cache:6379" {
		t.Errorf("Redis.Addr = %q", cfg.Storage.Redis.Addr)
	}
	if cfg.Events.AMQPURL != "amqp://guest:guest@mq:5672/" {
		t.Errorf("Events.AMQPURL = %q", cfg.Events.AMQPURL)
	}
	if cfg.Tracker.LearnerID != "learner-42" {
		t.Errorf("Tracker.LearnerID = %q", cfg.Tracker.LearnerID)
	}
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	content := "ACADEMY_TEST_DOTENV=from-file\nACADEMY_TEST_PRESET=from-file\n"
	if err := os.WriteFile(envPath, []byte(content), 0600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("ACADEMY_TEST_PRESET", "from-env")
	t.Cleanup(func() { os.Unsetenv("ACADEMY_TEST_DOTENV") })

	if err := LoadEnv(filepath.Join(dir, "missing.env"), envPath); err != nil {
		t.Fatalf("LoadEnv() error = %v", err)
	}

	if got := os.Getenv("ACADEMY_TEST_DOTENV"); got != "from-file" {
		t.Errorf("ACADEMY_TEST_DOTENV = %q, want from-file", got)
	}
	if got := os.Getenv("ACADEMY_TEST_PRESET"); got != "from-env" {
		t.Errorf("ACADEMY_TEST_PRESET = %q, existing env should win", got)
	}
}

func TestLoadEnv_NoFiles(t *testing.T) {
	if err := LoadEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Errorf("LoadEnv() error = %v, want nil for missing files", err)
	}
}
