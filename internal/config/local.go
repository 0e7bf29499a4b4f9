package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// LocalConfig holds configuration for the local daemon
type LocalConfig struct {
	Daemon  DaemonConfig  `yaml:"daemon"`
	LLM     LLMConfig     `yaml:"llm"`
	Grading GradingConfig `yaml:"grading"`
	Storage StorageConfig `yaml:"storage"`
	Events  EventsConfig  `yaml:"events"`
	Tracker TrackerConfig `yaml:"tracker"`
	Content ContentConfig `yaml:"content"`
}

// DaemonConfig holds daemon server settings
type DaemonConfig struct {
	Port        int      `yaml:"port"`
	Bind        string   `yaml:"bind"`
	LogLevel    string   `yaml:"log_level"`
	CORSOrigins []string `yaml:"cors_origins"`
	// AIRequestsPerMinute limits /v1/ai/* per client; 0 disables the limit
	AIRequestsPerMinute int `yaml:"ai_requests_per_minute"`
}

// Addr returns the listen address
func (d DaemonConfig) Addr() string {
	return fmt.Sprintf("%s:%d", d.Bind, d.Port)
}

// LLMConfig holds LLM provider settings
type LLMConfig struct {
	DefaultProvider string                     `yaml:"default_provider"`
	Providers       map[string]*ProviderConfig `yaml:"providers"`
	Resilience      ResilienceConfig           `yaml:"resilience"`
}

// ProviderConfig holds settings for a single LLM provider
type ProviderConfig struct {
	Enabled bool   `yaml:"enabled"`
	Model   string `yaml:"model"`
	URL     string `yaml:"url,omitempty"`
	APIKey  string `yaml:"-"` // Loaded from secrets.yaml or the environment
}

// ResilienceConfig tunes the wrappers around every provider call
type ResilienceConfig struct {
	Enabled        bool `yaml:"enabled"`
	MaxConcurrent  int  `yaml:"max_concurrent"`
	RatePerSecond  int  `yaml:"rate_per_second"`
	MaxAttempts    int  `yaml:"max_attempts"`
	TimeoutSeconds int  `yaml:"timeout_seconds"`
}

// Grading backends
const (
	GradingLLM  = "llm"
	GradingHTTP = "http"
)

// GradingConfig selects how answers and code are graded
type GradingConfig struct {
	Backend        string `yaml:"backend"`
	Provider       string `yaml:"provider,omitempty"`
	URL            string `yaml:"url,omitempty"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Token          string `yaml:"-"`
}

// Storage backends
const (
	StorageLocal    = "local"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageRedis    = "redis"
)

// StorageConfig selects where work records are persisted
type StorageConfig struct {
	Backend string      `yaml:"backend"`
	Path    string      `yaml:"path,omitempty"`
	DSN     string      `yaml:"dsn,omitempty"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig holds settings for the redis backend
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
	Password string `yaml:"-"`
}

// EventsConfig controls what happens to progress events
type EventsConfig struct {
	// History keeps a queryable SQLite log of events
	History       bool   `yaml:"history"`
	HistoryPath   string `yaml:"history_path,omitempty"`
	RetentionDays int    `yaml:"retention_days"`

	// Publish sends events to RabbitMQ
	Publish    bool   `yaml:"publish"`
	AMQPURL    string `yaml:"amqp_url,omitempty"`
	OutboxSize int    `yaml:"outbox_size"`

	// JournalDSN, when set, makes the daemon consume the queue into Postgres
	JournalDSN string `yaml:"journal_dsn,omitempty"`
}

// TrackerConfig holds progress tracking settings
type TrackerConfig struct {
	LearnerID     string `yaml:"learner_id"`
	TickSeconds   int    `yaml:"tick_seconds"`
	MaxGapSeconds int    `yaml:"max_gap_seconds"`
}

// TickPeriod returns the accrual period
func (t TrackerConfig) TickPeriod() time.Duration {
	return time.Duration(t.TickSeconds) * time.Second
}

// MaxGap returns the largest credited accrual delta
func (t TrackerConfig) MaxGap() time.Duration {
	return time.Duration(t.MaxGapSeconds) * time.Second
}

// ContentConfig locates assignment definitions
type ContentConfig struct {
	Path string `yaml:"path,omitempty"`
}

// SecretsConfig holds credentials loaded from secrets.yaml
type SecretsConfig struct {
	Providers map[string]ProviderSecret `yaml:"providers"`
	Grading   struct {
		Token string `yaml:"token,omitempty"`
	} `yaml:"grading,omitempty"`
	Redis struct {
		Password string `yaml:"password,omitempty"`
	} `yaml:"redis,omitempty"`
}

// ProviderSecret holds a provider API key
type ProviderSecret struct {
	APIKey string `yaml:"api_key"`
}

// AcademyDir returns the path to ~/.academy
func AcademyDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".academy"), nil
}

// EnsureAcademyDir creates ~/.academy and subdirectories if they don't exist
func EnsureAcademyDir() (string, error) {
	dir, err := AcademyDir()
	if err != nil {
		return "", err
	}

	subdirs := []string{
		"",
		"logs",
		"data",
		"content",
	}

	for _, subdir := range subdirs {
		path := filepath.Join(dir, subdir)
		if err := os.MkdirAll(path, 0755); err != nil {
			return "", fmt.Errorf("create dir %s: %w", path, err)
		}
	}

	return dir, nil
}

// DefaultLocalConfig returns sensible defaults for local mode
func DefaultLocalConfig() *LocalConfig {
	return &LocalConfig{
		Daemon: DaemonConfig{
			Port:                7432,
			Bind:                "127.0.0.1",
			LogLevel:            "info",
			AIRequestsPerMinute: 30,
		},
		LLM: LLMConfig{
			DefaultProvider: "auto",
			Providers: map[string]*ProviderConfig{
				"claude": {
					Enabled: true,
					Model:   "claude-sonnet-4-20250514",
				},
				"openai": {
					Enabled: false,
					Model:   "gpt-4o-mini",
				},
				"ollama": {
					Enabled: false,
					URL:     "http://localhost:11434",
					Model:   "llama3.2",
				},
			},
			Resilience: ResilienceConfig{
				Enabled:        true,
				MaxConcurrent:  5,
				RatePerSecond:  2,
				MaxAttempts:    3,
				TimeoutSeconds: 45,
			},
		},
		Grading: GradingConfig{
			Backend:        GradingLLM,
			TimeoutSeconds: 60,
		},
		Storage: StorageConfig{
			Backend: StorageLocal,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "academy",
			},
		},
		Events: EventsConfig{
			History:       true,
			RetentionDays: 90,
			OutboxSize:    256,
		},
		Tracker: TrackerConfig{
			LearnerID:     "local",
			TickSeconds:   10,
			MaxGapSeconds: 60,
		},
	}
}

// Resolve fills paths that default to locations under dir
func (c *LocalConfig) Resolve(dir string) {
	if c.Storage.Path == "" {
		switch c.Storage.Backend {
		case StorageSQLite:
			c.Storage.Path = filepath.Join(dir, "data", "academy.db")
		default:
			c.Storage.Path = filepath.Join(dir, "data")
		}
	}
	if c.Events.HistoryPath == "" {
		c.Events.HistoryPath = filepath.Join(dir, "data", "events.db")
	}
	if c.Content.Path == "" {
		c.Content.Path = filepath.Join(dir, "content")
	}
}

// Validate reports settings that cannot work together
func (c *LocalConfig) Validate() error {
	var errs []error

	if c.Daemon.Port <= 0 || c.Daemon.Port > 65535 {
		errs = append(errs, fmt.Errorf("daemon.port %d out of range", c.Daemon.Port))
	}

	switch c.Grading.Backend {
	case GradingLLM:
	case GradingHTTP:
		if c.Grading.URL == "" {
			errs = append(errs, errors.New("grading.url is required for the http backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown grading.backend %q", c.Grading.Backend))
	}

	switch c.Storage.Backend {
	case StorageLocal, StorageSQLite:
	case StoragePostgres:
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("storage.dsn is required for the postgres backend"))
		}
	case StorageRedis:
		if c.Storage.Redis.Addr == "" {
			errs = append(errs, errors.New("storage.redis.addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", c.Storage.Backend))
	}

	if (c.Events.Publish || c.Events.JournalDSN != "") && c.Events.AMQPURL == "" {
		errs = append(errs, errors.New("events.amqp_url is required to publish or journal events"))
	}

	if c.Tracker.LearnerID == "" {
		errs = append(errs, errors.New("tracker.learner_id must not be empty"))
	}

	return errors.Join(errs...)
}

// LoadLocalConfig loads configuration from ~/.academy/config.yaml
func LoadLocalConfig() (*LocalConfig, error) {
	dir, err := AcademyDir()
	if err != nil {
		return nil, err
	}
	return LoadLocalConfigFrom(dir)
}

// LoadLocalConfigFrom loads config.yaml, secrets.yaml and .env from dir and
// applies environment overrides.
func LoadLocalConfigFrom(dir string) (*LocalConfig, error) {
	cfg := DefaultLocalConfig()

	data, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := loadSecrets(dir, cfg); err != nil {
		return nil, fmt.Errorf("load secrets: %w", err)
	}

	if err := LoadEnv(filepath.Join(dir, ".env"), ".env"); err != nil {
		return nil, err
	}
	ApplyEnv(cfg)

	cfg.Resolve(dir)
	return cfg, nil
}

// loadSecrets loads credentials from secrets.yaml
func loadSecrets(dir string, cfg *LocalConfig) error {
	secretsPath := filepath.Join(dir, "secrets.yaml")

	if _, err := os.Stat(secretsPath); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(secretsPath)
	if err != nil {
		return fmt.Errorf("read secrets: %w", err)
	}

	var secrets SecretsConfig
	if err := yaml.Unmarshal(data, &secrets); err != nil {
		return fmt.Errorf("parse secrets: %w", err)
	}

	for name, secret := range secrets.Providers {
		if provider, ok := cfg.LLM.Providers[name]; ok {
			provider.APIKey = secret.APIKey
		}
	}
	if secrets.Grading.Token != "" {
		cfg.Grading.Token = secrets.Grading.Token
	}
	if secrets.Redis.Password != "" {
		cfg.Storage.Redis.Password = secrets.Redis.Password
	}

	return nil
}

// SaveLocalConfig saves configuration to ~/.academy/config.yaml
func SaveLocalConfig(cfg *LocalConfig) error {
	dir, err := EnsureAcademyDir()
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// SaveSecrets saves provider API keys to ~/.academy/secrets.yaml
func SaveSecrets(apiKeys map[string]string) error {
	dir, err := EnsureAcademyDir()
	if err != nil {
		return err
	}

	secrets := SecretsConfig{Providers: make(map[string]ProviderSecret, len(apiKeys))}
	for name, key := range apiKeys {
		secrets.Providers[name] = ProviderSecret{APIKey: key}
	}

	data, err := yaml.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("marshal secrets: %w", err)
	}

	// owner read/write only
	if err := os.WriteFile(filepath.Join(dir, "secrets.yaml"), data, 0600); err != nil {
		return fmt.Errorf("write secrets: %w", err)
	}

	return nil
}
