package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"github.com/aretw0/parley/pkg/actors"
	"github.com/aretw0/parley/pkg/persistence/middleware"
	"github.com/aretw0/parley/pkg/session"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	StoreNone   = "none"
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreFile   = "file"
)

// Config is the complete parley configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Workflow WorkflowConfig `yaml:"workflow"`
	Session  SessionConfig  `yaml:"session"`
	Store    StoreConfig    `yaml:"store"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`

	SSEKeepAlive    time.Duration `yaml:"-"`
	ShutdownTimeout time.Duration `yaml:"-"`

	SSEKeepAliveRaw    string `yaml:"sse_keepalive"`
	ShutdownTimeoutRaw string `yaml:"shutdown_timeout"`
}

// WorkflowConfig describes the automation backend.
type WorkflowConfig struct {
	BaseURL   string            `yaml:"base_url"`
	Headers   map[string]string `yaml:"headers"`
	Endpoints actors.Endpoints  `yaml:"endpoints"`
	Fallback  string            `yaml:"fallback"`

	Timeout  time.Duration   `yaml:"-"`
	Timeouts actors.Timeouts `yaml:"-"`

	TimeoutRaw  string            `yaml:"timeout"`
	TimeoutsRaw TimeoutsRawConfig `yaml:"timeouts"`
}

// TimeoutsRawConfig holds the per-operation deadlines as written in YAML.
type TimeoutsRawConfig struct {
	Dialogue   string `yaml:"dialogue"`
	Handover   string `yaml:"handover"`
	Relay      string `yaml:"relay"`
	Transcript string `yaml:"transcript"`
}

// SessionConfig tunes the session registry.
type SessionConfig struct {
	Quiescent    []string        `yaml:"quiescent"`
	PassThrough  []string        `yaml:"pass_through"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`
	BufferSize   int             `yaml:"buffer_size"`
	HistoryLimit int             `yaml:"history_limit"`
	Messages     MessagesConfig  `yaml:"messages"`

	SlowNotice    time.Duration `yaml:"-"`
	SlowNoticeRaw string        `yaml:"slow_notice"`
}

// RateLimitConfig limits inbound triggers per session. Zero disables it.
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// MessagesConfig overrides the texts the state machine appends on its own.
type MessagesConfig struct {
	Fallback     string `yaml:"fallback"`
	SlowNotice   string `yaml:"slow_notice"`
	InvalidEmail string `yaml:"invalid_email"`
}

// StoreConfig selects where session snapshots are persisted.
type StoreConfig struct {
	Backend       string      `yaml:"backend"`
	Redis         RedisConfig `yaml:"redis"`
	File          FileConfig  `yaml:"file"`
	PII           PIIConfig   `yaml:"pii"`
	EncryptionKey string      `yaml:"encryption_key"`

	LockTTL    time.Duration `yaml:"-"`
	LockTTLRaw string        `yaml:"lock_ttl"`
}

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`

	TTL    time.Duration `yaml:"-"`
	TTLRaw string        `yaml:"ttl"`
}

// FileConfig holds the directory of the file backend.
type FileConfig struct {
	Dir string `yaml:"dir"`
}

// PIIConfig masks metadata keys before snapshots are written.
type PIIConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Patterns []string `yaml:"patterns"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	t := actors.DefaultTimeouts()
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			SSEKeepAlive:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Workflow: WorkflowConfig{
			Endpoints: actors.DefaultEndpoints(),
			Fallback:  actors.DefaultFallback,
			Timeout:   90 * time.Second,
			Timeouts:  t,
		},
		Session: SessionConfig{
			Quiescent:    slices.Clone(session.DefaultQuiescent),
			PassThrough:  slices.Clone(session.DefaultPassThrough),
			BufferSize:   64,
			HistoryLimit: 200,
			SlowNotice:   session.DefaultSlowNotice,
		},
		Store: StoreConfig{
			Backend: StoreMemory,
			LockTTL: session.DefaultLockTTL,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "parley:session:",
				TTL:    24 * time.Hour,
			},
			File: FileConfig{Dir: filepath.Join(".parley", "sessions")},
			PII:  PIIConfig{Patterns: slices.Clone(middleware.DefaultPIIPatterns)},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load reads a configuration file. An empty path returns Default.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := cfg.decode(data); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse builds a configuration from YAML content over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(data); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	expanded := expandEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	if err := parseDurations(c); err != nil {
		return fmt.Errorf("parsing durations: %w", err)
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return nil
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} with the environment value, or "" when unset.
func expandEnvVars(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	switch c.Store.Backend {
	case StoreNone, StoreMemory, StoreFile:
	case StoreRedis:
		if c.Store.Redis.Addr == "" {
			return errors.New("store.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("store.backend %q is not one of none, memory, file, redis", c.Store.Backend)
	}
	if c.Store.EncryptionKey != "" {
		if _, err := c.Store.Key(); err != nil {
			return err
		}
	}
	if c.Session.RateLimit.PerSecond < 0 {
		return errors.New("session.rate_limit.per_second must not be negative")
	}
	if c.Session.BufferSize < 1 {
		return errors.New("session.buffer_size must be positive")
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}
	return nil
}

// RequireWorkflow reports an error when no workflow backend is configured.
func (c *Config) RequireWorkflow() error {
	if c.Workflow.BaseURL == "" {
		return errors.New("workflow.base_url is required")
	}
	return nil
}

type durationField struct {
	name string
	raw  string
	dst  *time.Duration
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	fields := []durationField{
		{"server.sse_keepalive", cfg.Server.SSEKeepAliveRaw, &cfg.Server.SSEKeepAlive},
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"workflow.timeout", cfg.Workflow.TimeoutRaw, &cfg.Workflow.Timeout},
		{"workflow.timeouts.dialogue", cfg.Workflow.TimeoutsRaw.Dialogue, &cfg.Workflow.Timeouts.Dialogue},
		{"workflow.timeouts.handover", cfg.Workflow.TimeoutsRaw.Handover, &cfg.Workflow.Timeouts.Handover},
		{"workflow.timeouts.relay", cfg.Workflow.TimeoutsRaw.Relay, &cfg.Workflow.Timeouts.Relay},
		{"workflow.timeouts.transcript", cfg.Workflow.TimeoutsRaw.Transcript, &cfg.Workflow.Timeouts.Transcript},
		{"session.slow_notice", cfg.Session.SlowNoticeRaw, &cfg.Session.SlowNotice},
		{"store.lock_ttl", cfg.Store.LockTTLRaw, &cfg.Store.LockTTL},
		{"store.redis.ttl", cfg.Store.Redis.TTLRaw, &cfg.Store.Redis.TTL},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
