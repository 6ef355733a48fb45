// Package config handles configuration loading for Filewarden.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Rules      RulesConfig      `yaml:"rules"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Escalation EscalationConfig `yaml:"escalation"`
	Watcher    WatcherConfig    `yaml:"watcher"`
	Bus        BusConfig        `yaml:"bus"`
	Auth       AuthConfig       `yaml:"auth"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	HTTPPort     int           `yaml:"http_port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// StorageConfig holds durable storage settings.
type StorageConfig struct {
	SQLitePath string           `yaml:"sqlite_path"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

// ClickHouseConfig holds the optional ClickHouse audit-sink settings.
// When enabled, audit records are mirrored to ClickHouse for long-term
// retention; SQLite remains the authority.
type ClickHouseConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Hosts           []string      `yaml:"hosts"`
	Database        string        `yaml:"database"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	TLSEnabled      bool          `yaml:"tls_enabled"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
}

// RulesConfig holds rule cache settings.
type RulesConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// DispatchConfig holds notification dispatcher settings.
type DispatchConfig struct {
	BatchInterval time.Duration `yaml:"batch_interval"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryUnit     time.Duration `yaml:"retry_unit"`
	SendTimeout   time.Duration `yaml:"send_timeout"`
	SMTP          SMTPConfig    `yaml:"smtp"`
	Webhook       WebhookConfig `yaml:"webhook"`
}

// SMTPConfig holds email transport settings.
type SMTPConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Host       string   `yaml:"host"`
	Port       int      `yaml:"port"`
	Username   string   `yaml:"username"`
	Password   string   `yaml:"password"`
	Sender     string   `yaml:"sender"`
	Recipients []string `yaml:"recipients"`
	UseTLS     bool     `yaml:"use_tls"`
}

// WebhookConfig holds webhook transport settings.
type WebhookConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
}

// EscalationConfig holds per-severity escalation delays.
// A zero delay escalates immediately; Low and Medium never escalate.
type EscalationConfig struct {
	HighDelay     time.Duration `yaml:"high_delay"`
	CriticalDelay time.Duration `yaml:"critical_delay"`
}

// WatcherConfig holds filesystem watcher settings.
type WatcherConfig struct {
	Enabled        bool          `yaml:"enabled"`
	DebounceWindow time.Duration `yaml:"debounce_window"`
}

// BusConfig holds the optional Kafka event bus settings.
type BusConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Brokers       []string      `yaml:"brokers"`
	Topic         string        `yaml:"topic"`
	ConsumerGroup string        `yaml:"consumer_group"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	Enabled        bool          `yaml:"enabled"`
	SessionTTL     time.Duration `yaml:"session_ttl"`
	BcryptCost     int           `yaml:"bcrypt_cost"`
	SessionBackend string        `yaml:"session_backend"` // memory or redis
	Redis          RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis session-store settings.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolSize     int           `yaml:"pool_size"`
	TLSEnabled   bool          `yaml:"tls_enabled"`
}

// RateLimitConfig holds rate limiting settings.
type RateLimitConfig struct {
	Enabled       bool          `yaml:"enabled"`
	RequestsPerIP int           `yaml:"requests_per_ip"`
	WindowSize    time.Duration `yaml:"window_size"`
	BurstSize     int           `yaml:"burst_size"`
	CleanupPeriod time.Duration `yaml:"cleanup_period"`
	ExemptPaths   []string      `yaml:"exempt_paths"`
	TrustProxy    bool          `yaml:"trust_proxy"`
}

// ArchiveConfig holds audit-log archival settings.
type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Bucket        string        `yaml:"bucket"`
	Prefix        string        `yaml:"prefix"`
	Region        string        `yaml:"region"`
	Endpoint      string        `yaml:"endpoint"`
	AccessKeyID   string        `yaml:"access_key_id"`
	SecretKey     string        `yaml:"secret_key"`
	RetentionDays int           `yaml:"retention_days"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:     8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			SQLitePath: "data/filewarden.db",
			ClickHouse: ClickHouseConfig{
				Enabled:         false,
				Hosts:           []string{"localhost:9000"},
				Database:        "filewarden",
				Username:        "default",
				MaxOpenConns:    10,
				MaxIdleConns:    5,
				ConnMaxLifetime: time.Hour,
				DialTimeout:     10 * time.Second,
			},
		},
		Rules: RulesConfig{
			CacheTTL: 60 * time.Second,
		},
		Dispatch: DispatchConfig{
			BatchInterval: 300 * time.Second,
			MaxRetries:    3,
			RetryUnit:     time.Second,
			SendTimeout:   10 * time.Second,
			SMTP: SMTPConfig{
				Enabled: false,
				Port:    587,
				UseTLS:  true,
			},
			Webhook: WebhookConfig{
				Enabled: false,
			},
		},
		Escalation: EscalationConfig{
			HighDelay:     300 * time.Second,
			CriticalDelay: 120 * time.Second,
		},
		Watcher: WatcherConfig{
			Enabled:        true,
			DebounceWindow: time.Second,
		},
		Bus: BusConfig{
			Enabled:       false,
			Brokers:       []string{"localhost:9092"},
			Topic:         "filewarden-events",
			ConsumerGroup: "filewarden",
			DialTimeout:   10 * time.Second,
			ReadTimeout:   30 * time.Second,
			WriteTimeout:  30 * time.Second,
		},
		Auth: AuthConfig{
			Enabled:        false, // Disabled by default for development
			SessionTTL:     time.Hour,
			BcryptCost:     12,
			SessionBackend: "memory",
			Redis: RedisConfig{
				Addr:         "localhost:6379",
				DialTimeout:  5 * time.Second,
				ReadTimeout:  3 * time.Second,
				WriteTimeout: 3 * time.Second,
				PoolSize:     10,
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:       true,
			RequestsPerIP: 1000,
			WindowSize:    time.Minute,
			BurstSize:     50,
			CleanupPeriod: 5 * time.Minute,
			ExemptPaths:   []string{"/health"},
			TrustProxy:    false,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Prefix:        "audit",
			Region:        "us-east-1",
			RetentionDays: 90,
			SweepInterval: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a file or returns defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := os.Getenv("FILEWARDEN_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, use defaults
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if port := os.Getenv("FILEWARDEN_HTTP_PORT"); port != "" {
		fmt.Sscanf(port, "%d", &c.Server.HTTPPort)
	}

	if level := os.Getenv("FILEWARDEN_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	if path := os.Getenv("FILEWARDEN_SQLITE_PATH"); path != "" {
		c.Storage.SQLitePath = path
	}

	if host := os.Getenv("FILEWARDEN_SMTP_HOST"); host != "" {
		c.Dispatch.SMTP.Host = host
		c.Dispatch.SMTP.Enabled = true
	}

	if pass := os.Getenv("FILEWARDEN_SMTP_PASSWORD"); pass != "" {
		c.Dispatch.SMTP.Password = pass
	}

	if recipients := os.Getenv("FILEWARDEN_SMTP_RECIPIENTS"); recipients != "" {
		c.Dispatch.SMTP.Recipients = splitAndTrim(recipients, ",")
	}

	if brokers := os.Getenv("FILEWARDEN_KAFKA_BROKERS"); brokers != "" {
		c.Bus.Brokers = splitAndTrim(brokers, ",")
		c.Bus.Enabled = true
	}

	if addr := os.Getenv("FILEWARDEN_REDIS_ADDR"); addr != "" {
		c.Auth.Redis.Addr = addr
		c.Auth.SessionBackend = "redis"
	}

	if pass := os.Getenv("FILEWARDEN_REDIS_PASSWORD"); pass != "" {
		c.Auth.Redis.Password = pass
	}

	if host := os.Getenv("CLICKHOUSE_HOST"); host != "" {
		c.Storage.ClickHouse.Hosts = []string{host}
	}

	if pass := os.Getenv("CLICKHOUSE_PASSWORD"); pass != "" {
		c.Storage.ClickHouse.Password = pass
	}

	if bucket := os.Getenv("FILEWARDEN_ARCHIVE_BUCKET"); bucket != "" {
		c.Archive.Bucket = bucket
		c.Archive.Enabled = true
	}

	if enabled := os.Getenv("FILEWARDEN_RATELIMIT_ENABLED"); enabled == "false" {
		c.RateLimit.Enabled = false
	}
}

// splitAndTrim splits a string by separator and trims whitespace from each part.
func splitAndTrim(s, sep string) []string {
	parts := make([]string, 0)
	for _, part := range strings.Split(s, sep) {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.Server.HTTPPort)
	}

	if c.Storage.SQLitePath == "" {
		return fmt.Errorf("sqlite_path must be set")
	}

	if c.Rules.CacheTTL <= 0 {
		return fmt.Errorf("rules cache_ttl must be positive")
	}

	if c.Dispatch.BatchInterval <= 0 {
		return fmt.Errorf("dispatch batch_interval must be positive")
	}

	if c.Dispatch.MaxRetries < 1 {
		return fmt.Errorf("dispatch max_retries must be at least 1")
	}

	if c.Escalation.HighDelay < 0 || c.Escalation.CriticalDelay < 0 {
		return fmt.Errorf("escalation delays must not be negative")
	}

	if c.Auth.Enabled {
		switch c.Auth.SessionBackend {
		case "memory", "redis":
		default:
			return fmt.Errorf("invalid session_backend: %q", c.Auth.SessionBackend)
		}
	}

	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("archive bucket must be set when archival is enabled")
	}

	return nil
}
