// Package config loads runtime settings for the chatmk service from a YAML
// file, an optional .env file, and environment overrides, then fills in
// defaults for anything left unset.
package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every section the service reads at startup.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	History   HistoryConfig   `yaml:"history"`
	Store     StoreConfig     `yaml:"store"`
	Database  DatabaseConfig  `yaml:"database"`
	Presence  PresenceConfig  `yaml:"presence"`
	Logger    LoggerConfig    `yaml:"logger"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds the HTTP/WebSocket listener settings including security controls.
type ServerConfig struct {
	Port            string        `yaml:"port"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	MaxMessageSize  int64         `yaml:"max_message_size"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RateLimitConfig defines the per-session leaky bucket.
type RateLimitConfig struct {
	Capacity int     `yaml:"capacity"`
	LeakRate float64 `yaml:"leak_rate"`
}

// HistoryConfig bounds history replies.
type HistoryConfig struct {
	Limit int `yaml:"limit"`
}

// StoreConfig bounds every persistence call made from a session.
type StoreConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// DatabaseConfig selects the durable store backend.
type DatabaseConfig struct {
	Type string `yaml:"type"` // sqlite, postgres or mysql
	DSN  string `yaml:"dsn"`
}

// PresenceConfig configures the optional presence mirror.
type PresenceConfig struct {
	Type     string `yaml:"type"` // none or redis
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
	Channel  string `yaml:"channel"`
}

// LoggerConfig mirrors the options understood by pkg/logger.
type LoggerConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // json or console
	Output     string `yaml:"output"` // stdout or file
	FilePath   string `yaml:"file_path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
	Color      bool   `yaml:"color"`
	Stacktrace bool   `yaml:"stacktrace"`
	TimeFormat string `yaml:"time_format"`
}

// MetricsConfig configures the Prometheus collectors.
type MetricsConfig struct {
	Namespace string    `yaml:"namespace"`
	Buckets   []float64 `yaml:"buckets"`
}

// GroupRecipient marks a message addressed to the shared group channel.
const GroupRecipient = "GROUP"

// Default creates a Config populated with default values for all settings.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            ":8000",
			AllowedOrigins:  []string{"http://localhost:8000"},
			MaxMessageSize:  4096,
			ShutdownTimeout: 10 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Capacity: 5,
			LeakRate: 1.0,
		},
		History: HistoryConfig{Limit: 100},
		Store:   StoreConfig{Timeout: 5 * time.Second},
		Database: DatabaseConfig{
			Type: "sqlite",
			DSN:  "data/chat_history.db",
		},
		Presence: PresenceConfig{
			Type:    "none",
			Key:     "chatmk:online",
			Channel: "chatmk:presence",
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{Namespace: "chatmk"},
	}
}

// Load builds a Config. An empty path skips the YAML file; environment
// overrides always apply.
func Load(path string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		data = resolveEnv(data)
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)
	Sanitize(cfg)
	return cfg, nil
}

var envPattern = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// resolveEnv replaces ${VAR} and ${VAR:default} placeholders in YAML content.
func resolveEnv(content []byte) []byte {
	return envPattern.ReplaceAllFunc(content, func(match []byte) []byte {
		matches := envPattern.FindSubmatch(match)
		envKey := string(matches[1])
		var defaultValue string
		if len(matches) > 2 {
			defaultValue = string(matches[2])
		}
		if value, exists := os.LookupEnv(envKey); exists {
			return []byte(value)
		}
		return []byte(defaultValue)
	})
}

func applyEnv(cfg *Config) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Server.Port = port
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.Server.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.Server.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.Server.MaxMessageSize)
	}

	if capacity := os.Getenv("RATE_LIMIT_CAPACITY"); capacity != "" {
		cfg.RateLimit.Capacity = parseIntValue(capacity, cfg.RateLimit.Capacity)
	}

	if leak := os.Getenv("RATE_LIMIT_LEAK_RATE"); leak != "" {
		cfg.RateLimit.LeakRate = parseFloatValue(leak, cfg.RateLimit.LeakRate)
	}

	if dbType := os.Getenv("DATABASE_TYPE"); dbType != "" {
		cfg.Database.Type = dbType
	}

	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Presence.Type = "redis"
		cfg.Presence.Addr = addr
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logger.Level = level
	}
}

// Sanitize replaces zero or invalid values with defaults.
func Sanitize(cfg *Config) {
	def := Default()

	if cfg.Server.Port == "" {
		cfg.Server.Port = def.Server.Port
	}
	if cfg.Server.MaxMessageSize <= 0 {
		cfg.Server.MaxMessageSize = def.Server.MaxMessageSize
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}
	if cfg.RateLimit.Capacity <= 0 {
		cfg.RateLimit.Capacity = def.RateLimit.Capacity
	}
	if cfg.RateLimit.LeakRate <= 0 {
		cfg.RateLimit.LeakRate = def.RateLimit.LeakRate
	}
	if cfg.History.Limit <= 0 {
		cfg.History.Limit = def.History.Limit
	}
	if cfg.Store.Timeout <= 0 {
		cfg.Store.Timeout = def.Store.Timeout
	}
	if cfg.Database.Type == "" {
		cfg.Database.Type = def.Database.Type
	}
	if cfg.Database.DSN == "" && cfg.Database.Type == def.Database.Type {
		cfg.Database.DSN = def.Database.DSN
	}
	if cfg.Presence.Type == "" {
		cfg.Presence.Type = def.Presence.Type
	}
	if cfg.Presence.Key == "" {
		cfg.Presence.Key = def.Presence.Key
	}
	if cfg.Presence.Channel == "" {
		cfg.Presence.Channel = def.Presence.Channel
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = def.Metrics.Namespace
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseFloatValue(value string, defaultValue float64) float64 {
	if parsed, err := strconv.ParseFloat(value, 64); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}
