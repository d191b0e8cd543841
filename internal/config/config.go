// Package config provides application configuration with multi-source
// priority.
//
// Sources (highest to lowest):
//  1. Environment variables (PARLEY_* or DATABASE_URL)
//  2. Config file (~/.parley/config.yaml, or ./config.yaml)
//  3. Defaults
//
// Categories:
//   - Backend: chat backend endpoint, send ceiling, rate limit
//   - ToolServer: local automation endpoint and timeouts
//   - Storage: PostgreSQL connection for persisted messages and push channel
//   - Tracing: OTLP trace export
//
// Validation is fail-fast with sentinel errors so callers can use errors.Is.
// Sensitive values (the postgres password) are never logged.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Sentinel validation errors.
var (
	ErrConfigNil           = errors.New("configuration is nil")
	ErrInvalidBackendURL   = errors.New("invalid backend URL")
	ErrInvalidToolServer   = errors.New("invalid tool server URL")
	ErrInvalidSendTimeout  = errors.New("invalid send timeout")
	ErrInvalidUserID       = errors.New("invalid user id")
	ErrInvalidAgentSlug    = errors.New("invalid agent slug")
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")
	ErrInvalidPostgresDB   = errors.New("invalid PostgreSQL database name")
	ErrInvalidSSLMode      = errors.New("invalid PostgreSQL SSL mode")
)

// Send ceiling bounds. Providers may hold a connection open for minutes on
// long generations; below MinSendTimeout legitimate responses get cut off.
const (
	MinSendTimeout = 30 * time.Second
	MaxSendTimeout = 10 * time.Minute
)

// TracingConfig holds OTLP trace export configuration.
type TracingConfig struct {
	// Enabled turns span export on. Default: false.
	Enabled bool `mapstructure:"enabled"`
	// Endpoint is the OTLP/HTTP collector endpoint (default: localhost:4318).
	Endpoint string `mapstructure:"endpoint"`
	// ServiceName tags exported spans (default: parley).
	ServiceName string `mapstructure:"service_name"`
	// Environment is the deployment environment tag (default: dev).
	Environment string `mapstructure:"environment"`
}

// Config stores application configuration.
type Config struct {
	// Client identity and default agent
	UserID    string `mapstructure:"user_id" json:"user_id"`
	AgentSlug string `mapstructure:"agent_slug" json:"agent_slug"`

	// Chat backend
	BackendURL      string        `mapstructure:"backend_url" json:"backend_url"`
	SendTimeout     time.Duration `mapstructure:"send_timeout" json:"send_timeout"`
	SendsPerMinute  int           `mapstructure:"sends_per_minute" json:"sends_per_minute"`
	CreditErrorHint string        `mapstructure:"credit_error_hint" json:"credit_error_hint"`

	// Local automation tool server
	ToolServerURL     string        `mapstructure:"tool_server_url" json:"tool_server_url"`
	ToolServerTimeout time.Duration `mapstructure:"tool_server_timeout" json:"tool_server_timeout"`

	// Storage (see storage.go for DSN helpers)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"-"` // SENSITIVE: never logged
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Observability
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing"`

	// Logging
	LogLevel string `mapstructure:"log_level" json:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`
}

// Dir returns the parley configuration/state directory (~/.parley), creating
// it if needed.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting user home directory: %w", err)
	}
	dir := filepath.Join(home, ".parley")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}
	return dir, nil
}

// Load loads configuration with env > file > defaults priority and validates
// it fail-fast.
func Load() (*Config, error) {
	configDir, err := Dir()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)

	v.SetEnvPrefix("PARLEY")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("user_id", "local")
	v.SetDefault("agent_slug", "demo-agent")

	v.SetDefault("backend_url", "http://localhost:54321/functions/v1/agent-chat")
	v.SetDefault("send_timeout", 4*time.Minute)
	v.SetDefault("sends_per_minute", 30)
	v.SetDefault("credit_error_hint", "Insufficient credits")

	v.SetDefault("tool_server_url", "http://localhost:8765")
	v.SetDefault("tool_server_timeout", 60*time.Second)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "parley")
	v.SetDefault("postgres_password", "parley_dev_password")
	v.SetDefault("postgres_db_name", "parley")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.service_name", "parley")
	v.SetDefault("tracing.environment", "dev")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
}
