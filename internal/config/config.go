// Package config handles configuration management with validation
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	App         AppConfig         `yaml:"app"`
	Source      SourceConfig      `yaml:"source"`
	Markets     []MarketConfig    `yaml:"markets"`
	DLOB        DLOBConfig        `yaml:"dlob"`
	Oracle      OracleConfig      `yaml:"oracle"`
	Feed        FeedConfig        `yaml:"feed"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Server      ServerConfig      `yaml:"server"`
	System      SystemConfig      `yaml:"system"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name string `yaml:"name"`
}

// SourceConfig describes the upstream order-state API and slot stream
type SourceConfig struct {
	BaseURL           string `yaml:"base_url"`
	APIKey            Secret `yaml:"api_key"`
	SlotWSURL         string `yaml:"slot_ws_url"`
	RequestsPerSecond int    `yaml:"requests_per_second"`
	RequestTimeoutMs  int    `yaml:"request_timeout_ms"`
}

// MarketConfig maps a human-readable market name to its index and type
type MarketConfig struct {
	Name  string `yaml:"name"`
	Index uint16 `yaml:"index"`
	Type  string `yaml:"type"` // perp or spot
}

// DLOBConfig controls the refresh schedule and views
type DLOBConfig struct {
	UpdateFrequencyMs     int      `yaml:"update_frequency_ms"`
	RefreshTimeoutMs      int      `yaml:"refresh_timeout_ms"`
	QueueHighWater        int      `yaml:"queue_high_water"`
	TopOfBookQuoteAmounts []string `yaml:"top_of_book_quote_amounts"`
	DefaultDepth          int      `yaml:"default_depth"`
}

// OracleConfig controls oracle polling and staleness
type OracleConfig struct {
	PollIntervalMs int `yaml:"poll_interval_ms"`
	MaxAgeMs       int `yaml:"max_age_ms"`
}

// FeedConfig controls the L2 snapshot feed published after each refresh
type FeedConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Markets     []string `yaml:"markets"`
	Depth       int      `yaml:"depth"`
	IncludeVAMM bool     `yaml:"include_vamm"`
}

// KafkaConfig configures the Kafka feed sink
type KafkaConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic"`
	ClientID string   `yaml:"client_id"`
}

// ServerConfig contains listener settings
type ServerConfig struct {
	HTTPPort       int      `yaml:"http_port"`
	GRPCPort       int      `yaml:"grpc_port"`
	WSPort         int      `yaml:"ws_port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxConnections int      `yaml:"max_connections"`

	// APIKeys enables key authentication on the HTTP and gRPC APIs when non-empty
	APIKeys         []Secret `yaml:"api_keys"`
	APIKeyRateLimit int      `yaml:"api_key_rate_limit"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel string `yaml:"log_level"`
}

// ConcurrencyConfig contains worker pool settings
type ConcurrencyConfig struct {
	FetchPoolSize   int `yaml:"fetch_pool_size"`
	FetchPoolBuffer int `yaml:"fetch_pool_buffer"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	EnableMetrics bool `yaml:"enable_metrics"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion.
// Variables from a .env file (DLOB_ENV_FILE, or ./.env) are loaded first when present.
func LoadConfig(filename string) (*Config, error) {
	if err := loadEnvFile(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := expandEnvVars(string(data))

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandedData), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func loadEnvFile() error {
	path := os.Getenv("DLOB_ENV_FILE")
	if path == "" {
		path = ".env"
	}
	// godotenv.Load never overrides variables already set in the environment
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errs []string

	for _, check := range []func() error{
		c.validateSourceConfig,
		c.validateMarkets,
		c.validateDLOBConfig,
		c.validateOracleConfig,
		c.validateFeedConfig,
		c.validateKafkaConfig,
		c.validateSystemConfig,
	} {
		if err := check(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

func (c *Config) validateSourceConfig() error {
	if c.Source.BaseURL == "" {
		return ValidationError{Field: "source.base_url", Message: "order state API URL is required"}
	}
	if c.Source.RequestsPerSecond < 0 {
		return ValidationError{Field: "source.requests_per_second", Value: c.Source.RequestsPerSecond, Message: "must not be negative"}
	}
	return nil
}

func (c *Config) validateMarkets() error {
	if len(c.Markets) == 0 {
		return ValidationError{Field: "markets", Message: "at least one market must be configured"}
	}
	seen := make(map[string]bool)
	for i, m := range c.Markets {
		if m.Name == "" {
			return ValidationError{Field: fmt.Sprintf("markets[%d].name", i), Message: "market name is required"}
		}
		if seen[m.Name] {
			return ValidationError{Field: fmt.Sprintf("markets[%d].name", i), Value: m.Name, Message: "duplicate market name"}
		}
		seen[m.Name] = true
		if !contains([]string{"perp", "spot"}, strings.ToLower(m.Type)) {
			return ValidationError{Field: fmt.Sprintf("markets[%d].type", i), Value: m.Type, Message: "must be one of: perp, spot"}
		}
	}
	return nil
}

func (c *Config) validateDLOBConfig() error {
	if c.DLOB.UpdateFrequencyMs <= 0 {
		return ValidationError{Field: "dlob.update_frequency_ms", Value: c.DLOB.UpdateFrequencyMs, Message: "must be positive"}
	}
	if c.DLOB.DefaultDepth < 0 {
		return ValidationError{Field: "dlob.default_depth", Value: c.DLOB.DefaultDepth, Message: "must not be negative"}
	}
	if _, err := c.DLOB.QuoteAmounts(); err != nil {
		return ValidationError{Field: "dlob.top_of_book_quote_amounts", Value: c.DLOB.TopOfBookQuoteAmounts, Message: err.Error()}
	}
	return nil
}

func (c *Config) validateOracleConfig() error {
	if c.Oracle.PollIntervalMs <= 0 {
		return ValidationError{Field: "oracle.poll_interval_ms", Value: c.Oracle.PollIntervalMs, Message: "must be positive"}
	}
	if c.Oracle.MaxAgeMs <= 0 {
		return ValidationError{Field: "oracle.max_age_ms", Value: c.Oracle.MaxAgeMs, Message: "must be positive"}
	}
	return nil
}

func (c *Config) validateFeedConfig() error {
	if !c.Feed.Enabled {
		return nil
	}
	if c.Feed.Depth <= 0 {
		return ValidationError{Field: "feed.depth", Value: c.Feed.Depth, Message: "must be positive when the feed is enabled"}
	}
	for _, name := range c.Feed.Markets {
		if !slices.ContainsFunc(c.Markets, func(m MarketConfig) bool { return m.Name == name }) {
			return ValidationError{Field: "feed.markets", Value: name, Message: "market not found in markets section"}
		}
	}
	return nil
}

func (c *Config) validateKafkaConfig() error {
	if !c.Kafka.Enabled {
		return nil
	}
	if len(c.Kafka.Brokers) == 0 {
		return ValidationError{Field: "kafka.brokers", Message: "at least one broker is required when kafka is enabled"}
	}
	if c.Kafka.Topic == "" {
		return ValidationError{Field: "kafka.topic", Message: "topic is required when kafka is enabled"}
	}
	return nil
}

func (c *Config) validateSystemConfig() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

// UpdateFrequency returns the refresh interval
func (d DLOBConfig) UpdateFrequency() time.Duration {
	return time.Duration(d.UpdateFrequencyMs) * time.Millisecond
}

// RefreshTimeout returns the per-refresh timeout; zero means the update frequency
func (d DLOBConfig) RefreshTimeout() time.Duration {
	return time.Duration(d.RefreshTimeoutMs) * time.Millisecond
}

// QuoteAmounts parses the top-of-book quote amounts. Nil means the built-in defaults.
func (d DLOBConfig) QuoteAmounts() ([]decimal.Decimal, error) {
	if len(d.TopOfBookQuoteAmounts) == 0 {
		return nil, nil
	}
	out := make([]decimal.Decimal, 0, len(d.TopOfBookQuoteAmounts))
	for _, s := range d.TopOfBookQuoteAmounts {
		v, err := decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("invalid quote amount %q: %w", s, err)
		}
		if !v.IsPositive() {
			return nil, fmt.Errorf("quote amount %s must be positive", s)
		}
		out = append(out, v)
	}
	return out, nil
}

// RequestTimeout returns the per-request timeout of the upstream API
func (s SourceConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutMs) * time.Millisecond
}

// PollInterval returns the oracle polling interval
func (o OracleConfig) PollInterval() time.Duration {
	return time.Duration(o.PollIntervalMs) * time.Millisecond
}

// MaxAge returns how old an oracle price may be before it is treated as unavailable
func (o OracleConfig) MaxAge() time.Duration {
	return time.Duration(o.MaxAgeMs) * time.Millisecond
}

// String returns a string representation of the configuration (with sensitive data masked)
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	return slices.Contains(slice, item)
}

// DefaultConfig returns the defaults that a config file overrides
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{Name: "dlob-engine"},
		Source: SourceConfig{
			RequestsPerSecond: 20,
			RequestTimeoutMs:  5000,
		},
		DLOB: DLOBConfig{
			UpdateFrequencyMs: 1000,
			QueueHighWater:    64,
			DefaultDepth:      10,
		},
		Oracle: OracleConfig{
			PollIntervalMs: 1000,
			MaxAgeMs:       10000,
		},
		Feed: FeedConfig{
			Depth: 20,
		},
		Kafka: KafkaConfig{
			ClientID: "dlob-engine",
		},
		Server: ServerConfig{
			HTTPPort:       8080,
			GRPCPort:       50051,
			WSPort:         8081,
			MaxConnections: 1000,
		},
		System: SystemConfig{
			LogLevel: "INFO",
		},
		Concurrency: ConcurrencyConfig{
			FetchPoolSize:   8,
			FetchPoolBuffer: 256,
		},
		Telemetry: TelemetryConfig{
			EnableMetrics: true,
		},
	}
}
