package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnvVars(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		envVars  map[string]string
		expected string
	}{
		{
			name:  "expand single env var",
			input: "api_key: ${TEST_API_KEY}",
			envVars: map[string]string{
				"TEST_API_KEY": "test_key_123",
			},
			expected: "api_key: test_key_123",
		},
		{
			name:  "expand multiple env vars",
			input: "base_url: ${TEST_BASE_URL}\napi_key: ${TEST_KEY_2}",
			envVars: map[string]string{
				"TEST_BASE_URL": "http://localhost",
				"TEST_KEY_2":    "secret_value",
			},
			expected: "base_url: http://localhost\napi_key: secret_value",
		},
		{
			name:     "missing env var returns empty string",
			input:    "api_key: ${MISSING_VAR}",
			envVars:  map[string]string{},
			expected: "api_key: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			result := expandEnvVars(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

const testConfig = `source:
  base_url: "${TEST_DLOB_BASE_URL}"
  api_key: "${TEST_DLOB_API_KEY}"
  slot_ws_url: "ws://localhost:9000/slots"

markets:
  - name: SOL-PERP
    index: 0
    type: perp
  - name: SOL
    index: 1
    type: spot

dlob:
  update_frequency_ms: 500
  top_of_book_quote_amounts: ["100", "250"]

feed:
  enabled: true
  markets: [SOL-PERP]
  depth: 5

system:
  log_level: "DEBUG"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigWithEnvVars(t *testing.T) {
	t.Setenv("DLOB_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("TEST_DLOB_BASE_URL", "http://orders.local")
	t.Setenv("TEST_DLOB_API_KEY", "key_from_env")

	cfg, err := LoadConfig(writeConfig(t, testConfig))
	require.NoError(t, err)

	assert.Equal(t, "http://orders.local", cfg.Source.BaseURL)
	assert.Equal(t, Secret("key_from_env"), cfg.Source.APIKey)
	assert.Len(t, cfg.Markets, 2)
	assert.Equal(t, 500, cfg.DLOB.UpdateFrequencyMs)

	// defaults survive for keys the file omits
	assert.Equal(t, 1000, cfg.Oracle.PollIntervalMs)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)

	amounts, err := cfg.DLOB.QuoteAmounts()
	require.NoError(t, err)
	require.Len(t, amounts, 2)
	assert.True(t, amounts[1].Equal(decimal.NewFromInt(250)))
}

func TestLoadConfig_DotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("TEST_DLOB_BASE_URL=http://from-dotenv\n"), 0o600))
	t.Setenv("DLOB_ENV_FILE", envFile)
	// t.Setenv registers a restore so the variable loaded from the file is cleaned up
	t.Setenv("TEST_DLOB_BASE_URL", "")
	os.Unsetenv("TEST_DLOB_BASE_URL")

	cfg, err := LoadConfig(writeConfig(t, testConfig))
	require.NoError(t, err)
	assert.Equal(t, "http://from-dotenv", cfg.Source.BaseURL)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Source.BaseURL = "http://localhost"
		cfg.Markets = []MarketConfig{{Name: "SOL-PERP", Index: 0, Type: "perp"}}
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"missing base url", func(c *Config) { c.Source.BaseURL = "" }, "source.base_url"},
		{"no markets", func(c *Config) { c.Markets = nil }, "markets"},
		{"bad market type", func(c *Config) { c.Markets[0].Type = "future" }, "markets[0].type"},
		{"duplicate market", func(c *Config) { c.Markets = append(c.Markets, c.Markets[0]) }, "markets[1].name"},
		{"zero frequency", func(c *Config) { c.DLOB.UpdateFrequencyMs = 0 }, "dlob.update_frequency_ms"},
		{"bad quote amount", func(c *Config) { c.DLOB.TopOfBookQuoteAmounts = []string{"-1"} }, "dlob.top_of_book_quote_amounts"},
		{"feed unknown market", func(c *Config) {
			c.Feed.Enabled = true
			c.Feed.Markets = []string{"BTC-PERP"}
		}, "feed.markets"},
		{"kafka without brokers", func(c *Config) {
			c.Kafka.Enabled = true
			c.Kafka.Topic = "dlob"
		}, "kafka.brokers"},
		{"bad log level", func(c *Config) { c.System.LogLevel = "TRACE" }, "system.log_level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestConfig_String(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Source.APIKey = Secret("my_super_secret_api_key")
	output := cfg.String()

	assert.Contains(t, output, "[REDACTED]")
	assert.NotContains(t, output, "my_super_secret_api_key")
	assert.NotContains(t, output, "my_s")
}
