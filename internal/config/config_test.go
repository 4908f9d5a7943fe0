package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Validates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 80.0, cfg.Resolver.NameThreshold)
	assert.Equal(t, "sqlite", cfg.Ledger.Driver)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout.Duration())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server.port",
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.Ledger.Driver = "postgres" },
			wantErr: "ledger.dsn",
		},
		{
			name:    "unknown ledger driver",
			mutate:  func(c *Config) { c.Ledger.Driver = "mongo" },
			wantErr: "ledger.driver",
		},
		{
			name:    "ai provider without key",
			mutate:  func(c *Config) { c.AI.Provider = "anthropic" },
			wantErr: "ai.api_key",
		},
		{
			name:    "threshold above 100",
			mutate:  func(c *Config) { c.Resolver.NameThreshold = 120 },
			wantErr: "resolver.name_threshold",
		},
		{
			name:    "http directory without url",
			mutate:  func(c *Config) { c.Directory.Kind = "http" },
			wantErr: "directory.base_url",
		},
		{
			name: "oauth without token url",
			mutate: func(c *Config) {
				c.Directory.Kind = "http"
				c.Directory.BaseURL = "https://crm.example.com"
				c.Directory.ClientID = "quoted"
			},
			wantErr: "directory.token_url",
		},
		{
			name:    "negative watch concurrency",
			mutate:  func(c *Config) { c.Intake.WatchConcurrency = -1 },
			wantErr: "intake.watch_concurrency",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quoted.yaml")

	yamlContent := `server:
  port: 9100
ledger:
  driver: memory
resolver:
  name_threshold: 85
  stage_timeout: 2s
extraction:
  expected_fields:
    - contact.email
    - shipment.destination
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o600))

	t.Setenv("QUOTED_SERVER_HOST", "0.0.0.0")
	t.Setenv("QUOTED_AI_PROVIDER", "openai")
	t.Setenv("QUOTED_AI_API_KEY", "sk-test-key")
	t.Setenv("QUOTED_INTAKE_WATCH_SETTLE", "2s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "memory", cfg.Ledger.Driver)
	assert.Equal(t, 85.0, cfg.Resolver.NameThreshold)
	assert.Equal(t, 2*time.Second, cfg.Resolver.StageTimeout.Duration())
	assert.Equal(t, []string{"contact.email", "shipment.destination"}, cfg.Extraction.ExpectedFields)
	assert.Equal(t, "openai", cfg.AI.Provider)
	assert.Equal(t, "sk-test-key", cfg.AI.APIKey.Value())
	assert.Equal(t, 2*time.Second, cfg.Intake.WatchSettle.Duration())

	// Untouched sections keep defaults.
	assert.Equal(t, 100, cfg.Resolver.PageSize)
	assert.Equal(t, "quotes", cfg.Events.SubjectPrefix)
	assert.Equal(t, 4, cfg.Intake.WatchConcurrency)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Server.Port, cfg.Server.Port)
}

func TestLoad_InvalidValueFails(t *testing.T) {
	t.Setenv("QUOTED_LEDGER_DRIVER", "cassandra")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger.driver")
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "server.port", envKey("QUOTED_SERVER_PORT"))
	assert.Equal(t, "resolver.name_threshold", envKey("QUOTED_RESOLVER_NAME_THRESHOLD"))
	assert.Equal(t, "debug", envKey("QUOTED_DEBUG"))
}

func TestSecret_NeverPrints(t *testing.T) {
	s := Secret("sk-live-123")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.NotContains(t, fmt.Sprintf("%#v", s), "sk-live")

	data, err := json.Marshal(struct {
		Key Secret `json:"key"`
	}{Key: s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"[REDACTED]"}`, string(data))

	assert.Equal(t, "sk-live-123", s.Value())
	assert.Equal(t, "", Secret("").String())
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
