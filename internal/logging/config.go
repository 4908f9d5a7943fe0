package logging

import (
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/quoted/internal/config"
)

// Config holds logging configuration.
type Config struct {
	Level           zapcore.Level     `koanf:"level"`
	Format          string            `koanf:"format"`
	Output          OutputConfig      `koanf:"output"`
	Sampling        SamplingConfig    `koanf:"sampling"`
	Caller          CallerConfig      `koanf:"caller"`
	StacktraceLevel zapcore.Level     `koanf:"stacktrace_level"`
	Fields          map[string]string `koanf:"fields"`
	Redaction       RedactionConfig   `koanf:"redaction"`
}

// OutputConfig controls where logs are written.
type OutputConfig struct {
	Stdout bool `koanf:"stdout"`
	// Stderr sends the console output to stderr, for stdio transports
	// that own stdout.
	Stderr bool `koanf:"stderr"`
	OTEL   bool `koanf:"otel"`
}

// SamplingConfig controls log volume reduction below Error.
type SamplingConfig struct {
	Enabled    bool          `koanf:"enabled"`
	Tick       time.Duration `koanf:"tick"`
	Initial    int           `koanf:"initial"`
	Thereafter int           `koanf:"thereafter"`
	// Audit lists messages that are never sampled.
	Audit      []string      `koanf:"audit"`
}

// CallerConfig controls caller annotation.
type CallerConfig struct {
	Enabled bool `koanf:"enabled"`
	Skip    int  `koanf:"skip"`
}

// RedactionConfig lists field names and value patterns that never reach output.
type RedactionConfig struct {
	Enabled  bool     `koanf:"enabled"`
	Fields   []string `koanf:"fields"`
	Patterns []string `koanf:"patterns"`
}

// NewDefaultConfig returns production defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  zapcore.InfoLevel,
		Format: "json",
		Output: OutputConfig{Stdout: true},
		Sampling: SamplingConfig{
			Enabled:    true,
			Tick:       time.Second,
			Initial:    100,
			Thereafter: 10,
			Audit:      DefaultAuditMessages,
		},
		Caller: CallerConfig{
			Enabled: true,
			Skip:    2,
		},
		StacktraceLevel: zapcore.ErrorLevel,
		Fields: map[string]string{
			"service": "quoted",
		},
		Redaction: RedactionConfig{
			Enabled: true,
			Fields: []string{
				"password", "secret", "token", "api_key",
				"authorization", "client_secret", "dsn",
			},
			Patterns: []string{
				`(?i)bearer\s+\S+`,
				`(?i)api[_-]?key[=:]\s*\S+`,
			},
		},
	}
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("format must be 'json' or 'console', got %q", c.Format)
	}
	if !c.Output.Stdout && !c.Output.OTEL {
		return fmt.Errorf("at least one output must be enabled (stdout or otel)")
	}
	if c.Sampling.Enabled && c.Sampling.Tick <= 0 {
		return fmt.Errorf("sampling tick must be > 0 when sampling enabled")
	}
	if c.Caller.Skip < 0 {
		return fmt.Errorf("caller skip must be >= 0, got %d", c.Caller.Skip)
	}
	if c.Redaction.Enabled {
		for _, p := range c.Redaction.Patterns {
			if len(p) > 200 {
				return fmt.Errorf("redaction pattern too long (max 200 chars): %q", p)
			}
			if _, err := regexp.Compile(p); err != nil {
				return fmt.Errorf("invalid redaction pattern %q: %w", p, err)
			}
		}
	}
	for k, v := range c.Fields {
		if k == "" || v == "" {
			return fmt.Errorf("constant log fields need a key and a value (%q=%q)", k, v)
		}
	}
	return nil
}

// FromObservability maps the application observability section onto the
// defaults. OTEL output is enabled together with telemetry.
func FromObservability(o config.ObservabilityConfig) (*Config, error) {
	cfg := NewDefaultConfig()
	if o.LogLevel != "" {
		lvl, err := LevelFromString(o.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		cfg.Level = lvl
	}
	if o.LogFormat != "" {
		cfg.Format = o.LogFormat
	}
	if o.ServiceName != "" {
		cfg.Fields["service"] = o.ServiceName
	}
	cfg.Output.OTEL = o.EnableTelemetry
	return cfg, cfg.Validate()
}
