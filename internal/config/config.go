// Package config provides configuration loading for quoted.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration for the quoted daemon and CLI.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Ledger        LedgerConfig        `koanf:"ledger"`
	Extraction    ExtractionConfig    `koanf:"extraction"`
	AI            AIConfig            `koanf:"ai"`
	Resolver      ResolverConfig      `koanf:"resolver"`
	Directory     DirectoryConfig     `koanf:"directory"`
	Events        EventsConfig        `koanf:"events"`
	Intake        IntakeConfig        `koanf:"intake"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// ServerConfig holds HTTP intake server settings.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	MaxBodyBytes    int64    `koanf:"max_body_bytes"`
}

// LedgerConfig selects the fingerprint ledger backend.
//
// Driver is one of "sqlite", "postgres" or "memory". Path is used by
// sqlite, DSN by postgres.
type LedgerConfig struct {
	Driver string `koanf:"driver"`
	Path   string `koanf:"path"`
	DSN    Secret `koanf:"dsn"`
}

// ExtractionConfig tunes the hybrid extraction pipeline.
type ExtractionConfig struct {
	EnrichmentThreshold float64  `koanf:"enrichment_threshold"`
	ExpectedFields      []string `koanf:"expected_fields"`
}

// AIConfig configures the external AI/vision capability.
type AIConfig struct {
	Provider  string   `koanf:"provider"` // "disabled", "anthropic", "openai"
	Model     string   `koanf:"model"`
	APIKey    Secret   `koanf:"api_key"`
	BaseURL   string   `koanf:"base_url"`
	Timeout   Duration `koanf:"timeout"`
	MaxTokens int      `koanf:"max_tokens"`
	RateLimit float64  `koanf:"rate_limit"` // requests per second
	Burst     int      `koanf:"burst"`
	Scrub     bool     `koanf:"scrub"`
	Allowlist string   `koanf:"allowlist"` // TOML allowlist for the scrubber
}

// ResolverConfig holds client resolution policy.
type ResolverConfig struct {
	NameThreshold float64  `koanf:"name_threshold"`
	TokenWeight   float64  `koanf:"token_weight"`
	PageSize      int      `koanf:"page_size"`
	MaxPages      int      `koanf:"max_pages"`
	StageTimeout  Duration `koanf:"stage_timeout"`
}

// DirectoryConfig points at the external customer directory.
//
// Kind is "http" or "file". The file kind reads a YAML list of clients and
// serves it from memory.
type DirectoryConfig struct {
	Kind         string   `koanf:"kind"`
	BaseURL      string   `koanf:"base_url"`
	File         string   `koanf:"file"`
	TokenURL     string   `koanf:"token_url"`
	ClientID     string   `koanf:"client_id"`
	ClientSecret Secret   `koanf:"client_secret"`
	Timeout      Duration `koanf:"timeout"`
	RateLimit    float64  `koanf:"rate_limit"`
}

// EventsConfig controls NATS event publication.
type EventsConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// IntakeConfig holds optional intake sources.
type IntakeConfig struct {
	WatchDir         string   `koanf:"watch_dir"`
	WatchSettle      Duration `koanf:"watch_settle"`
	WatchConcurrency int      `koanf:"watch_concurrency"`
}

// ObservabilityConfig holds logging and telemetry switches.
type ObservabilityConfig struct {
	LogLevel         string  `koanf:"log_level"`
	LogFormat        string  `koanf:"log_format"`
	ServiceName      string  `koanf:"service_name"`
	EnableTelemetry  bool    `koanf:"enable_telemetry"`
	OTLPEndpoint     string  `koanf:"otlp_endpoint"`
	OTLPProtocol     string  `koanf:"otlp_protocol"`
	OTLPInsecure     bool    `koanf:"otlp_insecure"`
	TraceSampleRatio float64 `koanf:"trace_sample_ratio"`
}

// Default returns the configuration used when nothing else is provided.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8440,
			ShutdownTimeout: Duration(10 * time.Second),
			MaxBodyBytes:    20 << 20,
		},
		Ledger: LedgerConfig{
			Driver: "sqlite",
			Path:   "quoted.db",
		},
		Extraction: ExtractionConfig{
			EnrichmentThreshold: 0.5,
			ExpectedFields: []string{
				"contact.name",
				"contact.email",
				"vehicle.brand",
				"vehicle.model",
				"shipment.origin",
				"shipment.destination",
			},
		},
		AI: AIConfig{
			Provider:  "disabled",
			Timeout:   Duration(45 * time.Second),
			MaxTokens: 1024,
			RateLimit: 1,
			Burst:     2,
			Scrub:     true,
		},
		Resolver: ResolverConfig{
			NameThreshold: 80,
			TokenWeight:   0.5,
			PageSize:      100,
			MaxPages:      20,
			StageTimeout:  Duration(5 * time.Second),
		},
		Directory: DirectoryConfig{
			Kind:      "file",
			File:      "clients.yaml",
			Timeout:   Duration(10 * time.Second),
			RateLimit: 10,
		},
		Intake: IntakeConfig{
			WatchSettle:      Duration(500 * time.Millisecond),
			WatchConcurrency: 4,
		},
		Events: EventsConfig{
			Enabled:       false,
			URL:           "nats://localhost:4222",
			SubjectPrefix: "quotes",
		},
		Observability: ObservabilityConfig{
			LogLevel:         "info",
			LogFormat:        "json",
			ServiceName:      "quoted",
			OTLPEndpoint:     "localhost:4317",
			OTLPProtocol:     "grpc",
			OTLPInsecure:     true,
			TraceSampleRatio: 1.0,
		},
	}
}

// Validate checks the whole configuration and joins every problem found.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("server.max_body_bytes must be positive"))
	}

	switch c.Ledger.Driver {
	case "sqlite":
		if strings.TrimSpace(c.Ledger.Path) == "" {
			errs = append(errs, errors.New("ledger.path is required for the sqlite driver"))
		}
	case "postgres":
		if !c.Ledger.DSN.IsSet() {
			errs = append(errs, errors.New("ledger.dsn is required for the postgres driver"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("ledger.driver must be sqlite, postgres or memory, got %q", c.Ledger.Driver))
	}

	if c.Extraction.EnrichmentThreshold < 0 || c.Extraction.EnrichmentThreshold > 1 {
		errs = append(errs, fmt.Errorf("extraction.enrichment_threshold must be within [0,1], got %v", c.Extraction.EnrichmentThreshold))
	}

	switch c.AI.Provider {
	case "disabled", "":
	case "anthropic", "openai":
		if !c.AI.APIKey.IsSet() {
			errs = append(errs, fmt.Errorf("ai.api_key is required for provider %q", c.AI.Provider))
		}
		if c.AI.RateLimit <= 0 {
			errs = append(errs, errors.New("ai.rate_limit must be positive"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ai.provider %q", c.AI.Provider))
	}

	if c.Resolver.NameThreshold <= 0 || c.Resolver.NameThreshold > 100 {
		errs = append(errs, fmt.Errorf("resolver.name_threshold must be within (0,100], got %v", c.Resolver.NameThreshold))
	}
	if c.Resolver.TokenWeight < 0 || c.Resolver.TokenWeight > 1 {
		errs = append(errs, fmt.Errorf("resolver.token_weight must be within [0,1], got %v", c.Resolver.TokenWeight))
	}
	if c.Resolver.PageSize <= 0 || c.Resolver.MaxPages <= 0 {
		errs = append(errs, errors.New("resolver.page_size and resolver.max_pages must be positive"))
	}

	switch c.Directory.Kind {
	case "http":
		if c.Directory.BaseURL == "" {
			errs = append(errs, errors.New("directory.base_url is required for the http directory"))
		}
		if c.Directory.ClientID != "" && c.Directory.TokenURL == "" {
			errs = append(errs, errors.New("directory.token_url is required when directory.client_id is set"))
		}
	case "file":
	default:
		errs = append(errs, fmt.Errorf("directory.kind must be http or file, got %q", c.Directory.Kind))
	}

	if c.Intake.WatchConcurrency < 0 {
		errs = append(errs, fmt.Errorf("intake.watch_concurrency cannot be negative, got %d", c.Intake.WatchConcurrency))
	}

	if c.Events.Enabled && c.Events.URL == "" {
		errs = append(errs, errors.New("events.url is required when events are enabled"))
	}

	if c.Observability.TraceSampleRatio < 0 || c.Observability.TraceSampleRatio > 1 {
		errs = append(errs, fmt.Errorf("observability.trace_sample_ratio must be within [0,1], got %v", c.Observability.TraceSampleRatio))
	}

	return errors.Join(errs...)
}
