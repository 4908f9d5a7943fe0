package extraction

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/quoted/internal/config"
	"github.com/fyrsmithlabs/quoted/internal/logging"
	"github.com/fyrsmithlabs/quoted/internal/redact"
)

// NewAnalyzer creates an analyzer based on configuration. A disabled
// provider yields the no-op analyzer, which makes the AI strategy
// unsupported for every document.
func NewAnalyzer(cfg config.AIConfig, logger *logging.Logger) (Analyzer, error) {
	if cfg.Provider == "" || cfg.Provider == "disabled" {
		return &NoOpAnalyzer{}, nil
	}

	var scrubber *redact.Scrubber
	if cfg.Scrub {
		s, err := redact.New(cfg.Allowlist)
		if err != nil {
			return nil, fmt.Errorf("create scrubber: %w", err)
		}
		scrubber = s
	}

	acfg := AnalyzerConfig{
		Model:     cfg.Model,
		APIKey:    cfg.APIKey.Value(),
		BaseURL:   cfg.BaseURL,
		Timeout:   cfg.Timeout.Duration(),
		MaxTokens: cfg.MaxTokens,
		RateLimit: cfg.RateLimit,
		Burst:     cfg.Burst,
	}

	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicAnalyzer(acfg, scrubber, logger)
	case "openai":
		return NewOpenAIAnalyzer(acfg, scrubber, logger)
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
}

// NoOpAnalyzer is the Analyzer used when no AI backend is configured.
type NoOpAnalyzer struct{}

// Analyze always fails with ErrAnalyzerUnavailable.
func (n *NoOpAnalyzer) Analyze(ctx context.Context, req AnalyzeRequest) (Analysis, error) {
	return Analysis{}, ErrAnalyzerUnavailable
}

// Available returns false for NoOpAnalyzer.
func (n *NoOpAnalyzer) Available() bool {
	return false
}
