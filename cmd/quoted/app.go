package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/quoted/internal/config"
	"github.com/fyrsmithlabs/quoted/internal/directory"
	"github.com/fyrsmithlabs/quoted/internal/events"
	"github.com/fyrsmithlabs/quoted/internal/extraction"
	"github.com/fyrsmithlabs/quoted/internal/intake"
	"github.com/fyrsmithlabs/quoted/internal/ledger"
	"github.com/fyrsmithlabs/quoted/internal/logging"
	"github.com/fyrsmithlabs/quoted/internal/resolver"
	"github.com/fyrsmithlabs/quoted/internal/telemetry"
)

// app holds the wired intake service and everything it owns.
type app struct {
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	store     ledger.Store
	publisher events.Publisher
	intake    *intake.Service
}

// newApp builds the intake service from cfg. With logToStderr the console
// log goes to stderr, leaving stdout to a stdio transport.
func newApp(ctx context.Context, cfg *config.Config, logToStderr bool) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.telemetry, err = telemetry.New(ctx, telemetry.FromObservability(cfg.Observability, version))
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	lcfg, err := logging.FromObservability(cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("logging config: %w", err)
	}
	lcfg.Output.Stderr = logToStderr
	if a.telemetry.LoggerProvider() == nil {
		lcfg.Output.OTEL = false
	}
	if a.logger, err = logging.NewLogger(lcfg, a.telemetry.LoggerProvider()); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	if a.store, err = ledger.Open(ctx, cfg.Ledger, a.logger); err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	dir, err := directory.Open(ctx, cfg.Directory, a.logger)
	if err != nil {
		return nil, fmt.Errorf("open client directory: %w", err)
	}
	res, err := resolver.New(cfg.Resolver, dir, a.logger)
	if err != nil {
		return nil, fmt.Errorf("create resolver: %w", err)
	}

	analyzer, err := extraction.NewAnalyzer(cfg.AI, a.logger)
	if err != nil {
		return nil, fmt.Errorf("create analyzer: %w", err)
	}
	pipeline, err := extraction.NewPipeline(cfg.Extraction, nil, analyzer, cfg.AI.Timeout.Duration(), a.logger)
	if err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}

	if a.publisher, err = events.New(cfg.Events, a.logger); err != nil {
		return nil, fmt.Errorf("connect events: %w", err)
	}

	if a.intake, err = intake.New(a.store, pipeline, res, a.publisher, a.logger); err != nil {
		return nil, fmt.Errorf("create intake: %w", err)
	}

	a.logger.Debug(ctx, "intake wired",
		zap.String("directory", cfg.Directory.Kind),
		zap.Bool("ai_available", analyzer.Available()),
		zap.Bool("events", cfg.Events.Enabled),
		zap.Bool("telemetry", a.telemetry.IsEnabled()),
	)
	return a, nil
}

// Close releases resources in reverse order of construction. Safe on a
// partially built app.
func (a *app) Close() {
	ctx := context.Background()
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn(ctx, "failed to close event publisher", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn(ctx, "failed to close ledger", zap.Error(err))
		}
	}
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(ctx); err != nil && a.logger != nil {
			a.logger.Warn(ctx, "telemetry shutdown failed", zap.Error(err))
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}
