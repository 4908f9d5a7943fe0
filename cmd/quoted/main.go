// Quoted is the quote intake daemon.
//
// It serves the HTTP intake API and, when intake.watch_dir is set, ingests
// files dropped into that directory. `quoted mcp` serves the same intake
// service as MCP tools over stdio instead.
//
// Configuration comes from an optional YAML file and QUOTED_* environment
// variables. See internal/config for details.
//
// Usage:
//
//	# Start the daemon with defaults
//	quoted
//
//	# Use a config file and a different port
//	QUOTED_SERVER_PORT=9090 quoted -config /etc/quoted/config.yaml
//
//	# Serve MCP tools on stdio
//	quoted mcp
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/quoted/internal/config"
	httpserver "github.com/fyrsmithlabs/quoted/internal/http"
	"github.com/fyrsmithlabs/quoted/internal/watch"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", os.Getenv("QUOTED_CONFIG"), "path to a YAML config file")
	flag.Parse()
	args := flag.Args()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := "serve"
	if len(args) > 0 {
		cmd = args[0]
	}

	var err error
	switch cmd {
	case "serve":
		err = run(ctx, *configPath)
	case "mcp":
		err = runMCP(ctx, *configPath)
	case "version":
		printVersion()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprintf(os.Stderr, "\nUsage:\n")
		fmt.Fprintf(os.Stderr, "  quoted [-config FILE]        Start the intake daemon\n")
		fmt.Fprintf(os.Stderr, "  quoted [-config FILE] mcp    Serve MCP tools on stdio\n")
		fmt.Fprintf(os.Stderr, "  quoted version               Show version information\n")
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("quoted: %v", err)
	}
}

func printVersion() {
	fmt.Printf("quoted by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the daemon and blocks until ctx is cancelled or a component
// fails. Shutdown waits at most server.shutdown_timeout.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	srv, err := httpserver.NewServer(a.intake, a.store, a.logger, &httpserver.Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Version:      version,
	})
	if err != nil {
		return fmt.Errorf("create http server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if dir := cfg.Intake.WatchDir; dir != "" {
		w, err := watch.New(watch.Config{
			Dir:         dir,
			Settle:      cfg.Intake.WatchSettle.Duration(),
			Concurrency: cfg.Intake.WatchConcurrency,
		}, a.intake, a.logger)
		if err != nil {
			return fmt.Errorf("create inbox watcher: %w", err)
		}
		g.Go(func() error { return w.Run(gctx) })
	}

	a.logger.Info(ctx, "quoted started",
		zap.String("version", version),
		zap.String("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)),
		zap.String("ledger", cfg.Ledger.Driver),
		zap.String("ai_provider", cfg.AI.Provider),
		zap.String("watch_dir", cfg.Intake.WatchDir),
	)

	err = g.Wait()
	a.logger.Info(context.Background(), "quoted stopped")
	return err
}
