package main

import (
	"context"

	"github.com/fyrsmithlabs/quoted/internal/config"
	"github.com/fyrsmithlabs/quoted/internal/mcp"
)

// runMCP serves the intake tools on stdio until the client disconnects or
// ctx is cancelled. Logs go to stderr.
func runMCP(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	srv, err := mcp.NewServer(&mcp.Config{Name: "quoted", Version: version, Logger: a.logger}, a.intake)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}
