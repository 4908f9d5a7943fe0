package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/quoted/internal/intake"
	"github.com/fyrsmithlabs/quoted/internal/logging"
	"github.com/fyrsmithlabs/quoted/internal/resolver"
)

// Intake is the service the tools call.
type Intake interface {
	Process(ctx context.Context, in intake.RawInput) (*intake.Outcome, error)
	Get(ctx context.Context, ref string) (*intake.Quote, error)
	Resolve(ctx context.Context, h resolver.Hints) (resolver.Match, error)
}

// Server is an MCP server over the intake service.
type Server struct {
	mcp          *mcp.Server
	intake       Intake
	toolRegistry *ToolRegistry
	metrics      *Metrics
	logger       *logging.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the implementation name reported to clients (default "quoted").
	Name    string
	Version string
	Logger  *logging.Logger
}

// DefaultConfig returns the defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "quoted",
		Version: "dev",
		Logger:  logging.NewNop(),
	}
}

// NewServer creates a server and registers its tools.
func NewServer(cfg *Config, svc Intake) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if svc == nil {
		return nil, errors.New("intake service is required")
	}
	logger := cfg.Logger.Named("mcp")

	s := &Server{
		mcp:          mcp.NewServer(&mcp.Implementation{Name: cfg.Name, Version: cfg.Version}, nil),
		intake:       svc,
		toolRegistry: NewToolRegistry(),
		metrics:      NewMetrics(logger),
		logger:       logger,
	}
	s.registerTools()
	return s, nil
}

// Run serves MCP on stdio until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info(ctx, "starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect serves one session over t. Used with in-memory transports.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}

// Registry returns the tool registry.
func (s *Server) Registry() *ToolRegistry { return s.toolRegistry }
