// Package http provides the quote intake HTTP API.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/quoted/internal/extraction"
	"github.com/fyrsmithlabs/quoted/internal/intake"
	"github.com/fyrsmithlabs/quoted/internal/ledger"
	"github.com/fyrsmithlabs/quoted/internal/logging"
	"github.com/fyrsmithlabs/quoted/internal/resolver"
)

// Intake is the service behind the API.
type Intake interface {
	Process(ctx context.Context, in intake.RawInput) (*intake.Outcome, error)
	Get(ctx context.Context, ref string) (*intake.Quote, error)
	Resolve(ctx context.Context, h resolver.Hints) (resolver.Match, error)
}

// Pinger reports the health of a dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds HTTP server configuration.
type Config struct {
	Host         string
	Port         int
	MaxBodyBytes int64
	Version      string
}

// Server provides HTTP endpoints for quote intake.
type Server struct {
	echo    *echo.Echo
	intake  Intake
	ledger  Pinger
	logger  *logging.Logger
	config  *Config
	metrics *HTTPMetrics
}

// NewServer creates a new HTTP server. ledger may be nil, in which case
// /health does not check it.
func NewServer(svc Intake, ledger Pinger, logger *logging.Logger, cfg *Config) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("intake service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 8440}
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 20 << 20
	}
	logger = logger.Named("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger)

	s := &Server{
		echo:    e,
		intake:  svc,
		ledger:  ledger,
		logger:  logger,
		config:  cfg,
		metrics: NewHTTPMetrics(logger),
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.metrics.MetricsMiddleware())
	e.Use(requestLogger(logger))

	s.registerRoutes()
	return s, nil
}

// requestLogger logs every request and puts the request id on the context.
func requestLogger(logger *logging.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			reqID := c.Response().Header().Get(echo.HeaderXRequestID)
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), reqID)))

			if err := next(c); err != nil {
				c.Error(err)
			}

			logger.Info(c.Request().Context(), "http request",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return nil
		}
	}
}

func errorHandler(logger *logging.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code, msg := http.StatusInternalServerError, "internal error"
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			msg = fmt.Sprint(he.Message)
		} else {
			logger.Error(c.Request().Context(), "unhandled request error", zap.Error(err))
		}
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(code)
			return
		}
		_ = c.JSON(code, ErrorResponse{Error: msg})
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/quotes", s.handleIngest)
	v1.GET("/quotes/:ref", s.handleGetQuote)
	v1.POST("/resolve", s.handleResolve)
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok", Version: s.config.Version, Services: map[string]string{}}
	code := http.StatusOK
	if s.ledger != nil {
		if err := s.ledger.Ping(c.Request().Context()); err != nil {
			resp.Status = "degraded"
			resp.Services["ledger"] = "unavailable"
			code = http.StatusServiceUnavailable
		} else {
			resp.Services["ledger"] = "ok"
		}
	}
	return c.JSON(code, resp)
}

// handleIngest accepts either an IngestRequest as JSON or the raw input as
// the body, typed by Content-Type, with filename, channel and client_id as
// query parameters.
func (s *Server) handleIngest(c echo.Context) error {
	in, err := s.readInput(c)
	if err != nil {
		return err
	}

	out, err := s.intake.Process(c.Request().Context(), in)
	if errors.Is(err, intake.ErrInvalidInput) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err != nil {
		return err
	}
	if out.Duplicate {
		return c.JSON(http.StatusOK, out)
	}
	return c.JSON(http.StatusCreated, out)
}

func (s *Server) readInput(c echo.Context) (intake.RawInput, error) {
	req := c.Request()
	body, err := io.ReadAll(http.MaxBytesReader(c.Response(), req.Body, s.config.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return intake.RawInput{}, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
		}
		return intake.RawInput{}, echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}

	ct := req.Header.Get(echo.HeaderContentType)
	if strings.HasPrefix(ct, echo.MIMEApplicationJSON) {
		var r IngestRequest
		if err := json.Unmarshal(body, &r); err != nil {
			s.logger.Warn(req.Context(), "invalid ingest request", zap.Error(err))
			return intake.RawInput{}, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
		if r.Text != "" && len(r.Data) > 0 {
			return intake.RawInput{}, echo.NewHTTPError(http.StatusBadRequest, "set either text or data, not both")
		}
		data := r.Data
		if r.Text != "" {
			data = []byte(r.Text)
		}
		return intake.RawInput{
			Data:     data,
			MIMEType: r.MIMEType,
			Channel:  extraction.Channel(r.Channel),
			Filename: r.Filename,
			Headers:  lowerKeys(r.Headers),
			ClientID: r.ClientID,
		}, nil
	}

	return intake.RawInput{
		Data:     body,
		MIMEType: ct,
		Channel:  extraction.Channel(c.QueryParam("channel")),
		Filename: c.QueryParam("filename"),
		ClientID: c.QueryParam("client_id"),
	}, nil
}

func lowerKeys(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = v
	}
	return out
}

func (s *Server) handleGetQuote(c echo.Context) error {
	q, err := s.intake.Get(c.Request().Context(), c.Param("ref"))
	if errors.Is(err, ledger.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "quote not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, q)
}

func (s *Server) handleResolve(c echo.Context) error {
	var req ResolveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	h := resolver.Hints(req)
	if h.Empty() {
		return echo.NewHTTPError(http.StatusBadRequest, "at least one of id, email, phone or name is required")
	}
	m, err := s.intake.Resolve(c.Request().Context(), h)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(http.StatusOK, m)
}

// Echo exposes the router, for tests and for mounting extra routes.
func (s *Server) Echo() *echo.Echo { return s.echo }

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
