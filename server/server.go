// Package server provides the OpenAI-compatible HTTP surface backed by Claude
// Code CLI subprocesses.
//
// Three endpoints are exposed:
//
//   - POST /v1/chat/completions — Accepts OpenAI-format chat completion
//     requests, translates them into a Claude Code subprocess invocation, and
//     dispatches the response in one of three modes (non-streaming,
//     pass-through SSE, or buffered replay when tools are active).
//   - GET /v1/models — Returns the three normalized Claude model ids.
//   - GET /health — Liveness probe with provider name and timestamp.
//
// The server binds loopback by default and performs no request
// authentication. CORS is permissive, bodies are capped at 10 MiB, panics are
// recovered into 500 envelopes, and — when Config.Debug is set — every
// request is logged as one structured slog line.
//
// # Usage
//
//	srv := server.New(server.Config{Port: 8080})
//	if err := srv.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	defer srv.Shutdown(context.Background())
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/codewandler/cc-http-adapter/cchat"
	"github.com/codewandler/cc-http-adapter/session"
)

const (
	defaultHost = "127.0.0.1"

	bodyLimit           = "10M"
	shutdownGracePeriod = 15 * time.Second
)

// ChatDriver is the driver surface the handlers consume. *cchat.Driver
// satisfies it; tests substitute fakes through Config.NewDriver.
type ChatDriver interface {
	Start(ctx context.Context, prompt string) error
	Events() <-chan cchat.Event
	Kill()
	IsRunning() bool
}

// Config holds the settings used to create a [Server]. The zero value serves
// on loopback with a system-chosen port, a real subprocess driver, and the
// default session store location.
type Config struct {
	// Host is the bind address. Default: loopback.
	Host string

	// Port is the TCP port. Zero selects a system-chosen port; the standalone
	// launcher defaults it to 8080.
	Port int

	// CLIPath is the path to the claude binary. Default: "claude" on PATH.
	CLIPath string

	// DefaultModel is the model used when a request names none. Empty falls
	// back to the translator's own default.
	DefaultModel string

	// WorkDir is the working directory for spawned subprocesses.
	WorkDir string

	// Timeout is the per-subprocess timeout. Zero means cchat.DefaultTimeout.
	Timeout time.Duration

	// MaxConcurrent caps simultaneous subprocesses. Zero means unlimited.
	MaxConcurrent int

	// Debug enables the per-request access log.
	Debug bool

	// Logger receives server diagnostics. Nil means slog.Default().
	Logger *slog.Logger

	// Store maps conversation ids to upstream session ids. Nil selects the
	// default on-disk store.
	Store *session.Store

	// NewDriver constructs the subprocess driver for one request. Nil selects
	// the real cchat driver; tests inject fakes here.
	NewDriver func(cchat.DriverConfig) ChatDriver
}

// Server is the OpenAI-compatible HTTP adapter. Use [New] to create one and
// [Server.Start] / [Server.Shutdown] to control its lifecycle, or go through
// the process-wide [Manager].
type Server struct {
	cfg       Config
	app       *echo.Echo
	logger    *slog.Logger
	store     *session.Store
	newDriver func(cchat.DriverConfig) ChatDriver
	sem       chan struct{}

	httpSrv *http.Server
	addr    string
}

// New creates a [Server] with routing and middleware wired but not yet
// listening.
func New(cfg Config) *Server {
	if cfg.Host == "" {
		cfg.Host = defaultHost
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	store := cfg.Store
	if store == nil {
		store = session.NewStore("", logger)
	}
	newDriver := cfg.NewDriver
	if newDriver == nil {
		newDriver = func(dc cchat.DriverConfig) ChatDriver { return cchat.NewDriver(dc) }
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = httpErrorHandler(logger)

	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}))
	e.Use(middleware.BodyLimit(bodyLimit))
	if cfg.Debug {
		e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
			LogLatency:    true,
			LogMethod:     true,
			LogURI:        true,
			LogStatus:     true,
			LogRemoteIP:   true,
			LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
				logger.Info("request",
					"method", v.Method,
					"uri", v.URI,
					"status", v.Status,
					"latency_ms", v.Latency.Milliseconds(),
					"remote", v.RemoteIP,
				)
				return nil
			},
		}))
	}

	s := &Server{
		cfg:       cfg,
		app:       e,
		logger:    logger,
		store:     store,
		newDriver: newDriver,
	}
	if cfg.MaxConcurrent > 0 {
		s.sem = make(chan struct{}, cfg.MaxConcurrent)
	}

	e.POST("/v1/chat/completions", s.handleChatCompletions)
	e.GET("/v1/models", s.handleModels)
	e.GET("/health", s.handleHealth)

	return s
}

// Start binds the listener and begins serving in the background. A port that
// is already taken is reported as a descriptive error rather than a bare
// syscall failure.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return fmt.Errorf("address %s is already in use (is another instance running?): %w", addr, err)
		}
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.addr = ln.Addr().String()

	s.httpSrv = &http.Server{Handler: s.app}
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server stopped", "err", err)
		}
	}()

	s.store.StartCleanup()
	s.logger.Info("listening", "addr", s.addr)
	return nil
}

// Addr returns the bound address after Start.
func (s *Server) Addr() string { return s.addr }

// Handler returns the assembled HTTP handler, for tests and custom serving
// arrangements.
func (s *Server) Handler() http.Handler { return s.app }

// Shutdown gracefully stops the server, letting in-flight requests (including
// active SSE streams) finish within the grace period, and stops the session
// store's cleanup ticker.
func (s *Server) Shutdown(ctx context.Context) error {
	s.store.Close()
	if s.httpSrv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownGracePeriod)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}
