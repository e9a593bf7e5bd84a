// Package launcher implements the cc-proxy command set: start, stop, and
// status. It owns everything the HTTP adapter itself does not: .env loading,
// the optional YAML configuration file, flag/environment precedence, the CLI
// installation probe, the pidfile that makes stop and status work across
// processes, and signal-driven graceful shutdown.
package launcher

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/codewandler/cc-http-adapter/server"
	"github.com/codewandler/cc-http-adapter/session"
)

const usage = `cc-proxy exposes the Claude Code CLI as an OpenAI-compatible HTTP endpoint.

Usage:
  cc-proxy start [port] [flags]
  cc-proxy stop
  cc-proxy status

Commands:
  start    Start the HTTP adapter and block until SIGINT/SIGTERM
  stop     Terminate a running adapter via its pidfile
  status   Report whether an adapter is running

Flags (start):
  -host string          Bind address (default 127.0.0.1, or $HOST)
  -port int             Listen port (default 8080)
  -config string        Path to an optional YAML configuration file
  -model string         Default model when a request names none
  -claude-path string   Path to the claude binary (default "claude", or $CLAUDE_CODE_CLI_PATH)
  -work-dir string      Working directory for claude subprocesses
  -timeout duration     Per-request subprocess timeout (default 5m)
  -max-concurrent int   Max concurrent claude subprocesses (0 = unlimited)

Environment:
  HOST                  Bind address when -host is not given
  DEBUG                 Enables debug logging and the per-request access log
  CLAUDE_CODE_CLI_PATH  claude binary location when -claude-path is not given`

// Execute runs the command dispatcher and returns the process exit code:
// 0 on clean shutdown, 1 on invalid port, missing CLI, failed auth check, or
// server start failure.
func Execute(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Println(usage)
		return 0
	}

	switch args[0] {
	case "start":
		return start(ctx, args[1:])
	case "stop":
		return stop()
	case "status":
		return status()
	case "help", "-h", "--help":
		fmt.Println(usage)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s\n", args[0], usage)
		return 1
	}
}

func start(ctx context.Context, args []string) int {
	// A developer's local .env populates the same variables a deployed
	// process would read; its absence is the normal case.
	_ = godotenv.Load()

	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	fs.Usage = func() { fmt.Fprintln(os.Stderr, usage) }

	var (
		host          = fs.String("host", "", "bind address")
		port          = fs.Int("port", 0, "listen port")
		configPath    = fs.String("config", "", "path to YAML configuration file")
		model         = fs.String("model", "", "default model when a request names none")
		claudePath    = fs.String("claude-path", "", "path to claude binary")
		workDir       = fs.String("work-dir", "", "working directory for claude subprocesses")
		timeout       = fs.Duration("timeout", 5*time.Minute, "per-request subprocess timeout")
		maxConcurrent = fs.Int("max-concurrent", 0, "max concurrent claude subprocesses")
	)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	var fileCfg Config
	if *configPath != "" {
		var err error
		fileCfg, err = LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cc-proxy: %v\n", err)
			return 1
		}
	}

	// Precedence: flag/positional arg > environment > config file > default.
	resolvedHost := firstNonEmpty(*host, os.Getenv("HOST"), fileCfg.Host, "127.0.0.1")

	resolvedPort := *port
	if fs.NArg() > 0 {
		p, err := strconv.Atoi(fs.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "cc-proxy: invalid port %q\n", fs.Arg(0))
			return 1
		}
		resolvedPort = p
	}
	if resolvedPort == 0 {
		resolvedPort = fileCfg.Port
	}
	if resolvedPort == 0 {
		resolvedPort = 8080
	}
	if resolvedPort < 1 || resolvedPort > 65535 {
		fmt.Fprintf(os.Stderr, "cc-proxy: port %d is out of range\n", resolvedPort)
		return 1
	}

	resolvedCLI := firstNonEmpty(*claudePath, os.Getenv("CLAUDE_CODE_CLI_PATH"), fileCfg.CLIPath, "claude")
	resolvedModel := firstNonEmpty(*model, fileCfg.Model)

	debug := os.Getenv("DEBUG") != ""
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cliPath, err := findCLI(resolvedCLI)
	if err != nil {
		logger.Error("claude CLI not found", "looked_for", resolvedCLI, "err", err)
		fmt.Fprintln(os.Stderr, `cc-proxy: install the claude CLI with "npm install -g @anthropic-ai/claude-code" and make sure it is on PATH`)
		return 1
	}
	if err := checkAuth(); err != nil {
		logger.Error("claude CLI auth check failed", "err", err)
		return 1
	}

	store := session.NewStore(fileCfg.SessionFile, logger)

	maxProcs := *maxConcurrent
	if maxProcs == 0 {
		maxProcs = fileCfg.MaxConcurrent
	}

	srv, err := server.StartServer(server.Config{
		Host:          resolvedHost,
		Port:          resolvedPort,
		CLIPath:       cliPath,
		DefaultModel:  resolvedModel,
		WorkDir:       *workDir,
		Timeout:       *timeout,
		MaxConcurrent: maxProcs,
		Debug:         debug,
		Logger:        logger,
		Store:         store,
	})
	if err != nil {
		logger.Error("server start failed", "err", err)
		return 1
	}

	if err := writePidfile(pidfilePath(), pidInfo{PID: os.Getpid(), Addr: srv.Addr()}); err != nil {
		logger.Warn("pidfile not written, stop/status will not see this instance", "err", err)
	}

	logger.Info("cc-proxy ready", "addr", srv.Addr(), "claude", cliPath)

	<-ctx.Done()
	logger.Info("shutting down")

	if err := server.StopServer(context.Background()); err != nil {
		logger.Error("shutdown failed", "err", err)
	}
	removePidfile(pidfilePath())
	return 0
}

// stop terminates a running instance identified by the pidfile. Stopping when
// nothing is running is a no-op.
func stop() int {
	path := pidfilePath()
	info, err := readPidfile(path)
	if err != nil {
		fmt.Println("cc-proxy is not running")
		return 0
	}

	proc, err := os.FindProcess(info.PID)
	if err == nil {
		err = proc.Signal(syscall.SIGTERM)
	}
	if err != nil {
		fmt.Printf("cc-proxy pid %d is already gone\n", info.PID)
	} else {
		fmt.Printf("sent terminate signal to cc-proxy pid %d (%s)\n", info.PID, info.Addr)
	}
	removePidfile(path)
	return 0
}

// status reports whether the pidfile's process is alive and where it listens.
func status() int {
	info, err := readPidfile(pidfilePath())
	if err != nil {
		fmt.Println("cc-proxy is not running")
		return 0
	}
	if processAlive(info.PID) {
		fmt.Printf("cc-proxy is running: pid %d, listening on %s\n", info.PID, info.Addr)
	} else {
		fmt.Printf("cc-proxy is not running (stale pidfile for pid %d)\n", info.PID)
	}
	return 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
