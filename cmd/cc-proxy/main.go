/*
Cc-proxy exposes the Claude Code CLI as an OpenAI-compatible HTTP inference
endpoint. Each incoming request spawns an isolated claude subprocess,
translates the OpenAI chat completion payload into a Claude Code prompt, and
streams back an OpenAI-format response. Tool calling is simulated through a
prompt-injected convention, and an on-disk session store maps client
conversation ids to upstream session ids.

Usage:

	cc-proxy start [port] [flags]
	cc-proxy stop
	cc-proxy status

Commands:

	start
		Loads a local .env file if present, resolves configuration from
		flags, environment variables, and an optional YAML config file (in
		that order of precedence), verifies the claude CLI is installed,
		starts the HTTP server, and blocks until SIGINT or SIGTERM triggers
		a graceful shutdown. A pidfile records the running instance.
	stop
		Sends a terminate signal to the instance recorded in the pidfile.
		A no-op when nothing is running.
	status
		Reports whether a recorded instance is alive and where it listens.

Flags (start):

	-host string
		Bind address. (default "127.0.0.1", or the HOST environment variable)
	-port int
		Listen port. May also be given as a positional argument. (default 8080)
	-config string
		Path to an optional YAML configuration file with declarative
		defaults (host, port, model, claude_path, session_file,
		max_concurrent).
	-model string
		Default model used when a request does not name one
		(e.g. sonnet, opus, haiku).
	-claude-path string
		Path to the claude CLI binary. (default "claude", or the
		CLAUDE_CODE_CLI_PATH environment variable)
	-work-dir string
		Working directory for spawned claude processes.
	-timeout duration
		Per-request timeout applied to each claude subprocess. (default 5m)
	-max-concurrent int
		Maximum number of concurrent claude subprocesses. Zero means
		unlimited. (default 0)

Environment variables:

	HOST                  Bind address when -host is not provided.
	DEBUG                 Enables debug logging and the per-request access log.
	CLAUDE_CODE_CLI_PATH  claude binary location when -claude-path is not provided.
	HOME                  Location of the session mapping file and the pidfile.

Endpoints:

	POST /v1/chat/completions   OpenAI-compatible chat completion (streaming and non-streaming)
	GET  /v1/models             Lists the available models
	GET  /health                Liveness probe

Exit codes: 0 on clean shutdown; 1 on invalid port, missing claude CLI,
failed auth check, or server start failure.
*/
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/codewandler/cc-http-adapter/launcher"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	os.Exit(launcher.Execute(ctx, os.Args[1:]))
}
