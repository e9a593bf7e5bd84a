package cchat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os/exec"
	"syscall"
	"time"
)

// ErrCLINotFound is wrapped into the Start error when the claude binary
// cannot be located. Callers use errors.Is to translate it into an actionable
// installation message.
var ErrCLINotFound = errors.New(`claude CLI not found: install it with "npm install -g @anthropic-ai/claude-code" and make sure it is on PATH`)

// spawn starts the claude subprocess with the fixed argument set. The prompt
// travels as the final positional argument, never through a shell and never
// on stdin; stdin is left unattached so the child sees it closed.
func spawn(ctx context.Context, cfg DriverConfig, prompt string) (*exec.Cmd, io.ReadCloser, *bytes.Buffer, error) {
	cmd := exec.CommandContext(ctx, cfg.CLIPath, buildArgs(cfg, prompt)...)
	if cfg.WorkDir != "" {
		cmd.Dir = cfg.WorkDir
	}

	// Cancellation sends SIGTERM rather than the default SIGKILL so the CLI
	// can flush its final frames; WaitDelay bounds how long we wait for that.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating stdout pipe: %w", err)
	}

	// Stderr is diagnostic text, captured for error context but never parsed.
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, nil, nil, fmt.Errorf("%w (looked for %q)", ErrCLINotFound, cfg.CLIPath)
		}
		return nil, nil, nil, fmt.Errorf("starting claude process: %w", err)
	}

	return cmd, stdout, &stderr, nil
}

func buildArgs(cfg DriverConfig, prompt string) []string {
	args := []string{
		"--print",
		"--output-format", "stream-json",
		"--verbose",
		"--include-partial-messages",
		"--model", cfg.Model,
		"--no-session-persistence",
	}

	if cfg.SessionID != "" {
		args = append(args, "--session-id", cfg.SessionID)
	}

	return append(args, prompt)
}

// stderrTail returns up to n trailing bytes of captured stderr, for attaching
// to abnormal-exit errors.
func stderrTail(buf *bytes.Buffer, n int) string {
	b := buf.Bytes()
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return string(bytes.TrimSpace(b))
}
