package cchat

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/codewandler/cc-http-adapter/ccwire"
)

// Driver runs one Claude Code CLI subprocess and demultiplexes its NDJSON
// stdout into typed [Event] values.
//
// A Driver is single-shot: one Start per instance. After Start succeeds, the
// caller must consume [Driver.Events] until the channel closes; the final
// event is always [EventClose]. [Driver.Kill] may be called from any
// goroutine at any time and is idempotent.
type Driver struct {
	cfg    DriverConfig
	logger *slog.Logger
	events chan Event

	mu       sync.Mutex
	started  bool
	running  bool
	killed   bool
	timedOut bool
	timer    *time.Timer
	cancel   context.CancelFunc

	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer
}

// NewDriver creates a Driver for a single subprocess run. Zero-value config
// fields are filled with defaults; see [DriverConfig].
func NewDriver(cfg DriverConfig) *Driver {
	if cfg.CLIPath == "" {
		cfg.CLIPath = "claude"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		cfg:    cfg,
		logger: logger,
		events: make(chan Event, 16),
	}
}

// Start spawns the subprocess and begins pumping events. It returns an error
// without emitting any event when the spawn itself fails; a missing binary is
// reported as [ErrCLINotFound]. Calling Start twice is an error.
func (d *Driver) Start(ctx context.Context, prompt string) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return errors.New("cchat: driver is single-shot, Start called twice")
	}
	d.started = true
	d.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	cmd, stdout, stderr, err := spawn(ctx, d.cfg, prompt)
	if err != nil {
		cancel()
		return err
	}

	d.mu.Lock()
	d.cmd = cmd
	d.stdout = stdout
	d.stderr = stderr
	d.cancel = cancel
	d.running = true
	d.timer = time.AfterFunc(d.cfg.Timeout, d.expire)
	d.mu.Unlock()

	go d.pump()
	return nil
}

// Events returns the event channel. It is closed after the final [EventClose].
func (d *Driver) Events() <-chan Event { return d.events }

// IsRunning reports whether the subprocess is still alive.
func (d *Driver) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Kill terminates the subprocess. The terminate signal is sent at most once
// and the timeout timer is disarmed; repeat calls are no-ops. The pending
// [EventClose] still arrives as normal cleanup.
func (d *Driver) Kill() {
	d.mu.Lock()
	if d.killed {
		d.mu.Unlock()
		return
	}
	d.killed = true
	if d.timer != nil {
		d.timer.Stop()
	}
	cancel := d.cancel
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// expire fires when the per-process timer lapses: the subprocess is
// terminated and pump delivers a TimeoutError ahead of the close event.
func (d *Driver) expire() {
	d.mu.Lock()
	if d.killed || !d.running {
		d.mu.Unlock()
		return
	}
	d.killed = true
	d.timedOut = true
	cancel := d.cancel
	d.mu.Unlock()

	d.logger.Warn("claude process timed out", "timeout", d.cfg.Timeout)
	cancel()
}

// pump owns the event channel: it frames stdout into lines, classifies each
// one, waits for the subprocess to exit, then emits EventClose and closes the
// channel. It runs on its own goroutine for the lifetime of the subprocess.
func (d *Driver) pump() {
	scanner := bufio.NewScanner(d.stdout)
	scanner.Buffer(make([]byte, 0, 1024*1024), 10*1024*1024) // 10MB max line

	for scanner.Scan() {
		line := scanner.Bytes()
		msg, err := ccwire.ParseLine(line)
		if err != nil {
			// Malformed frames never abort framing.
			d.events <- Event{Kind: EventRaw, Raw: string(bytes.TrimSpace(line))}
			continue
		}
		if msg == nil {
			continue
		}
		if d.cfg.Observer != nil {
			d.cfg.Observer(msg)
		}

		switch m := msg.(type) {
		case *ccwire.StreamEventMessage:
			ev := ccwire.ParseStreamEvent(m)
			if ev.Type == "content_block_delta" {
				if text := ev.DeltaText(); text != "" {
					d.events <- Event{Kind: EventContentDelta, Delta: text}
				}
			}
		case *ccwire.AssistantMessage:
			d.events <- Event{Kind: EventAssistant, Assistant: m}
		case *ccwire.ResultMessage:
			d.events <- Event{Kind: EventResult, Result: m}
		}
	}
	if err := scanner.Err(); err != nil {
		d.logger.Debug("claude stdout read ended", "err", err)
	}

	code := 0
	if err := d.cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		d.logger.Debug("claude process exited",
			"err", err,
			"stderr", stderrTail(d.stderr, 2048),
		)
	}

	d.mu.Lock()
	d.running = false
	if d.timer != nil {
		d.timer.Stop()
	}
	timedOut := d.timedOut
	cancel := d.cancel
	d.mu.Unlock()
	cancel()

	if timedOut {
		d.events <- Event{Kind: EventError, Err: &TimeoutError{Timeout: d.cfg.Timeout}}
	}
	d.events <- Event{Kind: EventClose, ExitCode: code, Stderr: stderrTail(d.stderr, 2048)}
	close(d.events)
}
