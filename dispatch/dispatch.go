// Package dispatch wires a subprocess driver's event stream to the HTTP
// response in one of three modes selected by (tools active, stream requested):
//
//   - non-streaming: buffer until close, then one JSON body;
//   - pass-through streaming: each upstream content delta becomes one SSE chunk;
//   - buffered replay: mandatory whenever tool calling is active — all upstream
//     output is withheld until the subprocess closes, the final text is
//     classified for tool calls, and only then is the response written, as SSE
//     frames or a JSON body.
//
// Buffered replay exists because finish_reason cannot be retroactively changed
// once a chunk has been sent, and whether tool calls appear is knowable only
// after the full text is in hand.
//
// Errors returned by the dispatchers occur strictly before any response bytes
// were written; the HTTP layer translates them into OpenAI error envelopes.
// Once the response is committed, failures are handled in-band (an SSE error
// frame followed by [DONE]) or logged.
package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/codewandler/cc-http-adapter/cchat"
)

// Driver is the subset of the subprocess driver the dispatchers consume.
// *cchat.Driver satisfies it; tests substitute fakes.
type Driver interface {
	// Events returns the typed event channel, closed after the final close event.
	Events() <-chan cchat.Event

	// Kill terminates the subprocess; it must be idempotent.
	Kill()
}

// Options selects the dispatch mode and carries per-request metadata.
type Options struct {
	// RequestID is the 24-hex request identifier; it becomes the chatcmpl id
	// and the X-Request-Id header of streaming responses.
	RequestID string

	// ToolsActive forces the buffered-replay mode regardless of Stream.
	ToolsActive bool

	// Stream is the client's stream flag.
	Stream bool

	// Logger receives dispatcher diagnostics. Nil means slog.Default().
	Logger *slog.Logger
}

// Respond consumes the driver's events and writes the response. Exactly one
// of {JSON body, completed SSE stream} is produced for every call that
// returns nil; a non-nil error means nothing was written yet.
//
// Client disconnects are detected through the request context, which net/http
// cancels when the underlying connection closes — the write-side signal a
// long-lived SSE response needs (reaching end of the request body does NOT
// cancel it). On disconnect the subprocess is killed, remaining events are
// swallowed, and no further bytes are written.
func Respond(w http.ResponseWriter, r *http.Request, d Driver, opts Options) error {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	switch {
	case opts.ToolsActive:
		return bufferedReplay(w, r, d, opts)
	case opts.Stream:
		return passThrough(w, r, d, opts)
	default:
		return nonStreaming(w, r, d, opts)
	}
}

// UpstreamExitError reports a subprocess that closed without emitting a
// terminal result. The captured stderr tail travels along for diagnostics.
type UpstreamExitError struct {
	ExitCode int
	Stderr   string
}

func (e *UpstreamExitError) Error() string {
	msg := fmt.Sprintf("claude process exited with code %d before emitting a result", e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// errorCode picks the machine-readable code for an in-band error frame.
func errorCode(err error) string {
	var timeoutErr *cchat.TimeoutError
	if errors.As(err, &timeoutErr) {
		return "upstream_timeout"
	}
	return "upstream_error"
}

// drain swallows the remaining events after a kill so the driver's pump
// goroutine can finish.
func drain(events <-chan cchat.Event) {
	for range events {
	}
}
