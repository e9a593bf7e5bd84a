// Package cchat drives single-shot Claude Code CLI subprocesses and exposes
// their NDJSON output as a typed event stream.
//
// Each [Driver] owns exactly one subprocess: create it with [NewDriver], start
// it once with [Driver.Start], then range over [Driver.Events] until the
// channel closes. The driver frames stdout into lines, classifies each line
// via [github.com/codewandler/cc-http-adapter/ccwire.ParseLine], and delivers
// the result as [Event] values. A per-process timeout (default [DefaultTimeout])
// arms at spawn; on expiry the process receives a terminate signal and an
// [EventError] carrying a [*TimeoutError] is delivered before the final
// [EventClose].
package cchat

import (
	"log/slog"
	"time"

	"github.com/codewandler/cc-http-adapter/ccwire"
)

// DefaultTimeout is the per-process timeout applied when DriverConfig.Timeout
// is zero. It is the sole defense against an upstream run that never finishes.
const DefaultTimeout = 5 * time.Minute

// DriverConfig configures a single [Driver]. The zero value is usable: the
// CLI is resolved as "claude" on PATH and the timeout defaults to
// [DefaultTimeout].
type DriverConfig struct {
	// CLIPath is the path to the claude binary. Default: "claude".
	CLIPath string

	// Model is the model alias passed via --model (opus, sonnet, or haiku).
	Model string

	// SessionID, when non-empty, is passed via --session-id so the upstream
	// CLI resumes an existing conversation.
	SessionID string

	// WorkDir is the working directory for the subprocess. Empty means the
	// adapter's own working directory.
	WorkDir string

	// Timeout is the per-process timeout. Zero means DefaultTimeout.
	Timeout time.Duration

	// Logger receives driver diagnostics. Nil means slog.Default().
	Logger *slog.Logger

	// Observer, when non-nil, is invoked with every parsed frame before
	// classification, for consumers that want the full feed.
	Observer func(ccwire.Message)
}
