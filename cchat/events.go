package cchat

import (
	"fmt"
	"time"

	"github.com/codewandler/cc-http-adapter/ccwire"
)

// EventKind discriminates the variants of [Event].
type EventKind string

const (
	// EventContentDelta carries one incremental text fragment from a
	// content_block_delta stream event. Delta is populated.
	EventContentDelta EventKind = "content_delta"

	// EventAssistant carries a complete assistant message. Assistant is
	// populated.
	EventAssistant EventKind = "assistant"

	// EventResult carries the terminal result message. Result is populated.
	EventResult EventKind = "result"

	// EventRaw carries a stdout line that ccwire.ParseLine rejected: not JSON,
	// or a known message type whose fields do not decode. Raw is populated.
	// Raw frames never abort the stream.
	EventRaw EventKind = "raw"

	// EventError reports a driver-level failure, currently only timeout
	// expiry. Err is populated. A subsequent EventClose is normal cleanup.
	EventError EventKind = "error"

	// EventClose is the final event: the subprocess has exited and its exit
	// code is in ExitCode. The event channel is closed right after.
	EventClose EventKind = "close"
)

// Event is the tagged union delivered on [Driver.Events]. Kind selects which
// payload field is populated; all others are zero.
type Event struct {
	Kind EventKind

	// Delta is the text fragment of an EventContentDelta.
	Delta string

	// Assistant is the message of an EventAssistant.
	Assistant *ccwire.AssistantMessage

	// Result is the message of an EventResult.
	Result *ccwire.ResultMessage

	// Raw is the unparseable stdout line of an EventRaw.
	Raw string

	// Err is the failure of an EventError.
	Err error

	// ExitCode is the subprocess exit code of an EventClose.
	ExitCode int

	// Stderr is the trailing captured stderr of an EventClose, for attaching
	// to abnormal-exit diagnostics. Stderr is never parsed as structured data.
	Stderr string
}

// TimeoutError is delivered on an [EventError] when the per-process timer
// expires before the subprocess closes.
type TimeoutError struct {
	// Timeout is the configured per-process timeout that expired.
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("claude process timed out after %s", e.Timeout)
}
