package dispatch

import (
	"net/http"

	"github.com/codewandler/cc-http-adapter/cchat"
	"github.com/codewandler/cc-http-adapter/ccwire"
	"github.com/codewandler/cc-http-adapter/oai"
)

// nonStreaming buffers until the subprocess closes, then writes a single JSON
// body. A driver error suppresses any result seen before or after it; a close
// without a result is an abnormal exit citing the code.
func nonStreaming(w http.ResponseWriter, r *http.Request, d Driver, opts Options) error {
	ctx := r.Context()
	events := d.Events()

	var result *ccwire.ResultMessage
	var upstreamErr error
	var exitCode int
	var stderr string

loop:
	for {
		select {
		case <-ctx.Done():
			d.Kill()
			drain(events)
			return nil

		case ev, ok := <-events:
			if !ok {
				break loop
			}
			switch ev.Kind {
			case cchat.EventResult:
				if upstreamErr == nil {
					result = ev.Result
				}
			case cchat.EventError:
				upstreamErr = ev.Err
				result = nil
			case cchat.EventClose:
				exitCode = ev.ExitCode
				stderr = ev.Stderr
			}
		}
	}

	if upstreamErr != nil {
		return upstreamErr
	}
	if result == nil {
		return &UpstreamExitError{ExitCode: exitCode, Stderr: stderr}
	}
	if result.IsError {
		opts.Logger.Warn("upstream reported an error result", "result", result.Result)
	}

	return writeJSON(w, http.StatusOK, oai.ResultToResponse(opts.RequestID, result))
}
