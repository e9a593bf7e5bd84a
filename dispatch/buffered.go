package dispatch

import (
	"net/http"
	"strings"

	"github.com/codewandler/cc-http-adapter/cchat"
	"github.com/codewandler/cc-http-adapter/ccwire"
	"github.com/codewandler/cc-http-adapter/oai"
)

// bufferedReplay is the mandatory mode when tool calling is active: no
// response bytes are written until the subprocess has closed and the final
// text has been classified for tool calls. The terminal result's text is
// authoritative; the accumulated delta buffer is the fallback when no result
// arrived. In the fallback case usage counts are reported as zero — the
// upstream never said.
func bufferedReplay(w http.ResponseWriter, r *http.Request, d Driver, opts Options) error {
	ctx := r.Context()
	events := d.Events()

	var buf strings.Builder
	var model string
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
			case cchat.EventContentDelta:
				buf.WriteString(ev.Delta)
			case cchat.EventAssistant:
				model = ev.Assistant.Message.Model
			case cchat.EventResult:
				result = ev.Result
			case cchat.EventError:
				upstreamErr = ev.Err
			case cchat.EventClose:
				exitCode = ev.ExitCode
				stderr = ev.Stderr
			}
		}
	}

	if upstreamErr != nil {
		if !opts.Stream {
			return upstreamErr
		}
		sse := newSSEWriter(w, opts.RequestID)
		sse.WriteError(upstreamErr.Error(), "server_error", errorCode(upstreamErr))
		sse.WriteDone()
		return nil
	}

	text := buf.String()
	usage := &oai.Usage{}
	if result != nil {
		text = result.Result
		usage = oai.UsageFromResult(result)
	} else if text == "" {
		return &UpstreamExitError{ExitCode: exitCode, Stderr: stderr}
	}

	content, calls := oai.ParseToolCalls(text)

	respModel := oai.DefaultResponseModel
	if model != "" {
		respModel = oai.NormalizeModel(model)
	} else if result != nil {
		for name := range result.ModelUsage {
			respModel = oai.NormalizeModel(name)
			break
		}
	}

	if !opts.Stream {
		return writeJSON(w, http.StatusOK, oai.ToolResponse(opts.RequestID, respModel, content, calls, usage))
	}

	// Replay: the whole chunk sequence is constructed only now, after the
	// close barrier, and written in order.
	sse := newSSEWriter(w, opts.RequestID)
	cb := oai.NewChunkBuilder(opts.RequestID)
	cb.SetModel(respModel)

	if len(calls) > 0 {
		if content != "" {
			if err := sse.WriteEvent(cb.Text(content)); err != nil {
				return nil
			}
		}
		for _, chunk := range cb.ToolCalls(calls) {
			if err := sse.WriteEvent(chunk); err != nil {
				return nil
			}
		}
		if err := sse.WriteEvent(cb.Done("tool_calls")); err != nil {
			return nil
		}
	} else {
		if err := sse.WriteEvent(cb.Text(content)); err != nil {
			return nil
		}
		if err := sse.WriteEvent(cb.Done("stop")); err != nil {
			return nil
		}
	}

	sse.WriteDone()
	return nil
}
