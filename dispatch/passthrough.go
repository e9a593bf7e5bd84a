package dispatch

import (
	"net/http"

	"github.com/codewandler/cc-http-adapter/cchat"
	"github.com/codewandler/cc-http-adapter/oai"
)

// passThrough streams each upstream content delta to the client as one SSE
// chunk, in upstream order, with no coalescing. Assistant events only update
// the chunk model; the terminal result produces the finish chunk. Every
// terminal path ends the stream with [DONE].
func passThrough(w http.ResponseWriter, r *http.Request, d Driver, opts Options) error {
	ctx := r.Context()
	events := d.Events()

	sse := newSSEWriter(w, opts.RequestID)
	cb := oai.NewChunkBuilder(opts.RequestID)

	for {
		select {
		case <-ctx.Done():
			// Client went away: reap the subprocess, swallow the rest.
			d.Kill()
			drain(events)
			return nil

		case ev, ok := <-events:
			if !ok {
				sse.WriteDone()
				return nil
			}
			switch ev.Kind {
			case cchat.EventContentDelta:
				if err := sse.WriteEvent(cb.Text(ev.Delta)); err != nil {
					d.Kill()
					drain(events)
					return nil
				}

			case cchat.EventAssistant:
				cb.SetModel(ev.Assistant.Message.Model)

			case cchat.EventResult:
				if err := sse.WriteEvent(cb.Done("stop")); err != nil {
					d.Kill()
					drain(events)
					return nil
				}

			case cchat.EventError:
				opts.Logger.Error("upstream error mid-stream", "err", ev.Err)
				sse.WriteError(ev.Err.Error(), "server_error", errorCode(ev.Err))
				sse.WriteDone()
				d.Kill()
				drain(events)
				return nil

			case cchat.EventClose:
				sse.WriteDone()
			}
		}
	}
}
