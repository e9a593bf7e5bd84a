package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/codewandler/cc-http-adapter/oai"
)

var errStreamEnded = errors.New("sse stream already ended")

// sseWriter writes Server-Sent Events frames with an ended flag so that no
// bytes can follow the stream terminator.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	ended   bool
}

// newSSEWriter commits the response: SSE headers, a 200 status, and the
// initial ":ok" comment frame that defeats intermediary buffering. After this
// call errors can only be delivered in-band.
func newSSEWriter(w http.ResponseWriter, requestID string) *sseWriter {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Request-Id", requestID)
	w.WriteHeader(http.StatusOK)

	s := &sseWriter{w: w}
	s.flusher, _ = w.(http.Flusher)

	fmt.Fprint(w, ":ok\n\n")
	s.flush()
	return s
}

func (s *sseWriter) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// WriteEvent writes one data frame. A write failure marks the stream ended;
// callers treat it as a client disconnect.
func (s *sseWriter) WriteEvent(v any) error {
	if s.ended {
		return errStreamEnded
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		s.ended = true
		return err
	}
	s.flush()
	return nil
}

// WriteError writes an OpenAI error envelope as an in-band data frame.
func (s *sseWriter) WriteError(message, errType, code string) error {
	return s.WriteEvent(oai.ErrorResponse{
		Error: oai.ErrorDetail{Message: message, Type: errType, Code: code},
	})
}

// WriteDone terminates the stream with the [DONE] sentinel and seals the writer.
func (s *sseWriter) WriteDone() {
	if s.ended {
		return
	}
	fmt.Fprint(s.w, "data: [DONE]\n\n")
	s.flush()
	s.ended = true
}

// writeJSON writes a single JSON body response.
func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}
