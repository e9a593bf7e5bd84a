package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/codewandler/cc-http-adapter/cchat"
	"github.com/codewandler/cc-http-adapter/ccwire"
	"github.com/codewandler/cc-http-adapter/oai"
)

const testRequestID = "aaaaaaaaaaaaaaaaaaaaaaaa"

// fakeDriver feeds a canned event sequence to the dispatcher.
type fakeDriver struct {
	events chan cchat.Event
	killed atomic.Bool
}

func newFakeDriver(events ...cchat.Event) *fakeDriver {
	ch := make(chan cchat.Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return &fakeDriver{events: ch}
}

func (f *fakeDriver) Events() <-chan cchat.Event { return f.events }
func (f *fakeDriver) Kill()                     { f.killed.Store(true) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func deltaEvent(text string) cchat.Event {
	return cchat.Event{Kind: cchat.EventContentDelta, Delta: text}
}

func assistantEvent(model string) cchat.Event {
	return cchat.Event{Kind: cchat.EventAssistant, Assistant: &ccwire.AssistantMessage{
		Message: ccwire.AssistantInner{Model: model},
	}}
}

func resultEvent(text string) cchat.Event {
	return cchat.Event{Kind: cchat.EventResult, Result: &ccwire.ResultMessage{
		Result: text,
		Usage:  ccwire.ResultUsage{InputTokens: 4, OutputTokens: 2},
		ModelUsage: map[string]any{
			"claude-sonnet-4-20250514": map[string]any{},
		},
	}}
}

func closeEvent(code int) cchat.Event {
	return cchat.Event{Kind: cchat.EventClose, ExitCode: code}
}

// sseFrames splits an SSE body into its data payloads and reports whether the
// initial :ok comment frame was present.
func sseFrames(t *testing.T, body string) (frames []string, hasOK bool) {
	t.Helper()
	for _, block := range strings.Split(body, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		if block == ":ok" {
			hasOK = true
			continue
		}
		if payload, ok := strings.CutPrefix(block, "data: "); ok {
			frames = append(frames, payload)
			continue
		}
		t.Fatalf("unexpected SSE block %q", block)
	}
	return frames, hasOK
}

func decodeChunk(t *testing.T, frame string) oai.ChatCompletionChunk {
	t.Helper()
	var chunk oai.ChatCompletionChunk
	if err := json.Unmarshal([]byte(frame), &chunk); err != nil {
		t.Fatalf("frame %q is not a chunk: %v", frame, err)
	}
	return chunk
}

// TestNonStreamingSuccess covers the plain request/response path: one JSON
// body with the result text and a stop finish reason.
func TestNonStreamingSuccess(t *testing.T) {
	d := newFakeDriver(resultEvent("hello"), closeEvent(0))
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)

	err := Respond(w, r, d, Options{RequestID: testRequestID, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}

	var resp oai.ChatCompletionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("body is not a chat completion: %v", err)
	}
	if resp.Choices[0].Message.Content != "hello" {
		t.Errorf("content = %v, want hello", resp.Choices[0].Message.Content)
	}
	if resp.Choices[0].FinishReason != "stop" {
		t.Errorf("finish_reason = %q, want stop", resp.Choices[0].FinishReason)
	}
	if resp.Model != "claude-sonnet-4" {
		t.Errorf("model = %q, want claude-sonnet-4", resp.Model)
	}
	if resp.Usage.TotalTokens != 6 {
		t.Errorf("total tokens = %d, want 6", resp.Usage.TotalTokens)
	}
}

func TestNonStreamingCloseWithoutResult(t *testing.T) {
	d := newFakeDriver(cchat.Event{Kind: cchat.EventClose, ExitCode: 2, Stderr: "boom"})
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)

	err := Respond(w, r, d, Options{RequestID: testRequestID, Logger: discardLogger()})
	var exitErr *UpstreamExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("Respond error = %v, want *UpstreamExitError", err)
	}
	if exitErr.ExitCode != 2 {
		t.Errorf("exit code = %d, want 2", exitErr.ExitCode)
	}
	if !strings.Contains(exitErr.Error(), "boom") {
		t.Errorf("error should carry the stderr tail, got %q", exitErr.Error())
	}
	if w.Body.Len() != 0 {
		t.Errorf("nothing may be written when an error is returned, got %q", w.Body.String())
	}
}

// TestNonStreamingErrorSuppressesResult verifies a driver error wins over any
// result, before or after it.
func TestNonStreamingErrorSuppressesResult(t *testing.T) {
	timeout := &cchat.TimeoutError{Timeout: time.Minute}
	d := newFakeDriver(
		cchat.Event{Kind: cchat.EventError, Err: timeout},
		resultEvent("too late"),
		closeEvent(0),
	)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)

	err := Respond(w, r, d, Options{RequestID: testRequestID, Logger: discardLogger()})
	var te *cchat.TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("Respond error = %v, want the timeout error", err)
	}
	if w.Body.Len() != 0 {
		t.Errorf("result after an error must be suppressed, body = %q", w.Body.String())
	}
}

// TestPassThroughStream covers the streaming scenario: :ok comment, role on
// the first chunk only, delta ordering, finish chunk, [DONE].
func TestPassThroughStream(t *testing.T) {
	d := newFakeDriver(
		assistantEvent("claude-sonnet-4-20250514"),
		deltaEvent("he"),
		deltaEvent("llo"),
		resultEvent("hello"),
		closeEvent(0),
	)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)

	err := Respond(w, r, d, Options{RequestID: testRequestID, Stream: true, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	if cc := w.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", cc)
	}
	if !regexp.MustCompile(`^[0-9a-f]{24}$`).MatchString(w.Header().Get("X-Request-Id")) {
		t.Errorf("X-Request-Id = %q, want 24 hex chars", w.Header().Get("X-Request-Id"))
	}

	frames, hasOK := sseFrames(t, w.Body.String())
	if !hasOK {
		t.Error("missing initial :ok comment frame")
	}
	if len(frames) != 4 {
		t.Fatalf("got %d frames, want 4 (2 deltas, finish, DONE): %v", len(frames), frames)
	}
	if frames[len(frames)-1] != "[DONE]" {
		t.Fatalf("last frame = %q, want [DONE]", frames[len(frames)-1])
	}

	first := decodeChunk(t, frames[0])
	if first.Choices[0].Delta.Role != "assistant" || *first.Choices[0].Delta.Content != "he" {
		t.Errorf("first chunk delta = %+v, want role assistant content he", first.Choices[0].Delta)
	}
	if first.Model != "claude-sonnet-4" {
		t.Errorf("chunk model = %q, want claude-sonnet-4 from the assistant event", first.Model)
	}

	second := decodeChunk(t, frames[1])
	if second.Choices[0].Delta.Role != "" || *second.Choices[0].Delta.Content != "llo" {
		t.Errorf("second chunk delta = %+v, want bare content llo", second.Choices[0].Delta)
	}

	finish := decodeChunk(t, frames[2])
	if finish.Choices[0].FinishReason == nil || *finish.Choices[0].FinishReason != "stop" {
		t.Errorf("finish chunk = %+v, want finish_reason stop", finish.Choices[0])
	}
	if finish.Choices[0].Delta.Content != nil {
		t.Error("finish chunk delta must be empty")
	}
}

// TestPassThroughOrdering verifies the concatenation of delta contents equals
// the upstream delta texts in upstream order.
func TestPassThroughOrdering(t *testing.T) {
	parts := []string{"a", "bb", "", "ccc", "d"}
	var events []cchat.Event
	for _, p := range parts {
		events = append(events, deltaEvent(p))
	}
	events = append(events, resultEvent("abbcccd"), closeEvent(0))

	d := newFakeDriver(events...)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)

	if err := Respond(w, r, d, Options{RequestID: testRequestID, Stream: true, Logger: discardLogger()}); err != nil {
		t.Fatalf("Respond failed: %v", err)
	}

	frames, _ := sseFrames(t, w.Body.String())
	var got strings.Builder
	for _, frame := range frames {
		if frame == "[DONE]" {
			continue
		}
		chunk := decodeChunk(t, frame)
		if c := chunk.Choices[0].Delta.Content; c != nil {
			got.WriteString(*c)
		}
	}
	if got.String() != "abbcccd" {
		t.Errorf("delta concatenation = %q, want %q", got.String(), "abbcccd")
	}
}

func TestPassThroughErrorInBand(t *testing.T) {
	d := newFakeDriver(
		deltaEvent("partial"),
		cchat.Event{Kind: cchat.EventError, Err: &cchat.TimeoutError{Timeout: time.Minute}},
		closeEvent(-1),
	)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)

	if err := Respond(w, r, d, Options{RequestID: testRequestID, Stream: true, Logger: discardLogger()}); err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if !d.killed.Load() {
		t.Error("driver must be killed after an in-band error")
	}

	frames, _ := sseFrames(t, w.Body.String())
	if frames[len(frames)-1] != "[DONE]" {
		t.Fatalf("stream must still end with [DONE], got %v", frames)
	}

	errFrame := frames[len(frames)-2]
	var envelope oai.ErrorResponse
	if err := json.Unmarshal([]byte(errFrame), &envelope); err != nil {
		t.Fatalf("penultimate frame %q is not an error envelope: %v", errFrame, err)
	}
	if envelope.Error.Code != "upstream_timeout" {
		t.Errorf("error code = %q, want upstream_timeout", envelope.Error.Code)
	}
}

// TestBufferedReplayToolCallNonStreaming covers the tools + non-streaming
// scenario: residual text, one extracted call with a minted id, tool_calls
// finish reason.
func TestBufferedReplayToolCallNonStreaming(t *testing.T) {
	text := "Let me check.\n<tool_call>{\"name\":\"get_weather\",\"arguments\":{\"city\":\"Paris\"}}</tool_call>"
	d := newFakeDriver(resultEvent(text), closeEvent(0))
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)

	err := Respond(w, r, d, Options{RequestID: testRequestID, ToolsActive: true, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}

	var resp oai.ChatCompletionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("body is not a chat completion: %v", err)
	}
	choice := resp.Choices[0]
	if choice.FinishReason != "tool_calls" {
		t.Errorf("finish_reason = %q, want tool_calls", choice.FinishReason)
	}
	if choice.Message.Content != "Let me check." {
		t.Errorf("content = %v, want the residual text", choice.Message.Content)
	}
	if len(choice.Message.ToolCalls) != 1 {
		t.Fatalf("got %d tool calls, want 1", len(choice.Message.ToolCalls))
	}
	call := choice.Message.ToolCalls[0]
	if !regexp.MustCompile(`^call_[0-9a-f]{24}$`).MatchString(call.ID) {
		t.Errorf("tool call id = %q, want minted call_ + 24 hex", call.ID)
	}
	if call.Function.Name != "get_weather" || call.Function.Arguments != `{"city":"Paris"}` {
		t.Errorf("function = %+v, want get_weather with stringified arguments", call.Function)
	}
}

// TestBufferedReplayNoCallsStreaming covers tools + streaming where the model
// called nothing: one text chunk with the full text, then a stop finish.
func TestBufferedReplayNoCallsStreaming(t *testing.T) {
	d := newFakeDriver(
		deltaEvent("sunny"),
		deltaEvent(" today"),
		resultEvent("sunny today"),
		closeEvent(0),
	)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)

	err := Respond(w, r, d, Options{RequestID: testRequestID, ToolsActive: true, Stream: true, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}

	frames, hasOK := sseFrames(t, w.Body.String())
	if !hasOK {
		t.Error("missing initial :ok comment frame")
	}
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3 (text, finish, DONE): %v", len(frames), frames)
	}

	text := decodeChunk(t, frames[0])
	if text.Choices[0].Delta.Role != "assistant" || *text.Choices[0].Delta.Content != "sunny today" {
		t.Errorf("text chunk = %+v, want the full text in one chunk", text.Choices[0].Delta)
	}
	if text.Choices[0].FinishReason != nil {
		t.Error("text chunk must not carry a finish reason")
	}

	finish := decodeChunk(t, frames[1])
	if finish.Choices[0].FinishReason == nil || *finish.Choices[0].FinishReason != "stop" {
		t.Errorf("finish chunk = %+v, want stop", finish.Choices[0])
	}
	if frames[2] != "[DONE]" {
		t.Errorf("last frame = %q, want [DONE]", frames[2])
	}
}

// TestBufferedReplayToolCallsStreaming verifies the chunk sequence when calls
// are extracted: text chunk, one chunk per call with indexes, tool_calls
// finish, [DONE].
func TestBufferedReplayToolCallsStreaming(t *testing.T) {
	text := "Checking.\n" +
		`<tool_call>{"name":"a","arguments":{}}</tool_call>` +
		`<tool_call>{"name":"b","arguments":{"k":"v"}}</tool_call>`
	d := newFakeDriver(resultEvent(text), closeEvent(0))
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)

	err := Respond(w, r, d, Options{RequestID: testRequestID, ToolsActive: true, Stream: true, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}

	frames, _ := sseFrames(t, w.Body.String())
	if len(frames) != 5 {
		t.Fatalf("got %d frames, want 5 (text, 2 calls, finish, DONE): %v", len(frames), frames)
	}

	textChunk := decodeChunk(t, frames[0])
	if textChunk.Choices[0].Delta.Role != "assistant" || *textChunk.Choices[0].Delta.Content != "Checking." {
		t.Errorf("text chunk = %+v, want role + residual text", textChunk.Choices[0].Delta)
	}

	for i, frame := range frames[1:3] {
		chunk := decodeChunk(t, frame)
		delta := chunk.Choices[0].Delta
		if delta.Role != "" {
			t.Errorf("tool-call chunk %d repeats the role after the text chunk", i)
		}
		if len(delta.ToolCalls) != 1 {
			t.Fatalf("tool-call chunk %d carries %d calls, want 1", i, len(delta.ToolCalls))
		}
		if delta.ToolCalls[0].Index != i {
			t.Errorf("tool-call chunk %d index = %d, want %d", i, delta.ToolCalls[0].Index, i)
		}
		if delta.ToolCalls[0].Type != "function" {
			t.Errorf("tool-call chunk %d type = %q, want function", i, delta.ToolCalls[0].Type)
		}
	}

	finish := decodeChunk(t, frames[3])
	if finish.Choices[0].FinishReason == nil || *finish.Choices[0].FinishReason != "tool_calls" {
		t.Errorf("finish chunk = %+v, want tool_calls", finish.Choices[0])
	}
}

// TestBufferedReplayMalformedBlock verifies a non-JSON block degrades to the
// no-tools shape with the block stripped from the text.
func TestBufferedReplayMalformedBlock(t *testing.T) {
	d := newFakeDriver(resultEvent(`<tool_call>{not json}</tool_call> real text`), closeEvent(0))
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)

	err := Respond(w, r, d, Options{RequestID: testRequestID, ToolsActive: true, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}

	var resp oai.ChatCompletionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("body is not a chat completion: %v", err)
	}
	choice := resp.Choices[0]
	if choice.FinishReason != "stop" {
		t.Errorf("finish_reason = %q, want stop", choice.FinishReason)
	}
	if choice.Message.Content != "real text" {
		t.Errorf("content = %v, want %q", choice.Message.Content, "real text")
	}
	if len(choice.Message.ToolCalls) != 0 {
		t.Errorf("got %d tool calls, want 0", len(choice.Message.ToolCalls))
	}
}

// TestBufferedReplayFallbackBuffer verifies that when no result event arrived
// the accumulated delta buffer is used with zero usage counts.
func TestBufferedReplayFallbackBuffer(t *testing.T) {
	d := newFakeDriver(
		deltaEvent("Reasoning. "),
		deltaEvent(`<tool_call>{"name":"f","arguments":{}}</tool_call>`),
		closeEvent(0),
	)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)

	err := Respond(w, r, d, Options{RequestID: testRequestID, ToolsActive: true, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}

	var resp oai.ChatCompletionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("body is not a chat completion: %v", err)
	}
	if resp.Choices[0].FinishReason != "tool_calls" {
		t.Errorf("finish_reason = %q, want tool_calls from the buffered text", resp.Choices[0].FinishReason)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 0 {
		t.Errorf("usage = %+v, want zero counts without a result event", resp.Usage)
	}
}

// syncRecorder is a ResponseWriter safe to inspect while the dispatcher is
// still running, for the buffered-replay atomicity check.
type syncRecorder struct {
	mu     sync.Mutex
	header http.Header
	status int
	buf    bytes.Buffer
}

func newSyncRecorder() *syncRecorder { return &syncRecorder{header: make(http.Header)} }

func (r *syncRecorder) Header() http.Header {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.header
}

func (r *syncRecorder) WriteHeader(code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = code
}

func (r *syncRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Write(p)
}

func (r *syncRecorder) Flush() {}

func (r *syncRecorder) snapshot() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.String()
}

// TestBufferedReplayAtomicity verifies no bytes reach the client before the
// close event in tools mode.
func TestBufferedReplayAtomicity(t *testing.T) {
	events := make(chan cchat.Event)
	d := &fakeDriver{events: events}
	w := newSyncRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)

	done := make(chan error, 1)
	go func() {
		done <- Respond(w, r, d, Options{RequestID: testRequestID, ToolsActive: true, Stream: true, Logger: discardLogger()})
	}()

	// Unbuffered sends: each delta has been handed to the dispatcher before
	// the next line runs.
	events <- deltaEvent("sunny")
	events <- deltaEvent(" today")
	time.Sleep(20 * time.Millisecond)

	if got := w.snapshot(); got != "" {
		t.Fatalf("bytes written before close: %q", got)
	}

	events <- resultEvent("sunny today")
	events <- closeEvent(0)
	close(events)

	if err := <-done; err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if !strings.Contains(w.snapshot(), "[DONE]") {
		t.Errorf("stream did not complete after close: %q", w.snapshot())
	}
}

// TestDisconnectKillsDriver verifies that cancelling the request context
// reaps the subprocess and stops all writes.
func TestDisconnectKillsDriver(t *testing.T) {
	events := make(chan cchat.Event, 4)
	events <- deltaEvent("he")
	d := &fakeDriver{events: events}

	w := newSyncRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil).WithContext(ctx)

	done := make(chan error, 1)
	go func() {
		done <- Respond(w, r, d, Options{RequestID: testRequestID, Stream: true, Logger: discardLogger()})
	}()

	// Let the first delta through, then disconnect.
	deadline := time.After(2 * time.Second)
	for !strings.Contains(w.snapshot(), "he") {
		select {
		case <-deadline:
			t.Fatal("first delta never reached the client")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	// The dispatcher kills the driver, then waits for the channel to close.
	for !d.killed.Load() {
		select {
		case <-deadline:
			t.Fatal("driver was not killed after disconnect")
		case <-time.After(5 * time.Millisecond):
		}
	}
	before := w.snapshot()
	events <- deltaEvent("must not appear")
	close(events)

	if err := <-done; err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if got := w.snapshot(); got != before {
		t.Errorf("frames written after disconnect: %q", strings.TrimPrefix(got, before))
	}
	if strings.Contains(w.snapshot(), "[DONE]") {
		t.Error("no [DONE] may be written after a disconnect")
	}
}
