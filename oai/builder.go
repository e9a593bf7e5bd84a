package oai

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codewandler/cc-http-adapter/ccwire"
)

// DefaultResponseModel is reported when the upstream never identified the
// model that answered.
const DefaultResponseModel = "claude-sonnet-4"

// NewRequestID returns a 24-character lowercase hex request identifier
// derived from a UUID.
func NewRequestID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

// NormalizeModel collapses a model name to its canonical public identifier by
// substring match. Names matching none of the three families are preserved.
func NormalizeModel(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "opus"):
		return "claude-opus-4"
	case strings.Contains(lower, "sonnet"):
		return "claude-sonnet-4"
	case strings.Contains(lower, "haiku"):
		return "claude-haiku-4"
	}
	return name
}

// ResultToResponse projects the terminal result event into a full chat
// completion response. The model is taken from the result's per-model usage
// breakdown (any key), defaulting to [DefaultResponseModel] when absent;
// usage totals are input + output tokens, zero when the fields are absent.
func ResultToResponse(requestID string, result *ccwire.ResultMessage) *ChatCompletionResponse {
	model := DefaultResponseModel
	for name := range result.ModelUsage {
		model = NormalizeModel(name)
		break
	}

	return &ChatCompletionResponse{
		ID:      "chatcmpl-" + requestID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []Choice{
			{
				Index: 0,
				Message: ChatMessage{
					Role:    "assistant",
					Content: result.Result,
				},
				FinishReason: "stop",
			},
		},
		Usage: UsageFromResult(result),
	}
}

// ToolResponse builds the non-streaming body for the buffered-replay path.
// Empty content becomes a null content field; the finish reason is
// "tool_calls" iff at least one call was extracted.
func ToolResponse(requestID, model, content string, calls []ToolCall, usage *Usage) *ChatCompletionResponse {
	msg := ChatMessage{Role: "assistant"}
	if content != "" {
		msg.Content = content
	}
	finishReason := "stop"
	if len(calls) > 0 {
		msg.ToolCalls = calls
		finishReason = "tool_calls"
	}

	if model == "" {
		model = DefaultResponseModel
	}

	return &ChatCompletionResponse{
		ID:      "chatcmpl-" + requestID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []Choice{
			{
				Index:        0,
				Message:      msg,
				FinishReason: finishReason,
			},
		},
		Usage: usage,
	}
}

// UsageFromResult derives usage counts from a terminal result event:
// total = input + output, zero when a field is absent.
func UsageFromResult(result *ccwire.ResultMessage) *Usage {
	return &Usage{
		PromptTokens:     result.Usage.InputTokens,
		CompletionTokens: result.Usage.OutputTokens,
		TotalTokens:      result.Usage.InputTokens + result.Usage.OutputTokens,
	}
}

// ChunkBuilder mints streaming chunks that share one id/created/model triple
// and tracks whether the assistant role has been announced yet.
type ChunkBuilder struct {
	ID      string
	Created int64
	Model   string

	sentRole bool
}

// NewChunkBuilder creates a builder for one streaming response.
func NewChunkBuilder(requestID string) *ChunkBuilder {
	return &ChunkBuilder{
		ID:      "chatcmpl-" + requestID,
		Created: time.Now().Unix(),
		Model:   DefaultResponseModel,
	}
}

// SetModel records the latest model name observed from the upstream,
// normalized for the chunk envelope.
func (cb *ChunkBuilder) SetModel(name string) {
	if name != "" {
		cb.Model = NormalizeModel(name)
	}
}

// Text builds a chunk carrying one content fragment. The assistant role is
// set on the first non-empty chunk only.
func (cb *ChunkBuilder) Text(text string) *ChatCompletionChunk {
	delta := ChunkDelta{Content: &text}
	if !cb.sentRole && text != "" {
		delta.Role = "assistant"
		cb.sentRole = true
	}
	return cb.chunk(delta, nil)
}

// Assistant projects a complete assistant message into a single chunk: the
// concatenated text of its text parts, the role iff not yet announced, and a
// "stop" finish reason iff the message carries a stop reason.
func (cb *ChunkBuilder) Assistant(m *ccwire.AssistantMessage) *ChatCompletionChunk {
	cb.SetModel(m.Message.Model)
	text := m.Message.Text()
	delta := ChunkDelta{Content: &text}
	if !cb.sentRole {
		delta.Role = "assistant"
		cb.sentRole = true
	}
	var finish *string
	if m.Message.StopReason != nil {
		reason := "stop"
		finish = &reason
	}
	return cb.chunk(delta, finish)
}

// ToolCalls builds one chunk per extracted tool call. The role is set on the
// first chunk only when no text chunk preceded the sequence.
func (cb *ChunkBuilder) ToolCalls(calls []ToolCall) []*ChatCompletionChunk {
	chunks := make([]*ChatCompletionChunk, 0, len(calls))
	for i, call := range calls {
		delta := ChunkDelta{
			ToolCalls: []ChunkToolCall{
				{
					Index:    i,
					ID:       call.ID,
					Type:     call.Type,
					Function: call.Function,
				},
			},
		}
		if !cb.sentRole {
			delta.Role = "assistant"
			cb.sentRole = true
		}
		chunks = append(chunks, cb.chunk(delta, nil))
	}
	return chunks
}

// Done builds the terminating chunk: empty delta and the given finish reason.
func (cb *ChunkBuilder) Done(reason string) *ChatCompletionChunk {
	return cb.chunk(ChunkDelta{}, &reason)
}

func (cb *ChunkBuilder) chunk(delta ChunkDelta, finishReason *string) *ChatCompletionChunk {
	return &ChatCompletionChunk{
		ID:      cb.ID,
		Object:  "chat.completion.chunk",
		Created: cb.Created,
		Model:   cb.Model,
		Choices: []ChunkChoice{
			{
				Index:        0,
				Delta:        delta,
				FinishReason: finishReason,
			},
		},
	}
}
