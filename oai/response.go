package oai

// ChatCompletionResponse represents an OpenAI-compatible chat completion response.
// It is produced by [ResultToResponse] and [ToolResponse] from Claude Code wire
// messages. The ID is prefixed "chatcmpl-" and derived from the request id;
// Model is the normalized public identifier of the model that answered.
type ChatCompletionResponse struct {
	ID                string   `json:"id"`
	Object            string   `json:"object"` // "chat.completion"
	Created           int64    `json:"created"`
	Model             string   `json:"model"`
	Choices           []Choice `json:"choices"`
	Usage             *Usage   `json:"usage,omitempty"`
	SystemFingerprint string   `json:"system_fingerprint,omitempty"`
}

// Choice represents a single completion alternative in the response.
// FinishReason indicates why generation stopped: "stop" for normal completion
// or "tool_calls" when the model invoked one or more tools.
type Choice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"` // "stop", "tool_calls"
}

// Usage contains token usage statistics for a completion request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Model describes one entry in the /v1/models listing.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"` // "model"
	OwnedBy string `json:"owned_by"`
}

// ModelList is the /v1/models response envelope.
type ModelList struct {
	Object string  `json:"object"` // "list"
	Data   []Model `json:"data"`
}

// ErrorResponse represents an OpenAI-compatible error response body.
// It wraps an [ErrorDetail] and is intended for JSON serialization in HTTP responses.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error information within an [ErrorResponse].
// Type categorizes the error (e.g. "invalid_request_error", "server_error").
// Code is an optional machine-readable error code.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}
