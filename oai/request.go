// Package oai provides OpenAI-compatible types and the bridge layer that
// translates between the OpenAI chat completion protocol and Claude Code CLI
// invocations.
//
// # Types
//
// The package defines request, response, and streaming chunk types that mirror
// the OpenAI chat completion API: [ChatCompletionRequest],
// [ChatCompletionResponse], and [ChatCompletionChunk]. These types can be
// serialized to and from JSON using the standard OpenAI field names.
//
// # Translation
//
// [TranslateRequest] lowers an inbound request into an [Invocation]: a single
// flat prompt string, a model alias, an optional session identifier, and a
// tools marker. [ResultToResponse] and [ChunkBuilder] project Claude Code wire
// messages back into OpenAI response and chunk shapes.
//
// # Tool Calls
//
// Tool calling is simulated via prompt injection rather than native tool use.
// [ToolManifest] renders OpenAI tool definitions into an XML-tagged preamble
// declaring the available tools and the <tool_call> calling convention.
// [ParseToolCalls] extracts those tags from the model's final text and
// converts them back into structured [ToolCall] values.
package oai

import (
	"encoding/json"
	"strings"
)

// ChatCompletionRequest represents an OpenAI-compatible chat completion request.
// The Model field selects the Claude model variant; see [ResolveModel] for the
// accepted spellings. When Tools are provided, the tool manifest is injected
// into the prompt by [TranslateRequest].
//
// Fields like Temperature, TopP, Stop, and N are accepted for API compatibility
// but are not forwarded to the Claude Code CLI.
type ChatCompletionRequest struct {
	Model               string        `json:"model"`
	Messages            []ChatMessage `json:"messages"`
	Stream              bool          `json:"stream,omitempty"`
	Temperature         *float64      `json:"temperature,omitempty"`
	MaxTokens           *int          `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int          `json:"max_completion_tokens,omitempty"`
	Tools               []Tool        `json:"tools,omitempty"`
	ToolChoice          any           `json:"tool_choice,omitempty"`
	Stop                any           `json:"stop,omitempty"`
	TopP                *float64      `json:"top_p,omitempty"`
	N                   *int          `json:"n,omitempty"`

	// User is an opaque end-user identifier. When present it doubles as the
	// conversation-correlation key for the session store.
	User string `json:"user,omitempty"`
}

// ChatMessage represents a single message in the conversation history.
// Role must be one of "system", "user", "assistant", or "tool".
//
// Content may be a plain string, an array of [ContentPart] objects, an object
// with a "text" field, or any other JSON value. Use [ChatMessage.StringContent]
// to extract the text regardless of which form was provided.
//
// For assistant messages that include tool invocations, ToolCalls contains
// the structured calls. For tool-role messages returning results, ToolCallID
// identifies which call this result corresponds to.
type ChatMessage struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    any        `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// StringContent extracts the textual content from the message as a plain
// string. Four content shapes are handled, in order:
//
//  1. a plain string, returned as-is;
//  2. an array of typed parts, of which only "text" parts are retained,
//     joined with newlines;
//  3. an object with a "text" field;
//  4. anything else, JSON-stringified as a fallback.
//
// Nil content, an empty string, and a parts array with no "text" parts all
// yield the empty string.
func (m ChatMessage) StringContent() string {
	if m.Content == nil {
		return ""
	}
	if s, ok := m.Content.(string); ok {
		return s
	}

	data, err := json.Marshal(m.Content)
	if err != nil {
		return ""
	}

	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err == nil {
		var texts []string
		for _, p := range parts {
			if p.Type == "text" {
				texts = append(texts, p.Text)
			}
		}
		return strings.Join(texts, "\n")
	}

	var obj struct {
		Text *string `json:"text"`
	}
	if err := json.Unmarshal(data, &obj); err == nil && obj.Text != nil {
		return *obj.Text
	}

	return string(data)
}

// ContentPart represents one element of a multi-part message content array.
// Only the "text" type is retained; other types (e.g. "image_url") are
// accepted but their content is ignored by [ChatMessage.StringContent].
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Tool represents a tool definition in an OpenAI chat completion request.
// Type must be "function"; other types are silently ignored by [ToolManifest].
type Tool struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes a callable function exposed to the model.
// Name is required. Description and Parameters are optional but improve the
// model's ability to call the function correctly. Parameters is typically a
// JSON Schema object describing the function's expected arguments.
type FunctionDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

// ToolCall represents a tool invocation extracted from the model's response.
// ID is either echoed from the model's output or freshly minted as "call_"
// followed by 24 hex characters. Type is always "function". These are
// produced by [ParseToolCalls] from <tool_call> XML tags in the model output.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"` // "function"
	Function FunctionCall `json:"function"`
}

// FunctionCall contains the function name and its arguments as a raw JSON string.
// Arguments is a JSON-encoded object (e.g. `{"param": "value"}`), matching the
// OpenAI convention of returning arguments as a string rather than a parsed object.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}
