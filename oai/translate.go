package oai

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Invocation is the translated form of a chat completion request: everything
// the subprocess driver needs to run the upstream CLI once.
type Invocation struct {
	// Prompt is the flattened conversation transcript, with the tool manifest
	// prepended when ToolsActive. It is a pure function of (messages, tools).
	Prompt string

	// Model is the resolved model alias: "opus", "sonnet", or "haiku".
	Model string

	// SessionID is the request's opaque end-user identifier, forwarded as the
	// conversation-correlation key. Empty when the request carried none.
	SessionID string

	// ToolsActive reports whether tool calling is in effect for this request.
	ToolsActive bool
}

// modelAliases is the closed resolution table: canonical names and short
// aliases, all lowered to one of the three CLI aliases.
var modelAliases = map[string]string{
	"opus":   "opus",
	"sonnet": "sonnet",
	"haiku":  "haiku",

	"claude-opus-4":   "opus",
	"claude-sonnet-4": "sonnet",
	"claude-haiku-4":  "haiku",

	"claude-opus-4-1":   "opus",
	"claude-sonnet-4-5": "sonnet",
	"claude-haiku-4-5":  "haiku",

	"claude-3-opus":     "opus",
	"claude-3-5-sonnet": "sonnet",
	"claude-3-5-haiku":  "haiku",
}

// ResolveModel maps an inbound model name to a CLI alias. Provider-prefixed
// names ("<provider>/<name>") have the prefix stripped and are retried once.
// Unknown names default to "opus".
func ResolveModel(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := modelAliases[key]; ok {
		return alias
	}
	if i := strings.IndexByte(key, '/'); i >= 0 {
		if alias, ok := modelAliases[key[i+1:]]; ok {
			return alias
		}
	}
	return "opus"
}

// ToolsActive reports whether tool calling is in effect: the tools array is
// non-empty and tool_choice is not the string "none".
func ToolsActive(req *ChatCompletionRequest) bool {
	if len(req.Tools) == 0 {
		return false
	}
	if choice, ok := req.ToolChoice.(string); ok && choice == "none" {
		return false
	}
	return true
}

// TranslateRequest lowers an OpenAI chat completion request into an
// [Invocation]. The message history is rendered into a single textual
// transcript:
//
//   - system messages are wrapped in <system>…</system>;
//   - user messages appear as literal text;
//   - assistant messages are wrapped in <previous_response>…</previous_response>,
//     with any tool calls re-encoded as <tool_call> blocks;
//   - runs of consecutive tool messages collapse into one <tool_results> block.
//
// When tools are active, the manifest from [ToolManifest] is prepended.
func TranslateRequest(req *ChatCompletionRequest) Invocation {
	inv := Invocation{
		Model:       ResolveModel(req.Model),
		SessionID:   req.User,
		ToolsActive: ToolsActive(req),
	}

	var b strings.Builder
	if inv.ToolsActive {
		b.WriteString(ToolManifest(req.Tools))
	}
	flattenMessages(&b, req.Messages)
	inv.Prompt = b.String()
	return inv
}

func flattenMessages(b *strings.Builder, messages []ChatMessage) {
	for i := 0; i < len(messages); i++ {
		msg := messages[i]
		switch msg.Role {
		case "system":
			b.WriteString("<system>")
			b.WriteString(msg.StringContent())
			b.WriteString("</system>\n")

		case "user":
			b.WriteString(msg.StringContent())
			b.WriteString("\n")

		case "assistant":
			b.WriteString("<previous_response>")
			text := msg.StringContent()
			if len(msg.ToolCalls) == 0 {
				b.WriteString(text)
			} else {
				if text != "" {
					b.WriteString(text)
					b.WriteString("\n")
				}
				for _, tc := range msg.ToolCalls {
					b.WriteString("<tool_call>")
					b.Write(encodeHistoricalCall(tc))
					b.WriteString("</tool_call>\n")
				}
			}
			b.WriteString("</previous_response>\n")

		case "tool":
			b.WriteString("<tool_results>\n")
			for i < len(messages) && messages[i].Role == "tool" {
				m := messages[i]
				fmt.Fprintf(b, "<tool_result>\n<tool_call_id>%s</tool_call_id>\n<output>%s</output>\n</tool_result>\n",
					m.ToolCallID, m.StringContent())
				i++
			}
			i--
			b.WriteString("</tool_results>\n")
		}
	}
}

// encodeHistoricalCall lowers a prior tool invocation back into the injected
// JSON form. The stringified arguments are re-parsed into an object so the
// model reads them the same way it originally emitted them; arguments that
// fail to parse are carried through as the raw string.
func encodeHistoricalCall(tc ToolCall) []byte {
	var args any
	if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
		args = tc.Function.Arguments
	}
	payload, err := json.Marshal(map[string]any{
		"id":        tc.ID,
		"name":      tc.Function.Name,
		"arguments": args,
	})
	if err != nil {
		return []byte("{}")
	}
	return payload
}
