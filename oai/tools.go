package oai

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// toolCallInstructions is the fixed calling-convention block appended after
// the tool listing. Its wording is part of the prompt wire format: deployed
// model behavior depends on it, so changes here are breaking.
const toolCallInstructions = `<tool_call_instructions>
To call a tool, emit a block of the exact form:

<tool_call>{"name": "tool_name", "arguments": {"param": "value"}}</tool_call>

Rules:
- The JSON body must be an object with "name" (a string) and "arguments" (an object).
- You may call multiple tools in one response by emitting one block per call.
- Only the tools listed in <tools_available> may be called.
- You may write brief reasoning text before your tool calls, but nothing may follow them.
</tool_call_instructions>

`

// ToolManifest renders the tool definitions into the XML-tagged preamble that
// is prepended to the prompt when tool calling is active. Each tool becomes a
// <tool> element with <name>, <description>, and <parameters> (the JSON
// schema, pretty-printed; "{}" when absent), all enclosed in
// <tools_available> and followed by the fixed <tool_call_instructions> block.
func ToolManifest(tools []Tool) string {
	var b strings.Builder
	b.WriteString("<tools_available>\n")
	for _, tool := range tools {
		if tool.Type != "function" {
			continue
		}
		b.WriteString("<tool>\n")
		fmt.Fprintf(&b, "<name>%s</name>\n", tool.Function.Name)
		fmt.Fprintf(&b, "<description>%s</description>\n", tool.Function.Description)

		params := "{}"
		if tool.Function.Parameters != nil {
			if pretty, err := json.MarshalIndent(tool.Function.Parameters, "", "  "); err == nil {
				params = string(pretty)
			}
		}
		fmt.Fprintf(&b, "<parameters>%s</parameters>\n", params)
		b.WriteString("</tool>\n")
	}
	b.WriteString("</tools_available>\n\n")
	b.WriteString(toolCallInstructions)
	return b.String()
}

var toolCallRe = regexp.MustCompile(`(?s)<tool_call>(.*?)</tool_call>`)

const hexAlphabet = "0123456789abcdef"

// NewToolCallID mints a fresh tool-call identifier: "call_" followed by 24
// lowercase hex characters.
func NewToolCallID() string {
	return "call_" + gonanoid.MustGenerate(hexAlphabet, 24)
}

// ParseToolCalls scans text for <tool_call> blocks and extracts structured
// tool invocations.
//
// The returned text is the input with all blocks removed and whitespace
// trimmed; callers map an empty result to a null content field. A block whose
// body is not a JSON object is skipped — other calls are still honored and
// framing never aborts. The id is echoed from the body when present,
// otherwise minted via [NewToolCallID]. Arguments are canonicalized to a JSON
// string whether the model emitted them as an object or a string.
func ParseToolCalls(text string) (string, []ToolCall) {
	matches := toolCallRe.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return strings.TrimSpace(text), nil
	}

	var clean strings.Builder
	var calls []ToolCall
	lastEnd := 0

	for _, match := range matches {
		// match[0:1] = full match start/end, match[2:3] = capture group start/end
		clean.WriteString(text[lastEnd:match[0]])
		lastEnd = match[1]

		body := text[match[2]:match[3]]
		var parsed struct {
			ID        string          `json:"id"`
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := json.Unmarshal([]byte(body), &parsed); err != nil {
			slog.Debug("skipping malformed tool_call block", "err", err)
			continue
		}

		id := parsed.ID
		if id == "" {
			id = NewToolCallID()
		}

		calls = append(calls, ToolCall{
			ID:   id,
			Type: "function",
			Function: FunctionCall{
				Name:      parsed.Name,
				Arguments: canonicalArguments(parsed.Arguments),
			},
		})
	}

	clean.WriteString(text[lastEnd:])
	return strings.TrimSpace(clean.String()), calls
}

// canonicalArguments normalizes a tool call's arguments to a JSON string.
// Objects are re-marshaled compactly; a pre-encoded string is returned as-is.
func canonicalArguments(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	if s, ok := v.(string); ok {
		return s
	}
	out, err := json.Marshal(v)
	if err != nil {
		return string(raw)
	}
	return string(out)
}
