package ccwire

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// envelope is used for initial type discrimination.
type envelope struct {
	Type string `json:"type"`
}

// ParseLine classifies a single NDJSON line into a typed [Message].
//
// Whitespace is trimmed first; a blank line returns (nil, nil). A line that is
// not valid JSON returns a non-nil error — the caller decides what to do with
// the raw bytes (the subprocess driver forwards them on its raw feed). A
// well-formed object with an unrecognized "type" is returned as an
// [OtherMessage] rather than an error, so hook subtypes and future message
// kinds never break framing.
func ParseLine(line []byte) (Message, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, nil
	}

	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("malformed wire frame: %w", err)
	}

	switch MessageType(env.Type) {
	case TypeSystem:
		var msg SystemMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			return nil, fmt.Errorf("parse system message: %w", err)
		}
		return &msg, nil

	case TypeAssistant:
		var msg AssistantMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			return nil, fmt.Errorf("parse assistant message: %w", err)
		}
		return &msg, nil

	case TypeResult:
		var msg ResultMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			return nil, fmt.Errorf("parse result message: %w", err)
		}
		return &msg, nil

	case TypeStreamEvent:
		// Use json.Number for numeric precision
		var raw struct {
			Type      string         `json:"type"`
			Event     map[string]any `json:"event"`
			SessionID string         `json:"session_id"`
		}
		dec := json.NewDecoder(bytes.NewReader(line))
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("parse stream event: %w", err)
		}
		return &StreamEventMessage{
			Event:     raw.Event,
			SessionID: raw.SessionID,
		}, nil

	default:
		var fields map[string]any
		if err := json.Unmarshal(line, &fields); err != nil {
			return nil, fmt.Errorf("malformed wire frame: %w", err)
		}
		return &OtherMessage{Type: env.Type, Fields: fields}, nil
	}
}
