package sse

import (
	"encoding/json"
	"strings"

	"github.com/parley0/parley/internal/log"
)

// keep-alive tokens some providers emit between real frames; all are no-ops.
var keepAliveTokens = map[string]bool{
	"[DONE]": true,
	"ping":   true,
	"":       true,
}

// Decoder turns raw stream chunks into typed events.
//
// Not safe for concurrent use: one Decoder belongs to exactly one stream read
// loop. State is a partial-line carry and at most one re-buffered payload, so
// a fresh Decoder per turn is cheap.
type Decoder struct {
	logger log.Logger

	carry   string // undelivered tail of the previous chunk (no trailing newline yet)
	pending string // payload that failed to parse once, merged into the next payload
}

// NewDecoder creates a decoder for one stream.
func NewDecoder(logger log.Logger) *Decoder {
	return &Decoder{logger: logger}
}

// Feed consumes one network chunk and returns all events completed by it.
//
// Decoding rules:
//   - only lines starting with "data:" matter; comments (":...") and any
//     other framing lines are ignored
//   - keep-alive tokens and the "[DONE]" terminator are no-ops
//   - a payload that fails to parse as JSON is NOT dropped: it is held and
//     prepended to the next payload, because the backend may split one JSON
//     object across two network reads; a payload failing twice in a row is
//     logged and skipped
//   - unknown "type" values are ignored without raising
func (d *Decoder) Feed(chunk []byte) []Event {
	data := d.carry + string(chunk)

	lines := strings.Split(data, "\n")
	// The final element is either "" (chunk ended on a newline) or an
	// incomplete line to be continued by the next chunk.
	d.carry = lines[len(lines)-1]
	lines = lines[:len(lines)-1]

	var events []Event
	for _, line := range lines {
		line = strings.TrimSuffix(line, "\r")
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if keepAliveTokens[payload] {
			continue
		}
		if ev, ok := d.decodePayload(payload); ok {
			events = append(events, ev)
		}
	}
	return events
}

// decodePayload parses one data payload, applying the re-buffer-once rule.
func (d *Decoder) decodePayload(payload string) (Event, bool) {
	candidate := d.pending + payload

	var wire wireEvent
	if err := json.Unmarshal([]byte(candidate), &wire); err != nil {
		if d.pending == "" {
			// First failure: the object may continue in the next read.
			d.pending = payload
			return Event{}, false
		}
		d.logger.Warn("dropping undecodable stream payload",
			"error", err,
			"bytes", len(candidate),
		)
		d.pending = ""
		return Event{}, false
	}
	d.pending = ""

	switch wire.Type {
	case "message_start":
		return Event{Type: EventMessageStart, MessageID: wire.MessageID}, true
	case "content":
		return Event{Type: EventContent, Text: wire.Text}, true
	case "switching_to_background":
		return Event{Type: EventBackground, Notice: wire.Message}, true
	case "complete", "done":
		return Event{
			Type:           EventComplete,
			Provider:       wire.LLMProvider,
			ConversationID: wire.ConversationID,
		}, true
	case "error":
		return Event{Type: EventError, ErrorText: wire.Error}, true
	case "tool_execute_locally":
		var cmd ToolCommand
		if len(wire.Data) > 0 {
			if err := json.Unmarshal(wire.Data, &cmd); err != nil {
				d.logger.Warn("malformed tool command payload", "error", err)
				return Event{}, false
			}
		}
		return Event{Type: EventToolCommand, Tool: &cmd}, true
	default:
		d.logger.Debug("ignoring unknown stream event type", "type", wire.Type)
		return Event{}, false
	}
}
