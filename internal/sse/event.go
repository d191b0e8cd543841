// Package sse decodes the chat backend's server-sent event stream into typed
// events.
//
// The backend frames every event as a single "data: <json>" line with a
// "type" discriminator. The decoder is chunk-fed: callers hand it raw network
// reads in arrival order and receive zero or more complete events per feed.
// SSE framing is not guaranteed to align with read boundaries, so the decoder
// carries partial lines (and, once, an unparseable payload) across feeds.
package sse

import "encoding/json"

// EventType discriminates the backend's stream event vocabulary.
type EventType int

const (
	// EventMessageStart carries the backend-assigned message id for the turn.
	EventMessageStart EventType = iota
	// EventContent carries an incremental text delta.
	EventContent
	// EventBackground signals the backend keeps generating after the HTTP
	// stream ends; the client must switch to push + poll.
	EventBackground
	// EventComplete signals successful end of generation. The bare "done"
	// frame decodes to this type with empty fields.
	EventComplete
	// EventError carries a backend-reported failure.
	EventError
	// EventToolCommand asks the client to execute a tool locally.
	EventToolCommand
)

// String returns the wire name of the event type.
func (t EventType) String() string {
	switch t {
	case EventMessageStart:
		return "message_start"
	case EventContent:
		return "content"
	case EventBackground:
		return "switching_to_background"
	case EventComplete:
		return "complete"
	case EventError:
		return "error"
	case EventToolCommand:
		return "tool_execute_locally"
	default:
		return "unknown"
	}
}

// Event is a discriminated union over the stream vocabulary. Exactly the
// fields belonging to Type are set; all others are zero.
type Event struct {
	Type EventType

	MessageID      string       // EventMessageStart
	Text           string       // EventContent
	Notice         string       // EventBackground: placeholder text to display
	Provider       string       // EventComplete
	ConversationID string       // EventComplete
	ErrorText      string       // EventError
	Tool           *ToolCommand // EventToolCommand
}

// ToolCommand is a unit of local work received mid-stream. It exists only for
// the duration of local execution; nothing here is persisted.
type ToolCommand struct {
	Tool   string         `json:"tool"`
	Action string         `json:"action,omitempty"`
	Mode   string         `json:"mode,omitempty"`
	Params map[string]any `json:"params,omitempty"`
	Plan   []PlanStep     `json:"plan,omitempty"`
	Task   string         `json:"task,omitempty"`
	Todos  []string       `json:"todos,omitempty"`
}

// PlanStep is one step of a pre-built multi-step browser plan.
type PlanStep struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

// wireEvent is the raw JSON shape of one "data:" payload. Fields for every
// event type are declared flat; Type selects which ones are meaningful.
type wireEvent struct {
	Type           string          `json:"type"`
	MessageID      string          `json:"messageId"`
	Text           string          `json:"text"`
	Message        string          `json:"message"`
	LLMProvider    string          `json:"llmProvider"`
	ConversationID string          `json:"conversationId"`
	Error          string          `json:"error"`
	Data           json.RawMessage `json:"data"`
}
