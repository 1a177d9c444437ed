// Package provider streams text completions from a generation backend.
package provider

import "context"

// EventType tags one event in an adapter stream.
type EventType string

const (
	EventStart     EventType = "start"
	EventTextDelta EventType = "text_delta"
	EventWarning   EventType = "warning"
	EventDone      EventType = "done"
	EventError     EventType = "error"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one prior conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one generation call. Messages is prior conversation, oldest
// first; Prompt is appended as the final user turn.
type Request struct {
	Prompt   string
	ImageURL string
	Messages []Message
}

// Event is one item of an adapter stream. Delta carries text for
// EventTextDelta, Message for warnings, and Err for EventError.
type Event struct {
	Type    EventType
	Delta   string
	Message string
	Err     error
}

// Adapter produces a finite event stream that ends with exactly one Done or
// Error event and is then closed. Cancelling ctx ends the stream early.
type Adapter interface {
	Stream(ctx context.Context, req Request) <-chan Event
}

// Modeler is implemented by adapters that can report the model used for a
// request.
type Modeler interface {
	Model(req Request) string
}

// ModelFor returns the model name a adapter will use, or "".
func ModelFor(a Adapter, req Request) string {
	if m, ok := a.(Modeler); ok {
		return m.Model(req)
	}
	return ""
}

func emit(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
