package provider

import (
	"context"
	"strings"
	"time"
)

// MockAdapter replays a fixed script. With no script it echoes the prompt
// word by word.
type MockAdapter struct {
	Deltas []string
	Err    error
	Delay  time.Duration
	Name   string
}

// NewMockAdapter echoes the prompt back one word every delay.
func NewMockAdapter(delay time.Duration) *MockAdapter {
	return &MockAdapter{Delay: delay, Name: "mock"}
}

func (m *MockAdapter) Model(Request) string { return m.Name }

func (m *MockAdapter) Stream(ctx context.Context, req Request) <-chan Event {
	out := make(chan Event, 1)
	deltas := m.Deltas
	if deltas == nil && m.Err == nil {
		for i, w := range strings.Fields(req.Prompt) {
			if i > 0 {
				w = " " + w
			}
			deltas = append(deltas, w)
		}
	}
	go func() {
		defer close(out)
		if !emit(ctx, out, Event{Type: EventStart}) {
			return
		}
		for _, d := range deltas {
			if m.Delay > 0 {
				if waitRetry(ctx, m.Delay) != nil {
					return
				}
			}
			if !emit(ctx, out, Event{Type: EventTextDelta, Delta: d}) {
				return
			}
		}
		if m.Err != nil {
			emit(ctx, out, Event{Type: EventError, Err: m.Err})
			return
		}
		emit(ctx, out, Event{Type: EventDone})
	}()
	return out
}
