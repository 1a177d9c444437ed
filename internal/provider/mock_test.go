package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMockEchoesPrompt(t *testing.T) {
	events := collect(t, NewMockAdapter(0).Stream(context.Background(), Request{Prompt: "one two  three"}))
	assert.Equal(t, "one two three", text(events))
	assert.Equal(t, EventDone, events[len(events)-1].Type)
}

func TestMockScriptedError(t *testing.T) {
	m := &MockAdapter{Deltas: []string{"a"}, Err: errors.New("boom")}
	events := collect(t, m.Stream(context.Background(), Request{}))
	assert.Equal(t, "a", text(events))
	assert.Equal(t, EventError, events[len(events)-1].Type)
}
