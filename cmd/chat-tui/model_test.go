package main

import (
	"encoding/json"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chathub/internal/protocol"
)

type recorder struct {
	sent []protocol.Inbound
	err  error
}

func (r *recorder) WriteJSON(v any) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, v.(protocol.Inbound))
	return nil
}

func parse(t *testing.T, raw string) frameMsg {
	t.Helper()
	var f frame
	require.NoError(t, json.Unmarshal([]byte(raw), &f))
	return frameMsg(f)
}

func feed(t *testing.T, m model, raws ...string) model {
	t.Helper()
	for _, raw := range raws {
		next, _ := m.Update(parse(t, raw))
		m = next.(model)
	}
	return m
}

func texts(m model) []string {
	out := make([]string, 0, len(m.lines))
	for _, l := range m.lines {
		out = append(out, l.text)
	}
	return out
}

func TestHistoryUpdateAndDelete(t *testing.T) {
	m := newModel(&recorder{}, nil)
	m = feed(t, m,
		`{"type":"history","items":[{"id":"1","sender":"alice","type":"message","text":"hi","thread":"main"},{"id":"2","sender":"bob","type":"message","text":"yo","thread":"main"}]}`,
		`{"type":"message","id":"AI-1","sender":"AI","text":"","thread":"main","model":"llama3:8b"}`,
		`{"type":"update","id":"AI-1","text":"Hello","thread":"main"}`,
		`{"type":"delete","id":"1","thread":"main"}`,
	)
	assert.Equal(t, []string{"yo", "Hello"}, texts(m))
}

func TestClearIsScoped(t *testing.T) {
	m := newModel(&recorder{}, nil)
	m = feed(t, m,
		`{"type":"message","id":"1","sender":"alice","text":"main","thread":"main"}`,
		`{"type":"message","id":"2","sender":"alice","text":"psst","thread":"dm","peer":"alice"}`,
		`{"type":"message","id":"3","sender":"bob","text":"team","thread":"gc","gcid":"g1"}`,
		`{"type":"alert","code":"MUTED","text":"you are muted","seconds":30}`,
		`{"type":"clear","thread":"main"}`,
	)
	assert.Equal(t, []string{"psst", "team", "you are muted (30s)"}, texts(m))

	m = feed(t, m, `{"type":"clear","thread":"dm","peer":"alice"}`)
	assert.Equal(t, []string{"team", "you are muted (30s)"}, texts(m))
}

func TestRosterTypingAndPresence(t *testing.T) {
	m := newModel(&recorder{}, nil)
	m = feed(t, m,
		`{"type":"user_list","users":["alice","bob"],"admins":["alice"],"tags":{}}`,
		`{"type":"typing","user":"bob","typing":true,"thread":"main"}`,
		`{"type":"presence","user":"carol","action":"join"}`,
	)
	assert.Equal(t, []string{"alice", "bob"}, m.users)
	assert.True(t, m.admins["alice"])
	assert.Equal(t, "bob is typing…", m.typingLine())
	assert.Equal(t, []string{"carol joined"}, texts(m))

	m = feed(t, m, `{"type":"message","id":"9","sender":"bob","text":"done","thread":"main"}`)
	assert.Empty(t, m.typingLine())
}

func TestSubmitUsesTarget(t *testing.T) {
	rec := &recorder{}
	m := newModel(rec, nil)
	m = feed(t, m, `{"type":"gc_list","groups":[{"gcid":"g1","name":"team","creator":"alice","members":["alice","bob"]}]}`)

	m.submit("hello all")
	m.submit("/to @bob")
	m.submit("hey bob")
	m.submit("/to #team")
	m.submit("/kick carol")
	m.submit("/to #nope")
	m.submit("/to")

	require.Len(t, rec.sent, 5)
	assert.Equal(t, protocol.Inbound{Text: "hello all", Thread: protocol.ThreadMain}, rec.sent[0])
	assert.Equal(t, protocol.TypeDMHistory, rec.sent[1].Type)
	assert.Equal(t, "bob", rec.sent[1].Peer)
	assert.Equal(t, protocol.Inbound{Text: "hey bob", Thread: protocol.ThreadDM, Peer: "bob"}, rec.sent[2])
	assert.Equal(t, protocol.TypeGCHistory, rec.sent[3].Type)
	assert.Equal(t, protocol.Inbound{Text: "/kick carol", Thread: protocol.ThreadGroup, GCID: "g1"}, rec.sent[4])
	assert.Equal(t, protocol.ThreadMain, m.target.thread)
}

func TestGroupDeletedDropsLinesAndTarget(t *testing.T) {
	rec := &recorder{}
	m := newModel(rec, nil)
	m = feed(t, m,
		`{"type":"gc_created","gcid":"g1","name":"team","creator":"alice","members":["alice","bob"]}`,
		`{"type":"message","id":"3","sender":"bob","text":"team","thread":"gc","gcid":"g1"}`,
	)
	m.submit("/to #team")
	require.Equal(t, "g1", m.target.gcid)

	m = feed(t, m, `{"type":"gc_deleted","gcid":"g1","name":"team","creator":"alice","members":[]}`)
	assert.Equal(t, protocol.ThreadMain, m.target.thread)
	assert.Empty(t, m.groups)
	for _, l := range m.lines {
		assert.NotEqual(t, "g1", l.gcid)
	}
}

func TestClosedConnection(t *testing.T) {
	rec := &recorder{}
	m := newModel(rec, nil)
	next, _ := m.Update(closedMsg{err: errors.New("EOF")})
	m = next.(model)
	assert.Equal(t, "disconnected: EOF", m.status)

	m.submit("anyone?")
	assert.Empty(t, rec.sent)
	assert.Equal(t, "not connected", m.status)
}

func TestQuitKeys(t *testing.T) {
	m := newModel(&recorder{}, nil)
	m.input.SetValue("/quit")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestWSURL(t *testing.T) {
	got, err := wsURL("https://chat.example.com/", "a.b.c")
	require.NoError(t, err)
	assert.Equal(t, "wss://chat.example.com/ws/a.b.c", got)

	got, err = wsURL("ws://localhost:8080/base", "tok")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/base/ws/tok", got)

	_, err = wsURL("ftp://x", "tok")
	assert.Error(t, err)
}
