package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Tyrowin/chathub/internal/channel"
	"github.com/Tyrowin/chathub/internal/history"
	"github.com/Tyrowin/chathub/internal/protocol"
)

// line is one rendered timeline row. Rows with an ID can be edited or
// removed by later events.
type line struct {
	id     string
	kind   string
	sender string
	text   string
	url    string
	stamp  string
	thread string
	peer   string
	gcid   string
}

// target is where typed text goes: main, a DM peer or a group.
type target struct {
	thread string
	peer   string
	gcid   string
}

func (t target) label(groups map[string]channel.GroupInfo) string {
	switch t.thread {
	case protocol.ThreadDM:
		return "@" + t.peer
	case protocol.ThreadGroup:
		if g, ok := groups[t.gcid]; ok {
			return "#" + g.Name
		}
		return "#" + t.gcid
	default:
		return "main"
	}
}

type model struct {
	conn    sender
	inbound <-chan tea.Msg

	lines  []line
	users  []string
	admins map[string]bool
	groups map[string]channel.GroupInfo
	typing map[string]bool
	target target
	status string
	closed bool

	width  int
	height int

	input    textinput.Model
	timeline viewport.Model
	theme    theme
}

func newModel(conn sender, inbound <-chan tea.Msg) model {
	input := textinput.New()
	input.Prompt = "❯ "
	input.CharLimit = 4000
	input.Placeholder = "message, /command or @ai prompt  (/to <name|#group|main>, /quit)"
	input.Focus()

	timeline := viewport.New(0, 0)
	timeline.MouseWheelEnabled = true
	timeline.MouseWheelDelta = 4

	return model{
		conn:     conn,
		inbound:  inbound,
		admins:   map[string]bool{},
		groups:   map[string]channel.GroupInfo{},
		typing:   map[string]bool{},
		target:   target{thread: protocol.ThreadMain},
		status:   "connected",
		input:    input,
		timeline: timeline,
		theme:    newTheme(),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitMsg(m.inbound))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
	case frameMsg:
		m.apply(frame(msg))
		cmds = append(cmds, waitMsg(m.inbound))
	case closedMsg:
		m.closed = true
		m.status = "disconnected"
		if msg.err != nil {
			m.status = "disconnected: " + msg.err.Error()
		}
	case tea.MouseMsg:
		var cmd tea.Cmd
		m.timeline, cmd = m.timeline.Update(msg)
		cmds = append(cmds, cmd)
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.timeline, cmd = m.timeline.Update(msg)
			return m, cmd
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			if text == "/quit" {
				return m, tea.Quit
			}
			m.submit(text)
			m.render()
			return m, nil
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}
	m.render()
	return m, tea.Batch(cmds...)
}

// submit sends text to the current target, or handles the local /to switch.
func (m *model) submit(text string) {
	if text == "" {
		return
	}
	if rest, ok := strings.CutPrefix(text, "/to"); ok && (rest == "" || rest[0] == ' ') {
		m.retarget(strings.TrimSpace(rest))
		return
	}
	if m.closed {
		m.status = "not connected"
		return
	}
	in := protocol.Inbound{Text: text, Thread: m.target.thread, Peer: m.target.peer, GCID: m.target.gcid}
	if err := m.conn.WriteJSON(in); err != nil {
		m.status = "send failed: " + err.Error()
	}
}

func (m *model) retarget(arg string) {
	switch {
	case arg == "" || strings.EqualFold(arg, "main"):
		m.target = target{thread: protocol.ThreadMain}
	case strings.HasPrefix(arg, "#"):
		name := strings.TrimPrefix(arg, "#")
		for id, g := range m.groups {
			if id == name || strings.EqualFold(g.Name, name) {
				m.target = target{thread: protocol.ThreadGroup, gcid: id}
				m.requestHistory()
				return
			}
		}
		m.status = "no group " + arg
		return
	default:
		m.target = target{thread: protocol.ThreadDM, peer: strings.TrimPrefix(arg, "@")}
		m.requestHistory()
	}
	m.status = "talking in " + m.target.label(m.groups)
}

func (m *model) requestHistory() {
	if m.closed {
		return
	}
	in := protocol.Inbound{Peer: m.target.peer, GCID: m.target.gcid}
	if m.target.thread == protocol.ThreadDM {
		in.Type = protocol.TypeDMHistory
	} else {
		in.Type = protocol.TypeGCHistory
	}
	if err := m.conn.WriteJSON(in); err != nil {
		m.status = "send failed: " + err.Error()
	}
	m.status = "talking in " + m.target.label(m.groups)
}

func fromEntry(e history.Entry, peer string) line {
	return line{
		id:     e.ID,
		kind:   string(e.Kind),
		sender: e.Sender,
		text:   e.Text,
		url:    e.URL,
		stamp:  e.Timestamp,
		thread: e.Thread,
		peer:   peer,
		gcid:   e.GCID,
	}
}

// apply folds one server event into the client state.
func (m *model) apply(f frame) {
	switch typ := string(f.Kind); typ {
	case protocol.EventHistory:
		kept := m.lines[:0]
		for _, l := range m.lines {
			if l.thread != protocol.ThreadMain && l.thread != "" {
				kept = append(kept, l)
			}
		}
		m.lines = kept
		m.merge(f.Items, "")
	case protocol.EventDMHistory, protocol.EventGCHistory:
		m.merge(f.Items, f.Peer)
	case protocol.EventMessage, protocol.EventMedia, protocol.EventSystem:
		m.lines = append(m.lines, fromEntry(f.Entry, f.Peer))
		if f.Thread == protocol.ThreadMain || f.Thread == "" {
			delete(m.typing, f.Sender)
		}
	case protocol.EventUpdate:
		for i := range m.lines {
			if m.lines[i].id == f.ID {
				m.lines[i].text = f.Text
			}
		}
	case protocol.EventDelete:
		m.remove(func(l line) bool { return l.id == f.ID })
	case protocol.EventClear:
		m.remove(func(l line) bool { return inScope(l, f) })
	case protocol.EventAlert:
		text := f.Text
		if f.Seconds > 0 {
			text = fmt.Sprintf("%s (%ds)", text, f.Seconds)
		}
		m.lines = append(m.lines, line{kind: typ, sender: f.Code, text: text})
	case protocol.EventPresence:
		verb := "joined"
		if f.Action == "leave" {
			verb = "left"
			delete(m.typing, f.User)
		}
		m.note(f.User + " " + verb)
	case protocol.EventUserList:
		m.users = f.Users
		m.admins = map[string]bool{}
		for _, a := range f.Admins {
			m.admins[a] = true
		}
	case protocol.EventTyping:
		if f.Thread == protocol.ThreadMain {
			if f.Typing {
				m.typing[f.User] = true
			} else {
				delete(m.typing, f.User)
			}
		}
	case protocol.EventGCList:
		m.groups = map[string]channel.GroupInfo{}
		for _, g := range f.Groups {
			m.groups[g.ID] = g
		}
	case protocol.EventGCCreated, protocol.EventGCSettings:
		g := channel.GroupInfo{ID: f.GCID, Name: f.Name, Creator: f.Creator, Members: f.Members}
		m.groups[f.GCID] = g
		if typ == protocol.EventGCCreated {
			m.note(fmt.Sprintf("group #%s created by %s", g.Name, g.Creator))
		}
	case protocol.EventGCPrompt:
		m.note(fmt.Sprintf("%s added you to #%s (/to #%s)", f.Creator, f.Name, f.Name))
	case protocol.EventGCDeleted:
		name := f.GCID
		if g, ok := m.groups[f.GCID]; ok {
			name = g.Name
		}
		delete(m.groups, f.GCID)
		m.remove(func(l line) bool { return l.gcid == f.GCID })
		if m.target.gcid == f.GCID {
			m.target = target{thread: protocol.ThreadMain}
		}
		m.note("group #" + name + " is gone")
	case protocol.EventGCMemberJoined, protocol.EventGCMemberLeft:
		verb := "joined"
		if typ == protocol.EventGCMemberLeft {
			verb = "left"
		}
		m.note(fmt.Sprintf("%s %s #%s", f.User, verb, m.groups[f.GCID].Name))
	case protocol.EventUnbanPrompt:
		m.note(fmt.Sprintf("banned user %s tried to connect (/unban %s)", f.User, f.User))
	}
}

func (m *model) note(text string) {
	m.lines = append(m.lines, line{kind: "note", text: text})
}

// merge appends entries whose IDs are not already shown.
func (m *model) merge(items []history.Entry, peer string) {
	seen := make(map[string]bool, len(m.lines))
	for _, l := range m.lines {
		if l.id != "" {
			seen[l.id] = true
		}
	}
	for _, e := range items {
		if !seen[e.ID] {
			m.lines = append(m.lines, fromEntry(e, peer))
		}
	}
}

func (m *model) remove(drop func(line) bool) {
	kept := m.lines[:0]
	for _, l := range m.lines {
		if !drop(l) {
			kept = append(kept, l)
		}
	}
	m.lines = kept
}

func inScope(l line, f frame) bool {
	if l.id == "" {
		return false
	}
	switch f.Thread {
	case protocol.ThreadDM:
		return l.thread == protocol.ThreadDM && l.peer == f.Peer
	case protocol.ThreadGroup:
		return l.gcid == f.GCID
	default:
		return l.thread == protocol.ThreadMain || l.thread == ""
	}
}

func (m *model) resize() {
	m.timeline.Width = m.width
	m.timeline.Height = max(m.height-4, 1)
	m.input.Width = max(m.width-4, 10)
}

func (m *model) render() {
	rows := make([]string, 0, len(m.lines))
	for _, l := range m.lines {
		rows = append(rows, m.theme.row(l, m.groups))
	}
	atBottom := m.timeline.AtBottom()
	m.timeline.SetContent(strings.Join(rows, "\n"))
	if atBottom {
		m.timeline.GotoBottom()
	}
}

func (m model) typingLine() string {
	if len(m.typing) == 0 {
		return ""
	}
	names := make([]string, 0, len(m.typing))
	for n := range m.typing {
		names = append(names, n)
	}
	sort.Strings(names)
	if len(names) == 1 {
		return names[0] + " is typing…"
	}
	return strings.Join(names, ", ") + " are typing…"
}

func (m model) View() string {
	header := m.theme.header.Render(fmt.Sprintf(" chathub · %s · %d online ", m.target.label(m.groups), len(m.users)))
	footer := m.theme.status.Render(m.status)
	if t := m.typingLine(); t != "" {
		footer += "  " + m.theme.muted.Render(t)
	}
	return strings.Join([]string{header, m.timeline.View(), m.input.View(), footer}, "\n")
}
