package server

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/Tyrowin/chathub/internal/channel"
	"github.com/Tyrowin/chathub/internal/history"
	"github.com/Tyrowin/chathub/internal/protocol"
)

const (
	systemSender = "SYSTEM"
	aiSender     = "AI"
)

// send queues v for one client. Failures never affect other recipients.
func (h *Hub) send(c *Client, v any) {
	if c == nil {
		return
	}
	if !c.deliver(encode(v)) {
		h.metrics.DeliveryDropped()
	}
}

// sendTo delivers to name if it is connected.
func (h *Hub) sendTo(name string, v any) {
	if c, ok := h.conns.get(name); ok {
		h.send(c, v)
	}
}

// broadcast delivers the same frame to every connected client except skip.
func (h *Hub) broadcast(v any, skip *Client) {
	frame := encode(v)
	if frame == nil {
		return
	}
	for _, c := range h.conns.snapshot() {
		if c == skip {
			continue
		}
		if !c.deliver(frame) {
			h.metrics.DeliveryDropped()
		}
	}
}

// recipients lists the identities that receive events for ch: everyone for
// Main, the two participants for a DM, the member set for a group.
func (h *Hub) recipients(ch channel.Channel) []string {
	switch ch.Kind {
	case channel.DirectMessage:
		if ch.Pair[0] == ch.Pair[1] {
			return []string{ch.Pair[0]}
		}
		return []string{ch.Pair[0], ch.Pair[1]}
	case channel.Group:
		return h.channels.Members(ch.GroupID)
	default:
		return h.conns.names()
	}
}

// fanout builds a frame per recipient so DM deliveries can carry the
// recipient's counterpart.
func (h *Hub) fanout(ch channel.Channel, build func(recipient string) any) {
	for _, name := range h.recipients(ch) {
		if v := build(name); v != nil {
			h.sendTo(name, v)
		}
	}
}

// scoped fills the channel addressing fields of an update/delete/clear event
// for recipient.
func scoped(ch channel.Channel, recipient string, ev scopedEvent) scopedEvent {
	ev.Thread = ch.Kind.String()
	switch ch.Kind {
	case channel.DirectMessage:
		ev.Peer = ch.Peer(recipient)
	case channel.Group:
		ev.GCID = ch.GroupID
	}
	return ev
}

func (h *Hub) alert(c *Client, code, text string) {
	h.send(c, alertEvent{Type: protocol.EventAlert, Code: code, Text: text})
}

func (h *Hub) sendRejection(c *Client, r *protocol.Rejection) {
	h.send(c, alertEvent{Type: protocol.EventAlert, Code: r.Code, Text: r.Text, Seconds: r.Seconds})
}

// system broadcasts a notice to Main. Notices are never stored.
func (h *Hub) system(text string) {
	text = capitalize(strings.TrimSpace(text))
	if text == "" {
		return
	}
	h.broadcast(entryEvent{Entry: history.Entry{
		ID:        "system-" + h.newID(),
		Sender:    systemSender,
		Timestamp: h.timestamp(),
		Kind:      history.KindSystem,
		Text:      text,
		Thread:    protocol.ThreadMain,
	}}, nil)
}

func (h *Hub) presence(user, action string) {
	h.broadcast(presenceEvent{Type: protocol.EventPresence, User: user, Action: action}, nil)
}

// roster broadcasts the connected users, the effective-admin subset and
// active tags.
func (h *Hub) roster() {
	users := h.conns.names()
	h.broadcast(userListEvent{
		Type:   protocol.EventUserList,
		Users:  users,
		Admins: h.ids.Admins(users),
		Tags:   h.ids.Tags(users),
	}, nil)
}

func (h *Hub) timestamp() string {
	return h.now().UTC().Format(time.RFC3339Nano)
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// clip bounds text to max runes.
func clip(text string, max int) string {
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	return string(runes[:max])
}
