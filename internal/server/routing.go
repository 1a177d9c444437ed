package server

import (
	"errors"

	"go.uber.org/zap"

	"github.com/Tyrowin/chathub/internal/channel"
	"github.com/Tyrowin/chathub/internal/command"
	"github.com/Tyrowin/chathub/internal/history"
	"github.com/Tyrowin/chathub/internal/logger"
	"github.com/Tyrowin/chathub/internal/protocol"
)

// dispatch handles one inbound frame on the loop goroutine. Frames still
// queued from a client that was evicted or replaced are dropped.
func (h *Hub) dispatch(c *Client, in protocol.Inbound) {
	if cur, ok := h.conns.get(c.name); !ok || cur != c {
		logger.Debug("frame_from_stale_client", zap.String("user", c.name))
		return
	}
	in = in.Normalized()

	var err error
	switch in.Type {
	case protocol.TypeActivity:
		h.ids.TouchActivity(c.name)
	case protocol.TypeHistoryRequest:
		h.send(c, historyEvent{Type: protocol.EventHistory, Items: h.history.Snapshot(h.channels.ResolveMain().Key)})
	case protocol.TypeDMHistory:
		err = h.dmHistory(c, in.Peer)
	case protocol.TypeGCHistory:
		err = h.gcHistory(c, in.GCID)
	case protocol.TypeCreateGC:
		err = h.createGroup(c, in)
	case protocol.TypeUpdateGC:
		err = h.updateGroup(c, in)
	case protocol.TypeExitGC:
		err = h.exitGroup(c, in.GCID)
	case protocol.TypeDeleteGC:
		err = h.deleteGroup(c, in.GCID)
	case "":
		err = h.route(c, in)
	default:
		logger.Debug("unknown_frame_type", zap.String("user", c.name), zap.String("type", in.Type))
	}
	h.report(c, err)
}

// report turns a handler result into an alert for the requester or a log
// line. Nothing here is ever broadcast.
func (h *Hub) report(c *Client, err error) {
	if err == nil {
		return
	}
	if r, ok := protocol.AsRejection(err); ok {
		logger.Debug("request_rejected", zap.String("user", c.name), zap.String("code", r.Code), zap.String("reason", r.Text))
		h.sendRejection(c, r)
		return
	}
	logger.Error("request_failed", zap.String("user", c.name), zap.Error(err))
}

// resolveTarget classifies the frame's channel: an explicit DM thread or
// peer, an explicit group, or Main.
func (h *Hub) resolveTarget(c *Client, in protocol.Inbound) (channel.Channel, error) {
	switch {
	case in.Thread == protocol.ThreadDM || (in.Thread == "" && in.Peer != ""):
		return h.resolveDM(c.name, in.Peer)
	case in.Thread == protocol.ThreadGroup || in.GCID != "":
		return h.resolveGroup(c.name, in.GCID)
	default:
		return h.channels.ResolveMain(), nil
	}
}

func (h *Hub) resolveDM(self, peer string) (channel.Channel, error) {
	if peer == "" {
		return channel.Channel{}, protocol.Reject(protocol.CodeInfo, "missing peer")
	}
	if known, ok := h.ids.Lookup(peer); ok {
		peer = known
	}
	ch, err := h.channels.ResolveOrCreateDM(self, peer)
	if err != nil {
		return channel.Channel{}, protocol.RejectErr(protocol.CodeInfo, err)
	}
	return ch, nil
}

func (h *Hub) resolveGroup(self, id string) (channel.Channel, error) {
	ch, err := h.channels.ResolveGroup(id, self)
	switch {
	case errors.Is(err, channel.ErrNotMember):
		return channel.Channel{}, protocol.RejectErr(protocol.CodeNotMember, err)
	case err != nil:
		return channel.Channel{}, protocol.RejectErr(protocol.CodeInfo, err)
	}
	return ch, nil
}

// route handles a chat frame: typing signal, command, @ai mention, media or
// plain text.
func (h *Hub) route(c *Client, in protocol.Inbound) error {
	ch, err := h.resolveTarget(c, in)
	if err != nil {
		return err
	}
	text := command.Normalize(in.Text)

	if in.Typing != nil && text == "" && in.URL == "" {
		h.typing(c, ch, *in.Typing)
		return nil
	}
	if command.IsCommand(text) {
		return h.runCommand(c, ch, text)
	}
	if m, ok := command.ParseMention(text); ok {
		return h.mention(c, ch, m, in)
	}
	if in.URL != "" {
		return h.post(c, ch, history.Entry{Kind: history.KindMedia, URL: in.URL, MIME: in.MIME, Text: h.clip(text)})
	}
	if text == "" {
		return nil
	}
	return h.post(c, ch, history.Entry{Kind: history.KindMessage, Text: h.clip(text)})
}

func (h *Hub) clip(text string) string {
	return clip(text, h.cfg.Chat.MaxTextLength)
}

// post publishes a user entry after the mute gate. Mutes apply to Main and
// groups; DMs are governed by per-pair blocks instead.
func (h *Hub) post(c *Client, ch channel.Channel, e history.Entry) error {
	if ch.Kind != channel.DirectMessage {
		if err := h.muteRejection(c.name); err != nil {
			return err
		}
	}
	e.Sender = c.name
	if e.ID == "" {
		e.ID = c.name + "-" + h.newID()
	}
	if h.publish(ch, e) {
		h.alert(c, protocol.CodeBlocked, "message was not delivered")
	}
	return nil
}

// publish appends e to ch's history and then fans it out, so a history
// snapshot never misses an entry that was already delivered. It reports
// whether a DM recipient's block suppressed live delivery.
func (h *Hub) publish(ch channel.Channel, e history.Entry) (blocked bool) {
	e.Thread = ch.Kind.String()
	if ch.Kind == channel.Group {
		e.GCID = ch.GroupID
	}
	if e.Timestamp == "" {
		e.Timestamp = h.timestamp()
	}
	if e.Persistable(systemSender) {
		h.history.Append(ch.Key, e)
		h.metrics.MessageStored(e.Thread, string(e.Kind))
	}

	switch ch.Kind {
	case channel.Main:
		h.broadcast(entryEvent{Entry: e}, nil)
	case channel.DirectMessage:
		for _, name := range h.recipients(ch) {
			if name != e.Sender && h.ids.DMBlocked(name, e.Sender) {
				blocked = true
				continue
			}
			h.sendTo(name, entryEvent{Entry: e, Peer: ch.Peer(name)})
		}
	default:
		frame := entryEvent{Entry: e}
		h.fanout(ch, func(string) any { return frame })
	}
	return blocked
}

// typing relays a typing signal. Muted senders are suppressed in Main and
// groups; in a DM only the peer is told, and not while it blocks the sender.
func (h *Hub) typing(c *Client, ch channel.Channel, typing bool) {
	ev := typingEvent{Type: protocol.EventTyping, User: c.name, Typing: typing, Thread: ch.Kind.String()}
	switch ch.Kind {
	case channel.Main:
		if h.ids.IsMuted(c.name) {
			return
		}
		h.broadcast(ev, c)
	case channel.DirectMessage:
		peer := ch.Peer(c.name)
		if h.ids.DMBlocked(peer, c.name) {
			return
		}
		ev.Peer = c.name
		h.sendTo(peer, ev)
	case channel.Group:
		if h.ids.IsMuted(c.name) {
			return
		}
		ev.GCID = ch.GroupID
		for _, member := range h.channels.Members(ch.GroupID) {
			if member != c.name {
				h.sendTo(member, ev)
			}
		}
	}
}

func (h *Hub) dmHistory(c *Client, peer string) error {
	ch, err := h.resolveDM(c.name, peer)
	if err != nil {
		return err
	}
	h.send(c, historyEvent{Type: protocol.EventDMHistory, Items: h.history.Snapshot(ch.Key), Peer: ch.Peer(c.name)})
	return nil
}

func (h *Hub) gcHistory(c *Client, id string) error {
	ch, err := h.resolveGroup(c.name, id)
	if err != nil {
		return err
	}
	h.send(c, historyEvent{Type: protocol.EventGCHistory, Items: h.history.Snapshot(ch.Key), GCID: ch.GroupID})
	return nil
}
