package server

import (
	"time"

	"go.uber.org/zap"

	"github.com/Tyrowin/chathub/internal/identity"
	"github.com/Tyrowin/chathub/internal/logger"
	"github.com/Tyrowin/chathub/internal/protocol"
)

// connect admits c or refuses it with an alert. Refusals leave no state
// behind.
func (h *Hub) connect(c *Client) {
	if _, dup := h.conns.get(c.name); dup {
		h.refuse(c, protocol.CodeDuplicate, "USERNAME ALREADY ONLINE")
		return
	}
	if err := h.ids.BindOrigin(c.origin, c.name); err != nil {
		h.refuse(c, protocol.CodeNameReserved, "USERNAME IS RESERVED")
		return
	}
	privileged := c.role == identity.RoleAdmin || h.ids.EffectiveAdmin(c.name)
	if !privileged && h.ids.IsBanned(c.name, c.origin) {
		h.refuse(c, protocol.CodeBannedConnect, "YOU ARE BANNED FROM CHAT")
		h.promptUnban(c)
		return
	}

	h.ids.Touch(c.name, c.role, c.origin)
	if h.shouldElevate(c) {
		h.ids.Elevate(c.name)
	}
	if err := h.conns.add(c); err != nil {
		h.refuse(c, protocol.CodeDuplicate, "USERNAME ALREADY ONLINE")
		return
	}
	h.startPumps(c, true)
	h.metrics.SetConnections(h.conns.count())
	logger.Info("client_connected",
		zap.String("user", c.name),
		zap.String("origin", c.origin),
		zap.Int("clients", h.conns.count()))

	mainCh := h.channels.ResolveMain()
	h.send(c, historyEvent{Type: protocol.EventHistory, Items: h.history.Snapshot(mainCh.Key)})
	h.sendGroupList(c.name)
	h.presence(c.name, presenceJoin)
	h.roster()
}

// refuse delivers a single alert and closes the connection once it has been
// flushed.
func (h *Hub) refuse(c *Client, code, text string) {
	logger.Info("connection_refused", zap.String("user", c.name), zap.String("origin", c.origin), zap.String("code", code))
	h.alert(c, code, text)
	c.closeSend()
	h.startPumps(c, false)
}

// promptUnban offers connected admins a one-click unban for a refused user.
func (h *Hub) promptUnban(c *Client) {
	ev := unbanPromptEvent{Type: protocol.EventUnbanPrompt, User: c.name, Origin: c.origin}
	for _, other := range h.conns.snapshot() {
		if h.ids.EffectiveAdmin(other.name) {
			h.send(other, ev)
		}
	}
}

func (h *Hub) shouldElevate(c *Client) bool {
	for _, name := range h.cfg.Moderation.ElevatedUsers {
		if name == c.name {
			return true
		}
	}
	return h.cfg.Moderation.ElevateLoopback && isLoopback(c.origin)
}

// disconnect handles a connection that ended on its own.
func (h *Hub) disconnect(c *Client) {
	c.closeSend()
	if !h.conns.remove(c) {
		return
	}
	h.metrics.SetConnections(h.conns.count())
	logger.Info("client_disconnected", zap.String("user", c.name), zap.Int("clients", h.conns.count()))
	h.presence(c.name, presenceLeave)
	h.roster()
}

// evict force-closes a connection after telling it why. The caller is
// responsible for the roster broadcast.
func (h *Hub) evict(c *Client, code, text string) {
	h.alert(c, code, text)
	c.closeSend()
	if h.conns.remove(c) {
		h.metrics.SetConnections(h.conns.count())
		h.presence(c.name, presenceLeave)
	}
	logger.Info("client_evicted", zap.String("user", c.name), zap.String("code", code))
}

func (h *Hub) muteRejection(name string) error {
	remaining := h.ids.MuteRemaining(name)
	if remaining <= 0 {
		return nil
	}
	r := protocol.Reject(protocol.CodeMuted, "you are muted")
	r.Seconds = int((remaining + time.Second - 1) / time.Second)
	return r
}
