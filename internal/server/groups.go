package server

import (
	"errors"

	"go.uber.org/zap"

	"github.com/Tyrowin/chathub/internal/channel"
	"github.com/Tyrowin/chathub/internal/logger"
	"github.com/Tyrowin/chathub/internal/protocol"
)

func groupRejection(err error) error {
	switch {
	case errors.Is(err, channel.ErrNotCreator):
		return protocol.RejectErr(protocol.CodeForbidden, err)
	case errors.Is(err, channel.ErrNotMember):
		return protocol.RejectErr(protocol.CodeNotMember, err)
	default:
		return protocol.RejectErr(protocol.CodeInfo, err)
	}
}

// canonicalMembers maps requested member names onto known identities.
func (h *Hub) canonicalMembers(names []string) []string {
	if names == nil {
		return nil
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if known, ok := h.ids.Lookup(n); ok {
			n = known
		}
		out = append(out, n)
	}
	return out
}

func (h *Hub) sendGroupList(name string) {
	h.sendTo(name, gcListEvent{Type: protocol.EventGCList, Groups: h.channels.GroupsFor(name)})
}

func (h *Hub) toMembers(members []string, v any) {
	for _, m := range members {
		h.sendTo(m, v)
	}
}

func (h *Hub) createGroup(c *Client, in protocol.Inbound) error {
	info, err := h.channels.CreateGroup(in.Name, c.name, h.canonicalMembers(in.Members))
	if err != nil {
		return groupRejection(err)
	}
	logger.Info("group_created", zap.String("gcid", info.ID), zap.String("creator", c.name), zap.Int("members", len(info.Members)))

	h.toMembers(info.Members, gcEvent{Type: protocol.EventGCCreated, GroupInfo: info})
	for _, m := range info.Members {
		if m != c.name {
			h.sendTo(m, gcEvent{Type: protocol.EventGCPrompt, GroupInfo: info})
		}
	}
	return nil
}

func (h *Hub) updateGroup(c *Client, in protocol.Inbound) error {
	res, err := h.channels.Update(in.GCID, c.name, in.Name, h.canonicalMembers(in.Members))
	if err != nil {
		return groupRejection(err)
	}
	info := res.Group

	for _, m := range res.Added {
		h.toMembers(info.Members, gcMemberEvent{Type: protocol.EventGCMemberJoined, GCID: info.ID, User: m})
		h.sendTo(m, gcEvent{Type: protocol.EventGCPrompt, GroupInfo: info})
	}
	for _, m := range res.Removed {
		h.toMembers(info.Members, gcMemberEvent{Type: protocol.EventGCMemberLeft, GCID: info.ID, User: m, Creator: info.Creator})
		h.sendTo(m, gcEvent{Type: protocol.EventGCDeleted, GroupInfo: info})
	}
	h.toMembers(info.Members, gcEvent{Type: protocol.EventGCSettings, GroupInfo: info})
	return nil
}

func (h *Hub) exitGroup(c *Client, id string) error {
	res, err := h.channels.RemoveMember(id, c.name)
	if err != nil {
		return groupRejection(err)
	}
	info := res.Group
	h.send(c, gcEvent{Type: protocol.EventGCDeleted, GroupInfo: info})

	if res.Deleted {
		h.dropGroup(id)
		return nil
	}
	h.toMembers(info.Members, gcMemberEvent{Type: protocol.EventGCMemberLeft, GCID: id, User: c.name, Creator: info.Creator})
	if res.NewCreator != "" {
		h.toMembers(info.Members, gcEvent{Type: protocol.EventGCSettings, GroupInfo: info})
	}
	return nil
}

func (h *Hub) deleteGroup(c *Client, id string) error {
	info, err := h.channels.Delete(id, c.name)
	if err != nil {
		return groupRejection(err)
	}
	h.dropGroup(id)
	h.toMembers(info.Members, gcEvent{Type: protocol.EventGCDeleted, GroupInfo: info})
	return nil
}

// dropGroup releases what a deleted group leaves behind.
func (h *Hub) dropGroup(id string) {
	key := channel.GroupChannel(id).Key
	if n := h.gen.CancelChannel(key); n > 0 {
		logger.Info("group_tasks_cancelled", zap.String("gcid", id), zap.Int("tasks", n))
	}
	h.history.Drop(key)
	logger.Info("group_deleted", zap.String("gcid", id))
}
