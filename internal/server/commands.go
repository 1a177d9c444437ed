package server

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/Tyrowin/chathub/internal/channel"
	"github.com/Tyrowin/chathub/internal/command"
	"github.com/Tyrowin/chathub/internal/history"
	"github.com/Tyrowin/chathub/internal/protocol"
)

// commandHandler runs a parsed, authorized command. A *protocol.Rejection
// result is shown to the requester; any other error is logged.
type commandHandler func(c *Client, ch channel.Channel, cmd command.Command) error

var errCannotModerateAdmins = protocol.Reject(protocol.CodeForbidden, "cannot moderate admins")

func (h *Hub) commandTable() map[string]commandHandler {
	return map[string]commandHandler{
		command.Ban:       h.cmdBan,
		command.Unban:     h.cmdUnban,
		command.Kick:      h.cmdKick,
		command.KickAll:   h.cmdKickAll,
		command.Mute:      h.cmdMute,
		command.Unmute:    h.cmdUnmute,
		command.MkAdmin:   h.cmdMkAdmin,
		command.RmAdmin:   h.cmdRmAdmin,
		command.Tag:       h.cmdTag,
		command.RmTag:     h.cmdRmTag,
		command.RjTag:     h.cmdRjTag,
		command.AcpTag:    h.cmdAcpTag,
		command.LockTag:   h.cmdLockTag,
		command.UnlockTag: h.cmdUnlockTag,
		command.Clear:     h.cmdClear,
		command.Delete:    h.cmdDelete,
		command.Edit:      h.cmdEdit,
		command.DM:        h.cmdDM,
		command.MuteDM:    h.cmdMuteDM,
		command.UnmuteDM:  h.cmdUnmuteDM,
		command.PSA:       h.cmdPSA,
		command.AI:        h.cmdAI,
	}
}

// runCommand parses text against the command table, checks the tier and
// target presence, and runs the handler. For Presence commands cmd.User is
// rewritten to the connected name before the handler sees it.
func (h *Hub) runCommand(c *Client, ch channel.Channel, text string) error {
	cmd, err := command.Parse(text)
	if err != nil {
		var usage *command.UsageError
		if errors.As(err, &usage) {
			h.metrics.CommandHandled(usage.Name, "usage")
			return protocol.Reject(protocol.CodeInfo, "%s", usage.Error())
		}
		h.metrics.CommandHandled("unknown", "invalid")
		return protocol.Reject(protocol.CodeInfo, "INVALID COMMAND")
	}
	handler, ok := h.commands[cmd.Name]
	if !ok {
		h.metrics.CommandHandled("unknown", "invalid")
		return protocol.Reject(protocol.CodeInfo, "INVALID COMMAND")
	}

	err = h.authorize(c, cmd.Spec)
	if err == nil && cmd.Spec.Presence {
		err = h.requirePresent(&cmd)
	}
	if err == nil {
		err = handler(c, ch, cmd)
	}
	result := "ok"
	if err != nil {
		result = "error"
		if _, rejected := protocol.AsRejection(err); rejected {
			result = "rejected"
		}
	}
	h.metrics.CommandHandled(cmd.Name, result)
	return err
}

func (h *Hub) authorize(c *Client, spec command.Spec) error {
	switch spec.Tier {
	case command.TierAdmin:
		if !h.ids.EffectiveAdmin(c.name) {
			return protocol.Reject(protocol.CodeForbidden, "only admins can use /%s", spec.Name)
		}
	case command.TierElevated:
		if !h.ids.Elevated(c.name) {
			return protocol.Reject(protocol.CodeForbidden, "only DEV can use /%s", spec.Name)
		}
	}
	return nil
}

func (h *Hub) requirePresent(cmd *command.Command) error {
	target, err := h.onlineTarget(cmd.User)
	if err != nil {
		return err
	}
	cmd.User = target.name
	return nil
}

// onlineTarget resolves a command target that must be connected.
func (h *Hub) onlineTarget(name string) (*Client, error) {
	if c, ok := h.conns.lookup(name); ok {
		return c, nil
	}
	return nil, protocol.Reject(protocol.CodeNotOnline, "%s is not online", name)
}

// knownTarget canonicalizes a target that may be offline.
func (h *Hub) knownTarget(name string) string {
	if c, ok := h.conns.lookup(name); ok {
		return c.name
	}
	if known, ok := h.ids.Lookup(name); ok {
		return known
	}
	return name
}

// guardAdmin refuses moderating another effective admin unless the requester
// holds the elevated tier.
func (h *Hub) guardAdmin(requester, target string) error {
	if target != requester && h.ids.EffectiveAdmin(target) && !h.ids.Elevated(requester) {
		return errCannotModerateAdmins
	}
	return nil
}

func notSelf(c *Client, target, verb string) error {
	if target == c.name {
		return protocol.Reject(protocol.CodeInfo, "you cannot %s yourself", verb)
	}
	return nil
}

func pluralMinutes(n int) string {
	return fmt.Sprintf("%d minute(s)", n)
}

func (h *Hub) cmdBan(c *Client, _ channel.Channel, cmd command.Command) error {
	target := h.knownTarget(cmd.User)
	if err := notSelf(c, target, "ban"); err != nil {
		return err
	}
	if err := h.guardAdmin(c.name, target); err != nil {
		return err
	}
	online, isOnline := h.conns.get(target)
	origin := ""
	if isOnline {
		origin = online.origin
	}
	h.ids.Ban(target, origin)
	if isOnline {
		h.evict(online, protocol.CodeBanned, "You were banned from chat")
	}
	h.system(target + " was banned")
	if isOnline {
		h.roster()
	}
	return nil
}

func (h *Hub) cmdUnban(_ *Client, _ channel.Channel, cmd command.Command) error {
	name, ok := h.ids.BannedName(cmd.User)
	if !ok {
		return protocol.Reject(protocol.CodeNotBanned, "%s is not banned", cmd.User)
	}
	if err := h.ids.Unban(name); err != nil {
		return protocol.RejectErr(protocol.CodeNotBanned, err)
	}
	h.system(name + " was unbanned")
	return nil
}

func (h *Hub) cmdKick(c *Client, _ channel.Channel, cmd command.Command) error {
	target, _ := h.conns.get(cmd.User)
	if err := notSelf(c, target.name, "kick"); err != nil {
		return err
	}
	if err := h.guardAdmin(c.name, target.name); err != nil {
		return err
	}
	h.evict(target, protocol.CodeKicked, "YOU WERE KICKED FROM CHAT")
	h.system(target.name + " was kicked")
	h.roster()
	return nil
}

func (h *Hub) cmdKickAll(c *Client, _ channel.Channel, _ command.Command) error {
	kicked := 0
	for _, other := range h.conns.snapshot() {
		if other == c || h.ids.EffectiveAdmin(other.name) {
			continue
		}
		h.evict(other, protocol.CodeKicked, "YOU WERE KICKED FROM CHAT")
		kicked++
	}
	if kicked == 0 {
		return protocol.Reject(protocol.CodeInfo, "nobody to kick")
	}
	h.system(fmt.Sprintf("%d user(s) were kicked by an admin", kicked))
	h.roster()
	return nil
}

func (h *Hub) cmdMute(c *Client, _ channel.Channel, cmd command.Command) error {
	target, _ := h.conns.get(cmd.User)
	if err := notSelf(c, target.name, "mute"); err != nil {
		return err
	}
	if err := h.guardAdmin(c.name, target.name); err != nil {
		return err
	}
	if cmd.Minutes <= 0 {
		return protocol.Reject(protocol.CodeInfo, "usage: %s", cmd.Spec.Usage)
	}
	h.ids.Mute(target.name, time.Duration(cmd.Minutes)*time.Minute)
	h.system(fmt.Sprintf("%s was muted for %s", target.name, pluralMinutes(cmd.Minutes)))
	if err := h.muteRejection(target.name); err != nil {
		r, _ := protocol.AsRejection(err)
		h.sendRejection(target, r)
	}
	return nil
}

func (h *Hub) cmdUnmute(_ *Client, _ channel.Channel, cmd command.Command) error {
	target := h.knownTarget(cmd.User)
	if !h.ids.Unmute(target) {
		return protocol.Reject(protocol.CodeInfo, "%s is not muted", target)
	}
	h.system(target + " was unmuted")
	return nil
}

func (h *Hub) checkSecret(secret string) error {
	pass := h.cfg.Moderation.SuperPass
	if pass == "" {
		return protocol.Reject(protocol.CodeForbidden, "admin management is disabled")
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(pass)) != 1 {
		return protocol.Reject(protocol.CodeInfo, "invalid superpass")
	}
	return nil
}

func (h *Hub) cmdMkAdmin(_ *Client, _ channel.Channel, cmd command.Command) error {
	if err := h.checkSecret(cmd.Secret); err != nil {
		return err
	}
	target, ok := h.ids.Lookup(cmd.User)
	if !ok {
		return protocol.Reject(protocol.CodeNotOnline, "%s is not a known user", cmd.User)
	}
	h.ids.Promote(target)
	h.system(target + " is now an admin")
	h.roster()
	return nil
}

func (h *Hub) cmdRmAdmin(c *Client, _ channel.Channel, cmd command.Command) error {
	if err := h.checkSecret(cmd.Secret); err != nil {
		return err
	}
	target, ok := h.ids.Lookup(cmd.User)
	if !ok {
		return protocol.Reject(protocol.CodeInfo, "user is not an admin")
	}
	if h.ids.Elevated(target) && !h.ids.Elevated(c.name) {
		return errCannotModerateAdmins
	}
	if err := h.ids.Demote(target); err != nil {
		return protocol.RejectErr(protocol.CodeInfo, err)
	}
	h.system(target + " is no longer an admin")
	h.roster()
	return nil
}

// tagTarget resolves who a tag command applies to. Targeting someone else
// needs admin rights and a connected target.
func (h *Hub) tagTarget(c *Client, user string, self bool) (string, error) {
	if self || user == "" || user == c.name {
		return c.name, nil
	}
	if !h.ids.EffectiveAdmin(c.name) {
		return "", protocol.Reject(protocol.CodeForbidden, "only admins can tag other users")
	}
	target, err := h.onlineTarget(user)
	if err != nil {
		return "", err
	}
	if err := h.guardAdmin(c.name, target.name); err != nil {
		return "", err
	}
	return target.name, nil
}

func (h *Hub) cmdTag(c *Client, _ channel.Channel, cmd command.Command) error {
	target, err := h.tagTarget(c, cmd.User, cmd.Self)
	if err != nil {
		return err
	}
	if err := h.ids.SetTag(c.name, target, cmd.Text, cmd.Color); err != nil {
		return protocol.RejectErr(protocol.CodeInfo, err)
	}
	h.roster()
	return nil
}

func (h *Hub) cmdRmTag(c *Client, _ channel.Channel, cmd command.Command) error {
	target, err := h.tagTarget(c, cmd.User, false)
	if err != nil {
		return err
	}
	if err := h.ids.ClearTag(c.name, target); err != nil {
		return protocol.RejectErr(protocol.CodeInfo, err)
	}
	h.roster()
	return nil
}

func (h *Hub) cmdRjTag(c *Client, _ channel.Channel, _ command.Command) error {
	h.ids.SetRejectsTagging(c.name, true)
	h.alert(c, protocol.CodeInfo, "others can no longer tag you")
	return nil
}

func (h *Hub) cmdAcpTag(c *Client, _ channel.Channel, _ command.Command) error {
	h.ids.SetRejectsTagging(c.name, false)
	h.alert(c, protocol.CodeInfo, "others can tag you again")
	return nil
}

func (h *Hub) setTagLock(c *Client, user string, locked bool) error {
	target := h.knownTarget(user)
	if err := h.ids.SetTagLock(c.name, target, locked); err != nil {
		return protocol.RejectErr(protocol.CodeForbidden, err)
	}
	state := "unlocked"
	if locked {
		state = "locked"
	}
	h.alert(c, protocol.CodeInfo, fmt.Sprintf("%s's tag is %s", target, state))
	return nil
}

func (h *Hub) cmdLockTag(c *Client, _ channel.Channel, cmd command.Command) error {
	return h.setTagLock(c, cmd.User, true)
}

func (h *Hub) cmdUnlockTag(c *Client, _ channel.Channel, cmd command.Command) error {
	return h.setTagLock(c, cmd.User, false)
}

// cmdClear empties the current channel. Main needs an admin and stops every
// generation; a DM may be cleared by either party and a group by its
// creator, each stopping only that channel's generations.
func (h *Hub) cmdClear(c *Client, ch channel.Channel, _ command.Command) error {
	switch ch.Kind {
	case channel.Main:
		if !h.ids.EffectiveAdmin(c.name) {
			return protocol.Reject(protocol.CodeForbidden, "ONLY ADMIN CAN CLEAR CHAT")
		}
		h.gen.CancelAll()
	case channel.Group:
		info, _, err := h.channels.Group(ch.GroupID)
		if err != nil {
			return groupRejection(err)
		}
		if info.Creator != c.name {
			return protocol.Reject(protocol.CodeForbidden, "only the group creator can clear this chat")
		}
		h.gen.CancelChannel(ch.Key)
	default:
		h.gen.CancelChannel(ch.Key)
	}

	h.history.Clear(ch.Key)
	h.fanout(ch, func(recipient string) any {
		return scoped(ch, recipient, scopedEvent{Type: protocol.EventClear})
	})
	if ch.IsMain() {
		h.system("Admin cleared the chat")
	}
	return nil
}

func (h *Hub) deleteAuthority(c *Client, ch channel.Channel) history.Authority {
	auth := history.Authority{Requester: c.name}
	switch ch.Kind {
	case channel.Main:
		auth.Privileged = h.ids.EffectiveAdmin(c.name)
		auth.Highest = h.ids.Elevated(c.name)
		auth.IsPrivileged = h.ids.EffectiveAdmin
	case channel.DirectMessage:
		auth.Override = ch.Includes(c.name)
	case channel.Group:
		if info, _, err := h.channels.Group(ch.GroupID); err == nil {
			auth.Override = info.Creator == c.name
		}
	}
	return auth
}

func (h *Hub) cmdDelete(c *Client, ch channel.Channel, cmd command.Command) error {
	e, err := h.history.Delete(ch.Key, cmd.ID, h.deleteAuthority(c, ch))
	switch {
	case errors.Is(err, history.ErrNotFound):
		return protocol.RejectErr(protocol.CodeInfo, err)
	case errors.Is(err, history.ErrForbidden):
		return protocol.Reject(protocol.CodeForbidden, "YOU CAN ONLY DELETE YOUR OWN MESSAGES")
	case err != nil:
		return err
	}
	if e.Sender == aiSender {
		h.gen.Cancel(e.ID)
	}
	h.fanout(ch, func(recipient string) any {
		return scoped(ch, recipient, scopedEvent{Type: protocol.EventDelete, ID: e.ID})
	})
	return nil
}

func (h *Hub) cmdEdit(c *Client, ch channel.Channel, cmd command.Command) error {
	e, ok := h.history.Find(ch.Key, cmd.ID)
	if !ok {
		return protocol.RejectErr(protocol.CodeInfo, history.ErrNotFound)
	}
	if err := h.guardAdmin(c.name, e.Sender); err != nil {
		return err
	}
	text := h.clip(cmd.Text)
	h.history.EditText(ch.Key, e.ID, text)
	h.fanout(ch, func(recipient string) any {
		return scoped(ch, recipient, scopedEvent{Type: protocol.EventUpdate, ID: e.ID, Text: text})
	})
	return nil
}

func (h *Hub) cmdDM(c *Client, _ channel.Channel, cmd command.Command) error {
	dm, err := h.resolveDM(c.name, h.knownTarget(cmd.User))
	if err != nil {
		return err
	}
	return h.post(c, dm, history.Entry{Kind: history.KindMessage, Text: h.clip(cmd.Text)})
}

func (h *Hub) cmdMuteDM(c *Client, _ channel.Channel, cmd command.Command) error {
	target := h.knownTarget(cmd.User)
	if err := notSelf(c, target, "block"); err != nil {
		return err
	}
	d := h.cfg.Chat.DMBlockDefault
	if cmd.HasMinutes {
		if cmd.Minutes <= 0 {
			return protocol.Reject(protocol.CodeInfo, "usage: %s", cmd.Spec.Usage)
		}
		d = time.Duration(cmd.Minutes) * time.Minute
	}
	h.ids.BlockDM(c.name, target, d)
	h.alert(c, protocol.CodeInfo, fmt.Sprintf("DMs from %s are blocked for %s", target, pluralMinutes(int(d/time.Minute))))
	return nil
}

func (h *Hub) cmdUnmuteDM(c *Client, _ channel.Channel, cmd command.Command) error {
	target := h.knownTarget(cmd.User)
	if !h.ids.UnblockDM(c.name, target) {
		return protocol.Reject(protocol.CodeInfo, "DMs from %s are not blocked", target)
	}
	h.alert(c, protocol.CodeInfo, fmt.Sprintf("DMs from %s are unblocked", target))
	return nil
}

func (h *Hub) cmdPSA(_ *Client, _ channel.Channel, cmd command.Command) error {
	h.system(cmd.Text)
	return nil
}

func (h *Hub) cmdAI(c *Client, _ channel.Channel, cmd command.Command) error {
	switch cmd.Action {
	case command.ActionStop:
		return h.stopGeneration(c, cmd.User)
	case command.ActionEnable, command.ActionDisable:
		if !h.ids.EffectiveAdmin(c.name) {
			return protocol.Reject(protocol.CodeForbidden, "only admins can enable or disable @ai")
		}
		h.aiEnabled = cmd.Action == command.ActionEnable
		h.system(fmt.Sprintf("@ai was %sd by admin", cmd.Action))
		return nil
	}
	return protocol.Reject(protocol.CodeInfo, "usage: %s", cmd.Spec.Usage)
}
