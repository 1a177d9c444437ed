package server

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chathub/internal/channel"
	"github.com/Tyrowin/chathub/internal/command"
	"github.com/Tyrowin/chathub/internal/identity"
	"github.com/Tyrowin/chathub/internal/protocol"
)

func TestConnectSequence(t *testing.T) {
	h := startHub(t, testConfig())
	alice := connect(t, h, "alice", identity.RoleUser, "10.0.0.1")

	frames, closed := drain(t, alice)
	require.False(t, closed)
	assert.Equal(t, []string{
		protocol.EventHistory,
		protocol.EventGCList,
		protocol.EventPresence,
		protocol.EventUserList,
	}, types(frames))
	assert.Equal(t, "alice", frames[2].str("user"))
	assert.Equal(t, presenceJoin, frames[2].str("action"))
	assert.Equal(t, []any{"alice"}, frames[3]["users"])
}

func TestDuplicateNameRefused(t *testing.T) {
	h := startHub(t, testConfig())
	first := connect(t, h, "alice", identity.RoleUser, "10.0.0.1")
	drain(t, first)

	second := connect(t, h, "alice", identity.RoleUser, "10.0.0.2")
	frames, closed := drain(t, second)
	assert.True(t, closed)
	alert := alertOf(t, frames)
	assert.Equal(t, protocol.CodeDuplicate, alert.str("code"))

	sayText(t, h, first, "still here")
	frames, closed = drain(t, first)
	assert.False(t, closed)
	assert.Len(t, ofType(frames, protocol.EventMessage), 1)
}

func TestMainMessageBroadcastAndStored(t *testing.T) {
	h := startHub(t, testConfig())
	alice := connect(t, h, "alice", identity.RoleUser, "10.0.0.1")
	bob := connect(t, h, "bob", identity.RoleUser, "10.0.0.2")
	drain(t, alice)
	drain(t, bob)

	sayText(t, h, alice, "  hello there ")

	for _, c := range []*Client{alice, bob} {
		frames, _ := drain(t, c)
		msgs := ofType(frames, protocol.EventMessage)
		require.Len(t, msgs, 1)
		assert.Equal(t, "alice", msgs[0].str("sender"))
		assert.Equal(t, "hello there", msgs[0].str("text"))
		assert.Equal(t, protocol.ThreadMain, msgs[0].str("thread"))
		assert.Regexp(t, `^alice-[0-9a-f-]{36}$`, msgs[0].str("id"))
		_, err := time.Parse(time.RFC3339Nano, msgs[0].str("timestamp"))
		assert.NoError(t, err)
	}

	stored := h.history.Snapshot(h.channels.ResolveMain().Key)
	require.Len(t, stored, 1)
	assert.Equal(t, "hello there", stored[0].Text)
}

func TestLongTextIsClipped(t *testing.T) {
	cfg := testConfig()
	cfg.Chat.MaxTextLength = 5
	h := startHub(t, cfg)
	alice := connect(t, h, "alice", identity.RoleUser, "10.0.0.1")
	drain(t, alice)

	sayText(t, h, alice, "héllo world")
	frames, _ := drain(t, alice)
	msgs := ofType(frames, protocol.EventMessage)
	require.Len(t, msgs, 1)
	assert.Equal(t, "héllo", msgs[0].str("text"))
}

func TestDisconnectBroadcastsLeave(t *testing.T) {
	h := startHub(t, testConfig())
	alice := connect(t, h, "alice", identity.RoleUser, "10.0.0.1")
	bob := connect(t, h, "bob", identity.RoleUser, "10.0.0.2")
	drain(t, bob)

	h.leave(alice)
	onLoop(t, h, func() {})

	frames, _ := drain(t, bob)
	presence := ofType(frames, protocol.EventPresence)
	require.Len(t, presence, 1)
	assert.Equal(t, presenceLeave, presence[0].str("action"))
	lists := ofType(frames, protocol.EventUserList)
	require.Len(t, lists, 1)
	assert.Equal(t, []any{"bob"}, lists[0]["users"])
}

func TestBanEvictsAndBlocksReconnect(t *testing.T) {
	h := startHub(t, testConfig())
	bob := connect(t, h, "bob", identity.RoleAdmin, "10.0.0.2")
	alice := connect(t, h, "alice", identity.RoleUser, "10.0.0.5")
	drain(t, bob)
	drain(t, alice)

	sayText(t, h, bob, `/ban "alice"`)

	frames, closed := drain(t, alice)
	assert.True(t, closed)
	alert := alertOf(t, frames)
	assert.Equal(t, protocol.CodeBanned, alert.str("code"))

	frames, _ = drain(t, bob)
	systems := ofType(frames, protocol.EventSystem)
	require.Len(t, systems, 1)
	assert.Equal(t, "Alice was banned", systems[0].str("text"))
	assert.Equal(t, systemSender, systems[0].str("sender"))
	assert.Len(t, ofType(frames, protocol.EventUserList), 1)

	again := connect(t, h, "alice", identity.RoleUser, "10.0.0.9")
	frames, closed = drain(t, again)
	assert.True(t, closed)
	assert.Equal(t, protocol.CodeBannedConnect, alertOf(t, frames).str("code"))

	sameOrigin := connect(t, h, "carol", identity.RoleUser, "10.0.0.5")
	frames, closed = drain(t, sameOrigin)
	assert.True(t, closed)
	assert.Equal(t, protocol.CodeBannedConnect, alertOf(t, frames).str("code"))

	frames, _ = drain(t, bob)
	prompts := ofType(frames, protocol.EventUnbanPrompt)
	require.Len(t, prompts, 2)
	assert.Equal(t, "carol", prompts[1].str("user"))
	assert.Equal(t, "10.0.0.5", prompts[1].str("origin"))

	sayText(t, h, bob, "/unban alice")
	frames, _ = drain(t, bob)
	require.Len(t, ofType(frames, protocol.EventSystem), 1)

	back := connect(t, h, "alice", identity.RoleUser, "10.0.0.5")
	_, closed = drain(t, back)
	assert.False(t, closed)
}

func TestAdminsCannotBeModeratedByAdmins(t *testing.T) {
	h := startHub(t, testConfig())
	bob := connect(t, h, "bob", identity.RoleAdmin, "10.0.0.2")
	dana := connect(t, h, "dana", identity.RoleAdmin, "10.0.0.3")
	drain(t, bob)
	drain(t, dana)

	sayText(t, h, bob, "/kick dana")
	frames, _ := drain(t, bob)
	alert := alertOf(t, frames)
	assert.Equal(t, protocol.CodeForbidden, alert.str("code"))
	assert.Equal(t, "cannot moderate admins", alert.str("text"))

	_, closed := drain(t, dana)
	assert.False(t, closed)
}

func TestFramesQueuedBeforeBanAreDropped(t *testing.T) {
	h := startHub(t, testConfig())
	alice := connect(t, h, "alice", identity.RoleAdmin, "10.0.0.1")
	bob := connect(t, h, "bob", identity.RoleUser, "10.0.0.2")
	drain(t, alice)
	drain(t, bob)

	onLoop(t, h, func() {
		h.dispatch(alice, protocol.Inbound{Text: `/ban "bob"`})
		h.dispatch(bob, protocol.Inbound{Text: "posted after ban"})
	})

	assert.Equal(t, 0, h.history.Len(h.channels.ResolveMain().Key))
	frames, _ := drain(t, alice)
	assert.Empty(t, ofType(frames, protocol.EventMessage))
}

func TestAdminsCannotStripElevatedTag(t *testing.T) {
	cfg := testConfig()
	cfg.Moderation.ElevateLoopback = true
	h := startHub(t, cfg)
	alice := connect(t, h, "alice", identity.RoleAdmin, "10.0.0.1")
	root := connect(t, h, "root", identity.RoleUser, "127.0.0.1")
	drain(t, alice)
	drain(t, root)
	require.True(t, h.ids.Elevated("root"))

	for _, line := range []string{`/rmtag "root"`, `/tag "root" "x"`} {
		sayText(t, h, alice, line)
		frames, _ := drain(t, alice)
		assert.Equal(t, "cannot moderate admins", alertOf(t, frames).str("text"), line)
	}
	assert.True(t, h.ids.Elevated("root"))

	sayText(t, h, alice, `/ban "root"`)
	assert.False(t, h.ids.IsBanned("root", ""))
	_, closed := drain(t, root)
	assert.False(t, closed)
}

func TestCommandTierEnforced(t *testing.T) {
	h := startHub(t, testConfig())
	alice := connect(t, h, "alice", identity.RoleUser, "10.0.0.1")
	bob := connect(t, h, "bob", identity.RoleUser, "10.0.0.2")
	drain(t, alice)
	drain(t, bob)

	sayText(t, h, alice, "/kick bob")
	frames, _ := drain(t, alice)
	assert.Equal(t, protocol.CodeForbidden, alertOf(t, frames).str("code"))

	sayText(t, h, alice, "/locktag bob")
	frames, _ = drain(t, alice)
	assert.Equal(t, protocol.CodeForbidden, alertOf(t, frames).str("code"))

	_, closed := drain(t, bob)
	assert.False(t, closed)
}

func TestInvalidCommands(t *testing.T) {
	h := startHub(t, testConfig())
	alice := connect(t, h, "alice", identity.RoleUser, "10.0.0.1")
	drain(t, alice)

	sayText(t, h, alice, "/nope")
	frames, _ := drain(t, alice)
	alert := alertOf(t, frames)
	assert.Equal(t, protocol.CodeInfo, alert.str("code"))
	assert.Equal(t, "INVALID COMMAND", alert.str("text"))
	assert.Empty(t, ofType(frames, protocol.EventMessage))

	sayText(t, h, alice, "/dm")
	frames, _ = drain(t, alice)
	assert.Contains(t, alertOf(t, frames).str("text"), "usage:")
}

func TestPresenceCommandsNeedOnlineTarget(t *testing.T) {
	h := startHub(t, testConfig())
	bob := connect(t, h, "bob", identity.RoleAdmin, "10.0.0.2")
	carol := connect(t, h, "carol", identity.RoleUser, "10.0.0.3")
	drain(t, bob)
	drain(t, carol)

	args := map[string]string{
		command.Kick: `"%s"`,
		command.Mute: `"%s" 5`,
	}
	for _, spec := range command.Specs() {
		if !spec.Presence {
			continue
		}
		format, ok := args[spec.Name]
		require.True(t, ok, "no arguments for /%s", spec.Name)

		sayText(t, h, bob, "/"+spec.Name+" "+fmt.Sprintf(format, "ghost"))
		frames, _ := drain(t, bob)
		alert := alertOf(t, frames)
		assert.Equal(t, protocol.CodeNotOnline, alert.str("code"), spec.Name)
		assert.Equal(t, "ghost is not online", alert.str("text"), spec.Name)
	}

	sayText(t, h, bob, "/kick CAROL")
	_, closed := drain(t, carol)
	assert.True(t, closed, "targets resolve case-insensitively")
}

func TestKickAllSparesAdmins(t *testing.T) {
	h := startHub(t, testConfig())
	bob := connect(t, h, "bob", identity.RoleAdmin, "10.0.0.2")
	dana := connect(t, h, "dana", identity.RoleAdmin, "10.0.0.3")
	alice := connect(t, h, "alice", identity.RoleUser, "10.0.0.1")
	carol := connect(t, h, "carol", identity.RoleUser, "10.0.0.4")

	sayText(t, h, bob, "/kickA")

	for _, c := range []*Client{alice, carol} {
		frames, closed := drain(t, c)
		assert.True(t, closed)
		assert.Equal(t, protocol.CodeKicked, alertOf(t, frames).str("code"))
	}
	for _, c := range []*Client{bob, dana} {
		_, closed := drain(t, c)
		assert.False(t, closed)
	}
	assert.Equal(t, []string{"bob", "dana"}, h.conns.names())
}

func TestMuteBlocksPosting(t *testing.T) {
	clock := newFakeClock()
	h := startHub(t, testConfig(), WithClock(clock.Now))
	bob := connect(t, h, "bob", identity.RoleAdmin, "10.0.0.2")
	alice := connect(t, h, "alice", identity.RoleUser, "10.0.0.1")
	drain(t, bob)
	drain(t, alice)

	sayText(t, h, bob, "/mute alice 5")
	frames, _ := drain(t, alice)
	alert := alertOf(t, frames)
	assert.Equal(t, protocol.CodeMuted, alert.str("code"))
	assert.EqualValues(t, 300, alert["seconds"])
	systems := ofType(frames, protocol.EventSystem)
	require.Len(t, systems, 1)
	assert.Equal(t, "Alice was muted for 5 minute(s)", systems[0].str("text"))
	drain(t, bob)

	clock.Advance(time.Minute)
	sayText(t, h, alice, "let me talk")
	frames, _ = drain(t, alice)
	alert = alertOf(t, frames)
	assert.Equal(t, protocol.CodeMuted, alert.str("code"))
	assert.EqualValues(t, 240, alert["seconds"])
	assert.Empty(t, ofType(frames, protocol.EventMessage))

	frames, _ = drain(t, bob)
	assert.Empty(t, frames)

	clock.Advance(5 * time.Minute)
	sayText(t, h, alice, "back")
	frames, _ = drain(t, bob)
	assert.Len(t, ofType(frames, protocol.EventMessage), 1)
}

func TestDirectMessagePeerIsPerRecipient(t *testing.T) {
	h := startHub(t, testConfig())
	alice := connect(t, h, "alice", identity.RoleUser, "10.0.0.1")
	bob := connect(t, h, "bob", identity.RoleUser, "10.0.0.2")
	carol := connect(t, h, "carol", identity.RoleUser, "10.0.0.3")
	drain(t, alice)
	drain(t, bob)
	drain(t, carol)

	say(t, h, alice, protocol.Inbound{Thread: protocol.ThreadDM, Peer: "BOB", Text: "psst"})

	frames, _ := drain(t, alice)
	msgs := ofType(frames, protocol.EventMessage)
	require.Len(t, msgs, 1)
	assert.Equal(t, "bob", msgs[0].str("peer"))
	assert.Equal(t, protocol.ThreadDM, msgs[0].str("thread"))

	frames, _ = drain(t, bob)
	msgs = ofType(frames, protocol.EventMessage)
	require.Len(t, msgs, 1)
	assert.Equal(t, "alice", msgs[0].str("peer"))

	frames, _ = drain(t, carol)
	assert.Empty(t, frames)

	stored := h.history.Snapshot("dm:" + channel.PairKey("alice", "bob"))
	require.Len(t, stored, 1)
	raw, err := json.Marshal(stored[0])
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "peer")

	say(t, h, bob, protocol.Inbound{Type: protocol.TypeDMHistory, Peer: "alice"})
	frames, _ = drain(t, bob)
	hist := ofType(frames, protocol.EventDMHistory)
	require.Len(t, hist, 1)
	assert.Equal(t, "alice", hist[0].str("peer"))
	assert.Len(t, hist[0]["items"], 1)
}

func TestDirectMessageToSelfRejected(t *testing.T) {
	h := startHub(t, testConfig())
	alice := connect(t, h, "alice", identity.RoleUser, "10.0.0.1")
	drain(t, alice)

	sayText(t, h, alice, `/dm "alice" hi me`)
	frames, _ := drain(t, alice)
	assert.Equal(t, protocol.CodeInfo, alertOf(t, frames).str("code"))
}

func TestDMBlockSkipsLiveDelivery(t *testing.T) {
	h := startHub(t, testConfig())
	alice := connect(t, h, "alice", identity.RoleUser, "10.0.0.1")
	bob := connect(t, h, "bob", identity.RoleUser, "10.0.0.2")
	drain(t, alice)
	drain(t, bob)

	sayText(t, h, bob, "/mutedm alice 10")
	frames, _ := drain(t, bob)
	assert.Equal(t, protocol.CodeInfo, alertOf(t, frames).str("code"))

	sayText(t, h, alice, `/dm bob are you there`)
	frames, _ = drain(t, alice)
	assert.Equal(t, protocol.CodeBlocked, alertOf(t, frames).str("code"))
	assert.Len(t, ofType(frames, protocol.EventMessage), 1)

	frames, _ = drain(t, bob)
	assert.Empty(t, frames)
	assert.Len(t, h.history.Snapshot("dm:"+channel.PairKey("alice", "bob")), 1)

	sayText(t, h, bob, "/unmutedm alice")
	drain(t, bob)
	sayText(t, h, alice, `/dm bob now?`)
	frames, _ = drain(t, bob)
	assert.Len(t, ofType(frames, protocol.EventMessage), 1)
}

func TestTypingRelay(t *testing.T) {
	h := startHub(t, testConfig())
	alice := connect(t, h, "alice", identity.RoleUser, "10.0.0.1")
	bob := connect(t, h, "bob", identity.RoleUser, "10.0.0.2")
	carol := connect(t, h, "carol", identity.RoleUser, "10.0.0.3")
	drain(t, alice)
	drain(t, bob)
	drain(t, carol)

	typing := true
	say(t, h, alice, protocol.Inbound{Typing: &typing})
	frames, _ := drain(t, alice)
	assert.Empty(t, frames)
	for _, c := range []*Client{bob, carol} {
		frames, _ = drain(t, c)
		events := ofType(frames, protocol.EventTyping)
		require.Len(t, events, 1)
		assert.Equal(t, "alice", events[0].str("user"))
		assert.Equal(t, true, events[0]["typing"])
	}

	say(t, h, alice, protocol.Inbound{Typing: &typing, Thread: protocol.ThreadDM, Peer: "bob"})
	frames, _ = drain(t, bob)
	events := ofType(frames, protocol.EventTyping)
	require.Len(t, events, 1)
	assert.Equal(t, "alice", events[0].str("peer"))
	frames, _ = drain(t, carol)
	assert.Empty(t, frames)
}

func TestClearMain(t *testing.T) {
	h := startHub(t, testConfig())
	alice := connect(t, h, "alice", identity.RoleUser, "10.0.0.1")
	bob := connect(t, h, "bob", identity.RoleAdmin, "10.0.0.2")
	sayText(t, h, alice, "one")
	drain(t, alice)
	drain(t, bob)

	sayText(t, h, alice, "/clear")
	frames, _ := drain(t, alice)
	alert := alertOf(t, frames)
	assert.Equal(t, "ONLY ADMIN CAN CLEAR CHAT", alert.str("text"))
	assert.Equal(t, 1, h.history.Len(h.channels.ResolveMain().Key))

	sayText(t, h, bob, "/clear")
	frames, _ = drain(t, alice)
	assert.Equal(t, []string{protocol.EventClear, protocol.EventSystem}, types(frames))
	assert.Equal(t, "Admin cleared the chat", frames[1].str("text"))
	assert.Equal(t, 0, h.history.Len(h.channels.ResolveMain().Key))
}

func TestDeleteRespectsOwnership(t *testing.T) {
	h := startHub(t, testConfig())
	alice := connect(t, h, "alice", identity.RoleUser, "10.0.0.1")
	bob := connect(t, h, "bob", identity.RoleUser, "10.0.0.2")
	drain(t, bob)
	sayText(t, h, alice, "mine")
	frames, _ := drain(t, alice)
	id := ofType(frames, protocol.EventMessage)[0].str("id")
	drain(t, bob)

	sayText(t, h, bob, "/delete "+id)
	frames, _ = drain(t, bob)
	assert.Equal(t, protocol.CodeForbidden, alertOf(t, frames).str("code"))

	sayText(t, h, bob, "/delete nope")
	frames, _ = drain(t, bob)
	assert.Equal(t, "message not found", alertOf(t, frames).str("text"))

	sayText(t, h, alice, "/delete "+id)
	frames, _ = drain(t, bob)
	deletes := ofType(frames, protocol.EventDelete)
	require.Len(t, deletes, 1)
	assert.Equal(t, id, deletes[0].str("id"))
	assert.Equal(t, 0, h.history.Len(h.channels.ResolveMain().Key))
}

func TestEditByAdmin(t *testing.T) {
	h := startHub(t, testConfig())
	alice := connect(t, h, "alice", identity.RoleUser, "10.0.0.1")
	bob := connect(t, h, "bob", identity.RoleAdmin, "10.0.0.2")
	sayText(t, h, alice, "typo")
	frames, _ := drain(t, alice)
	id := ofType(frames, protocol.EventMessage)[0].str("id")
	drain(t, bob)

	sayText(t, h, bob, `/edit `+id+` "fixed"`)
	frames, _ = drain(t, alice)
	updates := ofType(frames, protocol.EventUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, "fixed", updates[0].str("text"))

	e, ok := h.history.Find(h.channels.ResolveMain().Key, id)
	require.True(t, ok)
	assert.Equal(t, "fixed", e.Text)
}

func TestAdminManagementNeedsSuperPass(t *testing.T) {
	h := startHub(t, testConfig())
	bob := connect(t, h, "bob", identity.RoleAdmin, "10.0.0.2")
	alice := connect(t, h, "alice", identity.RoleUser, "10.0.0.1")
	drain(t, bob)
	drain(t, alice)

	sayText(t, h, bob, "/mkadmin alice wrong")
	frames, _ := drain(t, bob)
	assert.Equal(t, "invalid superpass", alertOf(t, frames).str("text"))
	assert.False(t, h.ids.EffectiveAdmin("alice"))

	sayText(t, h, bob, "/mkadmin alice "+testSuperPass)
	assert.True(t, h.ids.EffectiveAdmin("alice"))
	frames, _ = drain(t, alice)
	lists := ofType(frames, protocol.EventUserList)
	require.Len(t, lists, 1)
	assert.Contains(t, lists[0]["admins"], "alice")

	sayText(t, h, bob, "/rmadmin alice "+testSuperPass)
	assert.False(t, h.ids.EffectiveAdmin("alice"))
}

func TestTagCommands(t *testing.T) {
	h := startHub(t, testConfig())
	alice := connect(t, h, "alice", identity.RoleUser, "10.0.0.1")
	bob := connect(t, h, "bob", identity.RoleUser, "10.0.0.2")
	drain(t, alice)
	drain(t, bob)

	sayText(t, h, alice, `/tag myself "chef" -green`)
	frames, _ := drain(t, bob)
	lists := ofType(frames, protocol.EventUserList)
	require.Len(t, lists, 1)
	tags, ok := lists[0]["tags"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"text": "chef", "color": "green"}, tags["alice"])

	sayText(t, h, bob, `/tag "alice" "clown"`)
	frames, _ = drain(t, bob)
	assert.Equal(t, protocol.CodeForbidden, alertOf(t, frames).str("code"))

	sayText(t, h, alice, `/tag myself "DEV"`)
	frames, _ = drain(t, alice)
	assert.Equal(t, protocol.CodeInfo, alertOf(t, frames).str("code"))
}

func TestUnknownFrameTypeIgnored(t *testing.T) {
	h := startHub(t, testConfig())
	alice := connect(t, h, "alice", identity.RoleUser, "10.0.0.1")
	drain(t, alice)

	say(t, h, alice, protocol.Inbound{Type: "bogus"})
	say(t, h, alice, protocol.Inbound{Type: protocol.TypeActivity})
	frames, closed := drain(t, alice)
	assert.Empty(t, frames)
	assert.False(t, closed)
}

func TestPSABroadcastsSystemNotice(t *testing.T) {
	h := startHub(t, testConfig())
	bob := connect(t, h, "bob", identity.RoleAdmin, "10.0.0.2")
	alice := connect(t, h, "alice", identity.RoleUser, "10.0.0.1")
	drain(t, bob)
	drain(t, alice)

	sayText(t, h, bob, "/psa maintenance at noon")
	frames, _ := drain(t, alice)
	systems := ofType(frames, protocol.EventSystem)
	require.Len(t, systems, 1)
	assert.Equal(t, "Maintenance at noon", systems[0].str("text"))
	assert.Equal(t, 0, h.history.Len(h.channels.ResolveMain().Key))
}
