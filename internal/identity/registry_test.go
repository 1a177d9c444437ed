package identity

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingPersister struct {
	saved []BanSnapshot
	err   error
}

func (p *recordingPersister) Save(s BanSnapshot) error {
	p.saved = append(p.saved, s)
	return p.err
}

// TestEffectiveAdminPrecedence walks the precedence order of the derivation.
func TestEffectiveAdminPrecedence(t *testing.T) {
	dev := ElevatedTag
	cases := []struct {
		name string
		id   Identity
		want bool
		rank Rank
	}{
		{"plain user", Identity{Role: RoleUser}, false, RankUser},
		{"base admin", Identity{Role: RoleAdmin}, true, RankAdmin},
		{"demoted admin", Identity{Role: RoleAdmin, Demoted: true}, false, RankUser},
		{"promoted user", Identity{Role: RoleUser, Promoted: true}, true, RankAdmin},
		{"elevated user", Identity{Role: RoleUser, Tag: &dev}, true, RankElevated},
		{"demoted but elevated", Identity{Role: RoleAdmin, Demoted: true, Tag: &dev}, true, RankElevated},
		{"ordinary tag", Identity{Role: RoleUser, Tag: &Tag{Text: "cool", Color: "red"}}, false, RankUser},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, EffectiveAdmin(tc.id))
			assert.Equal(t, tc.rank, RankOf(tc.id))
		})
	}
}

// TestMuteExpiresLazily uses a simulated clock to check mute expiry.
func TestMuteExpiresLazily(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(WithClock(clock.Now))
	r.Touch("bob", RoleUser, "10.0.0.2")

	r.Mute("bob", 5*time.Minute)
	assert.True(t, r.IsMuted("bob"))
	assert.Equal(t, 5*time.Minute, r.MuteRemaining("bob"))

	clock.Advance(4 * time.Minute)
	assert.True(t, r.IsMuted("bob"))

	clock.Advance(time.Minute)
	assert.False(t, r.IsMuted("bob"))

	id, ok := r.Get("bob")
	require.True(t, ok)
	assert.True(t, id.MutedUntil.IsZero(), "expired mute clears itself on check")
}

// TestUnmute reports whether a mute was active.
func TestUnmute(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Unmute("ghost"))

	r.Mute("bob", time.Hour)
	assert.True(t, r.Unmute("bob"))
	assert.False(t, r.IsMuted("bob"))
}

// TestDMBlockIsOneWay checks receiver-side blocks and their expiry.
func TestDMBlockIsOneWay(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(WithClock(clock.Now))

	r.BlockDM("alice", "bob", time.Hour)
	assert.True(t, r.DMBlocked("alice", "bob"))
	assert.False(t, r.DMBlocked("bob", "alice"))

	clock.Advance(time.Hour)
	assert.False(t, r.DMBlocked("alice", "bob"))

	r.BlockDM("alice", "bob", time.Hour)
	assert.True(t, r.UnblockDM("alice", "bob"))
	assert.False(t, r.DMBlocked("alice", "bob"))
}

// TestBanByNameAndOrigin covers online and offline bans and persistence.
func TestBanByNameAndOrigin(t *testing.T) {
	p := &recordingPersister{}
	r := NewRegistry(WithPersister(p))
	r.Touch("bob", RoleUser, "10.0.0.2")

	r.Ban("bob", "")
	assert.True(t, r.IsBanned("bob", ""))
	assert.True(t, r.IsBanned("bob-alt", "10.0.0.2"), "origin ban matches other names")
	assert.False(t, r.IsBanned("carol", "10.0.0.3"))

	r.Ban("offline", "")
	assert.True(t, r.IsBanned("offline", "10.9.9.9"))

	require.Len(t, p.saved, 2)
	last := p.saved[1]
	assert.Equal(t, []string{"bob", "offline"}, last.Users)
	assert.Equal(t, []string{"10.0.0.2"}, last.Origins)
	assert.Equal(t, map[string]string{"bob": "10.0.0.2"}, last.UserOrigins)

	require.NoError(t, r.Unban("bob"))
	assert.False(t, r.IsBanned("bob", "10.0.0.2"))
	assert.ErrorIs(t, r.Unban("bob"), ErrNotBanned)
}

// TestBanPersistFailureDoesNotBlock ensures persistence errors stay internal.
func TestBanPersistFailureDoesNotBlock(t *testing.T) {
	p := &recordingPersister{err: errors.New("disk full")}
	r := NewRegistry(WithPersister(p))

	r.Ban("bob", "1.2.3.4")
	assert.True(t, r.IsBanned("bob", ""))
	assert.Len(t, p.saved, 1)
}

// TestRestoreDropsOrphanMappings keeps only mappings for banned users.
func TestRestoreDropsOrphanMappings(t *testing.T) {
	r := NewRegistry()
	r.Restore(BanSnapshot{
		Users:       []string{"bob"},
		Origins:     []string{"1.1.1.1"},
		UserOrigins: map[string]string{"bob": "1.1.1.1", "ghost": "2.2.2.2"},
	})

	snap := r.Bans()
	assert.Equal(t, map[string]string{"bob": "1.1.1.1"}, snap.UserOrigins)
	name, ok := r.BannedName("BOB")
	assert.True(t, ok)
	assert.Equal(t, "bob", name)
}

// TestOriginBinding enforces the first-seen origin only when enabled.
func TestOriginBinding(t *testing.T) {
	off := NewRegistry()
	assert.NoError(t, off.BindOrigin("1.1.1.1", "alice"))
	assert.NoError(t, off.BindOrigin("2.2.2.2", "alice"))

	on := NewRegistry(WithOriginBinding(true))
	require.NoError(t, on.BindOrigin("1.1.1.1", "alice"))
	assert.NoError(t, on.BindOrigin("1.1.1.1", "alice"))
	assert.ErrorIs(t, on.BindOrigin("2.2.2.2", "alice"), ErrOriginConflict)
}

// TestPromoteDemote covers runtime overrides.
func TestPromoteDemote(t *testing.T) {
	r := NewRegistry()
	r.Touch("alice", RoleAdmin, "")
	r.Touch("bob", RoleUser, "")

	assert.ErrorIs(t, r.Demote("bob"), ErrNotAdmin)

	r.Promote("bob")
	assert.True(t, r.EffectiveAdmin("bob"))
	require.NoError(t, r.Demote("bob"))
	assert.False(t, r.EffectiveAdmin("bob"))

	require.NoError(t, r.Demote("alice"))
	assert.False(t, r.EffectiveAdmin("alice"))
	assert.ErrorIs(t, r.Demote("alice"), ErrNotAdmin)

	r.Promote("alice")
	assert.True(t, r.EffectiveAdmin("alice"))

	// role refresh on reconnect keeps the runtime override
	r.Touch("bob", RoleUser, "")
	assert.False(t, r.EffectiveAdmin("bob"))
}

// TestTagRules covers reserved text, opt-out and locks.
func TestTagRules(t *testing.T) {
	r := NewRegistry()
	r.Touch("alice", RoleAdmin, "")
	r.Touch("bob", RoleUser, "")
	r.Touch("root", RoleUser, "")
	r.Elevate("root")

	assert.ErrorIs(t, r.SetTag("bob", "bob", "Admin", ""), ErrReservedTag)
	assert.ErrorIs(t, r.SetTag("bob", "bob", " dev ", ""), ErrReservedTag)
	assert.ErrorIs(t, r.SetTag("bob", "bob", "  ", ""), ErrEmptyTag)

	require.NoError(t, r.SetTag("bob", "bob", "cool", ""))
	tags := r.Tags([]string{"bob"})
	assert.Equal(t, Tag{Text: "cool", Color: DefaultTagColor}, tags["bob"])

	r.SetRejectsTagging("bob", true)
	assert.ErrorIs(t, r.SetTag("alice", "bob", "nerd", "red"), ErrRejectsTagging)
	require.NoError(t, r.SetTag("bob", "bob", "mine", "red"), "self-tagging still allowed")
	r.SetRejectsTagging("bob", false)

	assert.ErrorIs(t, r.SetTagLock("alice", "bob", true), ErrNotElevated)
	require.NoError(t, r.SetTagLock("root", "bob", true))
	assert.ErrorIs(t, r.SetTag("bob", "bob", "new", ""), ErrTagLocked)
	assert.ErrorIs(t, r.SetTag("alice", "bob", "new", ""), ErrTagLocked)
	assert.ErrorIs(t, r.ClearTag("bob", "bob"), ErrTagLocked)
	require.NoError(t, r.SetTag("root", "bob", "locked-in", "cyan"))

	require.NoError(t, r.SetTagLock("root", "bob", false))
	require.NoError(t, r.ClearTag("bob", "bob"))
	assert.ErrorIs(t, r.ClearTag("bob", "bob"), ErrNoTag)
}

// TestElevatedTagHeldAgainstAdmins keeps the highest tier out of reach of
// plain admins.
func TestElevatedTagHeldAgainstAdmins(t *testing.T) {
	r := NewRegistry()
	r.Touch("alice", RoleAdmin, "")
	r.Touch("root", RoleUser, "")
	r.Touch("sudo", RoleUser, "")
	r.Elevate("root")
	r.Elevate("sudo")

	assert.ErrorIs(t, r.ClearTag("alice", "root"), ErrElevatedTag)
	assert.ErrorIs(t, r.SetTag("alice", "root", "x", ""), ErrElevatedTag)
	assert.True(t, r.Elevated("root"))

	require.NoError(t, r.SetTag("sudo", "root", "peer", ""))
	assert.False(t, r.Elevated("root"), "elevated peers may replace it")
}

// TestRosterHelpers checks Admins and Tags over a name list.
func TestRosterHelpers(t *testing.T) {
	r := NewRegistry()
	r.Touch("carol", RoleUser, "")
	r.Touch("alice", RoleAdmin, "")
	r.Touch("root", RoleUser, "")
	r.Elevate("root")

	names := []string{"root", "carol", "alice", "unknown"}
	assert.Equal(t, []string{"alice", "root"}, r.Admins(names))
	assert.Equal(t, map[string]Tag{"root": ElevatedTag}, r.Tags(names))
	assert.Equal(t, RankElevated, r.Rank("root"))
	assert.Equal(t, RankUser, r.Rank("unknown"))
}

// TestLookupIsCaseInsensitive resolves canonical spelling.
func TestLookupIsCaseInsensitive(t *testing.T) {
	r := NewRegistry()
	r.Touch("Alice", RoleUser, "")

	name, ok := r.Lookup("alice")
	assert.True(t, ok)
	assert.Equal(t, "Alice", name)

	_, ok = r.Lookup("bob")
	assert.False(t, ok)
}
