package identity

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Tyrowin/chathub/internal/logger"
)

var (
	ErrReservedTag    = errors.New("that tag is reserved")
	ErrEmptyTag       = errors.New("tag text is empty")
	ErrTagLocked      = errors.New("tag is locked")
	ErrElevatedTag    = errors.New("only the elevated tier can change that tag")
	ErrRejectsTagging = errors.New("user has blocked being tagged")
	ErrNoTag          = errors.New("no tag set")
	ErrNotAdmin       = errors.New("user is not an admin")
	ErrNotBanned      = errors.New("user is not banned")
	ErrOriginConflict = errors.New("username is reserved for another origin")
	ErrNotElevated    = errors.New("requires the elevated tier")
)

// DefaultTagColor is used when a tag is set without a color.
const DefaultTagColor = "orange"

var reservedTagText = map[string]struct{}{
	"dev":   {},
	"admin": {},
}

// BanSnapshot is the durable part of the moderation state.
type BanSnapshot struct {
	Users       []string          `json:"users"`
	Origins     []string          `json:"origins"`
	UserOrigins map[string]string `json:"user_origins"`
}

// BanPersister stores ban snapshots. Save is called after every ban change;
// failures are logged and never returned to the caller.
type BanPersister interface {
	Save(BanSnapshot) error
}

type dmPair struct {
	receiver string
	sender   string
}

// Registry holds all identity and moderation state. Each method holds the
// registry lock for its full read-modify-write sequence.
type Registry struct {
	mu sync.Mutex

	users    map[string]*Identity
	bindings map[string]string

	bannedUsers   map[string]struct{}
	bannedOrigins map[string]struct{}
	banOrigins    map[string]string

	dmBlocks map[dmPair]time.Time

	now           func() time.Time
	persister     BanPersister
	enforceOrigin bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithPersister attaches durable ban storage.
func WithPersister(p BanPersister) Option {
	return func(r *Registry) { r.persister = p }
}

// WithOriginBinding enables first-seen origin binding of usernames.
func WithOriginBinding(enabled bool) Option {
	return func(r *Registry) { r.enforceOrigin = enabled }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		users:         make(map[string]*Identity),
		bindings:      make(map[string]string),
		bannedUsers:   make(map[string]struct{}),
		bannedOrigins: make(map[string]struct{}),
		banOrigins:    make(map[string]string),
		dmBlocks:      make(map[dmPair]time.Time),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Now returns the registry clock.
func (r *Registry) Now() time.Time { return r.now() }

func (r *Registry) ensure(name string) *Identity {
	id, ok := r.users[name]
	if !ok {
		id = &Identity{Name: name, Role: RoleUser}
		r.users[name] = id
	}
	return id
}

func clone(id *Identity) Identity {
	out := *id
	if id.Tag != nil {
		t := *id.Tag
		out.Tag = &t
	}
	return out
}

// Touch records a successful connection: it creates the identity on first
// sight and refreshes role and last-known origin.
func (r *Registry) Touch(name string, role Role, origin string) Identity {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.ensure(name)
	id.Role = role
	if origin != "" {
		id.Origin = origin
	}
	id.LastActive = r.now()
	return clone(id)
}

// TouchActivity refreshes the last-activity timestamp of a known identity.
func (r *Registry) TouchActivity(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.users[name]; ok {
		id.LastActive = r.now()
	}
}

// Get returns a copy of the identity record.
func (r *Registry) Get(name string) (Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.users[name]
	if !ok {
		return Identity{}, false
	}
	return clone(id), true
}

// Lookup resolves name case-insensitively against known identities.
func (r *Registry) Lookup(name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[name]; ok {
		return name, true
	}
	for known := range r.users {
		if strings.EqualFold(known, name) {
			return known, true
		}
	}
	return "", false
}

// BindOrigin checks and records the origin a username was first seen from.
// With binding disabled it always succeeds.
func (r *Registry) BindOrigin(origin, name string) error {
	if !r.enforceOrigin || origin == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	bound, ok := r.bindings[name]
	if ok && bound != origin {
		return ErrOriginConflict
	}
	r.bindings[name] = origin
	return nil
}

// EffectiveAdmin reports the derived admin status of name.
func (r *Registry) EffectiveAdmin(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.users[name]
	return ok && EffectiveAdmin(*id)
}

// Elevated reports whether name holds the highest tier.
func (r *Registry) Elevated(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.users[name]
	return ok && Elevated(*id)
}

// Rank returns the privilege tier of name; unknown names are plain users.
func (r *Registry) Rank(name string) Rank {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.users[name]
	if !ok {
		return RankUser
	}
	return RankOf(*id)
}

// Elevate grants the highest tier by installing the reserved tag.
func (r *Registry) Elevate(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := ElevatedTag
	r.ensure(name).Tag = &t
}

// Promote grants runtime admin status and clears any demotion.
func (r *Registry) Promote(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.ensure(name)
	id.Promoted = true
	id.Demoted = false
}

// Demote revokes admin status. It fails when name is not an admin.
func (r *Registry) Demote(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.users[name]
	if !ok || id.Demoted || id.Role != RoleAdmin && !id.Promoted {
		return ErrNotAdmin
	}
	id.Promoted = false
	id.Demoted = true
	return nil
}

// Mute silences name in shared channels for d and returns the expiry.
func (r *Registry) Mute(name string, d time.Duration) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	until := r.now().Add(d)
	r.ensure(name).MutedUntil = until
	return until
}

// Unmute lifts a mute. It reports whether name was muted.
func (r *Registry) Unmute(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.users[name]
	if !ok || !Muted(*id, r.now()) {
		return false
	}
	id.MutedUntil = time.Time{}
	return true
}

// IsMuted evaluates the mute lazily; an expired mute is cleared here.
func (r *Registry) IsMuted(name string) bool {
	return r.MuteRemaining(name) > 0
}

// MuteRemaining returns the time left on a mute, or zero.
func (r *Registry) MuteRemaining(name string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.users[name]
	if !ok || id.MutedUntil.IsZero() {
		return 0
	}
	now := r.now()
	if !now.Before(id.MutedUntil) {
		id.MutedUntil = time.Time{}
		return 0
	}
	return id.MutedUntil.Sub(now)
}

// BlockDM stops live DM delivery from sender to receiver for d.
func (r *Registry) BlockDM(receiver, sender string, d time.Duration) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	until := r.now().Add(d)
	r.dmBlocks[dmPair{receiver, sender}] = until
	return until
}

// UnblockDM removes a block. It reports whether one was active.
func (r *Registry) UnblockDM(receiver, sender string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := dmPair{receiver, sender}
	until, ok := r.dmBlocks[key]
	delete(r.dmBlocks, key)
	return ok && r.now().Before(until)
}

// DMBlocked reports whether receiver currently blocks sender.
func (r *Registry) DMBlocked(receiver, sender string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := dmPair{receiver, sender}
	until, ok := r.dmBlocks[key]
	if !ok {
		return false
	}
	if !r.now().Before(until) {
		delete(r.dmBlocks, key)
		return false
	}
	return true
}

// IsBanned matches by username or by origin.
func (r *Registry) IsBanned(name, origin string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.bannedUsers[name]; ok {
		return true
	}
	if origin == "" {
		return false
	}
	_, ok := r.bannedOrigins[origin]
	return ok
}

// Ban records name and, when known, an origin. An empty origin falls back to
// the last origin seen for name.
func (r *Registry) Ban(name, origin string) {
	r.mu.Lock()
	if origin == "" {
		if id, ok := r.users[name]; ok {
			origin = id.Origin
		}
	}
	r.bannedUsers[name] = struct{}{}
	if origin != "" {
		r.bannedOrigins[origin] = struct{}{}
		r.banOrigins[name] = origin
	}
	snap := r.snapshotLocked()
	r.mu.Unlock()

	r.persist(snap)
}

// Unban removes the username ban and the origin recorded with it.
func (r *Registry) Unban(name string) error {
	r.mu.Lock()
	if _, ok := r.bannedUsers[name]; !ok {
		r.mu.Unlock()
		return ErrNotBanned
	}
	delete(r.bannedUsers, name)
	if origin, ok := r.banOrigins[name]; ok {
		delete(r.bannedOrigins, origin)
		delete(r.banOrigins, name)
	}
	snap := r.snapshotLocked()
	r.mu.Unlock()

	r.persist(snap)
	return nil
}

// BannedName resolves name case-insensitively against the ban list.
func (r *Registry) BannedName(name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.bannedUsers[name]; ok {
		return name, true
	}
	for banned := range r.bannedUsers {
		if strings.EqualFold(banned, name) {
			return banned, true
		}
	}
	return "", false
}

// Bans returns the current ban snapshot.
func (r *Registry) Bans() BanSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Restore replaces the ban state, typically from durable storage at startup.
func (r *Registry) Restore(s BanSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.bannedUsers = make(map[string]struct{}, len(s.Users))
	r.bannedOrigins = make(map[string]struct{}, len(s.Origins))
	r.banOrigins = make(map[string]string, len(s.UserOrigins))
	for _, u := range s.Users {
		r.bannedUsers[u] = struct{}{}
	}
	for _, o := range s.Origins {
		r.bannedOrigins[o] = struct{}{}
	}
	for u, o := range s.UserOrigins {
		if _, ok := r.bannedUsers[u]; ok {
			r.banOrigins[u] = o
		}
	}
}

func (r *Registry) snapshotLocked() BanSnapshot {
	s := BanSnapshot{
		Users:       make([]string, 0, len(r.bannedUsers)),
		Origins:     make([]string, 0, len(r.bannedOrigins)),
		UserOrigins: make(map[string]string, len(r.banOrigins)),
	}
	for u := range r.bannedUsers {
		s.Users = append(s.Users, u)
	}
	for o := range r.bannedOrigins {
		s.Origins = append(s.Origins, o)
	}
	for u, o := range r.banOrigins {
		s.UserOrigins[u] = o
	}
	sort.Strings(s.Users)
	sort.Strings(s.Origins)
	return s
}

func (r *Registry) persist(s BanSnapshot) {
	if r.persister == nil {
		return
	}
	if err := r.persister.Save(s); err != nil {
		logger.Warn("ban_persist_failed", zap.Error(err), zap.Int("users", len(s.Users)))
	}
}
