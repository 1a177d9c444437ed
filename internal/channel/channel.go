// Package channel resolves broadcast scopes: the Main room, two-party direct
// message channels keyed by a canonical pair key, and named groups with an
// explicit member set.
package channel

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Kind is the channel variant.
type Kind int

const (
	Main Kind = iota
	DirectMessage
	Group
)

func (k Kind) String() string {
	switch k {
	case DirectMessage:
		return "dm"
	case Group:
		return "gc"
	default:
		return "main"
	}
}

const (
	mainKey       = "main"
	pairSeparator = "::"
	ellipsis      = "…"
)

var (
	ErrSelfDM      = errors.New("cannot open a direct message with yourself")
	ErrNoGroup     = errors.New("group does not exist")
	ErrNotMember   = errors.New("not a member of this group")
	ErrNotCreator  = errors.New("only the group creator can do that")
	ErrInvalidName = errors.New("group name is empty")
)

// Channel is a resolved broadcast scope. Key is unique across all variants
// and is used to address history buffers.
type Channel struct {
	Kind    Kind
	Key     string
	Pair    [2]string
	GroupID string
}

// IsMain reports whether c is the Main room.
func (c Channel) IsMain() bool { return c.Kind == Main }

// Peer returns the other participant of a DM from self's point of view.
func (c Channel) Peer(self string) string {
	if c.Pair[0] == self {
		return c.Pair[1]
	}
	return c.Pair[0]
}

// Includes reports whether name is one of the DM participants.
func (c Channel) Includes(name string) bool {
	return c.Kind == DirectMessage && (c.Pair[0] == name || c.Pair[1] == name)
}

// PairKey is the canonical DM key: the sorted usernames joined by "::".
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + pairSeparator + b
}

// GroupInfo is an immutable view of a group.
type GroupInfo struct {
	ID      string   `json:"gcid"`
	Name    string   `json:"name"`
	Creator string   `json:"creator"`
	Members []string `json:"members"`
}

type group struct {
	id      string
	name    string
	creator string
	members map[string]struct{}
	created time.Time
}

func (g *group) info() GroupInfo {
	members := make([]string, 0, len(g.members))
	for m := range g.members {
		members = append(members, m)
	}
	sort.Strings(members)
	return GroupInfo{ID: g.id, Name: g.name, Creator: g.creator, Members: members}
}

// Registry owns the DM and group channel sets.
type Registry struct {
	mu      sync.Mutex
	dms     map[string]Channel
	groups  map[string]*group
	nameMax int
	newID   func() string
}

// NewRegistry creates a registry; nameMax bounds group names in runes.
func NewRegistry(nameMax int) *Registry {
	if nameMax <= 0 {
		nameMax = 20
	}
	return &Registry{
		dms:     make(map[string]Channel),
		groups:  make(map[string]*group),
		nameMax: nameMax,
		newID:   uuid.NewString,
	}
}

// ResolveMain returns the Main room.
func (r *Registry) ResolveMain() Channel {
	return Channel{Kind: Main, Key: mainKey}
}

// ResolveOrCreateDM returns the DM channel between a and b; (a, b) and (b, a)
// resolve to the same channel.
func (r *Registry) ResolveOrCreateDM(a, b string) (Channel, error) {
	if a == b {
		return Channel{}, ErrSelfDM
	}
	key := PairKey(a, b)

	r.mu.Lock()
	defer r.mu.Unlock()

	if ch, ok := r.dms[key]; ok {
		return ch, nil
	}
	first, second := a, b
	if second < first {
		first, second = second, first
	}
	ch := Channel{Kind: DirectMessage, Key: "dm:" + key, Pair: [2]string{first, second}}
	r.dms[key] = ch
	return ch, nil
}

// ForgetDM drops a DM channel record; it is recreated lazily on next use.
func (r *Registry) ForgetDM(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, ch := range r.dms {
		if ch.Key == key {
			delete(r.dms, k)
		}
	}
}

// ClampName trims a group name and truncates it to max runes with an
// ellipsis marker.
func ClampName(name string, max int) string {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) <= max {
		return name
	}
	runes := []rune(name)
	return string(runes[:max]) + ellipsis
}

// GroupChannel returns the channel descriptor for group id.
func GroupChannel(id string) Channel {
	return Channel{Kind: Group, Key: "gc:" + id, GroupID: id}
}

// CreateGroup creates a group. The creator is always a member.
func (r *Registry) CreateGroup(name, creator string, members []string) (GroupInfo, error) {
	name = ClampName(name, r.nameMax)
	if name == "" {
		return GroupInfo{}, ErrInvalidName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	g := &group{
		id:      r.newID(),
		name:    name,
		creator: creator,
		members: map[string]struct{}{creator: {}},
		created: time.Now(),
	}
	for _, m := range members {
		if m = strings.TrimSpace(m); m != "" {
			g.members[m] = struct{}{}
		}
	}
	r.groups[g.id] = g
	return g.info(), nil
}

// Group returns the group and its channel.
func (r *Registry) Group(id string) (GroupInfo, Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[id]
	if !ok {
		return GroupInfo{}, Channel{}, ErrNoGroup
	}
	return g.info(), GroupChannel(id), nil
}

// ResolveGroup returns the group channel if name is a member.
func (r *Registry) ResolveGroup(id, name string) (Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[id]
	if !ok {
		return Channel{}, ErrNoGroup
	}
	if _, member := g.members[name]; !member {
		return Channel{}, ErrNotMember
	}
	return GroupChannel(id), nil
}

// Members returns the sorted member list of a group, or nil if it is gone.
func (r *Registry) Members(id string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[id]
	if !ok {
		return nil
	}
	return g.info().Members
}

// ExitResult describes the outcome of a member leaving.
type ExitResult struct {
	Deleted    bool
	NewCreator string
	Group      GroupInfo
}

// RemoveMember removes name. When the creator leaves, ownership passes to the
// lexicographically smallest remaining member; an empty group is deleted.
func (r *Registry) RemoveMember(id, name string) (ExitResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[id]
	if !ok {
		return ExitResult{}, ErrNoGroup
	}
	if _, member := g.members[name]; !member {
		return ExitResult{}, ErrNotMember
	}
	delete(g.members, name)

	if len(g.members) == 0 {
		delete(r.groups, id)
		return ExitResult{Deleted: true, Group: g.info()}, nil
	}

	res := ExitResult{}
	if g.creator == name {
		remaining := g.info().Members
		g.creator = remaining[0]
		res.NewCreator = g.creator
	}
	res.Group = g.info()
	return res, nil
}

// UpdateResult lists the members added and removed by an update.
type UpdateResult struct {
	Group   GroupInfo
	Added   []string
	Removed []string
	Renamed bool
}

// Update lets the creator rename the group and replace its member set. A nil
// members slice leaves membership unchanged; the creator is always kept.
func (r *Registry) Update(id, requester, name string, members []string) (UpdateResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[id]
	if !ok {
		return UpdateResult{}, ErrNoGroup
	}
	if g.creator != requester {
		return UpdateResult{}, ErrNotCreator
	}

	res := UpdateResult{}
	if name = ClampName(name, r.nameMax); name != "" && name != g.name {
		g.name = name
		res.Renamed = true
	}

	if members != nil {
		next := map[string]struct{}{g.creator: {}}
		for _, m := range members {
			if m = strings.TrimSpace(m); m != "" {
				next[m] = struct{}{}
			}
		}
		for m := range next {
			if _, ok := g.members[m]; !ok {
				res.Added = append(res.Added, m)
			}
		}
		for m := range g.members {
			if _, ok := next[m]; !ok {
				res.Removed = append(res.Removed, m)
			}
		}
		g.members = next
		sort.Strings(res.Added)
		sort.Strings(res.Removed)
	}
	res.Group = g.info()
	return res, nil
}

// Delete removes a group on behalf of its creator.
func (r *Registry) Delete(id, requester string) (GroupInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[id]
	if !ok {
		return GroupInfo{}, ErrNoGroup
	}
	if g.creator != requester {
		return GroupInfo{}, ErrNotCreator
	}
	delete(r.groups, id)
	return g.info(), nil
}

// GroupsFor lists the groups name belongs to, oldest first.
func (r *Registry) GroupsFor(name string) []GroupInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	var owned []*group
	for _, g := range r.groups {
		if _, ok := g.members[name]; ok {
			owned = append(owned, g)
		}
	}
	sort.Slice(owned, func(i, j int) bool {
		if owned[i].created.Equal(owned[j].created) {
			return owned[i].id < owned[j].id
		}
		return owned[i].created.Before(owned[j].created)
	})
	out := make([]GroupInfo, 0, len(owned))
	for _, g := range owned {
		out = append(out, g.info())
	}
	return out
}

// GroupExists reports whether a group key still refers to a live group.
func (r *Registry) GroupExists(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.groups[id]
	return ok
}
