// Package identity tracks per-user roles, runtime admin overrides, display
// tags, mutes, DM blocks and bans for the lifetime of the process.
//
// Derived state (effective admin, elevated tier, rank) is computed by pure
// functions over an Identity value so every caller agrees on precedence.
package identity

import "time"

// Role is the base role carried by an authentication token.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ParseRole maps a token claim to a role; anything unknown is a plain user.
func ParseRole(s string) Role {
	if Role(s) == RoleAdmin {
		return RoleAdmin
	}
	return RoleUser
}

// SpecialElevated marks the reserved tag that grants the highest tier.
const SpecialElevated = "dev"

// Tag is a display tag shown next to a username.
type Tag struct {
	Text    string `json:"text"`
	Color   string `json:"color"`
	Special string `json:"special,omitempty"`
}

// ElevatedTag is the reserved tag given to elevated identities.
var ElevatedTag = Tag{Text: "DEV", Color: "rainbow", Special: SpecialElevated}

// Identity is the moderation record for one username.
type Identity struct {
	Name           string
	Role           Role
	Promoted       bool
	Demoted        bool
	Tag            *Tag
	TagLocked      bool
	RejectsTagging bool
	MutedUntil     time.Time
	Origin         string
	LastActive     time.Time
}

// Rank orders privilege tiers.
type Rank int

const (
	RankUser Rank = iota
	RankAdmin
	RankElevated
)

func (r Rank) String() string {
	switch r {
	case RankAdmin:
		return "admin"
	case RankElevated:
		return "elevated"
	default:
		return "user"
	}
}

// Elevated reports whether id holds the highest tier.
func Elevated(id Identity) bool {
	return id.Tag != nil && id.Tag.Special == SpecialElevated
}

// EffectiveAdmin derives admin power. Precedence, highest first: elevated tag,
// runtime demotion, runtime promotion, base role.
func EffectiveAdmin(id Identity) bool {
	if Elevated(id) {
		return true
	}
	if id.Demoted {
		return false
	}
	if id.Promoted {
		return true
	}
	return id.Role == RoleAdmin
}

// RankOf returns the privilege tier of id.
func RankOf(id Identity) Rank {
	switch {
	case Elevated(id):
		return RankElevated
	case EffectiveAdmin(id):
		return RankAdmin
	default:
		return RankUser
	}
}

// Muted reports whether id is muted at now.
func Muted(id Identity, now time.Time) bool {
	return !id.MutedUntil.IsZero() && now.Before(id.MutedUntil)
}
