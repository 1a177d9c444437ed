// Package command parses slash commands against a fixed table. Each entry
// names the command, the argument shape it accepts and the permission tier
// required to run it; Parse turns raw input into a Command value before any
// handler sees it.
package command

// Tier is the minimum privilege needed to run a command.
type Tier int

const (
	TierUser Tier = iota
	TierAdmin
	TierElevated
)

func (t Tier) String() string {
	switch t {
	case TierAdmin:
		return "admin"
	case TierElevated:
		return "elevated"
	default:
		return "user"
	}
}

// Shape is the argument grammar of a command.
type Shape int

const (
	ShapeNone Shape = iota
	ShapeUser
	ShapeOptionalUser
	ShapeUserMinutes
	ShapeUserOptionalMinutes
	ShapeUserSecret
	ShapeTag
	ShapeID
	ShapeIDText
	ShapeUserText
	ShapeText
	ShapeAI
)

// Spec is one row of the command table.
type Spec struct {
	Name  string
	Shape Shape
	Tier  Tier
	// Presence marks commands whose target must be connected.
	Presence bool
	Usage    string
}

// Command names.
const (
	Ban       = "ban"
	Unban     = "unban"
	Kick      = "kick"
	KickAll   = "kicka"
	Mute      = "mute"
	Unmute    = "unmute"
	MkAdmin   = "mkadmin"
	RmAdmin   = "rmadmin"
	Tag       = "tag"
	RmTag     = "rmtag"
	RjTag     = "rjtag"
	AcpTag    = "acptag"
	LockTag   = "locktag"
	UnlockTag = "unlocktag"
	Clear     = "clear"
	Delete    = "delete"
	Edit      = "edit"
	DM        = "dm"
	MuteDM    = "mutedm"
	UnmuteDM  = "unmutedm"
	PSA       = "psa"
	AI        = "ai"
)

var table = []Spec{
	{Name: Ban, Shape: ShapeUser, Tier: TierAdmin, Usage: `/ban "username"`},
	{Name: Unban, Shape: ShapeUser, Tier: TierAdmin, Usage: `/unban "username"`},
	{Name: Kick, Shape: ShapeUser, Tier: TierAdmin, Presence: true, Usage: `/kick "username"`},
	{Name: KickAll, Shape: ShapeNone, Tier: TierAdmin, Usage: `/kickA`},
	{Name: Mute, Shape: ShapeUserMinutes, Tier: TierAdmin, Presence: true, Usage: `/mute "username" minutes`},
	{Name: Unmute, Shape: ShapeUser, Tier: TierAdmin, Usage: `/unmute "username"`},
	{Name: MkAdmin, Shape: ShapeUserSecret, Tier: TierAdmin, Usage: `/mkadmin "username" superpass`},
	{Name: RmAdmin, Shape: ShapeUserSecret, Tier: TierAdmin, Usage: `/rmadmin "username" superpass`},
	{Name: Tag, Shape: ShapeTag, Tier: TierUser, Usage: `/tag myself "tag" [-color] or /tag "username" "tag" [-color]`},
	{Name: RmTag, Shape: ShapeOptionalUser, Tier: TierUser, Usage: `/rmtag ["username"]`},
	{Name: RjTag, Shape: ShapeNone, Tier: TierUser, Usage: `/rjtag`},
	{Name: AcpTag, Shape: ShapeNone, Tier: TierUser, Usage: `/acptag`},
	{Name: LockTag, Shape: ShapeUser, Tier: TierElevated, Usage: `/locktag "username"`},
	{Name: UnlockTag, Shape: ShapeUser, Tier: TierElevated, Usage: `/unlocktag "username"`},
	{Name: Clear, Shape: ShapeNone, Tier: TierUser, Usage: `/clear`},
	{Name: Delete, Shape: ShapeID, Tier: TierUser, Usage: `/delete messageId`},
	{Name: Edit, Shape: ShapeIDText, Tier: TierAdmin, Usage: `/edit messageId "new text"`},
	{Name: DM, Shape: ShapeUserText, Tier: TierUser, Usage: `/dm "username" message`},
	{Name: MuteDM, Shape: ShapeUserOptionalMinutes, Tier: TierUser, Usage: `/mutedm "username" [minutes]`},
	{Name: UnmuteDM, Shape: ShapeUser, Tier: TierUser, Usage: `/unmutedm "username"`},
	{Name: PSA, Shape: ShapeText, Tier: TierAdmin, Usage: `/psa message`},
	{Name: AI, Shape: ShapeAI, Tier: TierUser, Usage: `/ai stop ["username"] | /ai enable | /ai disable`},
}

var aliases = map[string]string{
	"actag": AcpTag,
}

var byName = func() map[string]Spec {
	m := make(map[string]Spec, len(table))
	for _, s := range table {
		m[s.Name] = s
	}
	return m
}()

// Lookup returns the table entry for name (case-insensitive, aliases
// resolved).
func Lookup(name string) (Spec, bool) {
	if canonical, ok := aliases[name]; ok {
		name = canonical
	}
	s, ok := byName[name]
	return s, ok
}

// Specs returns a copy of the command table.
func Specs() []Spec {
	out := make([]Spec, len(table))
	copy(out, table)
	return out
}

// ColorFlags maps tag color flags to UI color names.
var ColorFlags = map[string]string{
	"-r": "red", "-red": "red",
	"-g": "green", "-green": "green",
	"-b": "blue", "-blue": "blue",
	"-p": "pink", "-pink": "pink",
	"-y": "yellow", "-yellow": "yellow",
	"-w": "white", "-white": "white",
	"-c": "cyan", "-cyan": "cyan",
	"-purple":  "purple",
	"-violet":  "violet",
	"-indigo":  "indigo",
	"-teal":    "teal",
	"-lime":    "lime",
	"-amber":   "amber",
	"-emerald": "emerald",
	"-fuchsia": "fuchsia",
	"-sky":     "sky",
	"-gray":    "gray",
}
