package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseValidCommands covers each argument shape with a valid input.
func TestParseValidCommands(t *testing.T) {
	cases := []struct {
		input string
		want  Command
	}{
		{`/ban "bob"`, Command{Name: Ban, User: "bob"}},
		{`/BAN bob`, Command{Name: Ban, User: "bob"}},
		{`./kick "bob"`, Command{Name: Kick, User: "bob"}},
		{`/kickA`, Command{Name: KickAll}},
		{`/mute "bob" 5`, Command{Name: Mute, User: "bob", Minutes: 5, HasMinutes: true}},
		{`/mutedm "bob"`, Command{Name: MuteDM, User: "bob"}},
		{`/mutedm "bob" 30`, Command{Name: MuteDM, User: "bob", Minutes: 30, HasMinutes: true}},
		{`/mkadmin "bob" hunter2`, Command{Name: MkAdmin, User: "bob", Secret: "hunter2"}},
		{`/tag myself "cool"`, Command{Name: Tag, Self: true, Text: "cool"}},
		{`/tag "myself" "cool" -r`, Command{Name: Tag, Self: true, Text: "cool", Color: "red"}},
		{`/tag "bob" "big fan" -emerald`, Command{Name: Tag, User: "bob", Text: "big fan", Color: "emerald"}},
		{`/rmtag`, Command{Name: RmTag}},
		{`/rmtag "bob"`, Command{Name: RmTag, User: "bob"}},
		{`/actag`, Command{Name: AcpTag}},
		{`/locktag "bob"`, Command{Name: LockTag, User: "bob"}},
		{`/delete bob-123`, Command{Name: Delete, ID: "bob-123"}},
		{`/edit bob-123 "fixed typo"`, Command{Name: Edit, ID: "bob-123", Text: "fixed typo"}},
		{`/dm "bob" hello there "friend`, Command{Name: DM, User: "bob", Text: `hello there "friend`}},
		{`/dm bob hi`, Command{Name: DM, User: "bob", Text: "hi"}},
		{`/psa server restarts at noon`, Command{Name: PSA, Text: "server restarts at noon"}},
		{`/ai stop`, Command{Name: AI, Action: ActionStop}},
		{`/ai stop "bob"`, Command{Name: AI, Action: ActionStop, User: "bob"}},
		{`/ai DISABLE`, Command{Name: AI, Action: ActionDisable}},
		{`/clear`, Command{Name: Clear}},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := Parse(tc.input)
			require.NoError(t, err)
			got.Spec = Spec{}
			assert.Equal(t, tc.want, got)
		})
	}
}

// TestParseUsageErrors reports the usage string for malformed arguments.
func TestParseUsageErrors(t *testing.T) {
	inputs := []string{
		`/ban`,
		`/ban "bob" "carol"`,
		`/mute "bob"`,
		`/mute "bob" soon`,
		`/mute "bob" -3`,
		`/mkadmin "bob"`,
		`/tag "cool"`,
		`/tag bob "cool"`,
		`/tag myself cool`,
		`/tag myself "cool" -ultraviolet`,
		`/delete`,
		`/edit id`,
		`/dm "bob"`,
		`/psa   `,
		`/ai`,
		`/ai explode`,
		`/clear now`,
		`/kick "unterminated`,
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			_, err := Parse(in)
			var usage *UsageError
			require.ErrorAs(t, err, &usage)
			assert.NotEmpty(t, usage.Usage)
		})
	}
}

// TestParseUnknownAndNonCommands separates unknown commands from plain text.
func TestParseUnknownAndNonCommands(t *testing.T) {
	_, err := Parse("/teleport home")
	assert.ErrorIs(t, err, ErrUnknown)

	_, err = Parse("/")
	assert.ErrorIs(t, err, ErrUnknown)

	_, err = Parse("hello /ban")
	assert.ErrorIs(t, err, ErrNotCommand)

	assert.True(t, IsCommand("  ./clear"))
	assert.False(t, IsCommand("hi"))
}

// TestTableTiers pins the permission tier of privileged commands.
func TestTableTiers(t *testing.T) {
	for _, name := range []string{Ban, Unban, Kick, KickAll, Mute, Unmute, MkAdmin, RmAdmin, Edit, PSA} {
		s, ok := Lookup(name)
		require.True(t, ok, name)
		assert.Equal(t, TierAdmin, s.Tier, name)
	}
	for _, name := range []string{LockTag, UnlockTag} {
		s, _ := Lookup(name)
		assert.Equal(t, TierElevated, s.Tier, name)
	}
	for _, name := range []string{Kick, Mute} {
		s, _ := Lookup(name)
		assert.True(t, s.Presence, name)
	}
	for _, name := range []string{Ban, Unban} {
		s, _ := Lookup(name)
		assert.False(t, s.Presence, name)
	}
	assert.Len(t, Specs(), len(table))
}

// TestParseMention recognizes prompts and stop requests.
func TestParseMention(t *testing.T) {
	m, ok := ParseMention("@ai what is go?")
	require.True(t, ok)
	assert.Equal(t, Mention{Prompt: "what is go?"}, m)

	m, ok = ParseMention("@AI stop")
	require.True(t, ok)
	assert.Equal(t, Mention{Stop: true}, m)

	m, ok = ParseMention(`@ai stop "bob"`)
	require.True(t, ok)
	assert.Equal(t, Mention{Stop: true, Target: "bob"}, m)

	m, ok = ParseMention("@ai stop talking about cats please")
	require.True(t, ok)
	assert.False(t, m.Stop)

	m, ok = ParseMention("@ai")
	require.True(t, ok)
	assert.Equal(t, "", m.Prompt)

	_, ok = ParseMention("@aiden hello")
	assert.False(t, ok)
	_, ok = ParseMention("hello @ai")
	assert.False(t, ok)
}
