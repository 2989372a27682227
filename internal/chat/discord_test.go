package chat

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func offlineSession(t *testing.T) *discordgo.Session {
	t.Helper()
	s, err := discordgo.New("Bot test-token")
	require.NoError(t, err)
	return s
}

func TestDiscord_BotUserID(t *testing.T) {
	s := offlineSession(t)
	d := NewDiscord(s, zaptest.NewLogger(t))
	assert.Empty(t, d.BotUserID())

	s.State.User = &discordgo.User{ID: "bot-1"}
	assert.Equal(t, "bot-1", d.BotUserID())
}

func TestDiscord_MemberFromState(t *testing.T) {
	s := offlineSession(t)
	require.NoError(t, s.State.GuildAdd(&discordgo.Guild{ID: "g1"}))
	require.NoError(t, s.State.MemberAdd(&discordgo.Member{
		GuildID: "g1",
		User:    &discordgo.User{ID: "u1", Username: "kai"},
		Roles:   []string{"tier-2", "supporter"},
	}))

	m, err := NewDiscord(s, nil).Member(context.Background(), "g1", "u1")
	require.NoError(t, err)
	assert.Equal(t, &Member{UserID: "u1", Username: "kai", Roles: []string{"tier-2", "supporter"}}, m)
	assert.True(t, m.HasRole("supporter"))
	assert.False(t, m.HasRole("tier-1"))
}

func TestReactionEvent(t *testing.T) {
	custom := reactionEvent(&discordgo.MessageReaction{
		UserID:    "u1",
		MessageID: "m1",
		ChannelID: "c1",
		GuildID:   "g1",
		Emoji:     discordgo.Emoji{ID: "1475214132268761129", Name: "eleven"},
	}, true)
	assert.Equal(t, ReactionEvent{
		Added:     true,
		GuildID:   "g1",
		ChannelID: "c1",
		MessageID: "m1",
		UserID:    "u1",
		Emoji:     "eleven:1475214132268761129",
	}, custom)

	unicode := reactionEvent(&discordgo.MessageReaction{UserID: "u1", Emoji: discordgo.Emoji{Name: "3️⃣"}}, false)
	assert.False(t, unicode.Added)
	assert.Equal(t, "3️⃣", unicode.Emoji)
}
