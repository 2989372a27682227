package chat

import (
	"context"
	"errors"
)

// ErrUnknownMember is returned by Member when the user is not in the guild.
var ErrUnknownMember = errors.New("unknown member")

// User is a participant as seen in a reaction listing.
type User struct {
	ID       string
	Username string
}

// Member is a guild member with its role IDs.
type Member struct {
	UserID   string
	Username string
	Roles    []string
}

// HasRole reports whether the member holds roleID.
func (m *Member) HasRole(roleID string) bool {
	for _, r := range m.Roles {
		if r == roleID {
			return true
		}
	}
	return false
}

// Message is the subset of a chat message the poll needs.
type Message struct {
	ID        string
	ChannelID string
	Content   string
	// Reactions holds the API names of markers present on the message.
	Reactions []string
}

// ReactionEvent is a single reaction added to or removed from a message.
type ReactionEvent struct {
	Added     bool
	GuildID   string
	ChannelID string
	MessageID string
	UserID    string
	Username  string
	Emoji     string // API name, e.g. "1️⃣" or "eleven:1475214132268761129"
}

// Platform is the chat service the poll runs on.
type Platform interface {
	BotUserID() string
	Channel(ctx context.Context, channelID string) error
	SendMessage(ctx context.Context, channelID, content string) (string, error)
	EditMessage(ctx context.Context, channelID, messageID, content string) error
	Message(ctx context.Context, channelID, messageID string) (*Message, error)
	AddReaction(ctx context.Context, channelID, messageID, emoji string) error
	ReactionUsers(ctx context.Context, channelID, messageID, emoji string) ([]User, error)
	RemoveReaction(ctx context.Context, channelID, messageID, emoji, userID string) error
	Member(ctx context.Context, guildID, userID string) (*Member, error)
	// SubscribeReactions delivers add/remove events for messageID until cancel is called.
	SubscribeReactions(messageID string, fn func(ReactionEvent)) (cancel func())
	StartThread(ctx context.Context, channelID, messageID, name string) (string, error)
	SendThreadMessage(ctx context.Context, threadID, content string) error
	ThreadExists(ctx context.Context, threadID string) bool
}
