package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// reactionPageSize is the maximum page size of the reactions endpoint.
const reactionPageSize = 100

// threadArchiveMinutes is the inactivity period after which Discord archives a thread.
const threadArchiveMinutes = 1440

// Discord implements Platform on a discordgo session.
type Discord struct {
	s      *discordgo.Session
	logger *zap.Logger
}

// NewDiscord wraps an opened session.
func NewDiscord(s *discordgo.Session, logger *zap.Logger) *Discord {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discord{s: s, logger: logger}
}

func (d *Discord) BotUserID() string {
	if d.s.State == nil || d.s.State.User == nil {
		return ""
	}
	return d.s.State.User.ID
}

func (d *Discord) Channel(ctx context.Context, channelID string) error {
	_, err := d.s.Channel(channelID, discordgo.WithContext(ctx))
	return err
}

func (d *Discord) SendMessage(ctx context.Context, channelID, content string) (string, error) {
	m, err := d.s.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	if err != nil {
		return "", err
	}
	return m.ID, nil
}

func (d *Discord) EditMessage(ctx context.Context, channelID, messageID, content string) error {
	_, err := d.s.ChannelMessageEdit(channelID, messageID, content, discordgo.WithContext(ctx))
	return err
}

func (d *Discord) Message(ctx context.Context, channelID, messageID string) (*Message, error) {
	m, err := d.s.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	out := &Message{ID: m.ID, ChannelID: m.ChannelID, Content: m.Content}
	for _, r := range m.Reactions {
		if r.Emoji != nil {
			out.Reactions = append(out.Reactions, r.Emoji.APIName())
		}
	}
	return out, nil
}

func (d *Discord) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	return d.s.MessageReactionAdd(channelID, messageID, emoji, discordgo.WithContext(ctx))
}

// ReactionUsers pages through every user that reacted with emoji.
func (d *Discord) ReactionUsers(ctx context.Context, channelID, messageID, emoji string) ([]User, error) {
	var out []User
	after := ""
	for {
		page, err := d.s.MessageReactions(channelID, messageID, emoji, reactionPageSize, "", after, discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("list reactions %s: %w", emoji, err)
		}
		for _, u := range page {
			out = append(out, User{ID: u.ID, Username: u.Username})
		}
		if len(page) < reactionPageSize {
			return out, nil
		}
		after = page[len(page)-1].ID
	}
}

func (d *Discord) RemoveReaction(ctx context.Context, channelID, messageID, emoji, userID string) error {
	return d.s.MessageReactionRemove(channelID, messageID, emoji, userID, discordgo.WithContext(ctx))
}

// Member resolves a guild member, preferring the state cache.
func (d *Discord) Member(ctx context.Context, guildID, userID string) (*Member, error) {
	if d.s.State != nil {
		if m, err := d.s.State.Member(guildID, userID); err == nil {
			return toMember(m, userID), nil
		}
	}
	m, err := d.s.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		var restErr *discordgo.RESTError
		if errors.As(err, &restErr) && restErr.Message != nil &&
			(restErr.Message.Code == discordgo.ErrCodeUnknownMember || restErr.Message.Code == discordgo.ErrCodeUnknownUser) {
			return nil, ErrUnknownMember
		}
		return nil, err
	}
	return toMember(m, userID), nil
}

func toMember(m *discordgo.Member, userID string) *Member {
	out := &Member{UserID: userID, Roles: m.Roles}
	if m.User != nil {
		out.Username = m.User.Username
	}
	return out
}

// SubscribeReactions registers gateway handlers filtered to messageID.
func (d *Discord) SubscribeReactions(messageID string, fn func(ReactionEvent)) func() {
	removeAdd := d.s.AddHandler(func(_ *discordgo.Session, e *discordgo.MessageReactionAdd) {
		if e.MessageReaction == nil || e.MessageID != messageID {
			return
		}
		ev := reactionEvent(e.MessageReaction, true)
		if e.Member != nil && e.Member.User != nil {
			ev.Username = e.Member.User.Username
		}
		fn(ev)
	})
	removeRemove := d.s.AddHandler(func(_ *discordgo.Session, e *discordgo.MessageReactionRemove) {
		if e.MessageReaction == nil || e.MessageID != messageID {
			return
		}
		fn(reactionEvent(e.MessageReaction, false))
	})
	d.logger.Debug("reaction subscription installed", zap.String("message_id", messageID))
	return func() {
		removeAdd()
		removeRemove()
	}
}

func reactionEvent(r *discordgo.MessageReaction, added bool) ReactionEvent {
	return ReactionEvent{
		Added:     added,
		GuildID:   r.GuildID,
		ChannelID: r.ChannelID,
		MessageID: r.MessageID,
		UserID:    r.UserID,
		Emoji:     r.Emoji.APIName(),
	}
}

// StartThread opens a public thread on messageID and returns its ID.
func (d *Discord) StartThread(ctx context.Context, channelID, messageID, name string) (string, error) {
	ch, err := d.s.MessageThreadStartComplex(channelID, messageID, &discordgo.ThreadStart{
		Name:                name,
		AutoArchiveDuration: threadArchiveMinutes,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", err
	}
	return ch.ID, nil
}

func (d *Discord) SendThreadMessage(ctx context.Context, threadID, content string) error {
	_, err := d.s.ChannelMessageSend(threadID, content, discordgo.WithContext(ctx))
	return err
}

func (d *Discord) ThreadExists(ctx context.Context, threadID string) bool {
	return d.Channel(ctx, threadID) == nil
}
