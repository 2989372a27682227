package poll

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charpoll/backend/internal/chat"
)

const (
	botID     = "bot"
	channelID = "chan-1"
	guildID   = "guild-1"
)

type fakePlatform struct {
	mu sync.Mutex

	channelErr  error
	sendErr     error
	messageErr  error
	reactionErr error
	threadErr   error

	nextID    int
	content   map[string]string // message ID -> latest content
	edits     []string
	reactions map[string]map[string][]chat.User // message ID -> emoji -> users
	removed   []string
	threads   map[string][]string
	existing  map[string]bool // thread IDs that exist

	handler      func(chat.ReactionEvent)
	subscribedTo string
	cancelled    int
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		content:   make(map[string]string),
		reactions: make(map[string]map[string][]chat.User),
		threads:   make(map[string][]string),
		existing:  make(map[string]bool),
	}
}

func (f *fakePlatform) BotUserID() string { return botID }

func (f *fakePlatform) Channel(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channelErr
}

func (f *fakePlatform) SendMessage(_ context.Context, _, content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.nextID++
	id := fmt.Sprintf("msg-%d", f.nextID)
	f.content[id] = content
	f.reactions[id] = make(map[string][]chat.User)
	return id, nil
}

func (f *fakePlatform) EditMessage(_ context.Context, _, messageID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.content[messageID] = content
	f.edits = append(f.edits, content)
	return nil
}

func (f *fakePlatform) Message(_ context.Context, chID, messageID string) (*chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.messageErr != nil {
		return nil, f.messageErr
	}
	byEmoji, ok := f.reactions[messageID]
	if !ok {
		return nil, errors.New("unknown message")
	}
	m := &chat.Message{ID: messageID, ChannelID: chID, Content: f.content[messageID]}
	for emoji, users := range byEmoji {
		if len(users) > 0 {
			m.Reactions = append(m.Reactions, emoji)
		}
	}
	sort.Strings(m.Reactions)
	return m, nil
}

func (f *fakePlatform) AddReaction(_ context.Context, _, messageID, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addUserLocked(messageID, emoji, chat.User{ID: botID, Username: "pollbot"})
	return nil
}

func (f *fakePlatform) ReactionUsers(_ context.Context, _, messageID, emoji string) ([]chat.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reactionErr != nil {
		return nil, f.reactionErr
	}
	return append([]chat.User(nil), f.reactions[messageID][emoji]...), nil
}

func (f *fakePlatform) RemoveReaction(_ context.Context, _, messageID, emoji, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeUserLocked(messageID, emoji, userID)
	f.removed = append(f.removed, emoji+"/"+userID)
	return nil
}

func (f *fakePlatform) Member(context.Context, string, string) (*chat.Member, error) {
	return nil, chat.ErrUnknownMember
}

func (f *fakePlatform) SubscribeReactions(messageID string, fn func(chat.ReactionEvent)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = fn
	f.subscribedTo = messageID
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.handler = nil
		f.cancelled++
	}
}

func (f *fakePlatform) StartThread(_ context.Context, _, messageID, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.threadErr != nil {
		return "", f.threadErr
	}
	f.existing[messageID] = true
	return messageID, nil
}

func (f *fakePlatform) SendThreadMessage(_ context.Context, threadID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threads[threadID] = append(f.threads[threadID], content)
	return nil
}

func (f *fakePlatform) ThreadExists(_ context.Context, threadID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.existing[threadID]
}

func (f *fakePlatform) addUserLocked(messageID, emoji string, u chat.User) {
	if f.reactions[messageID] == nil {
		f.reactions[messageID] = make(map[string][]chat.User)
	}
	for _, existing := range f.reactions[messageID][emoji] {
		if existing.ID == u.ID {
			return
		}
	}
	f.reactions[messageID][emoji] = append(f.reactions[messageID][emoji], u)
}

func (f *fakePlatform) removeUserLocked(messageID, emoji, userID string) {
	users := f.reactions[messageID][emoji]
	for i, u := range users {
		if u.ID == userID {
			f.reactions[messageID][emoji] = append(users[:i], users[i+1:]...)
			return
		}
	}
}

// react simulates a participant adding a reaction and the gateway event that follows.
func (f *fakePlatform) react(messageID, userID, emoji string) {
	f.mu.Lock()
	f.addUserLocked(messageID, emoji, chat.User{ID: userID, Username: "user-" + userID})
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(chat.ReactionEvent{Added: true, GuildID: guildID, ChannelID: channelID, MessageID: messageID,
			UserID: userID, Username: "user-" + userID, Emoji: emoji})
	}
}

// unreact simulates a participant removing a reaction.
func (f *fakePlatform) unreact(messageID, userID, emoji string) {
	f.mu.Lock()
	f.removeUserLocked(messageID, emoji, userID)
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(chat.ReactionEvent{Added: false, GuildID: guildID, ChannelID: channelID, MessageID: messageID,
			UserID: userID, Emoji: emoji})
	}
}

// seed places reactions without emitting events, as if they happened while offline.
func (f *fakePlatform) seed(messageID, userID, emoji string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addUserLocked(messageID, emoji, chat.User{ID: userID, Username: "user-" + userID})
}

func (f *fakePlatform) usersOn(messageID, emoji string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, u := range f.reactions[messageID][emoji] {
		ids = append(ids, u.ID)
	}
	return ids
}

func (f *fakePlatform) lastEdit() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.edits) == 0 {
		return ""
	}
	return f.edits[len(f.edits)-1]
}

func (f *fakePlatform) editCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.edits)
}

func (f *fakePlatform) threadPosts(threadID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.threads[threadID]...)
}

func (f *fakePlatform) setReactionErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactionErr = err
}

type fakeStore struct {
	mu sync.Mutex

	active     *ActivePoll
	rows       map[int]ResultRow
	votes      map[string]VoteRecord
	voteWrites int
	external   []ExternalVote
	winners    []int
	cleared    int
	loadErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[int]ResultRow), votes: make(map[string]VoteRecord)}
}

func (s *fakeStore) LoadActivePoll(context.Context, string) (*ActivePoll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	if s.active == nil {
		return nil, nil
	}
	cp := *s.active
	return &cp, nil
}

func (s *fakeStore) SaveActivePoll(_ context.Context, p ActivePoll) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = &p
	return nil
}

func (s *fakeStore) DeactivatePoll(context.Context, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = nil
	return nil
}

func (s *fakeStore) ClearPoll(context.Context, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared++
	s.active = nil
	s.rows = make(map[int]ResultRow)
	s.votes = make(map[string]VoteRecord)
	s.winners = nil
	return nil
}

func (s *fakeStore) UpsertResultRow(_ context.Context, _ string, row ResultRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.rows[row.Option]
	if ok && prev.SelectedAt != nil {
		row.SelectedAt = prev.SelectedAt
	}
	s.rows[row.Option] = row
	return nil
}

func (s *fakeStore) ListResultRows(context.Context, string) ([]ResultRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ResultRow
	for _, r := range s.rows {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Option < out[j].Option })
	return out, nil
}

func (s *fakeStore) RecordVote(_ context.Context, v VoteRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voteWrites++
	if prev, ok := s.votes[v.UserID]; ok && prev.UpdatedAt.After(v.UpdatedAt) {
		return nil
	}
	s.votes[v.UserID] = v
	return nil
}

func (s *fakeStore) ListVotes(context.Context, string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.votes))
	for id, v := range s.votes {
		out[id] = v.Option
	}
	return out, nil
}

func (s *fakeStore) FetchExternalVotes(context.Context, string) ([]ExternalVote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ExternalVote(nil), s.external...), nil
}

func (s *fakeStore) RecordExternalVote(_ context.Context, _ string, v ExternalVote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.external = append(s.external, v)
	return nil
}

func (s *fakeStore) MarkWinner(_ context.Context, _ string, option int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.rows[option]
	row.SelectedAt = &at
	s.rows[option] = row
	s.winners = append(s.winners, option)
	return nil
}

func (s *fakeStore) ListPastWinners(context.Context, string) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.winners...), nil
}

func (s *fakeStore) vote(userID string) (VoteRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.votes[userID]
	return v, ok
}

func (s *fakeStore) writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voteWrites
}

func (s *fakeStore) activePoll() *ActivePoll {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

type fakeWeights map[string]float64

func (w fakeWeights) Weight(_ context.Context, _, userID string) float64 {
	if v, ok := w[userID]; ok {
		return v
	}
	return 1.0
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakePublisher struct {
	mu      sync.Mutex
	updates int
	ended   []string
}

func (p *fakePublisher) PublishScores(context.Context, Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates++
}

func (p *fakePublisher) PublishEnded(_ context.Context, pollID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ended = append(p.ended, pollID)
}
