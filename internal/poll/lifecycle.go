package poll

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charpoll/backend/internal/chat"
)

const (
	threadName   = "Character Images & Discussion"
	threadGroup  = 4
	threadFooter = "👆 Character images for the poll above!"
)

func (c *Controller) handleStart(req StartRequest) error {
	if c.poll != nil {
		return ErrPollActive
	}
	if len(req.Labels) != OptionCount {
		return fmt.Errorf("%w: got %d", ErrOptionCount, len(req.Labels))
	}
	if req.Duration <= 0 {
		return ErrInvalidDuration
	}
	if err := c.platform.Channel(c.ctx, c.cfg.ChannelID); err != nil {
		return fmt.Errorf("%w: %v", ErrChannelUnreachable, err)
	}

	var labels [OptionCount]string
	copy(labels[:], req.Labels)
	now := c.cfg.Now()
	p := newPoll(c.cfg.PollID, c.cfg.GuildID, c.cfg.ChannelID, labels, now.Add(req.Duration))

	c.state = StateStarting
	c.scores = Scores{}

	msgID, err := c.platform.SendMessage(c.ctx, p.ChannelID, Render(c.view(p)))
	if err != nil {
		c.state = StateAbsent
		return fmt.Errorf("send poll message: %w", err)
	}
	p.MessageID = msgID

	// The previous poll's data is only dropped once the new anchor exists.
	c.gateway.ClearPoll(c.ctx, p.ID)
	c.gateway.UpsertResults(c.ctx, p.ID, p.Labels, c.scores)

	for i, mk := range c.cfg.Markers {
		if err := c.platform.AddReaction(c.ctx, p.ChannelID, p.MessageID, mk.API); err != nil {
			c.logger.Warn("add reaction failed", zap.Int("option", i+1), zap.Error(err))
		}
	}

	c.openThread(p)
	c.gateway.SaveActivePoll(c.ctx, ActivePoll{
		PollID:    p.ID,
		GuildID:   p.GuildID,
		ChannelID: p.ChannelID,
		MessageID: p.MessageID,
		ThreadID:  p.ThreadID,
		EndTime:   p.EndTime,
	})

	c.poll = p
	c.attach(p)
	c.logger.Info("poll started",
		zap.String("message_id", p.MessageID), zap.Time("ends_at", p.EndTime), zap.Strings("labels", p.Labels[:]))
	c.publish()
	return nil
}

func (c *Controller) handleStop() bool {
	if c.poll == nil {
		return false
	}
	c.end("stopped")
	return true
}

func (c *Controller) handleTick() {
	if c.poll == nil {
		return
	}
	if !c.poll.Running(c.cfg.Now()) {
		c.end("deadline reached")
		return
	}
	c.refresh()
}

func (c *Controller) handleReaction(ev chat.ReactionEvent) {
	p := c.poll
	if p == nil || c.state != StateRunning || ev.MessageID != p.MessageID {
		return
	}
	if ev.UserID == "" || ev.UserID == c.platform.BotUserID() {
		return
	}
	idx := c.cfg.Markers.Index(ev.Emoji)
	if idx < 0 {
		return
	}

	if !ev.Added {
		p.live.remove(idx, ev.UserID)
		c.refresh()
		return
	}

	c.recordVote(p, ev.UserID, ev.Username, idx)
	for _, other := range p.live.optionsOf(ev.UserID) {
		if other == idx {
			continue
		}
		if err := c.platform.RemoveReaction(c.ctx, p.ChannelID, p.MessageID, c.cfg.Markers[other].API, ev.UserID); err != nil {
			c.logger.Warn("retract reaction failed",
				zap.String("user_id", ev.UserID), zap.Int("option", other+1), zap.Error(err))
			continue
		}
		p.live.remove(other, ev.UserID)
	}
	p.live.add(idx, ev.UserID)
	c.refresh()
}

func (c *Controller) handleMarkWinner(number int) (string, error) {
	p := c.poll
	if p == nil {
		return "", ErrNoActivePoll
	}
	if number < 1 || number > OptionCount {
		return "", fmt.Errorf("%w: got %d", ErrInvalidOption, number)
	}

	c.recount(p)
	p.Winners[number] = true
	c.gateway.MarkWinner(c.ctx, p.ID, number, c.cfg.Now())

	text := Announcement(p.Labels[number-1], c.view(p))
	if p.ThreadID == "" {
		c.logger.Warn("no discussion thread, announcement not posted", zap.Int("option", number))
	} else if err := c.platform.SendThreadMessage(c.ctx, p.ThreadID, text); err != nil {
		c.logger.Warn("post announcement failed", zap.Int("option", number), zap.Error(err))
	}

	c.render(p)
	c.logger.Info("winner marked", zap.Int("option", number), zap.String("label", p.Labels[number-1]))
	return text, nil
}

func (c *Controller) handleResume() error {
	if c.poll != nil {
		return ErrPollActive
	}
	ap, err := c.gateway.LoadActivePoll(c.ctx, c.cfg.PollID)
	if err != nil {
		return fmt.Errorf("load active poll: %w", err)
	}
	if ap == nil {
		c.logger.Info("no active poll to resume")
		return nil
	}

	anchor, err := c.platform.Message(c.ctx, ap.ChannelID, ap.MessageID)
	if err != nil {
		return fmt.Errorf("%w: fetch poll message: %v", ErrResumeIncomplete, err)
	}
	rows, err := c.gateway.ListResultRows(c.ctx, ap.PollID)
	if err != nil {
		return fmt.Errorf("load result rows: %w", err)
	}
	labels, ok := labelsFromRows(rows)
	if !ok {
		return fmt.Errorf("%w: %d labels stored", ErrResumeIncomplete, len(rows))
	}

	guildID := ap.GuildID
	if guildID == "" {
		guildID = c.cfg.GuildID
	}
	p := newPoll(ap.PollID, guildID, ap.ChannelID, labels, ap.EndTime)
	p.MessageID = ap.MessageID
	p.ThreadID = c.findThread(ap)
	for _, row := range rows {
		if row.SelectedAt != nil {
			p.Winners[row.Option] = true
		}
	}
	winners, err := c.gateway.ListPastWinners(c.ctx, ap.PollID)
	if err != nil {
		c.logger.Warn("load past winners failed", zap.Error(err))
	}
	for _, n := range winners {
		if n >= 1 && n <= OptionCount {
			p.Winners[n] = true
		}
	}

	c.poll = p
	c.scores = Scores{}
	if !p.Running(c.cfg.Now()) {
		c.logger.Info("persisted poll expired while offline")
		c.end("expired")
		return nil
	}
	c.state = StateStarting

	present := make(map[string]bool, len(anchor.Reactions))
	for _, r := range anchor.Reactions {
		present[r] = true
	}
	for i, mk := range c.cfg.Markers {
		if present[mk.API] {
			continue
		}
		if err := c.platform.AddReaction(c.ctx, p.ChannelID, p.MessageID, mk.API); err != nil {
			c.logger.Warn("re-add reaction failed", zap.Int("option", i+1), zap.Error(err))
		}
	}

	c.syncVotes(p)
	c.attach(p)
	c.refresh()
	c.logger.Info("poll resumed", zap.String("message_id", p.MessageID), zap.Time("ends_at", p.EndTime))
	return nil
}

// syncVotes records each reactor's current option as their vote, taking the
// highest option when a user reacts with several. Users whose stored vote
// already matches are skipped.
func (c *Controller) syncVotes(p *Poll) {
	stored, err := c.gateway.ListVotes(c.ctx, p.ID)
	if err != nil {
		c.logger.Warn("load stored votes failed", zap.Error(err))
	}
	bot := c.platform.BotUserID()
	latest := make(map[string]int)
	names := make(map[string]string)
	for i, mk := range c.cfg.Markers {
		users, err := c.platform.ReactionUsers(c.ctx, p.ChannelID, p.MessageID, mk.API)
		if err != nil {
			c.logger.Warn("list reactions failed", zap.Int("option", i+1), zap.Error(err))
			continue
		}
		for _, u := range users {
			if u.ID == bot {
				continue
			}
			p.live.add(i, u.ID)
			latest[u.ID] = i
			names[u.ID] = u.Username
		}
	}

	synced := 0
	for userID, i := range latest {
		if opt, ok := stored[userID]; ok && opt == i+1 {
			continue
		}
		c.recordVote(p, userID, names[userID], i)
		synced++
	}
	c.logger.Info("reactions synced to votes", zap.Int("reactors", len(latest)), zap.Int("recorded", synced))
}

func (c *Controller) findThread(ap *ActivePoll) string {
	for _, id := range []string{ap.ThreadID, ap.MessageID} {
		if id != "" && c.platform.ThreadExists(c.ctx, id) {
			return id
		}
	}
	return ""
}

func (c *Controller) recordVote(p *Poll, userID, username string, idx int) {
	w := c.weights.Weight(c.ctx, p.GuildID, userID)
	c.gateway.RecordVote(c.ctx, VoteRecord{
		PollID:    p.ID,
		GuildID:   p.GuildID,
		UserID:    userID,
		Username:  username,
		Option:    idx + 1,
		Weight:    w,
		UpdatedAt: c.cfg.Now(),
	})
}

// attach installs the reaction subscription and the refresh ticker.
func (c *Controller) attach(p *Poll) {
	p.cancelSub = c.platform.SubscribeReactions(p.MessageID, c.forward(p.EndTime))
	c.ticker = time.NewTicker(c.cfg.RefreshInterval)
	c.state = StateRunning
}

// detach stops event delivery and ticks; it is safe to call repeatedly.
func (c *Controller) detach() {
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
	if c.poll != nil && c.poll.cancelSub != nil {
		c.poll.cancelSub()
		c.poll.cancelSub = nil
	}
}

// recount tallies the poll and keeps the previous scores when it fails.
func (c *Controller) recount(p *Poll) bool {
	t, err := c.agg.Tally(c.ctx, p)
	if err != nil {
		c.logger.Warn("recount failed, keeping previous scores", zap.Error(err))
		return false
	}
	c.scores = t.Scores
	p.live = t.reactors
	return true
}

func (c *Controller) render(p *Poll) bool {
	if err := c.platform.EditMessage(c.ctx, p.ChannelID, p.MessageID, Render(c.view(p))); err != nil {
		c.logger.Warn("edit poll message failed", zap.Error(err))
		return false
	}
	c.publish()
	return true
}

// refresh is the recompute-and-render step shared by ticks and events.
func (c *Controller) refresh() {
	p := c.poll
	if p == nil {
		return
	}
	if !c.recount(p) {
		return
	}
	c.render(p)
}

func (c *Controller) end(reason string) {
	p := c.poll
	if p == nil {
		return
	}
	c.state = StateEnding
	c.detach()

	c.recount(p)
	final := Finalize(Render(c.view(p)))
	if err := c.platform.EditMessage(c.ctx, p.ChannelID, p.MessageID, final); err != nil {
		c.logger.Warn("final edit failed", zap.Error(err))
	}
	c.gateway.DeactivatePoll(c.ctx, p.ID)
	if c.cfg.Publisher != nil {
		c.cfg.Publisher.PublishEnded(c.ctx, p.ID)
	}

	c.poll = nil
	c.scores = Scores{}
	c.state = StateAbsent
	c.logger.Info("poll ended", zap.String("reason", reason))
}

func (c *Controller) openThread(p *Poll) {
	id, err := c.platform.StartThread(c.ctx, p.ChannelID, p.MessageID, threadName)
	if err != nil {
		c.logger.Warn("start thread failed", zap.Error(err))
		return
	}
	p.ThreadID = id
	for _, text := range threadPosts(p.Labels, c.cfg.Markers, c.cfg.Images) {
		if err := c.platform.SendThreadMessage(c.ctx, id, text); err != nil {
			c.logger.Warn("thread post failed", zap.Error(err))
		}
	}
}

// threadPosts lists options in groups of four with their image URLs, then a footer.
func threadPosts(labels [OptionCount]string, markers Markers, images ImageSource) []string {
	var posts []string
	for start := 0; start < OptionCount; start += threadGroup {
		var b strings.Builder
		for i := start; i < start+threadGroup; i++ {
			fmt.Fprintf(&b, "%s %s\n", markers[i].Display, labels[i])
		}
		if images != nil {
			for i := start; i < start+threadGroup; i++ {
				b.WriteString(images.OptionImageURL(i+1) + "\n")
			}
		}
		posts = append(posts, strings.TrimSpace(b.String()))
	}
	return append(posts, threadFooter)
}

func labelsFromRows(rows []ResultRow) ([OptionCount]string, bool) {
	var labels [OptionCount]string
	var seen [OptionCount]bool
	if len(rows) != OptionCount {
		return labels, false
	}
	for _, r := range rows {
		if r.Option < 1 || r.Option > OptionCount || seen[r.Option-1] {
			return labels, false
		}
		labels[r.Option-1] = r.Label
		seen[r.Option-1] = true
	}
	return labels, true
}
