package poll

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/charpoll/backend/internal/chat"
)

// DefaultRefreshInterval is how often a running poll is recounted and re-rendered.
const DefaultRefreshInterval = 10 * time.Second

const inboxSize = 64

// Publisher pushes poll updates to live viewers.
type Publisher interface {
	PublishScores(ctx context.Context, s Snapshot)
	PublishEnded(ctx context.Context, pollID string)
}

// ImageSource returns the image URL for a 1-based option.
type ImageSource interface {
	OptionImageURL(n int) string
}

// Config configures a Controller.
type Config struct {
	PollID          string
	GuildID         string
	ChannelID       string
	RefreshInterval time.Duration
	Markers         Markers
	Location        *time.Location
	Images          ImageSource // optional
	Publisher       Publisher   // optional
	Now             func() time.Time
}

// Controller owns the poll lifecycle. All state lives in one goroutine;
// requests, reaction events and ticks are serialized through its inbox.
type Controller struct {
	cfg      Config
	platform chat.Platform
	gateway  *Gateway
	agg      *Aggregator
	weights  Weigher
	logger   *zap.Logger

	inbox  chan msg
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// owned by loop
	state  State
	poll   *Poll
	scores Scores
	ticker *time.Ticker
}

type msg interface{ isControllerMsg() }

type startMsg struct {
	req   StartRequest
	reply chan error
}

type stopMsg struct{ reply chan bool }

type resumeMsg struct{ reply chan error }

type winnerMsg struct {
	number int
	reply  chan winnerResult
}

type winnerResult struct {
	text string
	err  error
}

type snapshotMsg struct{ reply chan Snapshot }

type reactionMsg struct{ ev chat.ReactionEvent }

// tickMsg runs one tick through the inbox. The loop normally ticks from
// c.ticker; tests send tickMsg to drive refreshes without waiting.
type tickMsg struct{}

func (startMsg) isControllerMsg()    {}
func (stopMsg) isControllerMsg()     {}
func (resumeMsg) isControllerMsg()   {}
func (winnerMsg) isControllerMsg()   {}
func (snapshotMsg) isControllerMsg() {}
func (reactionMsg) isControllerMsg() {}
func (tickMsg) isControllerMsg()     {}

// NewController starts the controller goroutine. It runs until parent is
// cancelled or Close is called.
func NewController(parent context.Context, platform chat.Platform, gateway *Gateway, weights Weigher, cfg Config, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	ctx, cancel := context.WithCancel(parent)
	c := &Controller{
		cfg:      cfg,
		platform: platform,
		gateway:  gateway,
		agg:      NewAggregator(platform, weights, gateway, cfg.Markers, logger),
		weights:  weights,
		logger:   logger.With(zap.String("poll_id", cfg.PollID)),
		inbox:    make(chan msg, inboxSize),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go c.loop()
	return c
}

// Close stops the controller goroutine. A running poll stays persisted and
// is picked up again by Resume on the next start.
func (c *Controller) Close() {
	c.cancel()
	<-c.done
}

// Start opens a new poll.
func (c *Controller) Start(ctx context.Context, req StartRequest) error {
	reply := make(chan error, 1)
	err, callErr := call(ctx, c, startMsg{req: req, reply: reply}, reply)
	if callErr != nil {
		return callErr
	}
	return err
}

// Stop ends the running poll early. It reports false when no poll was active.
func (c *Controller) Stop(ctx context.Context) (bool, error) {
	reply := make(chan bool, 1)
	return call(ctx, c, stopMsg{reply: reply}, reply)
}

// Resume recovers a persisted poll after a restart. With nothing to
// recover it returns nil and the controller stays absent.
func (c *Controller) Resume(ctx context.Context) error {
	reply := make(chan error, 1)
	err, callErr := call(ctx, c, resumeMsg{reply: reply}, reply)
	if callErr != nil {
		return callErr
	}
	return err
}

// MarkWinner marks the 1-based option as a winner and returns the announcement.
func (c *Controller) MarkWinner(ctx context.Context, number int) (string, error) {
	reply := make(chan winnerResult, 1)
	res, err := call(ctx, c, winnerMsg{number: number, reply: reply}, reply)
	if err != nil {
		return "", err
	}
	return res.text, res.err
}

// Scores returns the scores of the last successful recount.
func (c *Controller) Scores(ctx context.Context) (Scores, error) {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return Scores{}, err
	}
	if snap.State == StateAbsent {
		return Scores{}, ErrNoActivePoll
	}
	return snap.Scores, nil
}

// Snapshot returns a copy of the controller's current view.
func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	return call(ctx, c, snapshotMsg{reply: reply}, reply)
}

func call[T any](ctx context.Context, c *Controller, m msg, reply <-chan T) (T, error) {
	var zero T
	select {
	case c.inbox <- m:
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-c.done:
		return zero, ErrControllerClosed
	}
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-c.done:
		return zero, ErrControllerClosed
	}
}

func (c *Controller) loop() {
	defer close(c.done)
	for {
		var tick <-chan time.Time
		if c.ticker != nil {
			tick = c.ticker.C
		}
		select {
		case <-c.ctx.Done():
			c.detach()
			return
		case <-tick:
			c.handleTick()
		case m := <-c.inbox:
			c.dispatch(m)
		}
	}
}

func (c *Controller) dispatch(m msg) {
	switch m := m.(type) {
	case startMsg:
		m.reply <- c.handleStart(m.req)
	case stopMsg:
		m.reply <- c.handleStop()
	case resumeMsg:
		m.reply <- c.handleResume()
	case winnerMsg:
		text, err := c.handleMarkWinner(m.number)
		m.reply <- winnerResult{text: text, err: err}
	case snapshotMsg:
		m.reply <- c.snapshot()
	case reactionMsg:
		c.handleReaction(m.ev)
	case tickMsg:
		c.handleTick()
	}
}

// forward hands reaction events to the loop while the poll is open.
func (c *Controller) forward(end time.Time) func(chat.ReactionEvent) {
	return func(ev chat.ReactionEvent) {
		if !c.cfg.Now().Before(end) {
			return
		}
		select {
		case c.inbox <- reactionMsg{ev: ev}:
		case <-c.done:
		}
	}
}

func (c *Controller) snapshot() Snapshot {
	s := Snapshot{PollID: c.cfg.PollID, State: c.state}
	if c.poll == nil {
		return s
	}
	s.Labels = c.poll.Labels
	s.EndTime = c.poll.EndTime
	s.Scores = c.scores
	for n := range c.poll.Winners {
		s.Winners = append(s.Winners, n)
	}
	sort.Ints(s.Winners)
	return s
}

func (c *Controller) view(p *Poll) View {
	now := c.cfg.Now()
	return View{
		Labels:    p.Labels,
		Scores:    c.scores,
		Winners:   p.Winners,
		Markers:   c.cfg.Markers,
		Remaining: p.EndTime.Sub(now),
		Now:       now.In(c.cfg.Location),
	}
}

func (c *Controller) publish() {
	if c.cfg.Publisher != nil {
		c.cfg.Publisher.PublishScores(c.ctx, c.snapshot())
	}
}
