package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/charpoll/backend/internal/poll"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60

	EventScoresUpdated = "scores_updated"
	EventPollEnded     = "poll_ended"
	EventViewerCount   = "viewer_count"
)

// OptionScore is one row of the live scoreboard.
type OptionScore struct {
	Option int     `json:"option"`
	Label  string  `json:"label"`
	Score  float64 `json:"score"`
	Winner bool    `json:"winner"`
}

// Scoreboard is the payload of scores_updated.
type Scoreboard struct {
	PollID  string        `json:"poll_id"`
	State   string        `json:"state"`
	EndsAt  time.Time     `json:"ends_at"`
	Options []OptionScore `json:"options"`
}

// NewScoreboard converts a controller snapshot into the wire payload.
func NewScoreboard(s poll.Snapshot) Scoreboard {
	winners := make(map[int]bool, len(s.Winners))
	for _, n := range s.Winners {
		winners[n] = true
	}
	sb := Scoreboard{PollID: s.PollID, State: s.State.String(), EndsAt: s.EndTime}
	if s.State == poll.StateAbsent {
		return sb
	}
	sb.Options = make([]OptionScore, poll.OptionCount)
	for i := range sb.Options {
		sb.Options[i] = OptionScore{Option: i + 1, Label: s.Labels[i], Score: s.Scores[i], Winner: winners[i+1]}
	}
	return sb
}

// Hub maintains poll_id -> set of scoreboard connections and broadcasts updates.
// Uses Redis pub/sub for horizontal scaling: every instance relays what the bot publishes.
type Hub struct {
	// pollID -> map[clientID]*Client
	rooms    map[string]map[string]*Client
	subs     map[string]func() // cancel Redis subscription per poll
	latest   map[string]WSMessage
	mu       sync.RWMutex
	logger   *zap.Logger
	redis    RedisPublisher
	redisSub RedisSubscriber
}

// RedisPublisher is the interface for publishing to Redis (for cross-instance broadcast).
type RedisPublisher interface {
	PublishPollEvent(ctx context.Context, pollID string, event string, payload []byte) error
}

// RedisSubscriber subscribes to poll channels and invokes handler for incoming events.
type RedisSubscriber interface {
	SubscribePoll(pollID string, handler func(event string, payload []byte)) (cancel func(), err error)
}

// NewHub creates a new WebSocket hub. Either Redis side may be nil.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:    make(map[string]map[string]*Client),
		subs:     make(map[string]func()),
		latest:   make(map[string]WSMessage),
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
	}
}

// Register adds a client to a poll room and sends it the latest scoreboard.
// Starts the Redis subscription for this poll if first client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.rooms[c.PollID] == nil {
		h.rooms[c.PollID] = make(map[string]*Client)
		if h.redisSub != nil {
			pollID := c.PollID
			cancel, err := h.redisSub.SubscribePoll(pollID, func(event string, payload []byte) {
				h.Broadcast(pollID, event, json.RawMessage(payload))
			})
			if err == nil {
				h.subs[pollID] = cancel
			} else {
				h.logger.Warn("redis subscribe failed", zap.String("poll_id", pollID), zap.Error(err))
			}
		}
	}
	h.rooms[c.PollID][c.ID] = c
	latest, ok := h.latest[c.PollID]
	h.mu.Unlock()
	if ok {
		select {
		case c.send <- latest:
		default:
		}
	}
	h.logger.Debug("viewer joined", zap.String("client_id", c.ID), zap.String("poll_id", c.PollID))
}

// Unregister removes a client. Cancels the Redis subscription when the last client leaves.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if m, ok := h.rooms[c.PollID]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.rooms, c.PollID)
			if cancel, ok := h.subs[c.PollID]; ok {
				cancel()
				delete(h.subs, c.PollID)
			}
		}
	}
	h.mu.Unlock()
	h.logger.Debug("viewer left", zap.String("client_id", c.ID), zap.String("poll_id", c.PollID))
}

// Broadcast sends a message to all local clients of a poll.
func (h *Hub) Broadcast(pollID string, event string, payload interface{}) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		data, _ = json.Marshal(payload)
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.Lock()
	if event == EventScoresUpdated || event == EventPollEnded {
		h.latest[pollID] = msg
	}
	clients := make([]*Client, 0, len(h.rooms[pollID]))
	for _, c := range h.rooms[pollID] {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// publish goes through Redis when configured so the subscriber callback
// performs the broadcast once on every instance, including this one.
func (h *Hub) publish(ctx context.Context, pollID, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if h.redis != nil {
		if err := h.redis.PublishPollEvent(ctx, pollID, event, data); err == nil {
			h.mu.RLock()
			_, relayed := h.subs[pollID]
			h.mu.RUnlock()
			if relayed {
				return
			}
		} else {
			h.logger.Warn("redis publish failed", zap.String("event", event), zap.Error(err))
		}
	}
	h.Broadcast(pollID, event, json.RawMessage(data))
}

// PublishScores implements poll.Publisher.
func (h *Hub) PublishScores(ctx context.Context, s poll.Snapshot) {
	h.publish(ctx, s.PollID, EventScoresUpdated, NewScoreboard(s))
}

// PublishEnded implements poll.Publisher.
func (h *Hub) PublishEnded(ctx context.Context, pollID string) {
	h.publish(ctx, pollID, EventPollEnded, map[string]string{"poll_id": pollID})
}

// ViewerCount returns the number of connected clients for a poll.
func (h *Hub) ViewerCount(pollID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[pollID])
}
