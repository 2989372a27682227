package poll

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/charpoll/backend/internal/chat"
)

// Weigher returns a participant's vote weight; it never fails.
type Weigher interface {
	Weight(ctx context.Context, guildID, userID string) float64
}

// Tally is the outcome of one full recount.
type Tally struct {
	Scores   Scores
	Discord  Scores
	Website  Scores
	reactors reactors
}

// Aggregator recomputes scores from live reactions and website votes.
type Aggregator struct {
	platform chat.Platform
	weights  Weigher
	gateway  *Gateway
	markers  Markers
	logger   *zap.Logger
}

// NewAggregator creates a vote aggregator.
func NewAggregator(platform chat.Platform, weights Weigher, gateway *Gateway, markers Markers, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{platform: platform, weights: weights, gateway: gateway, markers: markers, logger: logger}
}

// Tally recounts every option from scratch and persists the result rows.
// A failure to enumerate reactions aborts the recount; website votes that
// cannot be fetched count as zero.
func (a *Aggregator) Tally(ctx context.Context, p *Poll) (Tally, error) {
	t := Tally{reactors: newReactors()}
	bot := a.platform.BotUserID()
	memo := make(map[string]float64)

	for i, mk := range a.markers {
		users, err := a.platform.ReactionUsers(ctx, p.ChannelID, p.MessageID, mk.API)
		if err != nil {
			return Tally{}, fmt.Errorf("option %d: %w", i+1, err)
		}
		for _, u := range users {
			if u.ID == bot {
				continue
			}
			w, ok := memo[u.ID]
			if !ok {
				w = a.weights.Weight(ctx, p.GuildID, u.ID)
				memo[u.ID] = w
			}
			t.Discord[i] += w
			t.reactors.add(i, u.ID)
		}
	}

	votes, err := a.gateway.FetchExternalVotes(ctx, p.ID)
	if err != nil {
		a.logger.Warn("website votes fetch failed, counting zero", zap.String("poll_id", p.ID), zap.Error(err))
	}
	for _, v := range votes {
		if v.Option >= 1 && v.Option <= OptionCount {
			t.Website[v.Option-1] += 1.0
		}
	}

	for i := range t.Scores {
		t.Scores[i] = t.Discord[i] + t.Website[i]
	}
	a.gateway.UpsertResults(ctx, p.ID, p.Labels, t.Scores)
	return t, nil
}
