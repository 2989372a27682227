package poll

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Store is durable storage for polls, results, votes and winners.
// Upserts are idempotent.
type Store interface {
	// LoadActivePoll returns nil, nil when no active poll is persisted.
	LoadActivePoll(ctx context.Context, pollID string) (*ActivePoll, error)
	SaveActivePoll(ctx context.Context, p ActivePoll) error
	DeactivatePoll(ctx context.Context, pollID string) error
	// ClearPoll removes results, Discord votes, winners and metadata. Website votes are kept.
	ClearPoll(ctx context.Context, pollID string) error
	UpsertResultRow(ctx context.Context, pollID string, row ResultRow) error
	ListResultRows(ctx context.Context, pollID string) ([]ResultRow, error)
	RecordVote(ctx context.Context, v VoteRecord) error
	// ListVotes returns user ID -> 1-based option of stored Discord votes.
	ListVotes(ctx context.Context, pollID string) (map[string]int, error)
	FetchExternalVotes(ctx context.Context, pollID string) ([]ExternalVote, error)
	RecordExternalVote(ctx context.Context, pollID string, v ExternalVote) error
	MarkWinner(ctx context.Context, pollID string, option int, at time.Time) error
	ListPastWinners(ctx context.Context, pollID string) ([]int, error)
}

// Gateway fronts the Store for the controller. Writes are best effort:
// failures are logged and swallowed so a storage outage never stalls the poll.
type Gateway struct {
	store  Store
	logger *zap.Logger
}

// NewGateway creates a persistence gateway.
func NewGateway(store Store, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{store: store, logger: logger}
}

func (g *Gateway) LoadActivePoll(ctx context.Context, pollID string) (*ActivePoll, error) {
	return g.store.LoadActivePoll(ctx, pollID)
}

func (g *Gateway) ListResultRows(ctx context.Context, pollID string) ([]ResultRow, error) {
	return g.store.ListResultRows(ctx, pollID)
}

func (g *Gateway) ListVotes(ctx context.Context, pollID string) (map[string]int, error) {
	return g.store.ListVotes(ctx, pollID)
}

func (g *Gateway) FetchExternalVotes(ctx context.Context, pollID string) ([]ExternalVote, error) {
	return g.store.FetchExternalVotes(ctx, pollID)
}

func (g *Gateway) ListPastWinners(ctx context.Context, pollID string) ([]int, error) {
	return g.store.ListPastWinners(ctx, pollID)
}

func (g *Gateway) SaveActivePoll(ctx context.Context, p ActivePoll) {
	if err := g.store.SaveActivePoll(ctx, p); err != nil {
		g.logger.Error("save active poll failed", zap.String("poll_id", p.PollID), zap.Error(err))
	}
}

func (g *Gateway) DeactivatePoll(ctx context.Context, pollID string) {
	if err := g.store.DeactivatePoll(ctx, pollID); err != nil {
		g.logger.Error("deactivate poll failed", zap.String("poll_id", pollID), zap.Error(err))
	}
}

func (g *Gateway) ClearPoll(ctx context.Context, pollID string) {
	if err := g.store.ClearPoll(ctx, pollID); err != nil {
		g.logger.Error("clear poll failed", zap.String("poll_id", pollID), zap.Error(err))
	}
}

// UpsertResults writes all rows; a failed row does not stop the others.
func (g *Gateway) UpsertResults(ctx context.Context, pollID string, labels [OptionCount]string, scores Scores) {
	for i := range labels {
		row := ResultRow{Option: i + 1, Label: labels[i], Score: scores[i]}
		if err := g.store.UpsertResultRow(ctx, pollID, row); err != nil {
			g.logger.Error("upsert result row failed",
				zap.String("poll_id", pollID), zap.Int("option", row.Option), zap.Error(err))
		}
	}
}

func (g *Gateway) RecordVote(ctx context.Context, v VoteRecord) {
	if err := g.store.RecordVote(ctx, v); err != nil {
		g.logger.Error("record vote failed",
			zap.String("poll_id", v.PollID), zap.String("user_id", v.UserID), zap.Int("option", v.Option), zap.Error(err))
		return
	}
	g.logger.Debug("vote recorded",
		zap.String("user_id", v.UserID), zap.Int("option", v.Option), zap.Float64("weight", v.Weight))
}

func (g *Gateway) MarkWinner(ctx context.Context, pollID string, option int, at time.Time) {
	if err := g.store.MarkWinner(ctx, pollID, option, at); err != nil {
		g.logger.Error("mark winner failed", zap.String("poll_id", pollID), zap.Int("option", option), zap.Error(err))
	}
}
