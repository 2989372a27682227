package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/charpoll/backend/internal/poll"
	"github.com/charpoll/backend/pkg/queue"
)

// JobQueue is the subset of *queue.Queue the worker consumes.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// VoteStore persists website votes. *store.Repository implements it.
type VoteStore interface {
	RecordExternalVote(ctx context.Context, pollID string, v poll.ExternalVote) error
}

// WebsiteVoteProcessor drains website vote jobs into the votes table.
// The poll controller picks them up on its next tally.
type WebsiteVoteProcessor struct {
	store   VoteStore
	queue   JobQueue
	backoff time.Duration
	logger  *zap.Logger
}

// NewWebsiteVoteProcessor creates a website vote processor.
func NewWebsiteVoteProcessor(store VoteStore, q JobQueue, logger *zap.Logger) *WebsiteVoteProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebsiteVoteProcessor{store: store, queue: q, backoff: queue.RetryBackoff, logger: logger}
}

// Process executes one website vote job. Malformed votes are dropped; only
// storage failures are returned for retry.
func (p *WebsiteVoteProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeWebsiteVote {
		p.logger.Warn("dropping unknown job type", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		return nil
	}
	var payload queue.WebsiteVotePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		p.logger.Warn("dropping malformed vote", zap.String("job_id", job.ID), zap.Error(err))
		return nil
	}
	if payload.PollID == "" || payload.VoterID == "" || payload.Option < 1 || payload.Option > poll.OptionCount {
		p.logger.Warn("dropping invalid vote",
			zap.String("job_id", job.ID),
			zap.String("voter_id", payload.VoterID),
			zap.Int("option", payload.Option),
		)
		return nil
	}

	vote := poll.ExternalVote{VoterID: payload.VoterID, Option: payload.Option, CastAt: payload.CastAt}
	if err := p.store.RecordExternalVote(ctx, payload.PollID, vote); err != nil {
		return fmt.Errorf("record vote: %w", err)
	}
	p.logger.Info("website vote recorded",
		zap.String("poll_id", payload.PollID),
		zap.String("voter_id", payload.VoterID),
		zap.Int("option", payload.Option),
	)
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *WebsiteVoteProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("website vote worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *WebsiteVoteProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
