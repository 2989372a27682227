package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/charpoll/backend/internal/poll"
	"github.com/charpoll/backend/pkg/queue"
)

type fakeStore struct {
	mu    sync.Mutex
	votes []poll.ExternalVote
	fails int
}

func (s *fakeStore) RecordExternalVote(_ context.Context, _ string, v poll.ExternalVote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fails > 0 {
		s.fails--
		return errors.New("db unavailable")
	}
	s.votes = append(s.votes, v)
	return nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.votes)
}

// fakeQueue serves jobs from a slice and mirrors Queue.Retry's DLQ rule.
type fakeQueue struct {
	mu   sync.Mutex
	jobs []*queue.Job
	dlq  []*queue.Job
}

func (q *fakeQueue) Dequeue(ctx context.Context) (*queue.Job, error) {
	q.mu.Lock()
	if len(q.jobs) > 0 {
		job := q.jobs[0]
		q.jobs = q.jobs[1:]
		q.mu.Unlock()
		return job, nil
	}
	q.mu.Unlock()
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Millisecond):
	}
	return nil, nil
}

func (q *fakeQueue) Retry(_ context.Context, job *queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job.Attempt++
	if job.Attempt >= queue.MaxRetries {
		q.dlq = append(q.dlq, job)
		return nil
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeQueue) dlqLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.dlq)
}

func voteJob(t *testing.T, option int) *queue.Job {
	t.Helper()
	job, err := queue.NewJob(queue.JobTypeWebsiteVote, queue.WebsiteVotePayload{
		PollID:  "p1",
		VoterID: "web-1",
		Option:  option,
		CastAt:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return job
}

func TestProcess_RecordsVote(t *testing.T) {
	st := &fakeStore{}
	p := NewWebsiteVoteProcessor(st, &fakeQueue{}, zaptest.NewLogger(t))

	require.NoError(t, p.Process(context.Background(), voteJob(t, 5)))
	require.Len(t, st.votes, 1)
	assert.Equal(t, "web-1", st.votes[0].VoterID)
	assert.Equal(t, 5, st.votes[0].Option)
}

func TestProcess_DropsInvalid(t *testing.T) {
	st := &fakeStore{}
	p := NewWebsiteVoteProcessor(st, &fakeQueue{}, zaptest.NewLogger(t))

	assert.NoError(t, p.Process(context.Background(), voteJob(t, 0)))
	assert.NoError(t, p.Process(context.Background(), voteJob(t, 13)))
	assert.NoError(t, p.Process(context.Background(), &queue.Job{ID: "x", Type: queue.JobTypeWebsiteVote, Payload: []byte("{")}))
	assert.NoError(t, p.Process(context.Background(), &queue.Job{ID: "y", Type: "other"}))
	assert.Empty(t, st.votes)
}

func TestProcess_StoreFailure(t *testing.T) {
	p := NewWebsiteVoteProcessor(&fakeStore{fails: 1}, &fakeQueue{}, zaptest.NewLogger(t))
	assert.Error(t, p.Process(context.Background(), voteJob(t, 1)))
}

func TestRun_RetriesThenSucceeds(t *testing.T) {
	st := &fakeStore{fails: 1}
	q := &fakeQueue{jobs: []*queue.Job{voteJob(t, 2)}}
	p := NewWebsiteVoteProcessor(st, q, zaptest.NewLogger(t))
	p.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return st.count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.Zero(t, q.dlqLen())
}

func TestRun_DeadLetters(t *testing.T) {
	st := &fakeStore{fails: queue.MaxRetries}
	q := &fakeQueue{jobs: []*queue.Job{voteJob(t, 2)}}
	p := NewWebsiteVoteProcessor(st, q, zaptest.NewLogger(t))
	p.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return q.dlqLen() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.Zero(t, st.count())
}
