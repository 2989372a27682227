package poll

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type countingWeights struct {
	mu    sync.Mutex
	calls map[string]int
}

func (w *countingWeights) Weight(_ context.Context, _, userID string) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls[userID]++
	return 1.5
}

type failingExternalStore struct {
	*fakeStore
}

func (failingExternalStore) FetchExternalVotes(context.Context, string) ([]ExternalVote, error) {
	return nil, errors.New("connection refused")
}

func testPoll(messageID string) *Poll {
	var labels [OptionCount]string
	copy(labels[:], labelSlice(OptionCount))
	p := newPoll(testPollID, guildID, channelID, labels, time.Now().Add(time.Hour))
	p.MessageID = messageID
	return p
}

func TestAggregator_MemoisesWeightsWithinPass(t *testing.T) {
	platform := newFakePlatform()
	markers := NewMarkers("eleven:111", "twelve:222")
	platform.seed("m", "u", markers[0].API)
	platform.seed("m", "u", markers[3].API)
	platform.seed("m", botID, markers[3].API)

	weights := &countingWeights{calls: map[string]int{}}
	logger := zaptest.NewLogger(t)
	agg := NewAggregator(platform, weights, NewGateway(newFakeStore(), logger), markers, logger)

	tally, err := agg.Tally(context.Background(), testPoll("m"))
	require.NoError(t, err)
	assert.Equal(t, 1.5, tally.Scores[0])
	assert.Equal(t, 1.5, tally.Scores[3])
	assert.Equal(t, 1, weights.calls["u"])
	assert.Zero(t, weights.calls[botID])
	assert.Equal(t, []int{0, 3}, tally.reactors.optionsOf("u"))
}

func TestAggregator_WebsiteFailureCountsZero(t *testing.T) {
	platform := newFakePlatform()
	markers := NewMarkers("eleven:111", "twelve:222")
	platform.seed("m", "u", markers[1].API)
	store := failingExternalStore{newFakeStore()}
	logger := zaptest.NewLogger(t)
	agg := NewAggregator(platform, fakeWeights{}, NewGateway(store, logger), markers, logger)

	tally, err := agg.Tally(context.Background(), testPoll("m"))
	require.NoError(t, err)
	assert.Equal(t, 1.0, tally.Scores[1])
	assert.Equal(t, Scores{}, tally.Website)

	rows, err := store.ListResultRows(context.Background(), testPollID)
	require.NoError(t, err)
	require.Len(t, rows, OptionCount)
	assert.Equal(t, 1.0, rows[1].Score)
}

func TestAggregator_EnumerationFailure(t *testing.T) {
	platform := newFakePlatform()
	platform.setReactionErr(errors.New("timeout"))
	store := newFakeStore()
	logger := zaptest.NewLogger(t)
	agg := NewAggregator(platform, fakeWeights{}, NewGateway(store, logger), NewMarkers("a:1", "b:2"), logger)

	_, err := agg.Tally(context.Background(), testPoll("m"))
	require.Error(t, err)
	rows, _ := store.ListResultRows(context.Background(), testPollID)
	assert.Empty(t, rows)
}

type brokenStore struct {
	*fakeStore
}

func (brokenStore) RecordVote(context.Context, VoteRecord) error { return errors.New("db down") }
func (brokenStore) UpsertResultRow(context.Context, string, ResultRow) error {
	return errors.New("db down")
}

func TestGateway_SwallowsWriteFailures(t *testing.T) {
	g := NewGateway(brokenStore{newFakeStore()}, zaptest.NewLogger(t))
	assert.NotPanics(t, func() {
		g.RecordVote(context.Background(), VoteRecord{PollID: testPollID, UserID: "u", Option: 1})
		g.UpsertResults(context.Background(), testPollID, [OptionCount]string{}, Scores{})
	})
}
