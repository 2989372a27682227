package store

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charpoll/backend/internal/poll"
)

type execCall struct {
	sql  string
	args []any
	inTx bool
}

// fakeDB records statements. failAt makes the n-th Exec (1-based) fail.
type fakeDB struct {
	DB
	calls  []execCall
	failAt int
	tx     *fakeTx
}

func (d *fakeDB) exec(sql string, args []any, inTx bool) (pgconn.CommandTag, error) {
	d.calls = append(d.calls, execCall{sql: sql, args: args, inTx: inTx})
	if d.failAt == len(d.calls) {
		return pgconn.CommandTag{}, errors.New("statement failed")
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (d *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return d.exec(sql, args, false)
}

func (d *fakeDB) Begin(context.Context) (pgx.Tx, error) {
	d.tx = &fakeTx{db: d}
	return d.tx, nil
}

type fakeTx struct {
	pgx.Tx
	db         *fakeDB
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.db.exec(sql, args, true)
}

func (t *fakeTx) Commit(context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

func TestRecordVote_NewerWriteGuard(t *testing.T) {
	db := &fakeDB{}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err := NewRepository(db).RecordVote(context.Background(), poll.VoteRecord{
		PollID: "p1", GuildID: "g1", UserID: "u1", Username: "kai", Option: 7, Weight: 1.5, UpdatedAt: at,
	})
	require.NoError(t, err)
	require.Len(t, db.calls, 1)
	assert.Equal(t, upsertVoteQuery, db.calls[0].sql)
	assert.Equal(t, []any{"p1", "g1", "u1", 7, 1.5, "kai", at}, db.calls[0].args)
	assert.Contains(t, upsertVoteQuery, "ON CONFLICT (poll_id, user_id)")
	assert.Contains(t, upsertVoteQuery, "WHERE discord_votes.updated_at <= EXCLUDED.updated_at")
}

func TestUpsertResultRow_KeepsSelectedAt(t *testing.T) {
	db := &fakeDB{}
	require.NoError(t, NewRepository(db).UpsertResultRow(context.Background(), "p1", poll.ResultRow{Option: 3, Label: "Kai", Score: 2.5}))
	assert.Equal(t, []any{"p1", 3, "Kai", 2.5}, db.calls[0].args)
	assert.NotContains(t, upsertResultQuery, "selected_at")
}

func TestRecordExternalVote(t *testing.T) {
	db := &fakeDB{}
	require.NoError(t, NewRepository(db).RecordExternalVote(context.Background(), "p1", poll.ExternalVote{VoterID: "web-1", Option: 4}))
	args := db.calls[0].args
	assert.Equal(t, []any{"p1", "web-1", 4, SourceWebsite}, args[:4])
	assert.False(t, args[4].(time.Time).IsZero())
	assert.Contains(t, upsertExternalVoteQuery, "WHERE votes.created_at <= EXCLUDED.created_at")
}

func TestClearPoll_OneTransaction(t *testing.T) {
	db := &fakeDB{}
	require.NoError(t, NewRepository(db).ClearPoll(context.Background(), "p1"))

	require.Len(t, db.calls, len(clearTables))
	for i, table := range clearTables {
		assert.Equal(t, "DELETE FROM "+table+" WHERE poll_id = $1", db.calls[i].sql)
		assert.True(t, db.calls[i].inTx)
	}
	assert.NotContains(t, clearTables, "votes")
	assert.True(t, db.tx.committed)
}

func TestClearPoll_RollsBackOnFailure(t *testing.T) {
	db := &fakeDB{failAt: 2}
	err := NewRepository(db).ClearPoll(context.Background(), "p1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clear discord_votes")
	assert.Len(t, db.calls, 2)
	assert.False(t, db.tx.committed)
	assert.True(t, db.tx.rolledBack)
}

func TestMarkWinner_Transaction(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	db := &fakeDB{}
	require.NoError(t, NewRepository(db).MarkWinner(context.Background(), "p1", 5, at))
	require.Len(t, db.calls, 2)
	assert.Equal(t, markSelectedQuery, db.calls[0].sql)
	assert.Equal(t, insertWinnerQuery, db.calls[1].sql)
	assert.Equal(t, []any{"p1", 5, at}, db.calls[1].args)
	assert.True(t, db.tx.committed)

	failing := &fakeDB{failAt: 2}
	require.Error(t, NewRepository(failing).MarkWinner(context.Background(), "p1", 5, at))
	assert.False(t, failing.tx.committed)
	assert.True(t, failing.tx.rolledBack)
}

func TestConflictTargetsMatchSchema(t *testing.T) {
	raw, err := os.ReadFile("../../pkg/database/migrations/001_schema.sql")
	require.NoError(t, err)
	schema := string(raw)

	tests := []struct {
		query string
		key   string
	}{
		{upsertResultQuery, "(poll_id, option_id)"},
		{upsertVoteQuery, "(poll_id, user_id)"},
		{upsertExternalVoteQuery, "(poll_id, voter_id, source)"},
		{insertWinnerQuery, "(poll_id, option_id)"},
	}
	for _, tt := range tests {
		assert.Contains(t, tt.query, "ON CONFLICT "+tt.key)
		assert.Contains(t, schema, "PRIMARY KEY "+tt.key)
	}
	for _, table := range clearTables {
		assert.True(t, strings.Contains(schema, "CREATE TABLE IF NOT EXISTS "+table+" ("), table)
	}
}
