package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/charpoll/backend/internal/poll"
)

// SourceWebsite tags votes cast on the community website.
const SourceWebsite = "website"

// Vote and result writes are upserts so repeated cycles are idempotent.
const (
	upsertResultQuery = `INSERT INTO poll_result (poll_id, option_id, character_name, score, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (poll_id, option_id) DO UPDATE SET character_name = EXCLUDED.character_name,
			score = EXCLUDED.score, updated_at = NOW()`

	upsertVoteQuery = `INSERT INTO discord_votes (poll_id, guild_id, user_id, option_id, weight, discord_username, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (poll_id, user_id) DO UPDATE SET guild_id = EXCLUDED.guild_id, option_id = EXCLUDED.option_id,
			weight = EXCLUDED.weight, discord_username = EXCLUDED.discord_username, updated_at = EXCLUDED.updated_at
		WHERE discord_votes.updated_at <= EXCLUDED.updated_at`

	upsertExternalVoteQuery = `INSERT INTO votes (poll_id, voter_id, option_id, source, created_at) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (poll_id, voter_id, source) DO UPDATE SET option_id = EXCLUDED.option_id, created_at = EXCLUDED.created_at
		WHERE votes.created_at <= EXCLUDED.created_at`

	markSelectedQuery = `UPDATE poll_result SET selected_at = $3 WHERE poll_id = $1 AND option_id = $2`

	insertWinnerQuery = `INSERT INTO poll_winners (poll_id, option_id, selected_at) VALUES ($1, $2, $3)
		ON CONFLICT (poll_id, option_id) DO UPDATE SET selected_at = EXCLUDED.selected_at`
)

// clearTables holds everything the bot writes for a poll. Website votes are not listed.
var clearTables = []string{"poll_result", "discord_votes", "poll_winners", "active_polls"}

// DB is the subset of *pgxpool.Pool the repository uses.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ DB = (*pgxpool.Pool)(nil)

// Repository handles poll persistence.
type Repository struct {
	pool DB
}

// NewRepository creates a poll repository.
func NewRepository(pool DB) *Repository {
	return &Repository{pool: pool}
}

var _ poll.Store = (*Repository)(nil)

// LoadActivePoll returns the active poll row, or nil when none is active.
func (r *Repository) LoadActivePoll(ctx context.Context, pollID string) (*poll.ActivePoll, error) {
	const query = `SELECT poll_id, guild_id, channel_id, message_id, thread_id, ends_at
		FROM active_polls WHERE poll_id = $1 AND active = TRUE`
	var p poll.ActivePoll
	err := r.pool.QueryRow(ctx, query, pollID).
		Scan(&p.PollID, &p.GuildID, &p.ChannelID, &p.MessageID, &p.ThreadID, &p.EndTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SaveActivePoll upserts the poll metadata and marks it active.
func (r *Repository) SaveActivePoll(ctx context.Context, p poll.ActivePoll) error {
	const query = `INSERT INTO active_polls (poll_id, guild_id, channel_id, message_id, thread_id, ends_at, active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE, NOW())
		ON CONFLICT (poll_id) DO UPDATE SET guild_id = EXCLUDED.guild_id, channel_id = EXCLUDED.channel_id,
			message_id = EXCLUDED.message_id, thread_id = EXCLUDED.thread_id, ends_at = EXCLUDED.ends_at,
			active = TRUE, updated_at = NOW()`
	_, err := r.pool.Exec(ctx, query, p.PollID, p.GuildID, p.ChannelID, p.MessageID, p.ThreadID, p.EndTime)
	return err
}

// DeactivatePoll marks the poll inactive so it is not resumed.
func (r *Repository) DeactivatePoll(ctx context.Context, pollID string) error {
	const query = `UPDATE active_polls SET active = FALSE, updated_at = NOW() WHERE poll_id = $1`
	_, err := r.pool.Exec(ctx, query, pollID)
	return err
}

// ClearPoll deletes everything the bot wrote for the poll in one transaction.
// Website votes belong to the website and are left in place.
func (r *Repository) ClearPoll(ctx context.Context, pollID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, table := range clearTables {
		if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE poll_id = $1`, pollID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return tx.Commit(ctx)
}

// UpsertResultRow writes the label and score for one option. selected_at is never cleared.
func (r *Repository) UpsertResultRow(ctx context.Context, pollID string, row poll.ResultRow) error {
	_, err := r.pool.Exec(ctx, upsertResultQuery, pollID, row.Option, row.Label, row.Score)
	return err
}

// ListResultRows returns result rows ordered by option.
func (r *Repository) ListResultRows(ctx context.Context, pollID string) ([]poll.ResultRow, error) {
	const query = `SELECT option_id, character_name, score, selected_at
		FROM poll_result WHERE poll_id = $1 ORDER BY option_id ASC`
	rows, err := r.pool.Query(ctx, query, pollID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []poll.ResultRow
	for rows.Next() {
		var row poll.ResultRow
		if err := rows.Scan(&row.Option, &row.Label, &row.Score, &row.SelectedAt); err != nil {
			return nil, err
		}
		list = append(list, row)
	}
	return list, rows.Err()
}

// RecordVote upserts a participant's vote; an older write never overwrites a newer one.
func (r *Repository) RecordVote(ctx context.Context, v poll.VoteRecord) error {
	_, err := r.pool.Exec(ctx, upsertVoteQuery, v.PollID, v.GuildID, v.UserID, v.Option, v.Weight, v.Username, v.UpdatedAt)
	return err
}

// ListVotes returns user ID -> option for stored Discord votes.
func (r *Repository) ListVotes(ctx context.Context, pollID string) (map[string]int, error) {
	const query = `SELECT user_id, option_id FROM discord_votes WHERE poll_id = $1`
	rows, err := r.pool.Query(ctx, query, pollID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var userID string
		var option int
		if err := rows.Scan(&userID, &option); err != nil {
			return nil, err
		}
		out[userID] = option
	}
	return out, rows.Err()
}

// FetchExternalVotes returns website votes for the poll.
func (r *Repository) FetchExternalVotes(ctx context.Context, pollID string) ([]poll.ExternalVote, error) {
	const query = `SELECT voter_id, option_id, created_at FROM votes WHERE poll_id = $1 AND source = $2`
	rows, err := r.pool.Query(ctx, query, pollID, SourceWebsite)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []poll.ExternalVote
	for rows.Next() {
		var v poll.ExternalVote
		if err := rows.Scan(&v.VoterID, &v.Option, &v.CastAt); err != nil {
			return nil, err
		}
		list = append(list, v)
	}
	return list, rows.Err()
}

// RecordExternalVote upserts a website vote. One per voter per poll; later votes win.
func (r *Repository) RecordExternalVote(ctx context.Context, pollID string, v poll.ExternalVote) error {
	castAt := v.CastAt
	if castAt.IsZero() {
		castAt = time.Now()
	}
	_, err := r.pool.Exec(ctx, upsertExternalVoteQuery, pollID, v.VoterID, v.Option, SourceWebsite, castAt)
	return err
}

// MarkWinner stamps selected_at on the result row and records the winner.
func (r *Repository) MarkWinner(ctx context.Context, pollID string, option int, at time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, markSelectedQuery, pollID, option, at); err != nil {
		return fmt.Errorf("update poll_result: %w", err)
	}
	if _, err := tx.Exec(ctx, insertWinnerQuery, pollID, option, at); err != nil {
		return fmt.Errorf("insert poll_winners: %w", err)
	}
	return tx.Commit(ctx)
}

// ListPastWinners returns winner options in selection order.
func (r *Repository) ListPastWinners(ctx context.Context, pollID string) ([]int, error) {
	const query = `SELECT option_id FROM poll_winners WHERE poll_id = $1 ORDER BY selected_at ASC`
	rows, err := r.pool.Query(ctx, query, pollID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		list = append(list, n)
	}
	return list, rows.Err()
}
