package store

import (
	"context"

	"github.com/AdamBeresnev/matchday/internal/match"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type VoteStore struct {
	db *sqlx.DB
}

const (
	upsertVoteQuery = `INSERT INTO votes (voter_id, match_id, target_player_id, score) VALUES (?, ?, ?, ?)
		ON CONFLICT (voter_id, match_id, target_player_id) DO UPDATE SET score = excluded.score`
	getVotesQuery    = `SELECT voter_id, match_id, target_player_id, score FROM votes WHERE match_id = ?`
	hasVotedQuery    = `SELECT COUNT(*) FROM votes WHERE match_id = ? AND voter_id = ?`
	countVotesQuery  = `SELECT COUNT(*) FROM votes WHERE match_id = ?`
	countVotersQuery = `SELECT COUNT(DISTINCT voter_id) FROM votes WHERE match_id = ?`
	deleteVotesQuery = `DELETE FROM votes WHERE match_id = ?`
)

func NewVoteStore(db *sqlx.DB) *VoteStore {
	return &VoteStore{db: db}
}

// UpsertVotes stores the ballot, replacing any earlier score for the same (voter, match, target).
func (s *VoteStore) UpsertVotes(ctx context.Context, tx *sqlx.Tx, votes []match.Vote) error {
	if len(votes) == 0 {
		return nil
	}
	stmt, err := tx.PreparexContext(ctx, tx.Rebind(upsertVoteQuery))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, v := range votes {
		if _, err := stmt.ExecContext(ctx, v.VoterID, v.MatchID, v.TargetPlayerID, v.Score); err != nil {
			return err
		}
	}
	return nil
}

func (s *VoteStore) GetVotesTx(ctx context.Context, tx *sqlx.Tx, matchID uuid.UUID) ([]match.Vote, error) {
	votes := []match.Vote{}
	err := selectAll(ctx, tx, &votes, getVotesQuery, matchID)
	return votes, err
}

func (s *VoteStore) HasVoted(ctx context.Context, matchID, voterID uuid.UUID) (bool, error) {
	return hasVoted(ctx, s.db, matchID, voterID)
}

func (s *VoteStore) HasVotedTx(ctx context.Context, tx *sqlx.Tx, matchID, voterID uuid.UUID) (bool, error) {
	return hasVoted(ctx, tx, matchID, voterID)
}

func hasVoted(ctx context.Context, q queryer, matchID, voterID uuid.UUID) (bool, error) {
	var n int
	err := get(ctx, q, &n, hasVotedQuery, matchID, voterID)
	return n > 0, err
}

func (s *VoteStore) CountVotesTx(ctx context.Context, tx *sqlx.Tx, matchID uuid.UUID) (int, error) {
	var n int
	err := get(ctx, tx, &n, countVotesQuery, matchID)
	return n, err
}

func (s *VoteStore) CountVoters(ctx context.Context, matchID uuid.UUID) (int, error) {
	var n int
	err := get(ctx, s.db, &n, countVotersQuery, matchID)
	return n, err
}

func (s *VoteStore) DeleteVotes(ctx context.Context, tx *sqlx.Tx, matchID uuid.UUID) (int64, error) {
	return affected(exec(ctx, tx, deleteVotesQuery, matchID))
}
