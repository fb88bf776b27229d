package service

import (
	"context"
	"fmt"

	apperrors "github.com/AdamBeresnev/matchday/internal/errors"
	"github.com/AdamBeresnev/matchday/internal/feed"
	"github.com/AdamBeresnev/matchday/internal/logger"
	"github.com/AdamBeresnev/matchday/internal/match"
	"github.com/AdamBeresnev/matchday/internal/store"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type VotingService struct {
	db     *sqlx.DB
	stores *store.Stores
	feed   feed.Feed
}

func NewVotingService(db *sqlx.DB, stores *store.Stores, f feed.Feed) *VotingService {
	return &VotingService{db: db, stores: stores, feed: f}
}

// Ballot maps target player ids to the score the voter gives them.
type Ballot map[uuid.UUID]int

type CloseVotingResult struct {
	PlayersUpdated int             `json:"players_updated"`
	VotesProcessed int             `json:"votes_processed"`
	VotesCleared   int64           `json:"votes_cleared"`
	Teams          *match.TeamPair `json:"teams"`
}

type VoteProgress struct {
	Voted    int `json:"voted"`
	Eligible int `json:"eligible"`
}

// CastVotes records one voter's ballot. Every player of the match with an account may vote once,
// on anyone but themselves.
func (s *VotingService) CastVotes(ctx context.Context, actor match.Actor, matchID uuid.UUID, ballot Ballot) error {
	if len(ballot) == 0 {
		return apperrors.NewValidationError(apperrors.CodeInvalidInput, "ballot is empty")
	}
	for _, score := range ballot {
		if !match.IsValidVoteScore(score) {
			return apperrors.ErrInvalidScore
		}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}
	defer tx.Rollback()

	m, err := s.stores.Matches.GetMatchTx(ctx, tx, matchID)
	if err != nil {
		return err
	}
	if m.State != match.StateVotingCalled {
		return apperrors.ErrInvalidState
	}

	voter, err := s.stores.Roster.FindByIdentityTx(ctx, tx, matchID, actor.Identity)
	if err != nil {
		return apperrors.NewStoreError(apperrors.CodePlayersFetchFailed, err)
	}
	if voter == nil {
		return apperrors.ErrNotVoter
	}

	voted, err := s.stores.Votes.HasVotedTx(ctx, tx, matchID, actor.Identity)
	if err != nil {
		return apperrors.NewStoreError(apperrors.CodeVotesFetchFailed, err)
	}
	if voted {
		return apperrors.ErrAlreadyVoted
	}

	players, err := s.stores.Roster.GetPlayersTx(ctx, tx, matchID)
	if err != nil {
		return apperrors.NewStoreError(apperrors.CodePlayersFetchFailed, err)
	}
	onRoster := make(map[uuid.UUID]struct{}, len(players))
	for _, p := range players {
		onRoster[p.ID] = struct{}{}
	}

	votes := make([]match.Vote, 0, len(ballot))
	for target, score := range ballot {
		if target == voter.ID {
			return apperrors.ErrSelfVote
		}
		if _, ok := onRoster[target]; !ok {
			return fmt.Errorf("vote target %s: %w", target, apperrors.ErrPlayerNotFound)
		}
		votes = append(votes, match.Vote{
			VoterID:        actor.Identity,
			MatchID:        matchID,
			TargetPlayerID: target,
			Score:          score,
		})
	}

	if err := s.stores.Votes.UpsertVotes(ctx, tx, votes); err != nil {
		return apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}
	if err := tx.Commit(); err != nil {
		return apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}

	logger.WithContext(ctx).WithFields(map[string]interface{}{
		"match_id": matchID,
		"votes":    len(votes),
	}).Info("ballot recorded")
	return nil
}

func (s *VotingService) HasVoted(ctx context.Context, matchID, identity uuid.UUID) (bool, error) {
	return s.stores.Votes.HasVoted(ctx, matchID, identity)
}

// Progress reports how many of the eligible voters have submitted a ballot.
func (s *VotingService) Progress(ctx context.Context, matchID uuid.UUID) (*VoteProgress, error) {
	players, err := s.stores.Roster.GetPlayers(ctx, matchID)
	if err != nil {
		return nil, err
	}
	voted, err := s.stores.Votes.CountVoters(ctx, matchID)
	if err != nil {
		return nil, err
	}

	eligible := 0
	for _, p := range players {
		if p.IsLinked() {
			eligible++
		}
	}
	return &VoteProgress{Voted: voted, Eligible: eligible}, nil
}

// CloseVoting aggregates every vote into player scores, forms the teams from the rated lineup and
// clears the votes. All writes share one transaction: either the scores, the teams and the cleared
// votes are all stored, or nothing is.
func (s *VotingService) CloseVoting(ctx context.Context, actor match.Actor, matchID uuid.UUID) (*CloseVotingResult, error) {
	if !actor.CanAdmin(matchID) {
		return nil, apperrors.ErrNotMatchAdmin
	}

	log := logger.WithContext(ctx).WithField("match_id", matchID)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}
	defer tx.Rollback()

	m, err := s.stores.Matches.GetMatchTx(ctx, tx, matchID)
	if err != nil {
		return nil, err
	}
	if m.State != match.StateVotingCalled {
		return nil, apperrors.ErrInvalidState
	}

	votes, err := s.stores.Votes.GetVotesTx(ctx, tx, matchID)
	if err != nil {
		return nil, apperrors.NewStoreError(apperrors.CodeVotesFetchFailed, err)
	}
	players, err := s.stores.Roster.GetPlayersTx(ctx, tx, matchID)
	if err != nil {
		return nil, apperrors.NewStoreError(apperrors.CodePlayersFetchFailed, err)
	}

	updates := AggregateVotes(players, votes)
	rated := applyScores(players, updates)

	teamA, teamB, err := FormTeams(lineup(rated))
	if err != nil {
		return nil, err
	}

	if err := s.stores.Roster.UpdateScores(ctx, tx, matchID, updates); err != nil {
		return nil, apperrors.NewStoreError(apperrors.CodeScoreWriteFailed, err)
	}

	pair, err := s.stores.Teams.ReplaceTeamPair(ctx, tx, &match.TeamPair{
		MatchID:   matchID,
		A:         teamA,
		B:         teamB,
		Locked:    match.IDList{},
		UpdatedAt: now(),
	})
	if err != nil {
		return nil, apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}

	cleared, err := s.stores.Votes.DeleteVotes(ctx, tx, matchID)
	if err != nil {
		return nil, apperrors.NewStoreError(apperrors.CodeVoteClearFailed, err)
	}

	moved, err := s.stores.Matches.TransitionState(ctx, tx, matchID, match.StateVotingCalled, match.StateTeamsFormed)
	if err != nil {
		return nil, apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}
	if !moved {
		return nil, apperrors.ErrInvalidState
	}
	if err := s.stores.Teams.DeleteConfirmation(ctx, tx, matchID); err != nil {
		return nil, apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}
	if err := s.stores.Matches.SetConfirmed(ctx, tx, matchID, false); err != nil {
		return nil, apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}

	log.WithFields(map[string]interface{}{
		"players": len(updates),
		"votes":   len(votes),
		"score_a": pair.A.Score,
		"score_b": pair.B.Score,
	}).Info("voting closed, teams formed")

	m.State = match.StateTeamsFormed
	m.Confirmed = false
	publish(ctx, s.feed, feed.EventUpdate, feed.TableMatches, matchID, m)
	publish(ctx, s.feed, feed.EventDelete, feed.TableConfirmations, matchID, map[string]uuid.UUID{"match_id": matchID})
	publish(ctx, s.feed, feed.EventUpdate, feed.TablePlayers, matchID, rated)
	publish(ctx, s.feed, feed.EventUpdate, feed.TableTeamPairs, matchID, pair)

	return &CloseVotingResult{
		PlayersUpdated: len(updates),
		VotesProcessed: len(votes),
		VotesCleared:   cleared,
		Teams:          pair,
	}, nil
}

// lineup picks the players who take the field: every regular, plus the earliest substitute when the
// regulars alone are odd.
func lineup(players []match.Player) []match.Player {
	out := make([]match.Player, 0, len(players))
	var bench []match.Player
	for _, p := range players {
		if p.IsSubstitute {
			bench = append(bench, p)
			continue
		}
		out = append(out, p)
	}
	if len(out)%2 == 1 && len(bench) > 0 {
		out = append(out, bench[0])
	}
	return out
}

func applyScores(players []match.Player, updates []store.ScoreUpdate) []match.Player {
	byID := make(map[uuid.UUID]store.ScoreUpdate, len(updates))
	for _, u := range updates {
		byID[u.PlayerID] = u
	}

	out := make([]match.Player, len(players))
	for i, p := range players {
		if u, ok := byID[p.ID]; ok {
			p.Score = u.Score
			p.IsGoalkeeper = u.IsGoalkeeper
		}
		out[i] = p
	}
	return out
}
