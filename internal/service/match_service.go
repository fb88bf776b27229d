package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/AdamBeresnev/matchday/internal/errors"
	"github.com/AdamBeresnev/matchday/internal/feed"
	"github.com/AdamBeresnev/matchday/internal/logger"
	"github.com/AdamBeresnev/matchday/internal/match"
	"github.com/AdamBeresnev/matchday/internal/store"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// now is the service clock. Timestamps are stored in UTC so roster order survives driver round trips.
var now = func() time.Time {
	return time.Now().UTC()
}

type MatchService struct {
	db        *sqlx.DB
	stores    *store.Stores
	feed      feed.Feed
	validator *validator.Validate
}

func NewMatchService(db *sqlx.DB, stores *store.Stores, f feed.Feed, validator *validator.Validate) *MatchService {
	return &MatchService{db: db, stores: stores, feed: f, validator: validator}
}

type CreateMatchRequest struct {
	Capacity        *int      `json:"capacity" validate:"omitempty,min=2,max=100"`
	ScheduledAt     time.Time `json:"scheduled_at" validate:"required"`
	Location        string    `json:"location" validate:"max=200"`
	OpenToCommunity bool      `json:"open_to_community"`
	// JoinAsPlayer puts the creator on the roster under PlayerName.
	JoinAsPlayer bool   `json:"join_as_player"`
	PlayerName   string `json:"player_name" validate:"required_if=JoinAsPlayer true,max=50"`
}

type MatchData struct {
	Match        *match.Match            `json:"match"`
	Players      []match.Player          `json:"players"`
	Teams        *match.TeamPair         `json:"teams,omitempty"`
	Confirmation *match.TeamConfirmation `json:"confirmation,omitempty"`
}

func validateRequest(v *validator.Validate, req interface{}) error {
	if err := v.Struct(req); err != nil {
		return apperrors.NewValidationError(apperrors.CodeInvalidInput, fmt.Sprintf("validation failed: %v", err))
	}
	return nil
}

func (s *MatchService) CreateMatch(ctx context.Context, adminID uuid.UUID, req *CreateMatchRequest) (*match.Match, error) {
	if err := validateRequest(s.validator, req); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}
	defer tx.Rollback()

	created := now()
	m := &match.Match{
		ID:              uuid.New(),
		AdminID:         adminID,
		Capacity:        req.Capacity,
		ScheduledAt:     req.ScheduledAt.UTC(),
		Location:        strings.TrimSpace(req.Location),
		State:           match.StateOpen,
		OpenToCommunity: req.OpenToCommunity,
		CreatedAt:       created,
	}
	if err := s.stores.Matches.CreateMatch(ctx, tx, m); err != nil {
		return nil, apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}

	if req.JoinAsPlayer {
		identity := adminID
		p := &match.Player{
			ID:             uuid.New(),
			MatchID:        m.ID,
			LinkedIdentity: &identity,
			Name:           strings.TrimSpace(req.PlayerName),
			Score:          match.DefaultScore,
			CreatedAt:      created,
		}
		if _, err := s.stores.Roster.CreatePlayer(ctx, tx, p); err != nil {
			return nil, apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}

	logger.WithContext(ctx).WithField("match_id", m.ID).Info("match created")
	return m, nil
}

func (s *MatchService) GetMatch(ctx context.Context, matchID uuid.UUID) (*match.Match, error) {
	return s.stores.Matches.GetMatch(ctx, matchID)
}

// GetRoster lists the players of a match in join order.
func (s *MatchService) GetRoster(ctx context.Context, matchID uuid.UUID) ([]match.Player, error) {
	if _, err := s.stores.Matches.GetMatch(ctx, matchID); err != nil {
		return nil, err
	}
	players, err := s.stores.Roster.GetPlayers(ctx, matchID)
	if err != nil {
		return nil, apperrors.NewStoreError(apperrors.CodePlayersFetchFailed, err)
	}
	return players, nil
}

// GetMatchData loads everything a match page renders in one call.
func (s *MatchService) GetMatchData(ctx context.Context, matchID uuid.UUID) (*MatchData, error) {
	m, err := s.stores.Matches.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}

	players, err := s.stores.Roster.GetPlayers(ctx, matchID)
	if err != nil {
		return nil, apperrors.NewStoreError(apperrors.CodePlayersFetchFailed, err)
	}

	data := &MatchData{Match: m, Players: players}
	if m.State == match.StateTeamsFormed {
		pair, err := s.stores.Teams.GetTeamPair(ctx, matchID)
		if err != nil && !apperrors.IsNotFound(err) {
			return nil, err
		}
		data.Teams = pair

		confirmation, err := s.stores.Teams.GetConfirmation(ctx, matchID)
		if err != nil {
			return nil, err
		}
		data.Confirmation = confirmation
	}
	return data, nil
}

func (s *MatchService) GetMatchesForAdmin(ctx context.Context, adminID uuid.UUID) ([]match.Match, error) {
	return s.stores.Matches.GetMatchesByAdmin(ctx, adminID)
}

// ActorFor resolves the capability of identity over the match.
func (s *MatchService) ActorFor(ctx context.Context, matchID, identity uuid.UUID) (match.Actor, error) {
	m, err := s.stores.Matches.GetMatch(ctx, matchID)
	if err != nil {
		return match.Actor{}, err
	}
	return match.ActorFor(m, identity), nil
}

// CallVoting opens the rating round. Only an open match can enter voting.
func (s *MatchService) CallVoting(ctx context.Context, actor match.Actor, matchID uuid.UUID) error {
	return s.transition(ctx, actor, matchID, match.StateOpen, match.StateVotingCalled)
}

// ResetVoting discards votes, teams and confirmation and returns the match to open.
func (s *MatchService) ResetVoting(ctx context.Context, actor match.Actor, matchID uuid.UUID) error {
	if !actor.CanAdmin(matchID) {
		return apperrors.ErrNotMatchAdmin
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

	if _, err := s.stores.Votes.DeleteVotes(ctx, tx, matchID); err != nil {
		return apperrors.NewStoreError(apperrors.CodeVoteClearFailed, err)
	}
	if err := s.stores.Teams.DeleteConfirmation(ctx, tx, matchID); err != nil {
		return apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}
	if err := s.stores.Teams.DeleteTeamPair(ctx, tx, matchID); err != nil {
		return apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}
	if err := s.stores.Matches.SetConfirmed(ctx, tx, matchID, false); err != nil {
		return apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}
	if err := s.stores.Matches.UpdateState(ctx, tx, matchID, match.StateOpen); err != nil {
		return apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}

	m.State = match.StateOpen
	m.Confirmed = false
	publish(ctx, s.feed, feed.EventUpdate, feed.TableMatches, matchID, m)
	publish(ctx, s.feed, feed.EventDelete, feed.TableTeamPairs, matchID, map[string]uuid.UUID{"match_id": matchID})
	publish(ctx, s.feed, feed.EventDelete, feed.TableConfirmations, matchID, map[string]uuid.UUID{"match_id": matchID})
	return nil
}

func (s *MatchService) SetOpenToCommunity(ctx context.Context, actor match.Actor, matchID uuid.UUID, open bool) error {
	if !actor.CanAdmin(matchID) {
		return apperrors.ErrNotMatchAdmin
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
	if err := s.stores.Matches.SetOpenToCommunity(ctx, tx, matchID, open); err != nil {
		return apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}
	if err := tx.Commit(); err != nil {
		return apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}

	m.OpenToCommunity = open
	publish(ctx, s.feed, feed.EventUpdate, feed.TableMatches, matchID, m)
	return nil
}

func (s *MatchService) transition(ctx context.Context, actor match.Actor, matchID uuid.UUID, from, to match.State) error {
	if !actor.CanAdmin(matchID) {
		return apperrors.ErrNotMatchAdmin
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
	moved, err := s.stores.Matches.TransitionState(ctx, tx, matchID, from, to)
	if err != nil {
		return apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}
	if !moved {
		return apperrors.ErrInvalidState
	}
	if err := tx.Commit(); err != nil {
		return apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}

	m.State = to
	publish(ctx, s.feed, feed.EventUpdate, feed.TableMatches, matchID, m)
	return nil
}
