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
	"github.com/AdamBeresnev/matchday/internal/utils"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// AbandonmentRecorder counts late withdrawals against a user.
type AbandonmentRecorder interface {
	RecordAbandonment(ctx context.Context, identity uuid.UUID) error
}

type AdmissionConfig struct {
	// OverflowMargin is how many substitutes may join past capacity.
	OverflowMargin int
	// NoPenaltyCutoff is how long before kickoff a player may still leave without a penalty.
	NoPenaltyCutoff time.Duration
}

// AdmissionService owns who is on a roster: manual adds, removals, join requests and admin handover.
type AdmissionService struct {
	db           *sqlx.DB
	stores       *store.Stores
	feed         feed.Feed
	validator    *validator.Validate
	abandonments AbandonmentRecorder
	cfg          AdmissionConfig
}

func NewAdmissionService(db *sqlx.DB, stores *store.Stores, f feed.Feed, validator *validator.Validate, abandonments AbandonmentRecorder, cfg AdmissionConfig) *AdmissionService {
	return &AdmissionService{
		db:           db,
		stores:       stores,
		feed:         f,
		validator:    validator,
		abandonments: abandonments,
		cfg:          cfg,
	}
}

type AddPlayerRequest struct {
	Name string `json:"name" validate:"required,max=50"`
}

// AddPlayer puts a guest entry without an account on the roster.
func (s *AdmissionService) AddPlayer(ctx context.Context, actor match.Actor, matchID uuid.UUID, req *AddPlayerRequest) (*match.Player, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := validateRequest(s.validator, req); err != nil {
		return nil, err
	}
	if !actor.CanAdmin(matchID) {
		return nil, apperrors.ErrNotMatchAdmin
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}
	defer tx.Rollback()

	m, err := s.stores.Matches.GetMatchTx(ctx, tx, matchID)
	if err != nil {
		return nil, err
	}

	existing, err := s.stores.Roster.FindByNameTx(ctx, tx, matchID, req.Name)
	if err != nil {
		return nil, apperrors.NewStoreError(apperrors.CodePlayersFetchFailed, err)
	}
	if existing != nil {
		return nil, apperrors.ErrDuplicatePlayer
	}

	p := &match.Player{
		ID:        uuid.New(),
		MatchID:   matchID,
		Name:      req.Name,
		Score:     match.DefaultScore,
		CreatedAt: now(),
	}
	inserted, err := s.admit(ctx, tx, m, p)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, apperrors.ErrDuplicatePlayer
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}

	publishRoster(ctx, s.feed, s.stores, matchID)
	return p, nil
}

// admit applies the capacity rules and inserts p. It reports false when a uniqueness constraint
// kept the player out.
func (s *AdmissionService) admit(ctx context.Context, tx *sqlx.Tx, m *match.Match, p *match.Player) (bool, error) {
	size, err := s.stores.Roster.CountPlayersTx(ctx, tx, m.ID)
	if err != nil {
		return false, apperrors.NewStoreError(apperrors.CodePlayersFetchFailed, err)
	}
	if limit, ok := m.RosterLimit(s.cfg.OverflowMargin); ok && size >= limit {
		return false, apperrors.ErrRosterFull
	}
	p.IsSubstitute = m.IsSubstituteSlot(size)

	inserted, err := s.stores.Roster.CreatePlayer(ctx, tx, p)
	if err != nil {
		return false, apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}
	return inserted, nil
}

// RemovePlayer takes a player off the roster. With kick set the admin removes someone else;
// otherwise the actor withdraws their own entry. Leaving inside the no-penalty window before kickoff
// counts as an abandonment.
func (s *AdmissionService) RemovePlayer(ctx context.Context, actor match.Actor, matchID, playerID uuid.UUID, kick bool) error {
	log := logger.WithContext(ctx).WithFields(map[string]interface{}{
		"match_id":  matchID,
		"player_id": playerID,
	})

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}
	defer tx.Rollback()

	p, err := s.stores.Roster.GetPlayerTx(ctx, tx, playerID)
	if err != nil {
		return err
	}
	if p.MatchID != matchID {
		return apperrors.ErrPlayerNotFound
	}

	m, err := s.stores.Matches.GetMatchTx(ctx, tx, matchID)
	if err != nil {
		return err
	}

	self := p.IsIdentity(actor.Identity)
	if kick || !self {
		if !actor.CanAdmin(matchID) {
			if kick {
				return apperrors.ErrNotMatchAdmin
			}
			return apperrors.ErrNotPlayerOwner
		}
	}
	if p.IsIdentity(m.AdminID) {
		return apperrors.ErrAdminTransferRequired
	}

	pending, err := s.stores.Votes.CountVotesTx(ctx, tx, matchID)
	if err != nil {
		return apperrors.NewStoreError(apperrors.CodeVotesFetchFailed, err)
	}
	if pending > 0 {
		return apperrors.ErrVotesPending
	}

	if err := s.stores.Roster.DeletePlayer(ctx, tx, playerID); err != nil {
		return apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}

	var promoted *match.Player
	if !p.IsSubstitute {
		promoted, err = s.stores.Roster.FirstSubstituteTx(ctx, tx, matchID)
		if err != nil {
			return apperrors.NewStoreError(apperrors.CodePlayersFetchFailed, err)
		}
		if promoted != nil {
			if err := s.stores.Roster.SetSubstitute(ctx, tx, promoted.ID, false); err != nil {
				return apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
			}
		}
	}

	withdrawn, err := s.withdrawRequest(ctx, tx, p)
	if err != nil {
		return err
	}

	pair, err := s.dropFromTeams(ctx, tx, matchID, playerID)
	if err != nil {
		return err
	}

	// A confirmed split that loses a player no longer matches its snapshot.
	unconfirmed := pair != nil && m.Confirmed
	if unconfirmed {
		if err := s.stores.Teams.DeleteConfirmation(ctx, tx, matchID); err != nil {
			return apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
		}
		if err := s.stores.Matches.SetConfirmed(ctx, tx, matchID, false); err != nil {
			return apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}

	if promoted != nil {
		log.WithField("promoted_id", promoted.ID).Info("substitute promoted")
	}
	log.WithField("kick", kick).Info("player removed")

	if self && !kick && now().After(m.ScheduledAt.Add(-s.cfg.NoPenaltyCutoff)) {
		s.recordAbandonment(ctx, actor.Identity)
	}

	publishRoster(ctx, s.feed, s.stores, matchID)
	if withdrawn != nil {
		publish(ctx, s.feed, feed.EventUpdate, feed.TableJoinRequests, matchID, withdrawn)
	}
	if pair != nil {
		publish(ctx, s.feed, feed.EventUpdate, feed.TableTeamPairs, matchID, pair)
	}
	if unconfirmed {
		log.Info("teams unconfirmed after roster change")
		m.Confirmed = false
		publish(ctx, s.feed, feed.EventUpdate, feed.TableMatches, matchID, m)
		publish(ctx, s.feed, feed.EventDelete, feed.TableConfirmations, matchID, map[string]uuid.UUID{"match_id": matchID})
	}
	return nil
}

// withdrawRequest closes the active join request of a departing linked player so they can ask again.
func (s *AdmissionService) withdrawRequest(ctx context.Context, tx *sqlx.Tx, p *match.Player) (*match.JoinRequest, error) {
	if !p.IsLinked() {
		return nil, nil
	}
	req, err := s.stores.JoinRequests.GetActiveJoinRequestTx(ctx, tx, p.MatchID, *p.LinkedIdentity)
	if err != nil {
		return nil, apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}
	if req == nil {
		return nil, nil
	}
	if _, err := s.stores.JoinRequests.UpdateStatus(ctx, tx, req.ID, req.Status, match.JoinWithdrawn); err != nil {
		return nil, apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}
	req.Status = match.JoinWithdrawn
	return req, nil
}

// dropFromTeams removes the player from a formed team split so the pair stays a partition of the roster.
func (s *AdmissionService) dropFromTeams(ctx context.Context, tx *sqlx.Tx, matchID, playerID uuid.UUID) (*match.TeamPair, error) {
	pair, err := s.stores.Teams.GetTeamPairTx(ctx, tx, matchID)
	if apperrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}
	if _, ok := pair.TeamOf(playerID); !ok {
		return nil, nil
	}

	pair.A.PlayerIDs = utils.Without(pair.A.PlayerIDs, playerID)
	pair.B.PlayerIDs = utils.Without(pair.B.PlayerIDs, playerID)
	pair.Locked = utils.Without(pair.Locked, playerID)

	players, err := s.stores.Roster.GetPlayersTx(ctx, tx, matchID)
	if err != nil {
		return nil, apperrors.NewStoreError(apperrors.CodePlayersFetchFailed, err)
	}
	pair.Rescore(rosterIndex(players))
	pair.UpdatedAt = now()

	version, err := s.stores.Teams.SaveTeamPair(ctx, tx, pair)
	if err != nil {
		return nil, err
	}
	pair.Version = version
	return pair, nil
}

// recordAbandonment runs detached from the request: the removal already succeeded and a failed
// penalty write is only logged.
func (s *AdmissionService) recordAbandonment(ctx context.Context, identity uuid.UUID) {
	if s.abandonments == nil {
		return
	}
	log := logger.WithContext(ctx).WithField("user_id", identity)
	bg := context.WithoutCancel(ctx)

	go func() {
		ctx, cancel := context.WithTimeout(bg, 10*time.Second)
		defer cancel()
		if err := s.abandonments.RecordAbandonment(ctx, identity); err != nil {
			log.WithError(err).Warn("failed to record abandonment")
			return
		}
		log.Info("late withdrawal recorded")
	}()
}

// TransferAdmin hands the admin role to another player. The target must have an account.
func (s *AdmissionService) TransferAdmin(ctx context.Context, actor match.Actor, matchID, playerID uuid.UUID) error {
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
	p, err := s.stores.Roster.GetPlayerTx(ctx, tx, playerID)
	if err != nil {
		return err
	}
	if p.MatchID != matchID {
		return apperrors.ErrPlayerNotFound
	}
	if !p.IsLinked() {
		return apperrors.ErrTransferTargetUnlinked
	}

	if err := s.stores.Matches.UpdateAdmin(ctx, tx, matchID, *p.LinkedIdentity); err != nil {
		return apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}
	if err := tx.Commit(); err != nil {
		return apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}

	m.AdminID = *p.LinkedIdentity
	logger.WithContext(ctx).WithFields(map[string]interface{}{
		"match_id": matchID,
		"admin_id": m.AdminID,
	}).Info("admin transferred")
	publish(ctx, s.feed, feed.EventUpdate, feed.TableMatches, matchID, m)
	return nil
}

// RequestJoin files a request to join a community match. Repeating the call while a request is
// active returns that request.
func (s *AdmissionService) RequestJoin(ctx context.Context, matchID, identity uuid.UUID) (*match.JoinRequest, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}
	defer tx.Rollback()

	m, err := s.stores.Matches.GetMatchTx(ctx, tx, matchID)
	if err != nil {
		return nil, err
	}

	member, err := s.stores.Roster.FindByIdentityTx(ctx, tx, matchID, identity)
	if err != nil {
		return nil, apperrors.NewStoreError(apperrors.CodePlayersFetchFailed, err)
	}
	if member != nil {
		return nil, apperrors.ErrAlreadyMember
	}

	active, err := s.stores.JoinRequests.GetActiveJoinRequestTx(ctx, tx, matchID, identity)
	if err != nil {
		return nil, apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}
	if active != nil {
		return active, nil
	}

	if !m.OpenToCommunity {
		return nil, apperrors.ErrMatchNotOpen
	}
	size, err := s.stores.Roster.CountPlayersTx(ctx, tx, matchID)
	if err != nil {
		return nil, apperrors.NewStoreError(apperrors.CodePlayersFetchFailed, err)
	}
	if limit, ok := m.RosterLimit(s.cfg.OverflowMargin); ok && size >= limit {
		return nil, apperrors.ErrRosterFull
	}

	req := &match.JoinRequest{
		ID:          uuid.New(),
		MatchID:     matchID,
		RequesterID: identity,
		Status:      match.JoinPending,
		CreatedAt:   now(),
	}
	inserted, err := s.stores.JoinRequests.CreateJoinRequest(ctx, tx, req)
	if err != nil {
		return nil, apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}
	if !inserted {
		req, err = s.stores.JoinRequests.GetActiveJoinRequestTx(ctx, tx, matchID, identity)
		if err != nil {
			return nil, apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
		}
		if req == nil {
			return nil, apperrors.NewStoreError(apperrors.CodeStoreFailed, fmt.Errorf("join request vanished after conflict"))
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}

	if inserted {
		publish(ctx, s.feed, feed.EventInsert, feed.TableJoinRequests, matchID, req)
	}
	return req, nil
}

func (s *AdmissionService) PendingRequests(ctx context.Context, actor match.Actor, matchID uuid.UUID) ([]match.JoinRequest, error) {
	if !actor.CanAdmin(matchID) {
		return nil, apperrors.ErrNotMatchAdmin
	}
	return s.stores.JoinRequests.GetPendingJoinRequests(ctx, matchID)
}

// ApproveJoin admits the requester as a linked player. Approving twice, or approving someone who
// is already on the roster, succeeds without creating a second player.
func (s *AdmissionService) ApproveJoin(ctx context.Context, actor match.Actor, requestID uuid.UUID) (*match.Player, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}
	defer tx.Rollback()

	req, err := s.stores.JoinRequests.GetJoinRequestTx(ctx, tx, requestID)
	if err != nil {
		return nil, err
	}
	if !actor.CanAdmin(req.MatchID) {
		return nil, apperrors.ErrNotMatchAdmin
	}
	if req.Status == match.JoinRejected || req.Status == match.JoinWithdrawn {
		return nil, apperrors.ErrInvalidState
	}

	log := logger.WithContext(ctx).WithFields(map[string]interface{}{
		"match_id":     req.MatchID,
		"request_id":   req.ID,
		"requester_id": req.RequesterID,
	})

	m, err := s.stores.Matches.GetMatchTx(ctx, tx, req.MatchID)
	if err != nil {
		return nil, err
	}

	if req.Status == match.JoinPending {
		moved, err := s.stores.JoinRequests.UpdateStatus(ctx, tx, req.ID, match.JoinPending, match.JoinApproved)
		if err != nil {
			return nil, apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
		}
		if !moved {
			// A concurrent approval may have won the row; re-read and treat that as success.
			current, err := s.stores.JoinRequests.GetJoinRequestTx(ctx, tx, req.ID)
			if err != nil {
				return nil, err
			}
			if current.Status != match.JoinApproved {
				return nil, apperrors.ErrInvalidState
			}
		}
		req.Status = match.JoinApproved
	}

	existing, err := s.stores.Roster.FindByIdentityTx(ctx, tx, req.MatchID, req.RequesterID)
	if err != nil {
		return nil, apperrors.NewStoreError(apperrors.CodePlayersFetchFailed, err)
	}
	if existing != nil {
		if err := tx.Commit(); err != nil {
			return nil, apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
		}
		log.Info("requester already on roster, approval is a no-op")
		publish(ctx, s.feed, feed.EventUpdate, feed.TableJoinRequests, req.MatchID, req)
		return existing, nil
	}

	name, err := s.rosterName(ctx, tx, req.MatchID, req.RequesterID)
	if err != nil {
		return nil, err
	}

	identity := req.RequesterID
	p := &match.Player{
		ID:             uuid.New(),
		MatchID:        req.MatchID,
		LinkedIdentity: &identity,
		Name:           name,
		Score:          match.DefaultScore,
		CreatedAt:      now(),
	}
	inserted, err := s.admit(ctx, tx, m, p)
	if err != nil {
		return nil, err
	}
	if !inserted {
		existing, err := s.stores.Roster.FindByIdentityTx(ctx, tx, req.MatchID, req.RequesterID)
		if err != nil {
			return nil, apperrors.NewStoreError(apperrors.CodePlayersFetchFailed, err)
		}
		if existing == nil {
			return nil, apperrors.ErrDuplicatePlayer
		}
		p = existing
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}

	log.WithField("player_id", p.ID).Info("join request approved")
	publish(ctx, s.feed, feed.EventUpdate, feed.TableJoinRequests, req.MatchID, req)
	publishRoster(ctx, s.feed, s.stores, req.MatchID)
	return p, nil
}

// rosterName picks the requester's display name, suffixed when a guest entry already uses it.
func (s *AdmissionService) rosterName(ctx context.Context, tx *sqlx.Tx, matchID, identity uuid.UUID) (string, error) {
	base := "Player " + identity.String()[:8]
	user, err := s.stores.Users.GetUserTx(ctx, tx, identity)
	switch {
	case err == nil:
		if n := strings.TrimSpace(user.DisplayName()); n != "" {
			base = n
		}
	case !apperrors.IsNotFound(err):
		return "", apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}

	name := base
	for i := 2; i <= 10; i++ {
		taken, err := s.stores.Roster.FindByNameTx(ctx, tx, matchID, name)
		if err != nil {
			return "", apperrors.NewStoreError(apperrors.CodePlayersFetchFailed, err)
		}
		if taken == nil {
			return name, nil
		}
		name = fmt.Sprintf("%s (%d)", base, i)
	}
	return "", apperrors.ErrDuplicatePlayer
}

func (s *AdmissionService) RejectJoin(ctx context.Context, actor match.Actor, requestID uuid.UUID) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}
	defer tx.Rollback()

	req, err := s.stores.JoinRequests.GetJoinRequestTx(ctx, tx, requestID)
	if err != nil {
		return err
	}
	if !actor.CanAdmin(req.MatchID) {
		return apperrors.ErrNotMatchAdmin
	}

	switch req.Status {
	case match.JoinRejected:
		return nil
	case match.JoinApproved, match.JoinWithdrawn:
		return apperrors.ErrInvalidState
	}

	moved, err := s.stores.JoinRequests.UpdateStatus(ctx, tx, req.ID, match.JoinPending, match.JoinRejected)
	if err != nil {
		return apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}
	if !moved {
		return apperrors.ErrInvalidState
	}
	if err := tx.Commit(); err != nil {
		return apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}

	req.Status = match.JoinRejected
	publish(ctx, s.feed, feed.EventUpdate, feed.TableJoinRequests, req.MatchID, req)
	return nil
}

func rosterIndex(players []match.Player) map[uuid.UUID]match.Player {
	idx := make(map[uuid.UUID]match.Player, len(players))
	for _, p := range players {
		idx[p.ID] = p
	}
	return idx
}
