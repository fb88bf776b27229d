package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	apperrors "github.com/AdamBeresnev/matchday/internal/errors"
	"github.com/AdamBeresnev/matchday/internal/feed"
	"github.com/AdamBeresnev/matchday/internal/logger"
	"github.com/AdamBeresnev/matchday/internal/match"
	"github.com/AdamBeresnev/matchday/internal/store"
	"github.com/AdamBeresnev/matchday/internal/utils"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type EditorState string

const (
	EditorEditable  EditorState = "editable"
	EditorConfirmed EditorState = "confirmed"
)

const maxTeamNameLength = 40

// MoveRequest drags the player at (SourceTeam, SourceIndex) to (DestTeam, DestIndex). With Swap set
// the two players trade places; otherwise the player is inserted at DestIndex.
type MoveRequest struct {
	SourceTeam  match.TeamID `json:"source_team"`
	SourceIndex int          `json:"source_index"`
	DestTeam    match.TeamID `json:"dest_team"`
	DestIndex   int          `json:"dest_index"`
	Swap        bool         `json:"swap"`
}

// TeamEditor is one admin's editing session over a match's formed teams. Edits apply to the local
// copy first and are then persisted; remote changes from the feed replace the local copy when they
// are not older.
type TeamEditor struct {
	db      *sqlx.DB
	stores  *store.Stores
	feed    feed.Feed
	actor   match.Actor
	matchID uuid.UUID

	mu     sync.Mutex
	state  EditorState
	pair   match.TeamPair
	roster map[uuid.UUID]match.Player
}

// OpenTeamEditor loads the current split of a match that has formed teams.
func OpenTeamEditor(ctx context.Context, db *sqlx.DB, stores *store.Stores, f feed.Feed, actor match.Actor, matchID uuid.UUID) (*TeamEditor, error) {
	m, err := stores.Matches.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if m.State != match.StateTeamsFormed {
		return nil, apperrors.ErrInvalidState
	}
	pair, err := stores.Teams.GetTeamPair(ctx, matchID)
	if err != nil {
		return nil, err
	}
	players, err := stores.Roster.GetPlayers(ctx, matchID)
	if err != nil {
		return nil, apperrors.NewStoreError(apperrors.CodePlayersFetchFailed, err)
	}

	state := EditorEditable
	if m.Confirmed {
		state = EditorConfirmed
	}
	return &TeamEditor{
		db:      db,
		stores:  stores,
		feed:    f,
		actor:   actor,
		matchID: matchID,
		state:   state,
		pair:    *pair,
		roster:  rosterIndex(players),
	}, nil
}

func (e *TeamEditor) State() EditorState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Teams returns a copy of the editor's current split.
func (e *TeamEditor) Teams() match.TeamPair {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pair.Clone()
}

// ToggleLock pins or unpins a player to their team.
func (e *TeamEditor) ToggleLock(ctx context.Context, playerID uuid.UUID) error {
	return e.mutate(ctx, func(next *match.TeamPair) error {
		if _, ok := next.TeamOf(playerID); !ok {
			return apperrors.ErrPlayerNotFound
		}
		if next.IsLocked(playerID) {
			next.Locked = utils.Without(next.Locked, playerID)
		} else {
			next.Locked = append(next.Locked, playerID)
		}
		return nil
	})
}

// Randomize redeals every unlocked player by score, keeping locked players and team sizes in place.
func (e *TeamEditor) Randomize(ctx context.Context) error {
	return e.mutate(ctx, func(next *match.TeamPair) error {
		limitA, limitB := next.A.Size(), next.B.Size()

		var free []match.Player
		pinned := func(ids match.IDList) match.IDList {
			keep := match.IDList{}
			for _, id := range ids {
				if next.IsLocked(id) {
					keep = append(keep, id)
					continue
				}
				p, ok := e.roster[id]
				if !ok {
					p = match.Player{ID: id}
				}
				free = append(free, p)
			}
			return keep
		}
		next.A.PlayerIDs = pinned(next.A.PlayerIDs)
		next.B.PlayerIDs = pinned(next.B.PlayerIDs)

		sortByScoreDesc(free)
		distribute(free, &next.A, &next.B, limitA, limitB)
		return nil
	})
}

// Move applies a drag between or within teams. The result is checked to hold exactly the same players
// as before; if not, the move is discarded.
func (e *TeamEditor) Move(ctx context.Context, req MoveRequest) error {
	return e.mutate(ctx, func(next *match.TeamPair) error {
		if !req.SourceTeam.Valid() || !req.DestTeam.Valid() {
			return apperrors.ErrInvalidSlot
		}
		before := memberCount(next)

		src := next.Team(req.SourceTeam)
		dst := next.Team(req.DestTeam)
		if req.SourceIndex < 0 || req.SourceIndex >= src.Size() {
			return apperrors.ErrInvalidSlot
		}
		moving := src.PlayerIDs[req.SourceIndex]
		if next.IsLocked(moving) {
			return apperrors.ErrLockedPlayerMoveBlocked
		}

		switch {
		case req.Swap:
			if req.DestIndex < 0 || req.DestIndex >= dst.Size() {
				return apperrors.ErrInvalidSlot
			}
			if next.IsLocked(dst.PlayerIDs[req.DestIndex]) {
				return apperrors.ErrLockedPlayerMoveBlocked
			}
			src.PlayerIDs[req.SourceIndex], dst.PlayerIDs[req.DestIndex] = dst.PlayerIDs[req.DestIndex], src.PlayerIDs[req.SourceIndex]

		case req.SourceTeam == req.DestTeam:
			if req.DestIndex < 0 || req.DestIndex >= src.Size() {
				return apperrors.ErrInvalidSlot
			}
			ids := utils.RemoveAt(src.PlayerIDs, req.SourceIndex)
			src.PlayerIDs = utils.InsertAt(ids, req.DestIndex, moving)

		default:
			if req.DestIndex < 0 || req.DestIndex > dst.Size() {
				return apperrors.ErrInvalidSlot
			}
			src.PlayerIDs = utils.RemoveAt(src.PlayerIDs, req.SourceIndex)
			dst.PlayerIDs = utils.InsertAt(dst.PlayerIDs, req.DestIndex, moving)
		}

		if err := checkIntegrity(next, before); err != nil {
			logger.WithContext(ctx).WithError(err).WithField("match_id", next.MatchID).Warn("move discarded")
			return err
		}
		return nil
	})
}

// Rename sets the display name of one team.
func (e *TeamEditor) Rename(ctx context.Context, team match.TeamID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxTeamNameLength {
		return apperrors.NewValidationError(apperrors.CodeInvalidInput, fmt.Sprintf("team name must be 1 to %d characters", maxTeamNameLength))
	}
	return e.mutate(ctx, func(next *match.TeamPair) error {
		if !team.Valid() {
			return apperrors.ErrInvalidSlot
		}
		next.Team(team).Name = name
		return nil
	})
}

// Confirm freezes the split into a confirmation snapshot and stops further edits.
func (e *TeamEditor) Confirm(ctx context.Context) (*match.TeamConfirmation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkEditable(); err != nil {
		return nil, err
	}
	if e.pair.A.Size() != e.pair.B.Size() {
		return nil, apperrors.ErrUnbalancedTeamCount
	}

	players, err := e.stores.Roster.GetPlayers(ctx, e.matchID)
	if err != nil {
		return nil, apperrors.NewStoreError(apperrors.CodePlayersFetchFailed, err)
	}
	e.roster = rosterIndex(players)

	participants := match.Participants{}
	resolved := map[match.TeamID]int{}
	for _, side := range []match.TeamID{match.TeamA, match.TeamB} {
		for _, id := range e.pair.Team(side).PlayerIDs {
			p, ok := e.roster[id]
			if !ok {
				continue
			}
			resolved[side]++
			participants = append(participants, match.Participant{
				PlayerID:     p.ID,
				Name:         p.Name,
				Score:        p.Score,
				IsGoalkeeper: p.IsGoalkeeper,
				Team:         side,
			})
		}
	}
	if resolved[match.TeamA] == 0 || resolved[match.TeamB] == 0 {
		return nil, apperrors.ErrMissingPlayers
	}

	confirmation := &match.TeamConfirmation{
		MatchID:      e.matchID,
		TeamA:        e.pair.A.PlayerIDs.Clone(),
		TeamB:        e.pair.B.PlayerIDs.Clone(),
		Participants: participants,
		ConfirmedAt:  now(),
	}

	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}
	defer tx.Rollback()

	if err := e.stores.Teams.UpsertConfirmation(ctx, tx, confirmation); err != nil {
		return nil, apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}
	if err := e.stores.Matches.SetConfirmed(ctx, tx, e.matchID, true); err != nil {
		return nil, apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}

	e.state = EditorConfirmed
	logger.WithContext(ctx).WithField("match_id", e.matchID).Info("teams confirmed")
	publish(ctx, e.feed, feed.EventInsert, feed.TableConfirmations, e.matchID, confirmation)
	return confirmation, nil
}

// Unconfirm drops the confirmation snapshot and reopens the split for editing.
func (e *TeamEditor) Unconfirm(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.actor.CanAdmin(e.matchID) {
		return apperrors.ErrNotMatchAdmin
	}
	if e.state != EditorConfirmed {
		return apperrors.ErrTeamsNotConfirmed
	}

	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}
	defer tx.Rollback()

	if err := e.stores.Teams.DeleteConfirmation(ctx, tx, e.matchID); err != nil {
		return apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}
	if err := e.stores.Matches.SetConfirmed(ctx, tx, e.matchID, false); err != nil {
		return apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}
	if err := tx.Commit(); err != nil {
		return apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}

	e.state = EditorEditable
	publish(ctx, e.feed, feed.EventDelete, feed.TableConfirmations, e.matchID, map[string]uuid.UUID{"match_id": e.matchID})
	return nil
}

// ApplyRemote replaces the local split with one received from the feed unless it is older.
func (e *TeamEditor) ApplyRemote(pair match.TeamPair) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if pair.MatchID != e.matchID || pair.Version < e.pair.Version {
		return false
	}
	e.pair = pair.Clone()
	return true
}

// Watch subscribes to the feed for this match and applies team, confirmation and roster changes made
// by other sessions in the background until ctx ends or stop is called.
func (e *TeamEditor) Watch(ctx context.Context) (stop func(), err error) {
	ctx, cancel := context.WithCancel(ctx)

	tables := []string{feed.TableTeamPairs, feed.TableConfirmations, feed.TablePlayers}
	subs := make([]*feed.Subscription, 0, len(tables))
	for _, table := range tables {
		sub, err := e.feed.Subscribe(ctx, e.matchID, table)
		if err != nil {
			cancel()
			for _, s := range subs {
				s.Close()
			}
			return nil, apperrors.NewStoreError(apperrors.CodeFeedFailed, err)
		}
		subs = append(subs, sub)
	}

	go e.follow(ctx, subs[0], subs[1], subs[2])
	return cancel, nil
}

func (e *TeamEditor) follow(ctx context.Context, teams, confirmations, roster *feed.Subscription) {
	defer teams.Close()
	defer confirmations.Close()
	defer roster.Close()

	log := logger.WithContext(ctx).WithField("match_id", e.matchID)
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-teams.Events:
			if !ok {
				return
			}
			if ev.Type == feed.EventDelete {
				continue
			}
			var pair match.TeamPair
			if err := ev.Decode(&pair); err != nil {
				log.WithError(err).Warn("undecodable team pair event")
				continue
			}
			e.ApplyRemote(pair)

		case ev, ok := <-confirmations.Events:
			if !ok {
				return
			}
			e.applyConfirmation(ev.Type != feed.EventDelete)

		case ev, ok := <-roster.Events:
			if !ok {
				return
			}
			var players []match.Player
			if err := ev.Decode(&players); err != nil {
				log.WithError(err).Warn("undecodable roster event")
				continue
			}
			e.applyRoster(players)
		}
	}
}

func (e *TeamEditor) applyConfirmation(confirmed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if confirmed {
		e.state = EditorConfirmed
	} else {
		e.state = EditorEditable
	}
}

func (e *TeamEditor) applyRoster(players []match.Player) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.roster = rosterIndex(players)
	e.pair.Rescore(e.roster)
}

func (e *TeamEditor) checkEditable() error {
	if !e.actor.CanAdmin(e.matchID) {
		return apperrors.ErrNotMatchAdmin
	}
	if e.state == EditorConfirmed {
		return apperrors.ErrTeamsConfirmed
	}
	return nil
}

// mutate runs fn on a copy of the split, adopts the result locally and persists it. A failed write
// leaves the local result in place and is returned to the caller; the next feed push corrects it.
func (e *TeamEditor) mutate(ctx context.Context, fn func(next *match.TeamPair) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkEditable(); err != nil {
		return err
	}

	next := e.pair.Clone()
	if err := fn(&next); err != nil {
		return err
	}
	next.Rescore(e.roster)
	next.UpdatedAt = now()
	e.pair = next

	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}
	defer tx.Rollback()

	version, err := e.stores.Teams.SaveTeamPair(ctx, tx, &next)
	if err != nil {
		if apperrors.IsIntegrity(err) {
			return err
		}
		return apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}
	if err := tx.Commit(); err != nil {
		return apperrors.NewStoreError(apperrors.CodeStoreFailed, err)
	}

	e.pair.Version = version
	publish(ctx, e.feed, feed.EventUpdate, feed.TableTeamPairs, e.matchID, e.pair)
	return nil
}

func memberCount(p *match.TeamPair) int {
	return p.A.Size() + p.B.Size()
}

// checkIntegrity verifies a move neither lost nor duplicated anyone.
func checkIntegrity(p *match.TeamPair, before int) error {
	if memberCount(p) != before {
		return apperrors.ErrDragIntegrity
	}
	seen := make(map[uuid.UUID]struct{}, before)
	for _, ids := range []match.IDList{p.A.PlayerIDs, p.B.PlayerIDs} {
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				return apperrors.ErrDragIntegrity
			}
			seen[id] = struct{}{}
		}
	}
	return nil
}
