package service

import (
	"testing"
	"time"

	apperrors "github.com/AdamBeresnev/matchday/internal/errors"
	"github.com/AdamBeresnev/matchday/internal/feed"
	"github.com/AdamBeresnev/matchday/internal/match"
	"github.com/AdamBeresnev/matchday/internal/utils"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateMatchPutsAdminOnRoster(t *testing.T) {
	f := newFixture(t)

	m := f.createMatch(t, utils.Ptr(10), true)

	stored, err := f.matches.GetMatch(f.ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, f.adminID, stored.AdminID)
	assert.Equal(t, match.StateOpen, stored.State)
	assert.Equal(t, 10, *stored.Capacity)
	assert.True(t, stored.OpenToCommunity)
	assert.False(t, stored.Confirmed)

	players := f.roster(t, m.ID)
	require.Len(t, players, 1)
	assert.Equal(t, "Admin", players[0].Name)
	assert.True(t, players[0].IsIdentity(f.adminID))
	assert.Equal(t, match.DefaultScore, players[0].Score)
}

func TestCreateMatchValidation(t *testing.T) {
	f := newFixture(t)

	testCases := []struct {
		name string
		req  CreateMatchRequest
	}{
		{name: "capacity too small", req: CreateMatchRequest{Capacity: utils.Ptr(1), ScheduledAt: time.Now()}},
		{name: "missing schedule", req: CreateMatchRequest{}},
		{name: "player name required", req: CreateMatchRequest{ScheduledAt: time.Now(), JoinAsPlayer: true}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.matches.CreateMatch(f.ctx, f.adminID, &tc.req)
			assert.ErrorIs(t, err, &apperrors.ValidationError{Code: apperrors.CodeInvalidInput})
		})
	}
}

func TestCallVotingTransitions(t *testing.T) {
	f := newFixture(t)
	m := f.createMatch(t, nil, false)

	err := f.matches.CallVoting(f.ctx, member(uuid.New(), m.ID), m.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotMatchAdmin)

	require.NoError(t, f.matches.CallVoting(f.ctx, f.admin(m.ID), m.ID))

	stored, err := f.matches.GetMatch(f.ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, match.StateVotingCalled, stored.State)

	err = f.matches.CallVoting(f.ctx, f.admin(m.ID), m.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
}

func TestAdminOfAnotherMatchCannotCallVoting(t *testing.T) {
	f := newFixture(t)
	m := f.createMatch(t, nil, false)
	other := f.createMatch(t, nil, false)

	err := f.matches.CallVoting(f.ctx, f.admin(other.ID), m.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotMatchAdmin)
}

func TestResetVotingClearsVotesAndTeams(t *testing.T) {
	f := newFixture(t)
	m, _ := f.formTeams(t, 4)

	editor, err := OpenTeamEditor(f.ctx, f.db, f.stores, f.feed, f.admin(m.ID), m.ID)
	require.NoError(t, err)
	_, err = editor.Confirm(f.ctx)
	require.NoError(t, err)

	require.NoError(t, f.matches.ResetVoting(f.ctx, f.admin(m.ID), m.ID))

	data, err := f.matches.GetMatchData(f.ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, match.StateOpen, data.Match.State)
	assert.False(t, data.Match.Confirmed)
	assert.Nil(t, data.Teams)
	assert.Nil(t, data.Confirmation)

	_, err = f.stores.Teams.GetTeamPair(f.ctx, m.ID)
	assert.ErrorIs(t, err, apperrors.ErrTeamPairNotFound)

	confirmation, err := f.stores.Teams.GetConfirmation(f.ctx, m.ID)
	require.NoError(t, err)
	assert.Nil(t, confirmation)
}

func TestGetMatchDataIncludesFormedTeams(t *testing.T) {
	f := newFixture(t)
	m, players := f.formTeams(t, 4)

	data, err := f.matches.GetMatchData(f.ctx, m.ID)
	require.NoError(t, err)

	assert.Equal(t, match.StateTeamsFormed, data.Match.State)
	assert.Len(t, data.Players, len(players))
	require.NotNil(t, data.Teams)
	assert.Equal(t, 2, data.Teams.A.Size())
	assert.Equal(t, 2, data.Teams.B.Size())
	assert.Nil(t, data.Confirmation)
}

func TestGetRosterInJoinOrder(t *testing.T) {
	f := newFixture(t)
	m := f.createMatch(t, nil, false)
	f.addGuest(t, m.ID, "Bea")
	f.addGuest(t, m.ID, "Cal")

	players, err := f.matches.GetRoster(f.ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, players, 3)
	assert.Equal(t, []string{"Admin", "Bea", "Cal"}, []string{players[0].Name, players[1].Name, players[2].Name})

	_, err = f.matches.GetRoster(f.ctx, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrMatchNotFound)
}

func TestSetOpenToCommunityBroadcasts(t *testing.T) {
	f := newFixture(t)
	m := f.createMatch(t, nil, false)

	sub, err := f.feed.Subscribe(f.ctx, m.ID, feed.TableMatches)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, f.matches.SetOpenToCommunity(f.ctx, f.admin(m.ID), m.ID, true))

	ev := nextEvent(t, sub)
	var got match.Match
	require.NoError(t, ev.Decode(&got))
	assert.True(t, got.OpenToCommunity)
	assert.Equal(t, feed.EventUpdate, ev.Type)
}

func TestActorFor(t *testing.T) {
	f := newFixture(t)
	m := f.createMatch(t, nil, false)

	actor, err := f.matches.ActorFor(f.ctx, m.ID, f.adminID)
	require.NoError(t, err)
	assert.True(t, actor.CanAdmin(m.ID))

	actor, err = f.matches.ActorFor(f.ctx, m.ID, uuid.New())
	require.NoError(t, err)
	assert.False(t, actor.CanAdmin(m.ID))

	_, err = f.matches.ActorFor(f.ctx, uuid.New(), f.adminID)
	assert.ErrorIs(t, err, apperrors.ErrMatchNotFound)
}
