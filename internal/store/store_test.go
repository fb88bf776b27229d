package store

import (
	"context"
	"testing"
	"time"

	apperrors "github.com/AdamBeresnev/matchday/internal/errors"
	"github.com/AdamBeresnev/matchday/internal/match"
	users "github.com/AdamBeresnev/matchday/internal/user"
	"github.com/AdamBeresnev/matchday/internal/utils"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	database, err := sqlx.Connect("sqlite3", "file::memory:")
	require.NoError(t, err, "Failed to connect to in-memory DB")
	database.SetMaxOpenConns(1)

	_, err = database.Exec("PRAGMA foreign_keys = ON;")
	require.NoError(t, err)

	driver, err := sqlite3.WithInstance(database.DB, &sqlite3.Config{})
	require.NoError(t, err, "Failed to create migrate driver instance")

	m, err := migrate.NewWithDatabaseInstance(
		"file://../../migrations",
		"sqlite3",
		driver,
	)
	require.NoError(t, err, "Failed to create migrate instance")

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		require.NoError(t, err, "Failed to apply migrations")
	}

	return database
}

// inTx runs fn in a transaction and commits it.
func inTx(t *testing.T, db *sqlx.DB, fn func(tx *sqlx.Tx)) {
	t.Helper()
	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	fn(tx)
	require.NoError(t, tx.Commit())
}

func createTestMatch(t *testing.T, db *sqlx.DB, stores *Stores) *match.Match {
	t.Helper()
	m := &match.Match{
		ID:          uuid.New(),
		AdminID:     uuid.New(),
		Capacity:    utils.Ptr(10),
		ScheduledAt: time.Now().Add(24 * time.Hour).UTC(),
		Location:    "Pitch 3",
		State:       match.StateOpen,
		CreatedAt:   time.Now().UTC(),
	}
	inTx(t, db, func(tx *sqlx.Tx) {
		require.NoError(t, stores.Matches.CreateMatch(context.Background(), tx, m))
	})
	return m
}

func newPlayer(matchID uuid.UUID, name string, identity *uuid.UUID) *match.Player {
	return &match.Player{
		ID:             uuid.New(),
		MatchID:        matchID,
		LinkedIdentity: identity,
		Name:           name,
		Score:          match.DefaultScore,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestCreateAndGetMatch(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	stores := New(db)
	ctx := context.Background()

	m := createTestMatch(t, db, stores)

	fetched, err := stores.Matches.GetMatch(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, fetched.ID)
	assert.Equal(t, m.AdminID, fetched.AdminID)
	assert.Equal(t, 10, *fetched.Capacity)
	assert.Equal(t, "Pitch 3", fetched.Location)
	assert.Equal(t, match.StateOpen, fetched.State)
	assert.WithinDuration(t, m.ScheduledAt, fetched.ScheduledAt, time.Second)

	_, err = stores.Matches.GetMatch(ctx, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrMatchNotFound)

	byAdmin, err := stores.Matches.GetMatchesByAdmin(ctx, m.AdminID)
	require.NoError(t, err)
	assert.Len(t, byAdmin, 1)
}

func TestTransitionStateIsConditional(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	stores := New(db)
	ctx := context.Background()
	m := createTestMatch(t, db, stores)

	inTx(t, db, func(tx *sqlx.Tx) {
		moved, err := stores.Matches.TransitionState(ctx, tx, m.ID, match.StateOpen, match.StateVotingCalled)
		require.NoError(t, err)
		assert.True(t, moved)

		moved, err = stores.Matches.TransitionState(ctx, tx, m.ID, match.StateOpen, match.StateVotingCalled)
		require.NoError(t, err)
		assert.False(t, moved)
	})

	fetched, err := stores.Matches.GetMatch(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, match.StateVotingCalled, fetched.State)
}

func TestCreatePlayerUniqueness(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	stores := New(db)
	ctx := context.Background()
	m := createTestMatch(t, db, stores)
	identity := uuid.New()

	inTx(t, db, func(tx *sqlx.Tx) {
		inserted, err := stores.Roster.CreatePlayer(ctx, tx, newPlayer(m.ID, "Robin", &identity))
		require.NoError(t, err)
		assert.True(t, inserted)

		inserted, err = stores.Roster.CreatePlayer(ctx, tx, newPlayer(m.ID, "Someone Else", &identity))
		require.NoError(t, err)
		assert.False(t, inserted, "same identity")

		inserted, err = stores.Roster.CreatePlayer(ctx, tx, newPlayer(m.ID, "ROBIN", nil))
		require.NoError(t, err)
		assert.False(t, inserted, "same name ignoring case")

		inserted, err = stores.Roster.CreatePlayer(ctx, tx, newPlayer(m.ID, "Kim", nil))
		require.NoError(t, err)
		assert.True(t, inserted)

		n, err := stores.Roster.CountPlayersTx(ctx, tx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		found, err := stores.Roster.FindByNameTx(ctx, tx, m.ID, "kIM")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, "Kim", found.Name)
	})

	found, err := stores.Roster.FindByIdentity(ctx, m.ID, identity)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "Robin", found.Name)

	missing, err := stores.Roster.FindByIdentity(ctx, m.ID, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = stores.Roster.GetPlayer(ctx, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrPlayerNotFound)
}

func TestGetPlayersKeepsJoinOrder(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	stores := New(db)
	ctx := context.Background()
	m := createTestMatch(t, db, stores)

	names := []string{"First", "Second", "Third"}
	inTx(t, db, func(tx *sqlx.Tx) {
		for i, name := range names {
			p := newPlayer(m.ID, name, nil)
			p.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Millisecond)
			p.IsSubstitute = i > 0
			_, err := stores.Roster.CreatePlayer(ctx, tx, p)
			require.NoError(t, err)
		}

		sub, err := stores.Roster.FirstSubstituteTx(ctx, tx, m.ID)
		require.NoError(t, err)
		require.NotNil(t, sub)
		assert.Equal(t, "Second", sub.Name)
	})

	players, err := stores.Roster.GetPlayers(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, players, 3)
	for i, p := range players {
		assert.Equal(t, names[i], p.Name)
	}
}

func TestUpdateScores(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	stores := New(db)
	ctx := context.Background()
	m := createTestMatch(t, db, stores)
	p := newPlayer(m.ID, "Robin", nil)

	inTx(t, db, func(tx *sqlx.Tx) {
		_, err := stores.Roster.CreatePlayer(ctx, tx, p)
		require.NoError(t, err)
		require.NoError(t, stores.Roster.UpdateScores(ctx, tx, m.ID, []ScoreUpdate{
			{PlayerID: p.ID, Score: 7.33, IsGoalkeeper: true},
		}))
	})

	fetched, err := stores.Roster.GetPlayer(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 7.33, fetched.Score)
	assert.True(t, fetched.IsGoalkeeper)

	tx, err := db.BeginTxx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	err = stores.Roster.UpdateScores(ctx, tx, m.ID, []ScoreUpdate{{PlayerID: uuid.New(), Score: 3}})
	assert.ErrorIs(t, err, apperrors.ErrPlayerNotFound)
}

func TestVotesUpsertAndClear(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	stores := New(db)
	ctx := context.Background()
	m := createTestMatch(t, db, stores)
	target := newPlayer(m.ID, "Robin", nil)
	voter := uuid.New()

	inTx(t, db, func(tx *sqlx.Tx) {
		_, err := stores.Roster.CreatePlayer(ctx, tx, target)
		require.NoError(t, err)
		vote := match.Vote{VoterID: voter, MatchID: m.ID, TargetPlayerID: target.ID, Score: 4}
		require.NoError(t, stores.Votes.UpsertVotes(ctx, tx, []match.Vote{vote}))
		vote.Score = 9
		require.NoError(t, stores.Votes.UpsertVotes(ctx, tx, []match.Vote{vote}))

		votes, err := stores.Votes.GetVotesTx(ctx, tx, m.ID)
		require.NoError(t, err)
		require.Len(t, votes, 1)
		assert.Equal(t, 9, votes[0].Score)
	})

	voted, err := stores.Votes.HasVoted(ctx, m.ID, voter)
	require.NoError(t, err)
	assert.True(t, voted)

	voters, err := stores.Votes.CountVoters(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, voters)

	inTx(t, db, func(tx *sqlx.Tx) {
		cleared, err := stores.Votes.DeleteVotes(ctx, tx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), cleared)
	})

	voted, err = stores.Votes.HasVoted(ctx, m.ID, voter)
	require.NoError(t, err)
	assert.False(t, voted)
}

func TestVoteScoreConstraint(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	stores := New(db)
	ctx := context.Background()
	m := createTestMatch(t, db, stores)
	target := newPlayer(m.ID, "Robin", nil)
	inTx(t, db, func(tx *sqlx.Tx) {
		_, err := stores.Roster.CreatePlayer(ctx, tx, target)
		require.NoError(t, err)
	})

	tx, err := db.BeginTxx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	err = stores.Votes.UpsertVotes(ctx, tx, []match.Vote{{VoterID: uuid.New(), MatchID: m.ID, TargetPlayerID: target.ID, Score: 0}})
	assert.Error(t, err)
}

func TestJoinRequestActiveUniqueness(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	stores := New(db)
	ctx := context.Background()
	m := createTestMatch(t, db, stores)
	requester := uuid.New()

	first := &match.JoinRequest{ID: uuid.New(), MatchID: m.ID, RequesterID: requester, Status: match.JoinPending, CreatedAt: time.Now().UTC()}
	inTx(t, db, func(tx *sqlx.Tx) {
		inserted, err := stores.JoinRequests.CreateJoinRequest(ctx, tx, first)
		require.NoError(t, err)
		assert.True(t, inserted)

		dup := *first
		dup.ID = uuid.New()
		inserted, err = stores.JoinRequests.CreateJoinRequest(ctx, tx, &dup)
		require.NoError(t, err)
		assert.False(t, inserted)

		moved, err := stores.JoinRequests.UpdateStatus(ctx, tx, first.ID, match.JoinPending, match.JoinRejected)
		require.NoError(t, err)
		assert.True(t, moved)

		moved, err = stores.JoinRequests.UpdateStatus(ctx, tx, first.ID, match.JoinPending, match.JoinApproved)
		require.NoError(t, err)
		assert.False(t, moved)
	})

	second := &match.JoinRequest{ID: uuid.New(), MatchID: m.ID, RequesterID: requester, Status: match.JoinPending, CreatedAt: time.Now().UTC().Add(time.Millisecond)}
	inTx(t, db, func(tx *sqlx.Tx) {
		inserted, err := stores.JoinRequests.CreateJoinRequest(ctx, tx, second)
		require.NoError(t, err)
		assert.True(t, inserted, "rejected requests do not block a new one")
	})

	latest, err := stores.JoinRequests.GetLatestJoinRequest(ctx, m.ID, requester)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	pending, err := stores.JoinRequests.GetPendingJoinRequests(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second.ID, pending[0].ID)
}

func TestTeamPairVersioning(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	stores := New(db)
	ctx := context.Background()
	m := createTestMatch(t, db, stores)
	a, b := uuid.New(), uuid.New()

	var pair *match.TeamPair
	inTx(t, db, func(tx *sqlx.Tx) {
		var err error
		pair, err = stores.Teams.ReplaceTeamPair(ctx, tx, &match.TeamPair{
			MatchID:   m.ID,
			A:         match.Team{ID: match.TeamA, Name: "Team A", PlayerIDs: match.IDList{a}, Score: 5},
			B:         match.Team{ID: match.TeamB, Name: "Team B", PlayerIDs: match.IDList{b}, Score: 6},
			UpdatedAt: time.Now().UTC(),
		})
		require.NoError(t, err)
	})
	assert.Equal(t, int64(1), pair.Version)
	assert.Equal(t, match.IDList{a}, pair.A.PlayerIDs)
	assert.Equal(t, match.IDList{}, pair.Locked)

	pair.Locked = match.IDList{a}
	inTx(t, db, func(tx *sqlx.Tx) {
		version, err := stores.Teams.SaveTeamPair(ctx, tx, pair)
		require.NoError(t, err)
		assert.Equal(t, int64(2), version)

		_, err = stores.Teams.SaveTeamPair(ctx, tx, pair)
		assert.ErrorIs(t, err, apperrors.ErrStaleTeamPair)
	})

	stored, err := stores.Teams.GetTeamPair(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)
	assert.Equal(t, match.IDList{a}, stored.Locked)

	inTx(t, db, func(tx *sqlx.Tx) {
		replaced, err := stores.Teams.ReplaceTeamPair(ctx, tx, stored)
		require.NoError(t, err)
		assert.Equal(t, int64(3), replaced.Version, "reforming bumps the version")
	})
}

func TestConfirmationRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	stores := New(db)
	ctx := context.Background()
	m := createTestMatch(t, db, stores)

	none, err := stores.Teams.GetConfirmation(ctx, m.ID)
	require.NoError(t, err)
	assert.Nil(t, none)

	c := &match.TeamConfirmation{
		MatchID: m.ID,
		TeamA:   match.IDList{uuid.New()},
		TeamB:   match.IDList{uuid.New()},
		Participants: match.Participants{
			{PlayerID: uuid.New(), Name: "Robin", Score: 7.5, IsGoalkeeper: true, Team: match.TeamA},
		},
		ConfirmedAt: time.Now().UTC(),
	}
	inTx(t, db, func(tx *sqlx.Tx) {
		require.NoError(t, stores.Teams.UpsertConfirmation(ctx, tx, c))
	})

	fetched, err := stores.Teams.GetConfirmation(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.Equal(t, c.TeamA, fetched.TeamA)
	assert.Equal(t, c.Participants, fetched.Participants)

	inTx(t, db, func(tx *sqlx.Tx) {
		require.NoError(t, stores.Teams.DeleteConfirmation(ctx, tx, m.ID))
	})
	none, err = stores.Teams.GetConfirmation(ctx, m.ID)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestUserStore(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	stores := New(db)
	ctx := context.Background()

	provider, providerID := "discord", "12345"
	u := &users.User{
		ID:         uuid.New(),
		Email:      "robin@example.com",
		Username:   "robin",
		Provider:   &provider,
		ProviderID: &providerID,
		AvatarURL:  utils.StringOrNil("https://cdn.example.com/a.png"),
	}
	require.NoError(t, stores.Users.CreateUser(ctx, u))

	fetched, err := stores.Users.GetUserByProvider(ctx, provider, providerID)
	require.NoError(t, err)
	assert.Equal(t, u.ID, fetched.ID)
	assert.Zero(t, fetched.AbandonCount)

	fetched.Username = "robin2"
	fetched.AvatarURL = nil
	require.NoError(t, stores.Users.UpdateUserNameAndAvatar(ctx, fetched))

	require.NoError(t, stores.Users.IncrementAbandonCount(ctx, u.ID))
	require.NoError(t, stores.Users.IncrementAbandonCount(ctx, u.ID))

	fetched, err = stores.Users.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "robin2", fetched.Username)
	assert.Nil(t, fetched.AvatarURL)
	assert.Equal(t, 2, fetched.AbandonCount)

	assert.ErrorIs(t, stores.Users.IncrementAbandonCount(ctx, uuid.New()), apperrors.ErrUserNotFound)
	_, err = stores.Users.GetUserByProvider(ctx, "google", "nope")
	assert.ErrorIs(t, err, apperrors.ErrUserNotFound)
}
