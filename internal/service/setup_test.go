package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/AdamBeresnev/matchday/internal/feed"
	"github.com/AdamBeresnev/matchday/internal/match"
	"github.com/AdamBeresnev/matchday/internal/store"
	"github.com/go-playground/validator/v10"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	database, err := sqlx.Connect("sqlite3", "file::memory:")
	require.NoError(t, err, "Failed to connect to in-memory DB")
	// Every connection to :memory: is a separate database.
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

// chanRecorder reports every recorded abandonment on a channel.
type chanRecorder chan uuid.UUID

func (c chanRecorder) RecordAbandonment(_ context.Context, identity uuid.UUID) error {
	c <- identity
	return nil
}

type fixture struct {
	ctx       context.Context
	db        *sqlx.DB
	stores    *store.Stores
	feed      *feed.MemoryFeed
	matches   *MatchService
	voting    *VotingService
	admission *AdmissionService
	abandoned chanRecorder
	adminID   uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := setupTestDB(t)
	t.Cleanup(func() { db.Close() })

	stores := store.New(db)
	f := feed.NewMemoryFeed()
	t.Cleanup(func() { f.Close() })
	v := validator.New()
	abandoned := make(chanRecorder, 4)

	return &fixture{
		ctx:     context.Background(),
		db:      db,
		stores:  stores,
		feed:    f,
		matches: NewMatchService(db, stores, f, v),
		voting:  NewVotingService(db, stores, f),
		admission: NewAdmissionService(db, stores, f, v, abandoned, AdmissionConfig{
			OverflowMargin:  2,
			NoPenaltyCutoff: 24 * time.Hour,
		}),
		abandoned: abandoned,
		adminID:   uuid.New(),
	}
}

func (f *fixture) admin(matchID uuid.UUID) match.Actor {
	return match.Actor{Identity: f.adminID, MatchID: matchID, IsAdmin: true}
}

func member(identity, matchID uuid.UUID) match.Actor {
	return match.Actor{Identity: identity, MatchID: matchID}
}

// createMatch creates a match two days out with the admin already on the roster.
func (f *fixture) createMatch(t *testing.T, capacity *int, open bool) *match.Match {
	t.Helper()
	m, err := f.matches.CreateMatch(f.ctx, f.adminID, &CreateMatchRequest{
		Capacity:        capacity,
		ScheduledAt:     time.Now().Add(48 * time.Hour),
		Location:        "Riverside Park",
		OpenToCommunity: open,
		JoinAsPlayer:    true,
		PlayerName:      "Admin",
	})
	require.NoError(t, err)
	return m
}

// addLinked puts a player with an account straight onto the roster.
func (f *fixture) addLinked(t *testing.T, matchID uuid.UUID, name string) (*match.Player, uuid.UUID) {
	t.Helper()
	identity := uuid.New()
	p := &match.Player{
		ID:             uuid.New(),
		MatchID:        matchID,
		LinkedIdentity: &identity,
		Name:           name,
		Score:          match.DefaultScore,
		CreatedAt:      now(),
	}

	tx, err := f.db.BeginTxx(f.ctx, nil)
	require.NoError(t, err)
	inserted, err := f.stores.Roster.CreatePlayer(f.ctx, tx, p)
	require.NoError(t, err)
	require.True(t, inserted)
	require.NoError(t, tx.Commit())
	return p, identity
}

func (f *fixture) addGuest(t *testing.T, matchID uuid.UUID, name string) *match.Player {
	t.Helper()
	p, err := f.admission.AddPlayer(f.ctx, f.admin(matchID), matchID, &AddPlayerRequest{Name: name})
	require.NoError(t, err)
	return p
}

func (f *fixture) roster(t *testing.T, matchID uuid.UUID) []match.Player {
	t.Helper()
	players, err := f.stores.Roster.GetPlayers(f.ctx, matchID)
	require.NoError(t, err)
	return players
}

// formTeams fills the roster up to size players and closes an empty voting round.
func (f *fixture) formTeams(t *testing.T, size int) (*match.Match, []match.Player) {
	t.Helper()
	m := f.createMatch(t, nil, false)
	for i := 2; i <= size; i++ {
		f.addGuest(t, m.ID, fmt.Sprintf("Guest %d", i))
	}
	require.NoError(t, f.matches.CallVoting(f.ctx, f.admin(m.ID), m.ID))
	_, err := f.voting.CloseVoting(f.ctx, f.admin(m.ID), m.ID)
	require.NoError(t, err)
	return m, f.roster(t, m.ID)
}

// nextEvent waits briefly for one event on sub.
func nextEvent(t *testing.T, sub *feed.Subscription) feed.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events:
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
	return feed.Event{}
}
