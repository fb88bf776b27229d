package feed

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rowSnapshot struct {
	Version int `json:"version"`
}

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events:
		require.True(t, ok, "subscription closed unexpectedly")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestMemoryFeedScopesByMatchAndTable(t *testing.T) {
	f := NewMemoryFeed()
	ctx := context.Background()
	matchID := uuid.New()

	teams, err := f.Subscribe(ctx, matchID, TableTeamPairs)
	require.NoError(t, err)
	defer teams.Close()

	players, err := f.Subscribe(ctx, matchID, TablePlayers)
	require.NoError(t, err)
	defer players.Close()

	ev, err := NewEvent(EventUpdate, TableTeamPairs, matchID, rowSnapshot{Version: 3})
	require.NoError(t, err)
	require.NoError(t, f.Publish(ctx, ev))

	other, err := NewEvent(EventUpdate, TableTeamPairs, uuid.New(), rowSnapshot{Version: 9})
	require.NoError(t, err)
	require.NoError(t, f.Publish(ctx, other))

	got := receive(t, teams)
	assert.Equal(t, EventUpdate, got.Type)

	var row rowSnapshot
	require.NoError(t, got.Decode(&row))
	assert.Equal(t, 3, row.Version)

	select {
	case ev := <-players.Events:
		t.Fatalf("unexpected event on players subscription: %+v", ev)
	case ev := <-teams.Events:
		t.Fatalf("event from another match leaked: %+v", ev)
	default:
	}
}

func TestMemoryFeedKeepsLatestWhenLagging(t *testing.T) {
	f := NewMemoryFeed()
	ctx := context.Background()
	matchID := uuid.New()

	sub, err := f.Subscribe(ctx, matchID, TableTeamPairs)
	require.NoError(t, err)
	defer sub.Close()

	total := subscriberBuffer + 5
	for i := 1; i <= total; i++ {
		ev, err := NewEvent(EventUpdate, TableTeamPairs, matchID, rowSnapshot{Version: i})
		require.NoError(t, err)
		require.NoError(t, f.Publish(ctx, ev))
	}

	var last rowSnapshot
	for i := 0; i < subscriberBuffer; i++ {
		require.NoError(t, receive(t, sub).Decode(&last))
	}
	assert.Equal(t, total, last.Version, "the newest snapshot must survive overflow")
}

func TestMemoryFeedSubscriptionEndsWithContext(t *testing.T) {
	f := NewMemoryFeed()
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := f.Subscribe(ctx, uuid.New(), TablePlayers)
	require.NoError(t, err)

	cancel()

	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-sub.Events:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	sub.Close()
}
