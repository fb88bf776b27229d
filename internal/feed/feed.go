// Package feed carries row-level change notifications scoped to a match.
//
// Delivery is at-least-once and may reorder or drop intermediate events when a
// subscriber falls behind, so every event carries a full snapshot of the row and
// consumers re-apply the latest one instead of diffing.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

const (
	TableMatches       = "matches"
	TablePlayers       = "players"
	TableJoinRequests  = "join_requests"
	TableTeamPairs     = "team_pairs"
	TableConfirmations = "team_confirmations"
)

// subscriberBuffer bounds how far a subscriber may lag before older events are dropped.
const subscriberBuffer = 16

type Event struct {
	Type        EventType       `json:"event_type"`
	Table       string          `json:"table"`
	MatchID     uuid.UUID       `json:"match_id"`
	Row         json.RawMessage `json:"row"`
	PublishedAt time.Time       `json:"published_at"`
}

func NewEvent(eventType EventType, table string, matchID uuid.UUID, row interface{}) (Event, error) {
	raw, err := json.Marshal(row)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s row: %w", table, err)
	}
	return Event{
		Type:        eventType,
		Table:       table,
		MatchID:     matchID,
		Row:         raw,
		PublishedAt: time.Now().UTC(),
	}, nil
}

func (e Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Row, v)
}

func topic(matchID uuid.UUID, table string) string {
	return fmt.Sprintf("match:%s:%s", matchID, table)
}

type Feed interface {
	Publish(ctx context.Context, event Event) error
	// Subscribe streams events for one table of one match until ctx ends or the subscription is closed.
	Subscribe(ctx context.Context, matchID uuid.UUID, table string) (*Subscription, error)
}

type Subscription struct {
	Events <-chan Event

	once   sync.Once
	cancel func()
}

func (s *Subscription) Close() {
	s.once.Do(s.cancel)
}

// offer delivers ev without blocking. When the buffer is full the oldest event is dropped,
// which is safe because every event is a full snapshot.
func offer(ch chan Event, ev Event) (dropped bool) {
	for {
		select {
		case ch <- ev:
			return dropped
		default:
		}
		select {
		case <-ch:
			dropped = true
		default:
		}
	}
}
