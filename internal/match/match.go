package match

import (
	"time"

	"github.com/google/uuid"
)

type State string

const (
	StateOpen         State = "open"
	StateVotingCalled State = "voting_called"
	StateTeamsFormed  State = "teams_formed"
)

type Match struct {
	ID              uuid.UUID `db:"id" json:"id"`
	AdminID         uuid.UUID `db:"admin_id" json:"admin_id"`
	Capacity        *int      `db:"capacity" json:"capacity,omitempty"`
	ScheduledAt     time.Time `db:"scheduled_at" json:"scheduled_at"`
	Location        string    `db:"location" json:"location"`
	State           State     `db:"state" json:"state"`
	Confirmed       bool      `db:"confirmed" json:"confirmed"`
	OpenToCommunity bool      `db:"open_to_community" json:"open_to_community"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// RosterLimit is the hard number of players the match accepts, substitutes included.
// A nil capacity means the roster is unlimited and ok is false.
func (m *Match) RosterLimit(overflowMargin int) (limit int, ok bool) {
	if m.Capacity == nil {
		return 0, false
	}
	return *m.Capacity + overflowMargin, true
}

// IsSubstituteSlot reports whether a player joining a roster of the given size lands on the bench.
func (m *Match) IsSubstituteSlot(rosterSize int) bool {
	return m.Capacity != nil && rosterSize >= *m.Capacity
}
