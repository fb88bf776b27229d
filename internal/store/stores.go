package store

import "github.com/jmoiron/sqlx"

// Stores bundles every table store over one connection pool.
type Stores struct {
	Matches      *MatchStore
	Roster       *RosterStore
	Votes        *VoteStore
	JoinRequests *JoinRequestStore
	Teams        *TeamStore
	Users        *UserStore
}

func New(db *sqlx.DB) *Stores {
	return &Stores{
		Matches:      NewMatchStore(db),
		Roster:       NewRosterStore(db),
		Votes:        NewVoteStore(db),
		JoinRequests: NewJoinRequestStore(db),
		Teams:        NewTeamStore(db),
		Users:        NewUserStore(db),
	}
}
