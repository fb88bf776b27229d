package match

import "github.com/google/uuid"

// Actor is the capability every roster and team operation is checked against.
type Actor struct {
	Identity uuid.UUID
	MatchID  uuid.UUID
	IsAdmin  bool
}

func ActorFor(m *Match, identity uuid.UUID) Actor {
	return Actor{
		Identity: identity,
		MatchID:  m.ID,
		IsAdmin:  m.AdminID == identity,
	}
}

// CanAdmin reports whether the actor holds admin rights over the given match.
func (a Actor) CanAdmin(matchID uuid.UUID) bool {
	return a.IsAdmin && a.MatchID == matchID
}
