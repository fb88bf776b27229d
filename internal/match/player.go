package match

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const DefaultScore = 5.0

type Player struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	MatchID        uuid.UUID  `db:"match_id" json:"match_id"`
	LinkedIdentity *uuid.UUID `db:"linked_identity" json:"linked_identity,omitempty"`
	Name           string     `db:"name" json:"name"`
	Score          float64    `db:"score" json:"score"`
	IsGoalkeeper   bool       `db:"is_goalkeeper" json:"is_goalkeeper"`
	IsSubstitute   bool       `db:"is_substitute" json:"is_substitute"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// IsLinked reports whether the player belongs to a real account rather than a guest entry.
func (p *Player) IsLinked() bool {
	return p.LinkedIdentity != nil && *p.LinkedIdentity != uuid.Nil
}

func (p *Player) IsIdentity(identity uuid.UUID) bool {
	return p.IsLinked() && *p.LinkedIdentity == identity
}

func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
