package match

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type TeamID string

const (
	TeamA TeamID = "A"
	TeamB TeamID = "B"
)

func (t TeamID) Valid() bool {
	return t == TeamA || t == TeamB
}

// IDList is an ordered list of player ids stored as a JSON array column.
type IDList []uuid.UUID

func (l IDList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]uuid.UUID(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *IDList) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = IDList{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("cannot scan %T into IDList", src)
	}
	var ids []uuid.UUID
	if err := json.Unmarshal(raw, &ids); err != nil {
		return err
	}
	*l = ids
	return nil
}

func (l IDList) Contains(id uuid.UUID) bool {
	for _, v := range l {
		if v == id {
			return true
		}
	}
	return false
}

func (l IDList) Clone() IDList {
	out := make(IDList, len(l))
	copy(out, l)
	return out
}

type Team struct {
	ID        TeamID  `json:"id"`
	Name      string  `json:"name"`
	PlayerIDs IDList  `json:"player_ids"`
	Score     float64 `json:"score"`
}

func (t Team) Size() int {
	return len(t.PlayerIDs)
}

// TeamPair is the full, versioned team split of a match. It is always persisted and broadcast whole.
type TeamPair struct {
	MatchID   uuid.UUID `json:"match_id"`
	A         Team      `json:"team_a"`
	B         Team      `json:"team_b"`
	Locked    IDList    `json:"locked"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p *TeamPair) Team(id TeamID) *Team {
	if id == TeamA {
		return &p.A
	}
	return &p.B
}

func (p *TeamPair) Clone() TeamPair {
	c := *p
	c.A.PlayerIDs = p.A.PlayerIDs.Clone()
	c.B.PlayerIDs = p.B.PlayerIDs.Clone()
	c.Locked = p.Locked.Clone()
	return c
}

func (p *TeamPair) TeamOf(playerID uuid.UUID) (TeamID, bool) {
	switch {
	case p.A.PlayerIDs.Contains(playerID):
		return TeamA, true
	case p.B.PlayerIDs.Contains(playerID):
		return TeamB, true
	}
	return "", false
}

func (p *TeamPair) IsLocked(playerID uuid.UUID) bool {
	return p.Locked.Contains(playerID)
}

// Rescore recomputes both team scores from the given roster. Ids missing from the roster count as zero.
func (p *TeamPair) Rescore(roster map[uuid.UUID]Player) {
	p.A.Score = sumScores(p.A.PlayerIDs, roster)
	p.B.Score = sumScores(p.B.PlayerIDs, roster)
}

func sumScores(ids IDList, roster map[uuid.UUID]Player) float64 {
	var total float64
	for _, id := range ids {
		if pl, ok := roster[id]; ok {
			total += pl.Score
		}
	}
	return total
}

// Participant is the per-player display data frozen into a confirmation.
type Participant struct {
	PlayerID     uuid.UUID `json:"player_id"`
	Name         string    `json:"name"`
	Score        float64   `json:"score"`
	IsGoalkeeper bool      `json:"is_goalkeeper"`
	Team         TeamID    `json:"team"`
}

type Participants []Participant

func (p Participants) Value() (driver.Value, error) {
	b, err := json.Marshal([]Participant(p))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (p *Participants) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*p = nil
		return nil
	case string:
		return json.Unmarshal([]byte(v), p)
	case []byte:
		return json.Unmarshal(v, p)
	}
	return fmt.Errorf("cannot scan %T into Participants", src)
}

type TeamConfirmation struct {
	MatchID      uuid.UUID    `db:"match_id" json:"match_id"`
	TeamA        IDList       `db:"team_a" json:"team_a"`
	TeamB        IDList       `db:"team_b" json:"team_b"`
	Participants Participants `db:"participants_json" json:"participants"`
	ConfirmedAt  time.Time    `db:"confirmed_at" json:"confirmed_at"`
}
