package service

import (
	"sort"

	apperrors "github.com/AdamBeresnev/matchday/internal/errors"
	"github.com/AdamBeresnev/matchday/internal/match"
	"github.com/google/uuid"
)

const (
	DefaultTeamAName = "Team A"
	DefaultTeamBName = "Team B"
)

// FormTeams splits the roster into two equal teams by dealing players in descending score order,
// alternating A, B, A, B. This is a greedy approximation, not a minimum-gap partition.
func FormTeams(players []match.Player) (match.Team, match.Team, error) {
	a := match.Team{ID: match.TeamA, Name: DefaultTeamAName, PlayerIDs: match.IDList{}}
	b := match.Team{ID: match.TeamB, Name: DefaultTeamBName, PlayerIDs: match.IDList{}}

	unique := dedupePlayers(players)
	if len(unique)%2 != 0 {
		return a, b, apperrors.ErrOddRoster
	}

	sortByScoreDesc(unique)
	half := len(unique) / 2
	distribute(unique, &a, &b, half, half)

	return a, b, nil
}

// dedupePlayers keeps the first occurrence of every player. Two entries are the same player when
// they share a linked identity or a case-insensitive name.
func dedupePlayers(players []match.Player) []match.Player {
	seenIdentity := make(map[uuid.UUID]struct{}, len(players))
	seenName := make(map[string]struct{}, len(players))

	out := make([]match.Player, 0, len(players))
	for _, p := range players {
		name := match.NormalizeName(p.Name)
		if _, dup := seenName[name]; dup {
			continue
		}
		if p.IsLinked() {
			if _, dup := seenIdentity[*p.LinkedIdentity]; dup {
				continue
			}
			seenIdentity[*p.LinkedIdentity] = struct{}{}
		}
		seenName[name] = struct{}{}
		out = append(out, p)
	}
	return out
}

func sortByScoreDesc(players []match.Player) {
	sort.SliceStable(players, func(i, j int) bool {
		return players[i].Score > players[j].Score
	})
}

// distribute deals sorted players alternately onto a and b, starting with a. Once a team reaches its
// limit the remaining players go to the other one. Team scores are incremented as players land.
func distribute(sorted []match.Player, a, b *match.Team, limitA, limitB int) {
	turnA := true
	for _, p := range sorted {
		toA := turnA
		if toA && a.Size() >= limitA {
			toA = false
		} else if !toA && b.Size() >= limitB {
			toA = true
		}

		if toA {
			a.PlayerIDs = append(a.PlayerIDs, p.ID)
			a.Score += p.Score
		} else {
			b.PlayerIDs = append(b.PlayerIDs, p.ID)
			b.Score += p.Score
		}
		turnA = !turnA
	}
}
