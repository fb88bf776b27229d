package service

import (
	"math"

	"github.com/AdamBeresnev/matchday/internal/match"
	"github.com/AdamBeresnev/matchday/internal/store"
	"github.com/google/uuid"
)

// AggregateVotes computes the new score and goalkeeper flag of every player from the raw votes.
//
// A -2 vote marks the target as goalkeeper and a -1 vote abstains; neither enters the average.
// Any other score outside 1..10 is ignored. A player without counted ratings gets the default score.
func AggregateVotes(players []match.Player, votes []match.Vote) []store.ScoreUpdate {
	buckets := make(map[uuid.UUID][]int, len(players))
	goalkeepers := make(map[uuid.UUID]struct{})

	for _, v := range votes {
		switch {
		case v.Score == match.GoalkeeperScore:
			goalkeepers[v.TargetPlayerID] = struct{}{}
		case v.Score == match.NoOpinionScore:
		case match.IsRating(v.Score):
			buckets[v.TargetPlayerID] = append(buckets[v.TargetPlayerID], v.Score)
		}
	}

	updates := make([]store.ScoreUpdate, 0, len(players))
	for _, p := range players {
		_, keeper := goalkeepers[p.ID]
		updates = append(updates, store.ScoreUpdate{
			PlayerID:     p.ID,
			Score:        averageScore(buckets[p.ID]),
			IsGoalkeeper: keeper,
		})
	}
	return updates
}

func averageScore(scores []int) float64 {
	if len(scores) == 0 {
		return match.DefaultScore
	}
	sum := 0
	for _, s := range scores {
		sum += s
	}
	return roundTo2(float64(sum) / float64(len(scores)))
}

func roundTo2(v float64) float64 {
	return math.Round(v*100) / 100
}
