package match

import "github.com/google/uuid"

const (
	MinScore = 1
	MaxScore = 10

	// NoOpinionScore abstains from rating the target.
	NoOpinionScore = -1
	// GoalkeeperScore marks the target as a goalkeeper without rating them.
	GoalkeeperScore = -2
)

type Vote struct {
	VoterID        uuid.UUID `db:"voter_id" json:"voter_id"`
	MatchID        uuid.UUID `db:"match_id" json:"match_id"`
	TargetPlayerID uuid.UUID `db:"target_player_id" json:"target_player_id"`
	Score          int       `db:"score" json:"score"`
}

func IsRating(score int) bool {
	return score >= MinScore && score <= MaxScore
}

func IsSpecialVote(score int) bool {
	return score == NoOpinionScore || score == GoalkeeperScore
}

func IsValidVoteScore(score int) bool {
	return IsRating(score) || IsSpecialVote(score)
}
