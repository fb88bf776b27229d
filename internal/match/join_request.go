package match

import (
	"time"

	"github.com/google/uuid"
)

type JoinStatus string

const (
	JoinPending   JoinStatus = "pending"
	JoinApproved  JoinStatus = "approved"
	JoinRejected  JoinStatus = "rejected"
	JoinWithdrawn JoinStatus = "withdrawn" // the approved player later left or was kicked
)

type JoinRequest struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	MatchID     uuid.UUID  `db:"match_id" json:"match_id"`
	RequesterID uuid.UUID  `db:"requester_id" json:"requester_id"`
	Status      JoinStatus `db:"status" json:"status"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// IsActive reports whether the request still blocks a new one for the same requester.
func (r *JoinRequest) IsActive() bool {
	return r.Status == JoinPending || r.Status == JoinApproved
}
