package service

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/AdamBeresnev/matchday/internal/logger"
	"github.com/AdamBeresnev/matchday/internal/match"
	"github.com/AdamBeresnev/matchday/internal/store"
	"github.com/google/uuid"
)

type MembershipStatus string

const (
	MembershipNone     MembershipStatus = "none"
	MembershipPending  MembershipStatus = "pending"
	MembershipApproved MembershipStatus = "approved"
	MembershipRejected MembershipStatus = "rejected"
)

const (
	NotSynchronizedMessage = "Your request was approved but the roster has not caught up yet. Try again later."
	lookupFailedMessage    = "Membership could not be checked right now. Try again later."
)

// MembershipSource answers the two questions the reconciler asks while polling.
type MembershipSource interface {
	IsMember(ctx context.Context, matchID, identity uuid.UUID) (bool, error)
	LatestJoinRequest(ctx context.Context, matchID, identity uuid.UUID) (*match.JoinRequest, error)
}

type storeMembershipSource struct {
	stores *store.Stores
}

func NewStoreMembershipSource(stores *store.Stores) MembershipSource {
	return &storeMembershipSource{stores: stores}
}

func (s *storeMembershipSource) IsMember(ctx context.Context, matchID, identity uuid.UUID) (bool, error) {
	p, err := s.stores.Roster.FindByIdentity(ctx, matchID, identity)
	return p != nil, err
}

func (s *storeMembershipSource) LatestJoinRequest(ctx context.Context, matchID, identity uuid.UUID) (*match.JoinRequest, error) {
	return s.stores.JoinRequests.GetLatestJoinRequest(ctx, matchID, identity)
}

type ReconcilerConfig struct {
	Interval    time.Duration
	MaxAttempts int
}

type MembershipResult struct {
	Status     MembershipStatus `json:"status"`
	Generation uint64           `json:"generation"`
	Attempts   int              `json:"attempts"`
	Message    string           `json:"message,omitempty"`
	// Superseded is set when a newer check started while this one ran; callers must discard it.
	Superseded bool `json:"superseded"`
}

// Reconciler resolves a viewer's membership after an approval, when the roster row may lag behind
// the approved request. It polls within a fixed budget and never fails hard.
type Reconciler struct {
	source      MembershipSource
	interval    time.Duration
	maxAttempts int
	generation  atomic.Uint64
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewReconciler(source MembershipSource, cfg ReconcilerConfig) *Reconciler {
	return &Reconciler{
		source:      source,
		interval:    cfg.Interval,
		maxAttempts: cfg.MaxAttempts,
		sleep:       sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Cancel invalidates every check in flight.
func (r *Reconciler) Cancel() {
	r.generation.Add(1)
}

func (r *Reconciler) CheckMembership(ctx context.Context, matchID, identity uuid.UUID) MembershipResult {
	gen := r.generation.Add(1)
	log := logger.WithContext(ctx).WithFields(map[string]interface{}{
		"match_id":   matchID,
		"generation": gen,
	})

	result := func(status MembershipStatus, attempts int, message string) MembershipResult {
		if r.generation.Load() != gen {
			return MembershipResult{Status: MembershipNone, Generation: gen, Attempts: attempts, Superseded: true}
		}
		return MembershipResult{Status: status, Generation: gen, Attempts: attempts, Message: message}
	}

	member, err := r.source.IsMember(ctx, matchID, identity)
	if err != nil {
		log.WithError(err).Warn("membership lookup failed")
		return result(MembershipNone, 0, lookupFailedMessage)
	}
	if member {
		return result(MembershipApproved, 0, "")
	}

	req, err := r.source.LatestJoinRequest(ctx, matchID, identity)
	if err != nil {
		log.WithError(err).Warn("join request lookup failed")
		return result(MembershipNone, 0, lookupFailedMessage)
	}
	switch {
	case req == nil:
		return result(MembershipNone, 0, "")
	case req.Status == match.JoinPending:
		return result(MembershipPending, 0, "")
	case req.Status == match.JoinRejected:
		return result(MembershipRejected, 0, "")
	case req.Status == match.JoinWithdrawn:
		return result(MembershipNone, 0, "")
	}

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if err := r.sleep(ctx, r.interval); err != nil {
			return MembershipResult{Status: MembershipNone, Generation: gen, Attempts: attempt, Superseded: true}
		}
		if r.generation.Load() != gen {
			return result(MembershipNone, attempt, "")
		}

		member, err := r.source.IsMember(ctx, matchID, identity)
		if err != nil {
			log.WithError(err).WithField("attempt", attempt).Debug("membership poll failed")
			continue
		}
		if member {
			return result(MembershipApproved, attempt, "")
		}
	}

	log.WithField("attempts", r.maxAttempts).Warn("approved membership not visible within budget")
	return result(MembershipNone, r.maxAttempts, NotSynchronizedMessage)
}
