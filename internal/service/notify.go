package service

import (
	"context"

	"github.com/AdamBeresnev/matchday/internal/feed"
	"github.com/AdamBeresnev/matchday/internal/logger"
	"github.com/AdamBeresnev/matchday/internal/store"
	"github.com/google/uuid"
)

// publish pushes a full-row snapshot after a successful commit. The write already happened, so a feed
// failure is only logged; viewers converge on the next push or reload.
func publish(ctx context.Context, f feed.Feed, eventType feed.EventType, table string, matchID uuid.UUID, row interface{}) {
	if f == nil {
		return
	}
	ev, err := feed.NewEvent(eventType, table, matchID, row)
	if err == nil {
		err = f.Publish(ctx, ev)
	}
	if err != nil {
		logger.WithContext(ctx).WithError(err).WithFields(map[string]interface{}{
			"match_id": matchID,
			"table":    table,
		}).Warn("failed to publish change")
	}
}

// publishRoster broadcasts the whole roster so subscribers never have to merge partial rows.
func publishRoster(ctx context.Context, f feed.Feed, stores *store.Stores, matchID uuid.UUID) {
	if f == nil {
		return
	}
	players, err := stores.Roster.GetPlayers(ctx, matchID)
	if err != nil {
		logger.WithContext(ctx).WithError(err).WithField("match_id", matchID).Warn("failed to load roster for broadcast")
		return
	}
	publish(ctx, f, feed.EventUpdate, feed.TablePlayers, matchID, players)
}
