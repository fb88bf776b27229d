package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/AdamBeresnev/matchday/internal/logger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisFeed publishes events over Redis pub/sub so sessions served by different processes converge.
type RedisFeed struct {
	client *redis.Client
}

func NewRedisFeed(addr, password string, db int) (*RedisFeed, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: 100,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.New().WithField("addr", addr).Info("Redis change feed connected.")
	return &RedisFeed{client: client}, nil
}

func NewRedisFeedFromClient(client *redis.Client) *RedisFeed {
	return &RedisFeed{client: client}
}

func (f *RedisFeed) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, topic(event.MatchID, event.Table), payload).Err()
}

func (f *RedisFeed) Subscribe(ctx context.Context, matchID uuid.UUID, table string) (*Subscription, error) {
	ps := f.client.Subscribe(ctx, topic(matchID, table))

	// Wait for the subscription confirmation so no event published after Subscribe returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", table, err)
	}

	out := make(chan Event, subscriberBuffer)
	done := make(chan struct{})
	sub := &Subscription{Events: out}
	sub.cancel = func() { close(done) }

	log := logger.New().WithFields(map[string]interface{}{"match_id": matchID, "table": table})

	go func() {
		defer close(out)
		defer ps.Close()

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					log.WithError(err).Warn("discarding malformed feed event")
					continue
				}
				if offer(out, ev) {
					log.Warn("feed subscriber lagging, dropped oldest event")
				}
			}
		}
	}()

	return sub, nil
}

func (f *RedisFeed) Close() error {
	return f.client.Close()
}
