package feed

import (
	"context"
	"sync"

	"github.com/AdamBeresnev/matchday/internal/logger"
	"github.com/google/uuid"
)

// MemoryFeed fans events out to subscribers in the same process.
type MemoryFeed struct {
	mu     sync.Mutex
	subs   map[string]map[chan Event]struct{}
	closed bool
}

func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{subs: make(map[string]map[chan Event]struct{})}
}

func (f *MemoryFeed) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for ch := range f.subs[topic(event.MatchID, event.Table)] {
		if offer(ch, event) {
			logger.New().WithFields(map[string]interface{}{
				"match_id": event.MatchID,
				"table":    event.Table,
			}).Warn("feed subscriber lagging, dropped oldest event")
		}
	}
	return nil
}

func (f *MemoryFeed) Subscribe(ctx context.Context, matchID uuid.UUID, table string) (*Subscription, error) {
	key := topic(matchID, table)
	ch := make(chan Event, subscriberBuffer)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		close(ch)
		return &Subscription{Events: ch, cancel: func() {}}, nil
	}
	if f.subs[key] == nil {
		f.subs[key] = make(map[chan Event]struct{})
	}
	f.subs[key][ch] = struct{}{}
	f.mu.Unlock()

	done := make(chan struct{})
	sub := &Subscription{Events: ch}
	sub.cancel = func() {
		close(done)
		f.remove(key, ch)
	}

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-done:
		}
	}()

	return sub, nil
}

func (f *MemoryFeed) remove(key string, ch chan Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.subs[key][ch]; !ok {
		return
	}
	delete(f.subs[key], ch)
	if len(f.subs[key]) == 0 {
		delete(f.subs, key)
	}
	close(ch)
}

// Close ends every open subscription.
func (f *MemoryFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	for key, chans := range f.subs {
		for ch := range chans {
			close(ch)
		}
		delete(f.subs, key)
	}
	return nil
}
