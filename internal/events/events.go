// Package events fans out data-change notifications to in-process listeners
// such as the HTTP event stream and the CLI watch command.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/offline-ledger/internal/domain"
)

const subscriberBufferSize = 64

// Kind says what happened to local data.
type Kind string

const (
	// KindChanged means a collection was rewritten from a remote snapshot.
	KindChanged Kind = "changed"
	// KindPulled means a pull-and-merge finished.
	KindPulled Kind = "pulled"
	// KindImported means an import replaced local data.
	KindImported Kind = "imported"
	// KindReset means local data was cleared or factory-reset.
	KindReset Kind = "reset"
)

// Event is one change notification.
type Event struct {
	Kind       Kind              `json:"kind"`
	Collection domain.Collection `json:"collection,omitempty"`
	At         time.Time         `json:"at"`
}

// Bus is an in-memory broadcaster. Publish never blocks: events are dropped
// for subscribers whose buffers are full.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
	log         zerolog.Logger
	closed      bool
}

// NewBus creates an empty bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		subscribers: make(map[string]chan Event),
		log:         log.With().Str("component", "events").Logger(),
	}
}

// Subscribe registers a listener. The subscription ends when ctx is done or
// Unsubscribe is called; either way the channel is closed.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, string) {
	id := uuid.New().String()
	ch := make(chan Event, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, id
	}
	b.subscribers[id] = ch
	b.mu.Unlock()

	b.log.Debug().Str("sub_id", id).Msg("subscriber added")

	go func() {
		<-ctx.Done()
		b.Unsubscribe(id)
	}()

	return ch, id
}

// Publish delivers ev to every subscriber. A zero At is set to now.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	// Sends happen under the read lock so Unsubscribe cannot close a channel
	// mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			b.log.Debug().Str("sub_id", id).Str("kind", string(ev.Kind)).Msg("dropped event for slow subscriber")
		}
	}
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subscribers[id]
	if !ok {
		return
	}
	delete(b.subscribers, id)
	close(ch)

	b.log.Debug().Str("sub_id", id).Msg("subscriber removed")
}

// Subscribers reports the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes every subscriber channel. Later Subscribe calls get a closed
// channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
	b.closed = true
}
