package app

import (
	"sync"
	"time"

	"github.com/lem-onair/lemonair-streaming/internal/domain"
)

type EventType string

const (
	EventStreamLive       EventType = "stream_live"
	EventStreamOffAir     EventType = "stream_offair"
	EventSubscriberJoined EventType = "subscriber_joined"
	EventSubscriberLeft   EventType = "subscriber_left"
)

// Event is a stream lifecycle change.
type Event struct {
	Type        EventType         `json:"type"`
	Stream      domain.StreamName `json:"stream"`
	Subscribers int               `json:"subscribers"`
	At          time.Time         `json:"at"`
}

// EventBus fans lifecycle events out to listeners. Publish never blocks:
// a listener with a full buffer misses the event.
type EventBus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]chan Event
}

func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[uint64]chan Event)}
}

// Subscribe returns a channel with the given buffer and a cancel func that
// closes it.
func (b *EventBus) Subscribe(buf int) (<-chan Event, func()) {
	ch := make(chan Event, buf)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

func (b *EventBus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
