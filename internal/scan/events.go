package scan

import (
	"sync"
	"time"
)

// EventType distinguishes entries in the live run feed.
type EventType string

const (
	// EventProbe reports one classified outcome.
	EventProbe EventType = "probe"
	// EventSnapshot carries a periodic aggregator snapshot.
	EventSnapshot EventType = "snapshot"
	// EventState reports a controller state transition.
	EventState EventType = "state"
)

// Event is one entry in the live feed consumed by the progress UI and
// the ops endpoint.
type Event struct {
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
	Target    string    `json:"target,omitempty"`
	Outcome   string    `json:"outcome,omitempty"`
	LatencyMS int64     `json:"latency_ms,omitempty"`
	State     string    `json:"state,omitempty"`
	Stats     *Stats    `json:"stats,omitempty"`
}

// Bus fans events out to subscribers without ever blocking the
// pipeline. A subscriber that falls behind loses events rather than
// stalling workers.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
	closed bool
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a buffered event channel and returns it with an
// unsubscribe function. The channel closes on unsubscribe or bus
// close.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
}

// Publish delivers the event to every subscriber with room in its
// buffer.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close ends the feed and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
