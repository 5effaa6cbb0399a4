// Package eventbus decouples the delivery pipeline from observers
// (daemon status line, tests) with a non-blocking in-memory fanout.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Delivery lifecycle event types published by the relay.
const (
	TypeQueued     = "relay.queued"
	TypeSent       = "relay.sent"
	TypeFailed     = "relay.failed"
	TypeDropped    = "relay.dropped"
	TypeSuppressed = "relay.suppressed"
)

// Event is a lightweight, in-memory signal.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Slow subscribers may drop events (bounded backpressure).
type Event struct {
	Type string
	Time time.Time
	Data any
}

// DeliveryEvent is the Data payload for relay.* events.
type DeliveryEvent struct {
	Kind    string `json:"kind"` // "mention" | "first_pm"
	Network string `json:"network"`
	Context string `json:"context"` // channel or peer nick
	Error   string `json:"error,omitempty"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a simple in-memory fanout bus.
// It does not own any background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while sending.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery; recover in case a subscriber closed
		// its channel concurrently with this send.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}
