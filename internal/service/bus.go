package service

import (
	"sync"
	"sync/atomic"
)

// Event represents a resource mutation.
type Event struct {
	Resource string // e.g. "sinks"
	Action   string // "refreshed", "failed"
	ID       string // resource ID, if any
}

// Op is one change to a view's map surface. The browser replays ops in
// sequence order to mirror the server-side surface.
type Op struct {
	View    string `json:"view"`
	Seq     uint64 `json:"seq"`
	Kind    string `json:"kind"`
	ID      string `json:"id,omitempty"`
	Payload any    `json:"payload,omitempty"`
	// Gen identifies the surface that published the op. Seq runs from 1
	// within a generation; later surfaces get larger generations.
	Gen uint64 `json:"gen,omitempty"`
}

// DefaultBuffer is the channel capacity of a subscription.
const DefaultBuffer = 64

// EventBus is a simple fan-out pub/sub.
type EventBus[T any] struct {
	mu      sync.RWMutex
	subs    map[chan T]*subscription[T]
	dropped atomic.Uint64
}

type subscription[T any] struct {
	keep   func(T) bool
	lagged atomic.Uint64
}

// NewEventBus creates a new event bus.
func NewEventBus[T any]() *EventBus[T] {
	return &EventBus[T]{subs: make(map[chan T]*subscription[T])}
}

// Publish sends an event to all subscribers (non-blocking).
func (b *EventBus[T]) Publish(e T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch, sub := range b.subs {
		if sub.keep != nil && !sub.keep(e) {
			continue
		}
		select {
		case ch <- e:
		default:
			// subscriber too slow, skip
			b.dropped.Add(1)
			sub.lagged.Add(1)
		}
	}
}

// Subscribe returns a buffered channel that receives events.
func (b *EventBus[T]) Subscribe() chan T {
	return b.SubscribeBuffered(DefaultBuffer)
}

// SubscribeBuffered is Subscribe with a caller-chosen capacity.
func (b *EventBus[T]) SubscribeBuffered(n int) chan T {
	return b.SubscribeFunc(n, nil)
}

// SubscribeFunc is SubscribeBuffered for the events keep accepts. Rejected
// events never take a slot in the channel. A nil keep accepts everything.
func (b *EventBus[T]) SubscribeFunc(n int, keep func(T) bool) chan T {
	ch := make(chan T, n)
	b.mu.Lock()
	b.subs[ch] = &subscription[T]{keep: keep}
	b.mu.Unlock()
	return ch
}

// Lagged returns how many events ch missed since the previous call, and
// resets the count. A subscriber that sees a non-zero value must resync.
func (b *EventBus[T]) Lagged(ch chan T) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if sub, ok := b.subs[ch]; ok {
		return sub.lagged.Swap(0)
	}
	return 0
}

// Unsubscribe removes a subscriber and closes its channel. Unsubscribing a
// channel twice is a no-op.
func (b *EventBus[T]) Unsubscribe(ch chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; !ok {
		return
	}
	delete(b.subs, ch)
	close(ch)
}

// Subscribers returns the current subscriber count.
func (b *EventBus[T]) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *EventBus[T]) Dropped() uint64 {
	return b.dropped.Load()
}

// DefaultBus carries registry change events.
var DefaultBus = NewEventBus[Event]()
