// Package eventbus provides the in-process fan-out bus carrying
// dispatch events between the core and the notifier/metrics bridges.
// Subscriptions are context-scoped: a subscriber's channel closes when
// its context ends or the bus shuts down, so consumers can simply
// range over it.
package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
)

// Event is anything published on the bus.
type Event any

// EventBus is a publish/subscribe fan-out.
type EventBus interface {
	Publish(Event)
	Subscribe(ctx context.Context) <-chan Event
	Close()
}

// subscriberBuffer bounds how far a consumer may fall behind before
// events are dropped for it.
const subscriberBuffer = 16

// Bus is the default EventBus implementation. Delivery is non-blocking:
// a subscriber that falls behind loses events rather than stalling a
// dispatch round.
type Bus struct {
	mu      sync.Mutex
	subs    map[uint64]chan Event
	nextID  uint64
	dropped atomic.Uint64
	closed  bool
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[uint64]chan Event)}
}

// Publish fans the event out to every live subscriber. Subscribers with
// a full buffer are skipped and the drop counted.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers a subscriber for the lifetime of ctx. The
// returned channel closes when ctx ends or the bus closes; buffered
// events remain readable after either.
func (b *Bus) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			b.drop(id)
		}()
	}
	return ch
}

func (b *Bus) drop(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Dropped reports how many events were discarded on full subscriber
// buffers since the bus was created.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Close closes every subscriber channel and rejects further publishes.
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
