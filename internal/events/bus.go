// Package events carries task and graph state changes from the scheduler to
// the operator surfaces (TUI, HTTP API, run journal).
package events

import (
	"sync"
)

// DefaultBuffer is the subscription buffer used when none is given.
const DefaultBuffer = 256

// Bus is a channel-based pub-sub event bus with per-topic and all-topic
// subscriptions. Publishing never blocks; a full subscriber misses events.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string][]chan Event
	allSubs []chan Event
	closed  bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]chan Event)}
}

// Subscribe returns a channel receiving every event published on topic.
func (b *Bus) Subscribe(topic string, bufSize int) <-chan Event {
	ch := newChan(bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}
	b.subs[topic] = append(b.subs[topic], ch)
	return ch
}

// SubscribeAll returns a channel receiving events from every topic.
func (b *Bus) SubscribeAll(bufSize int) <-chan Event {
	ch := newChan(bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}
	b.allSubs = append(b.allSubs, ch)
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe or
// SubscribeAll. Unknown channels are ignored.
func (b *Bus) Unsubscribe(sub <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for topic, channels := range b.subs {
		if i := indexOf(channels, sub); i >= 0 {
			close(channels[i])
			b.subs[topic] = append(channels[:i], channels[i+1:]...)
			return
		}
	}
	if i := indexOf(b.allSubs, sub); i >= 0 {
		close(b.allSubs[i])
		b.allSubs = append(b.allSubs[:i], b.allSubs[i+1:]...)
	}
}

// Publish delivers event to the topic's subscribers and to every all-topic
// subscriber, dropping it for any subscriber whose buffer is full.
func (b *Bus) Publish(topic string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, ch := range b.subs[topic] {
		select {
		case ch <- event:
		default:
		}
	}
	for _, ch := range b.allSubs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close closes the bus and every subscriber channel. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, channels := range b.subs {
		for _, ch := range channels {
			close(ch)
		}
	}
	for _, ch := range b.allSubs {
		close(ch)
	}
}

func newChan(bufSize int) chan Event {
	if bufSize <= 0 {
		bufSize = DefaultBuffer
	}
	return make(chan Event, bufSize)
}

func indexOf(channels []chan Event, sub <-chan Event) int {
	for i, ch := range channels {
		if (<-chan Event)(ch) == sub {
			return i
		}
	}
	return -1
}
