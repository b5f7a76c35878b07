package events

import (
	"sync"
)

const defaultBuffer = 256

// Bus is a channel-based pub-sub bus for progress observation. It is an
// observer surface only: callers poll the orchestrator and sync engine
// for authoritative state, so publishing never blocks and slow
// subscribers lose events rather than stalling execution.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string][]chan Event
	allSubs []chan Event
	closed  bool
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]chan Event)}
}

// Subscribe returns a channel receiving events published to the topic.
// bufSize <= 0 uses the default buffer.
func (b *Bus) Subscribe(topic string, bufSize int) <-chan Event {
	ch := makeSub(bufSize)

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
	ch := makeSub(bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.allSubs = append(b.allSubs, ch)
	return ch
}

// Publish delivers the event to the topic's subscribers and to the
// all-topic subscribers. Full channels drop the event.
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

func makeSub(bufSize int) chan Event {
	if bufSize <= 0 {
		bufSize = defaultBuffer
	}
	return make(chan Event, bufSize)
}
