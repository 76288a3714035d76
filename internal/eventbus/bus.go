// Package eventbus fans records out to in-process subscribers such as the
// real-time viewer.
package eventbus

import (
	"sync"
	"sync/atomic"

	"turboprint/pkg/handler"
)

// Bus is a non-blocking record fan-out. It implements handler.Publisher.
//
// Publish never waits: a subscriber whose buffer is full misses the event and
// the miss is counted. Subscribers must drain their channel promptly.
type Bus struct {
	mu   sync.RWMutex
	subs map[uint64]chan handler.Event
	seq  atomic.Uint64

	published atomic.Uint64
	dropped   atomic.Uint64
}

func New() *Bus {
	return &Bus{subs: map[uint64]chan handler.Event{}}
}

func (b *Bus) Publish(ev handler.Event) {
	b.published.Add(1)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe returns a buffered channel of events and a func that detaches it.
// The channel is closed by unsubscribe.
func (b *Bus) Subscribe(buffer int) (<-chan handler.Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan handler.Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Stats reports events published and per-subscriber misses.
func (b *Bus) Stats() (published, dropped uint64) {
	return b.published.Load(), b.dropped.Load()
}
