package storage

import (
	"context"
	"sync"
)

// ring holds the newest cap entries. Not safe for concurrent use on its own.
type ring struct {
	buf  []Entry
	next int
	full bool
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &ring{buf: make([]Entry, capacity)}
}

func (r *ring) push(e Entry) {
	r.buf[r.next] = e
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

func (r *ring) len() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// each visits entries oldest first.
func (r *ring) each(fn func(Entry)) {
	if r.full {
		for _, e := range r.buf[r.next:] {
			fn(e)
		}
	}
	for _, e := range r.buf[:r.next] {
		fn(e)
	}
}

func (r *ring) query(q Query) []Entry {
	var out []Entry
	r.each(func(e Entry) {
		if q.Match(e) {
			out = append(out, e)
		}
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out
}

type memoryStore struct {
	mu     sync.Mutex
	r      *ring
	closed bool
}

// NewMemory returns a process-local store keeping the newest capacity entries.
func NewMemory(capacity int) Store {
	return &memoryStore{r: newRing(capacity)}
}

func (s *memoryStore) Append(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.r.push(e)
	return nil
}

func (s *memoryStore) Recent(_ context.Context, q Query) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.r.query(q), nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
