package turboprint

import (
	"sync"
	"sync/atomic"
)

// Stats counts dispatch activity for a Registry. Safe for concurrent use.
type Stats struct {
	mu      sync.Mutex
	byLevel map[Level]*atomic.Uint64

	processed     atomic.Uint64
	suppressed    atomic.Uint64
	filtered      atomic.Uint64
	handlerErrors atomic.Uint64
	handlerPanics atomic.Uint64

	middlewarePanics atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Processed     uint64            `json:"processed"`
	Suppressed    uint64            `json:"suppressed"`
	Filtered      uint64            `json:"filtered"`
	HandlerErrors uint64            `json:"handler_errors"`
	HandlerPanics uint64            `json:"handler_panics"`
	ByLevel       map[string]uint64 `json:"by_level"`

	MiddlewarePanics uint64 `json:"middleware_panics"`
}

func newStats() *Stats {
	return &Stats{byLevel: map[Level]*atomic.Uint64{}}
}

func (s *Stats) counter(l Level) *atomic.Uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byLevel[l]
	if !ok {
		c = &atomic.Uint64{}
		s.byLevel[l] = c
	}
	return c
}

func (s *Stats) noteProcessed(l Level) {
	s.processed.Add(1)
	s.counter(l).Add(1)
}

func (s *Stats) Snapshot() StatsSnapshot {
	out := StatsSnapshot{
		Processed:     s.processed.Load(),
		Suppressed:    s.suppressed.Load(),
		Filtered:      s.filtered.Load(),
		HandlerErrors: s.handlerErrors.Load(),
		HandlerPanics: s.handlerPanics.Load(),
		ByLevel:       map[string]uint64{},

		MiddlewarePanics: s.middlewarePanics.Load(),
	}
	s.mu.Lock()
	for l, c := range s.byLevel {
		out.ByLevel[l.String()] = c.Load()
	}
	s.mu.Unlock()
	return out
}
