package sinks

import (
	"context"
	"sync"

	"arena-shooter/server/logging"
)

// MemorySink keeps the most recent events in a fixed-size ring for the
// diagnostics endpoint. Older events are overwritten once the ring is full.
type MemorySink struct {
	mu     sync.RWMutex
	ring   []logging.Event
	next   int
	full   bool
	seen   uint64
	closed bool
}

// NewMemorySink returns a sink retaining up to limit events. A limit below
// one retains a single event.
func NewMemorySink(limit int) *MemorySink {
	if limit < 1 {
		limit = 1
	}
	return &MemorySink{ring: make([]logging.Event, limit)}
}

func (s *MemorySink) Write(event logging.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.ring[s.next] = cloneEvent(event)
	s.next = (s.next + 1) % len(s.ring)
	if s.next == 0 {
		s.full = true
	}
	s.seen++
	return nil
}

// Events returns the retained events, oldest first.
func (s *MemorySink) Events() []logging.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.full {
		out := make([]logging.Event, s.next)
		copy(out, s.ring[:s.next])
		return out
	}
	out := make([]logging.Event, 0, len(s.ring))
	out = append(out, s.ring[s.next:]...)
	return append(out, s.ring[:s.next]...)
}

// Seen reports how many events were written, including overwritten ones.
func (s *MemorySink) Seen() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seen
}

// Close stops retaining new events. What was already captured stays
// readable.
func (s *MemorySink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func cloneEvent(event logging.Event) logging.Event {
	cloned := event
	if len(event.Targets) > 0 {
		cloned.Targets = append([]logging.EntityRef(nil), event.Targets...)
	}
	if event.Extra != nil {
		extra := make(map[string]any, len(event.Extra))
		for k, v := range event.Extra {
			extra[k] = v
		}
		cloned.Extra = extra
	}
	return cloned
}
