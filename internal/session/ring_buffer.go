package session

import (
	"sync"
	"time"

	"paper-mimic/internal/protocol"
)

// RingBuffer keeps the most recent events forwarded on a session, plus
// running totals for everything that ever went through it.
type RingBuffer struct {
	mu     sync.Mutex
	events []RecordedEvent
	start  int // index of the oldest retained event
	n      int // retained events
	total  int
	counts map[protocol.EventType]int
}

// NewRingBuffer creates a buffer retaining up to capacity events.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{
		events: make([]RecordedEvent, capacity),
		counts: make(map[protocol.EventType]int),
	}
}

// Record stores ev, evicting the oldest event when full.
func (rb *RingBuffer) Record(ev protocol.Event, at time.Time) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	capacity := len(rb.events)
	if rb.n < capacity {
		rb.events[(rb.start+rb.n)%capacity] = RecordedEvent{Event: ev, Timestamp: at}
		rb.n++
	} else {
		rb.events[rb.start] = RecordedEvent{Event: ev, Timestamp: at}
		rb.start = (rb.start + 1) % capacity
	}
	rb.total++
	rb.counts[ev.Type()]++
}

// Tail returns up to limit retained events, oldest first. limit <= 0
// returns all of them.
func (rb *RingBuffer) Tail(limit int) []RecordedEvent {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := rb.n
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]RecordedEvent, n)
	skip := rb.n - n
	for i := range out {
		out[i] = rb.events[(rb.start+skip+i)%len(rb.events)]
	}
	return out
}

// Stats returns the number of events ever recorded, by type.
func (rb *RingBuffer) Stats() (total int, byType map[protocol.EventType]int) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	byType = make(map[protocol.EventType]int, len(rb.counts))
	for k, v := range rb.counts {
		byType[k] = v
	}
	return rb.total, byType
}
