package session

import (
	"context"
	"sync"

	"paper-mimic/internal/protocol"
)

// Queue is an ordered, single-consumer FIFO of events. Enqueue never
// blocks. Once a terminal event is accepted, or the queue is closed,
// further events are dropped.
type Queue struct {
	mu      sync.Mutex
	items   []protocol.Event
	ready   chan struct{}
	closed  bool
	sealed  bool
	limit   int // max pending log events, 0 = unbounded
	logs    int // pending log events
	dropped int
}

// NewQueue creates a queue. A positive logLimit bounds the number of
// pending log events; log events over the bound are dropped. Other event
// kinds are never dropped while the queue is open.
func NewQueue(logLimit int) *Queue {
	return &Queue{
		ready: make(chan struct{}, 1),
		limit: logLimit,
	}
}

// Enqueue appends an event. It never blocks and never fails visibly.
func (q *Queue) Enqueue(ev protocol.Event) {
	if ev == nil {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.sealed {
		q.dropped++
		return
	}

	_, isLog := ev.(protocol.Log)
	if isLog && q.limit > 0 && q.logs >= q.limit {
		q.dropped++
		return
	}

	q.items = append(q.items, ev)
	if isLog {
		q.logs++
	}
	if ev.Terminal() {
		q.sealed = true
	}

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Dequeue blocks until an event is available, the queue is closed and
// drained, or ctx is done. The boolean is false in the latter two cases.
func (q *Queue) Dequeue(ctx context.Context) (protocol.Event, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			if _, isLog := ev.(protocol.Log); isLog {
				q.logs--
			}
			q.mu.Unlock()
			return ev, true
		}
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		ready := q.ready
		q.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			return nil, false
		}
	}
}

// Close stops accepting events. Pending events remain available to
// Dequeue; once they are drained Dequeue reports closed. Close is
// idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.ready)
}

// Len returns the number of pending events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many events were discarded.
func (q *Queue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
