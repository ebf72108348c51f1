package session

import (
	"paper-mimic/internal/generation"
	"paper-mimic/internal/protocol"
)

// ProgressSink turns workflow progress reports into progress events on a
// queue. Send never fails and never blocks.
type ProgressSink struct {
	queue *Queue
}

// NewProgressSink returns a sink writing into q.
func NewProgressSink(q *Queue) *ProgressSink {
	return &ProgressSink{queue: q}
}

// Send implements generation.ProgressSink.
func (s *ProgressSink) Send(p generation.Progress) {
	s.queue.Enqueue(protocol.Progress{
		Stage:   p.Stage,
		Status:  p.Status,
		Message: p.Message,
		Extra:   p.Extra,
	})
}

var _ generation.ProgressSink = (*ProgressSink)(nil)
