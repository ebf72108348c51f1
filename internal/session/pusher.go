package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"paper-mimic/internal/protocol"
)

// Sender forwards one event to the client connection.
type Sender interface {
	Send(ev protocol.Event) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ev protocol.Event) error

func (f SenderFunc) Send(ev protocol.Event) error { return f(ev) }

// Pusher drains a Queue into a Sender on its own goroutine.
type Pusher struct {
	queue  *Queue
	sender Sender
	logger *slog.Logger

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once

	mu   sync.Mutex
	sent int
	err  error
}

// StartPusher starts draining q into s.
func StartPusher(q *Queue, s Sender, logger *slog.Logger) *Pusher {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pusher{
		queue:  q,
		sender: s,
		logger: logger,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go p.run(ctx)
	return p
}

func (p *Pusher) run(ctx context.Context) {
	defer close(p.done)

	for {
		ev, ok := p.queue.Dequeue(ctx)
		if !ok {
			return
		}
		if err := p.sender.Send(ev); err != nil {
			// The controller sees the broken connection through its own
			// reads; nothing to report from here.
			p.mu.Lock()
			p.err = err
			p.mu.Unlock()
			p.logger.Debug("event push stopped", "type", ev.Type(), "error", err)
			return
		}
		p.mu.Lock()
		p.sent++
		p.mu.Unlock()
	}
}

// Stop waits up to drain for the pusher to finish on its own (the queue
// must be closed for that to happen), then cancels it and waits for the
// goroutine to exit. Stop is idempotent.
func (p *Pusher) Stop(drain time.Duration) {
	p.stopOnce.Do(func() {
		if drain > 0 {
			timer := time.NewTimer(drain)
			select {
			case <-p.done:
			case <-timer.C:
			}
			timer.Stop()
		}
		p.cancel()
		<-p.done
	})
}

// Done is closed when the pusher goroutine has exited.
func (p *Pusher) Done() <-chan struct{} {
	return p.done
}

// Sent returns the number of events forwarded successfully.
func (p *Pusher) Sent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent
}

// Err returns the send error that stopped the pusher, if any.
func (p *Pusher) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}
