// Package capture turns incidental text output of a generation workflow
// into log events for the session that runs it.
//
// Output is captured in one of two ways. A scoped Interceptor travels in
// a context.Context: code that writes through Output(ctx) or Printf(ctx,
// ...) reaches the sink of the session that owns ctx, so concurrent
// sessions never see each other's lines. A global Interceptor replaces
// the process-wide Stdout writer instead; only one can be installed at a
// time and Install waits for the current holder to uninstall.
package capture

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/charmbracelet/x/ansi"

	"paper-mimic/internal/protocol"
)

// Enqueuer accepts events without blocking.
type Enqueuer interface {
	Enqueue(ev protocol.Event)
}

// Writer forwards every write to a console writer unchanged and enqueues
// a sanitized copy as a log event.
type Writer struct {
	console io.Writer
	queue   Enqueuer
	now     func() time.Time

	mu       sync.Mutex
	detached bool
}

func newWriter(console io.Writer, q Enqueuer) *Writer {
	return &Writer{console: console, queue: q, now: time.Now}
}

// Write never fails; console errors are ignored so that a broken terminal
// cannot interrupt the workflow.
func (w *Writer) Write(p []byte) (int, error) {
	if w.console != nil {
		w.console.Write(p)
	}

	w.mu.Lock()
	detached := w.detached
	w.mu.Unlock()
	if detached {
		return len(p), nil
	}

	if clean := Sanitize(string(p)); clean != "" {
		w.queue.Enqueue(protocol.Log{Content: clean, Timestamp: w.now()})
	}
	return len(p), nil
}

func (w *Writer) detach() {
	w.mu.Lock()
	w.detached = true
	w.mu.Unlock()
}

// Sanitize strips ANSI escape sequences and stray control characters and
// trims surrounding whitespace.
func Sanitize(s string) string {
	s = ansi.Strip(s)
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

var (
	// slot is held by the installed global interceptor.
	slot = make(chan struct{}, 1)

	outMu sync.RWMutex
	out   io.Writer = os.Stdout
)

type stdoutProxy struct{}

func (stdoutProxy) Write(p []byte) (int, error) {
	outMu.RLock()
	w := out
	outMu.RUnlock()
	return w.Write(p)
}

// Stdout is the process-wide output writer. It follows the installed
// global interceptor, so it may be captured once and written to later.
var Stdout io.Writer = stdoutProxy{}

// Interceptor owns one capture sink for the duration of a session.
type Interceptor struct {
	w      *Writer
	global bool
	prev   io.Writer
	once   sync.Once
}

// NewScoped creates an interceptor that is only reachable through the
// context returned by WithContext. console receives the raw bytes; nil
// means os.Stdout.
func NewScoped(q Enqueuer, console io.Writer) *Interceptor {
	if console == nil {
		console = os.Stdout
	}
	return &Interceptor{w: newWriter(console, q)}
}

// Install replaces the process-wide writer with a capturing one. It
// blocks until no other global interceptor is installed or ctx is done.
func Install(ctx context.Context, q Enqueuer) (*Interceptor, error) {
	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for output interception: %w", ctx.Err())
	}

	outMu.Lock()
	prev := out
	w := newWriter(prev, q)
	out = w
	outMu.Unlock()

	return &Interceptor{w: w, global: true, prev: prev}, nil
}

// Writer returns the capturing writer.
func (i *Interceptor) Writer() io.Writer {
	return i.w
}

// WithContext returns a context carrying the interceptor's writer.
func (i *Interceptor) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, writerKey{}, io.Writer(i.w))
}

// Uninstall stops capturing and restores the previous process-wide writer
// when the interceptor is global. Only the first call has an effect.
func (i *Interceptor) Uninstall() {
	i.once.Do(func() {
		i.w.detach()
		if !i.global {
			return
		}
		outMu.Lock()
		out = i.prev
		outMu.Unlock()
		<-slot
	})
}

type writerKey struct{}

// Output returns the capture writer carried by ctx, or Stdout.
func Output(ctx context.Context) io.Writer {
	if ctx != nil {
		if w, ok := ctx.Value(writerKey{}).(io.Writer); ok {
			return w
		}
	}
	return Stdout
}

// Printf writes one formatted line to Output(ctx).
func Printf(ctx context.Context, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if !strings.HasSuffix(msg, "\n") {
		msg += "\n"
	}
	io.WriteString(Output(ctx), msg)
}
