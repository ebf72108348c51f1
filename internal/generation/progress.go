package generation

import "sync/atomic"

// Progress is one structured progress report from the workflow.
type Progress struct {
	Stage   string
	Status  string
	Message string
	Extra   map[string]any
}

// ProgressSink receives progress reports. Send must not block for long
// and has no way to fail.
type ProgressSink interface {
	Send(p Progress)
}

// SinkFunc adapts a function to ProgressSink.
type SinkFunc func(p Progress)

// Send implements ProgressSink.
func (f SinkFunc) Send(p Progress) { f(p) }

// Discard drops every report.
var Discard ProgressSink = SinkFunc(func(Progress) {})

// guardedSink keeps a misbehaving sink from aborting the workflow. After
// the first panic every report is dropped.
type guardedSink struct {
	next   ProgressSink
	broken atomic.Bool
	onFail func(any)
}

func (g *guardedSink) Send(p Progress) {
	if g.broken.Load() {
		return
	}
	defer func() {
		if r := recover(); r != nil && g.broken.CompareAndSwap(false, true) && g.onFail != nil {
			g.onFail(r)
		}
	}()
	g.next.Send(p)
}
