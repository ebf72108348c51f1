package session

import (
	"context"
	"errors"
	"testing"

	"paper-mimic/internal/generation"
	"paper-mimic/internal/protocol"
)

func TestNewManager(t *testing.T) {
	mgr := NewManager(10)
	if mgr == nil {
		t.Fatal("expected non-nil manager")
	}
}

func TestManager_Register(t *testing.T) {
	mgr := NewManager(10)
	sess, err := mgr.Register(Session{Mode: protocol.ModeParsed, KBName: "default"}, nil)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if sess.ID == "" {
		t.Error("expected non-empty session ID")
	}
	if sess.State != StateInit {
		t.Errorf("expected state init, got %s", sess.State)
	}
	if sess.CreatedAt.IsZero() {
		t.Error("expected creation time")
	}

	other, _ := mgr.Register(Session{}, nil)
	if other.ID == sess.ID {
		t.Error("expected distinct session IDs")
	}

	if got := mgr.List(); len(got) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(got))
	}
}

func TestManager_MaxSessionsLimit(t *testing.T) {
	mgr := NewManager(1)
	if _, err := mgr.Register(Session{}, nil); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	_, err := mgr.Register(Session{}, nil)
	if !errors.Is(err, ErrMaxSessions) {
		t.Fatalf("expected ErrMaxSessions, got %v", err)
	}
}

func TestManager_GetNotFound(t *testing.T) {
	mgr := NewManager(10)
	_, err := mgr.Get("nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestManager_ListEmpty(t *testing.T) {
	mgr := NewManager(10)
	sessions := mgr.List()
	if len(sessions) != 0 {
		t.Errorf("expected empty list, got %d sessions", len(sessions))
	}
}

func TestManager_StateAndRecord(t *testing.T) {
	mgr := NewManager(10)
	sess, _ := mgr.Register(Session{}, nil)

	if err := mgr.SetState(sess.ID, StateProcessing); err != nil {
		t.Fatalf("SetState failed: %v", err)
	}
	mgr.Record(sess.ID, protocol.Status{Stage: "init"})
	mgr.Record(sess.ID, protocol.Complete{})
	mgr.Record("nonexistent", protocol.Complete{})

	snap, err := mgr.Get(sess.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if snap.State != StateProcessing {
		t.Errorf("expected state processing, got %s", snap.State)
	}
	if len(snap.Events) != 2 {
		t.Fatalf("expected 2 recorded events, got %d", len(snap.Events))
	}
	if snap.Events[1].Event.Type() != protocol.TypeComplete {
		t.Errorf("expected last event complete, got %s", snap.Events[1].Event.Type())
	}
	if snap.EventCount != 2 || snap.EventTypes[protocol.TypeStatus] != 1 {
		t.Errorf("unexpected counters: %d %v", snap.EventCount, snap.EventTypes)
	}
}

func TestManager_KillAndShutdown(t *testing.T) {
	mgr := NewManager(10)

	ctx1, cancel1 := context.WithCancel(context.Background())
	ctx2, cancel2 := context.WithCancel(context.Background())
	a, _ := mgr.Register(Session{}, cancel1)
	mgr.Register(Session{}, cancel2)

	if err := mgr.Kill(a.ID); err != nil {
		t.Fatalf("Kill failed: %v", err)
	}
	if ctx1.Err() == nil {
		t.Error("expected killed session context to be cancelled")
	}
	if err := mgr.Kill("nonexistent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	mgr.Shutdown()
	if ctx2.Err() == nil {
		t.Error("expected Shutdown to cancel remaining sessions")
	}
	if _, err := mgr.Register(Session{}, nil); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("expected ErrShuttingDown, got %v", err)
	}
}

func TestManager_Remove(t *testing.T) {
	mgr := NewManager(1)
	sess, _ := mgr.Register(Session{}, nil)
	mgr.Remove(sess.ID)
	mgr.Remove("nonexistent")

	if mgr.Count() != 0 {
		t.Errorf("expected 0 sessions, got %d", mgr.Count())
	}
	if _, err := mgr.Register(Session{}, nil); err != nil {
		t.Errorf("expected capacity to be released, got %v", err)
	}
}

func TestProgressSink_EnqueuesProgress(t *testing.T) {
	q := NewQueue(0)
	sink := NewProgressSink(q)
	sink.Send(generation.Progress{Stage: "parsing", Status: "running", Message: "Parsing", Extra: map[string]any{"total": 3}})
	q.Close()

	ev, ok := q.Dequeue(context.Background())
	if !ok {
		t.Fatal("expected an event")
	}
	p, ok := ev.(protocol.Progress)
	if !ok {
		t.Fatalf("expected progress event, got %T", ev)
	}
	if p.Stage != "parsing" || p.Status != "running" || p.Extra["total"] != 3 {
		t.Errorf("unexpected progress event: %+v", p)
	}
}
