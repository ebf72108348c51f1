package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"paper-mimic/internal/protocol"
)

const defaultRingBufCapacity = 200

var (
	// ErrNotFound is returned for an unknown session ID.
	ErrNotFound = errors.New("session not found")
	// ErrMaxSessions is returned when the active session limit is reached.
	ErrMaxSessions = errors.New("maximum session limit reached")
	// ErrShuttingDown is returned by Register after Shutdown.
	ErrShuttingDown = errors.New("server shutting down")
)

// Manager tracks the streaming sessions that are currently connected.
type Manager struct {
	mu          sync.RWMutex
	sessions    map[string]*managedSession
	maxSessions int
	closed      bool
}

type managedSession struct {
	session Session
	cancel  context.CancelFunc
	ringBuf *RingBuffer
}

// NewManager creates a new session manager. maxSessions <= 0 means no limit.
func NewManager(maxSessions int) *Manager {
	return &Manager{
		sessions:    make(map[string]*managedSession),
		maxSessions: maxSessions,
	}
}

// Register adds a session in StateInit and returns it with a fresh ID.
// cancel is invoked by Kill and Shutdown.
func (m *Manager) Register(sess Session, cancel context.CancelFunc) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Session{}, ErrShuttingDown
	}
	if m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		return Session{}, fmt.Errorf("%w (%d)", ErrMaxSessions, m.maxSessions)
	}

	sess.ID = uuid.New().String()
	sess.State = StateInit
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}

	m.sessions[sess.ID] = &managedSession{
		session: sess,
		cancel:  cancel,
		ringBuf: NewRingBuffer(defaultRingBufCapacity),
	}
	return sess, nil
}

// Update applies fn to the stored session under the manager lock.
func (m *Manager) Update(id string, fn func(*Session)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ms, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	fn(&ms.session)
	return nil
}

// SetState moves a session to a new lifecycle state.
func (m *Manager) SetState(id string, state State) error {
	return m.Update(id, func(s *Session) { s.State = state })
}

// Record appends a forwarded event to the session's recent history.
func (m *Manager) Record(id string, ev protocol.Event) {
	m.mu.RLock()
	ms, ok := m.sessions[id]
	m.mu.RUnlock()

	if !ok {
		return
	}
	ms.ringBuf.Record(ev, time.Now().UTC())
}

// Get returns a session and its recent events.
func (m *Manager) Get(id string) (*Snapshot, error) {
	m.mu.RLock()
	ms, ok := m.sessions[id]
	var sess Session
	if ok {
		sess = ms.session
	}
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	total, byType := ms.ringBuf.Stats()
	return &Snapshot{
		Session:    sess,
		Events:     ms.ringBuf.Tail(0),
		EventCount: total,
		EventTypes: byType,
	}, nil
}

// List returns all connected sessions, oldest first.
func (m *Manager) List() []Session {
	m.mu.RLock()
	result := make([]Session, 0, len(m.sessions))
	for _, ms := range m.sessions {
		result = append(result, ms.session)
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// Remove forgets a session. Removing an unknown ID is a no-op.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Kill cancels a session's context; the session's controller performs
// the actual teardown.
func (m *Manager) Kill(id string) error {
	m.mu.RLock()
	ms, ok := m.sessions[id]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if ms.cancel != nil {
		ms.cancel()
	}
	return nil
}

// Shutdown rejects new sessions and cancels all active ones.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	cancels := make([]context.CancelFunc, 0, len(m.sessions))
	for _, ms := range m.sessions {
		if ms.cancel != nil {
			cancels = append(cancels, ms.cancel)
		}
	}
	m.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// Count returns the number of connected sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
