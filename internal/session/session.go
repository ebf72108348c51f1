package session

import (
	"time"

	"paper-mimic/internal/protocol"
)

// State represents the lifecycle state of a streaming session.
type State string

const (
	StateInit       State = "init"
	StateStaging    State = "staging"
	StateProcessing State = "processing"
	StateComplete   State = "complete"
	StateError      State = "error"
	StateClosed     State = "closed"
)

// Session holds metadata for one generation request bound to one
// connection.
type Session struct {
	ID           string        `json:"id"`
	Name         string        `json:"name,omitempty"`
	Mode         protocol.Mode `json:"mode"`
	KBName       string        `json:"kbName"`
	MaxQuestions int           `json:"maxQuestions,omitempty"`
	OutputDir    string        `json:"outputDir,omitempty"`
	State        State         `json:"state"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// RecordedEvent is an event as it was forwarded to the client.
type RecordedEvent struct {
	Event     protocol.Event `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
}

// Snapshot is a session together with its most recent events. The
// counters include events that were already evicted from Events.
type Snapshot struct {
	Session
	Events     []RecordedEvent            `json:"events"`
	EventCount int                        `json:"eventCount"`
	EventTypes map[protocol.EventType]int `json:"eventTypes"`
}
