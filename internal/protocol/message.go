package protocol

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// EventType is the value of the "type" field on every outbound message.
type EventType string

// Server → Client event types.
const (
	TypeStatus   EventType = "status"
	TypeProgress EventType = "progress"
	TypeLog      EventType = "log"
	TypeComplete EventType = "complete"
	TypeError    EventType = "error"
)

// Event is one outbound message of a streaming session. The set of
// implementations is closed: Status, Progress, Log, Complete and Error.
type Event interface {
	Type() EventType
	// Terminal reports whether the event ends the session stream.
	Terminal() bool
	isEvent()
}

// Status is a coarse lifecycle marker.
type Status struct {
	Stage   string
	Content string
}

// Progress carries stage-specific detail. Extra fields are flattened into
// the JSON object next to the core fields.
type Progress struct {
	Stage   string
	Status  string
	Message string
	Extra   map[string]any
}

// Log is one line of captured incidental output.
type Log struct {
	Content   string
	Timestamp time.Time
}

// Complete is the terminal success marker.
type Complete struct{}

// Error is the terminal failure marker.
type Error struct {
	Content string
}

func (Status) Type() EventType   { return TypeStatus }
func (Progress) Type() EventType { return TypeProgress }
func (Log) Type() EventType      { return TypeLog }
func (Complete) Type() EventType { return TypeComplete }
func (Error) Type() EventType    { return TypeError }

func (Status) Terminal() bool   { return false }
func (Progress) Terminal() bool { return false }
func (Log) Terminal() bool      { return false }
func (Complete) Terminal() bool { return true }
func (Error) Terminal() bool    { return true }

func (Status) isEvent()   {}
func (Progress) isEvent() {}
func (Log) isEvent()      {}
func (Complete) isEvent() {}
func (Error) isEvent()    {}

type statusWire struct {
	Type    EventType `json:"type"`
	Stage   string    `json:"stage"`
	Content string    `json:"content"`
}

type logWire struct {
	Type      EventType `json:"type"`
	Content   string    `json:"content"`
	Timestamp float64   `json:"timestamp"`
}

type errorWire struct {
	Type    EventType `json:"type"`
	Content string    `json:"content"`
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(statusWire{Type: TypeStatus, Stage: s.Stage, Content: s.Content})
}

func (p Progress) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(p.Extra)+4)
	for k, v := range p.Extra {
		m[k] = v
	}
	// Core fields always win over extras with the same key.
	m["type"] = TypeProgress
	m["stage"] = p.Stage
	m["status"] = p.Status
	m["message"] = p.Message
	return json.Marshal(m)
}

func (l Log) MarshalJSON() ([]byte, error) {
	return json.Marshal(logWire{Type: TypeLog, Content: l.Content, Timestamp: unixSeconds(l.Timestamp)})
}

func (Complete) MarshalJSON() ([]byte, error) {
	return []byte(`{"type":"complete"}`), nil
}

func (e Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(errorWire{Type: TypeError, Content: e.Content})
}

// Encode serializes an event into its wire form.
func Encode(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, fmt.Errorf("encode: nil event")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", ev.Type(), err)
	}
	return data, nil
}

// Decode parses one outbound message back into an Event. It is used by
// clients of the streaming endpoint and by tests.
func Decode(data []byte) (Event, error) {
	var head struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	switch head.Type {
	case TypeStatus:
		var w statusWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decode status: %w", err)
		}
		return Status{Stage: w.Stage, Content: w.Content}, nil

	case TypeProgress:
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode progress: %w", err)
		}
		p := Progress{
			Stage:   stringField(m, "stage"),
			Status:  stringField(m, "status"),
			Message: stringField(m, "message"),
		}
		for _, k := range []string{"type", "stage", "status", "message"} {
			delete(m, k)
		}
		if len(m) > 0 {
			p.Extra = m
		}
		return p, nil

	case TypeLog:
		var w logWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decode log: %w", err)
		}
		return Log{Content: w.Content, Timestamp: fromUnixSeconds(w.Timestamp)}, nil

	case TypeComplete:
		return Complete{}, nil

	case TypeError:
		var w errorWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decode error: %w", err)
		}
		return Error{Content: w.Content}, nil

	case "":
		return nil, fmt.Errorf("missing 'type' field")
	default:
		return nil, fmt.Errorf("unknown event type: %s", head.Type)
	}
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func unixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixMicro()) / 1e6
}

func fromUnixSeconds(f float64) time.Time {
	if f == 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(math.Round(frac*1e6))*int64(time.Microsecond)).UTC()
}
