// Package realtime keeps a push channel of job events open against the
// dashboard API and fans events out to in-process listeners.
package realtime

import (
	"encoding/json"
	"fmt"
)

// EventType names a job change pushed by the backend.
type EventType string

const (
	EventJobCreated EventType = "job_created"
	EventJobUpdated EventType = "job_updated"
	EventJobDeleted EventType = "job_deleted"
)

// Event is one line of the job stream. Job is the opaque job payload; it is
// absent on deletes, where JobID identifies the job.
type Event struct {
	Type  EventType       `json:"type"`
	Job   json.RawMessage `json:"job,omitempty"`
	JobID string          `json:"jobId,omitempty"`
}

// Listener receives every event in arrival order. Listeners run on the
// channel's goroutine and should return quickly.
type Listener func(Event)

// State is the lifecycle of a Channel.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	// StateUnavailable is terminal until the next Connect: the reconnect
	// budget ran out.
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateUnavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// MalformedEventError reports a stream line that is not a valid event. The
// channel skips such lines and keeps the connection.
type MalformedEventError struct {
	Line  string
	Cause error
}

func (e *MalformedEventError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("realtime: malformed event %q: %v", e.Line, e.Cause)
	}
	return fmt.Sprintf("realtime: malformed event %q", e.Line)
}

func (e *MalformedEventError) Unwrap() error { return e.Cause }

func decodeEvent(line []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(line, &ev); err != nil {
		return Event{}, &MalformedEventError{Line: string(line), Cause: err}
	}
	if ev.Type == "" {
		return Event{}, &MalformedEventError{Line: string(line)}
	}
	return ev, nil
}
