package session

import (
	"fmt"
	"time"

	"github.com/scentsafe/go-scentsafe/pkg/fatigue"
)

// EventKind distinguishes what a session published.
// A failed session, a tick without a face and an alert result are
// always different kinds.
type EventKind int

const (
	EventStarted EventKind = iota + 1 // Session started; always first
	EventResult                       // A DetectionResult was computed
	EventNoFace                       // Frames evaluated, no face found
	EventError                        // Transient per-tick error
	EventFailed                       // Error budget exhausted; terminal
	EventStopped                      // Session stopped; terminal
)

var eventKindNames = map[EventKind]string{
	EventStarted: "started",
	EventResult:  "result",
	EventNoFace:  "no_face",
	EventError:   "error",
	EventFailed:  "failed",
	EventStopped: "stopped",
}

// String returns the wire name of the kind.
func (k EventKind) String() string {
	if s, ok := eventKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k EventKind) MarshalText() ([]byte, error) {
	s, ok := eventKindNames[k]
	if !ok {
		return nil, fmt.Errorf("unknown event kind %d", int(k))
	}
	return []byte(s), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *EventKind) UnmarshalText(b []byte) error {
	for kind, name := range eventKindNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown event kind %q", b)
}

// Event is one item of a session's published sequence.
type Event struct {
	Kind      EventKind                `json:"kind"`
	SessionID string                   `json:"session_id"`
	Timestamp time.Time                `json:"timestamp"`
	Result    *fatigue.DetectionResult `json:"result,omitempty"`

	// Err is set for EventError and EventFailed.
	Err       error  `json:"-"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
}

// Terminal reports whether the event ends its session's sequence.
func (e Event) Terminal() bool {
	return e.Kind == EventFailed || e.Kind == EventStopped
}

func resultEvent(res fatigue.DetectionResult) Event {
	return Event{Kind: EventResult, SessionID: res.SessionID, Timestamp: res.Timestamp, Result: &res}
}

func errorEvent(kind EventKind, sessionID string, ts time.Time, err error) Event {
	ev := Event{Kind: kind, SessionID: sessionID, Timestamp: ts, Err: err}
	if err != nil {
		ev.Error = err.Error()
		if k := fatigue.KindOf(err); k != 0 {
			ev.ErrorKind = k.String()
		}
	}
	return ev
}
