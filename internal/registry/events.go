// ABOUTME: Safety event type and the bounded history observers read for highlighting
// ABOUTME: Events are derived each evaluation cycle; only the last few are retained in memory

package registry

import "time"

// EventKind identifies a safety decision.
type EventKind string

const (
	// EventForceStop halts one robot.
	EventForceStop EventKind = "force_stop"
	// EventResume releases one robot.
	EventResume EventKind = "resume"
	// EventSpeedLimit changes the fleet speed limit.
	EventSpeedLimit EventKind = "speed_limit"
	// EventCaution marks a pair inside the caution band. Visual only.
	EventCaution EventKind = "caution"
)

// Reasons attached to force stops.
const (
	ReasonBoundary  = "boundary"
	ReasonCollision = "collision"
	ReasonEStop     = "emergency_stop"
	ReasonReassert  = "moving_while_held"
)

// Event is one safety decision.
type Event struct {
	Kind     EventKind `json:"kind"`
	ID       string    `json:"id,omitempty"`
	Other    string    `json:"other,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Distance float64   `json:"distance,omitempty"`
	Value    float64   `json:"value,omitempty"`
	At       time.Time `json:"at"`
}

type eventLog struct {
	buf   []Event
	start int
	n     int
}

func newEventLog(size int) *eventLog {
	return &eventLog{buf: make([]Event, size)}
}

func (l *eventLog) push(ev Event) {
	size := len(l.buf)
	if l.n < size {
		l.buf[(l.start+l.n)%size] = ev
		l.n++
		return
	}
	l.buf[l.start] = ev
	l.start = (l.start + 1) % size
}

func (l *eventLog) list() []Event {
	out := make([]Event, l.n)
	for i := 0; i < l.n; i++ {
		out[i] = l.buf[(l.start+i)%len(l.buf)]
	}
	return out
}
