// ABOUTME: Connection lifecycle states and error taxonomy for robot sessions
// ABOUTME: Accepting -> Identifying -> Active -> Closing -> Closed

package agent

import (
	"errors"
	"fmt"
)

// State is the lifecycle stage of one robot connection.
type State int32

const (
	StateAccepting State = iota
	StateIdentifying
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAccepting:
		return "accepting"
	case StateIdentifying:
		return "identifying"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrConnection indicates a socket-level failure.
var ErrConnection = errors.New("connection error")

// ErrTimeout indicates no data arrived within the read deadline. It matches
// ErrConnection as well.
var ErrTimeout = fmt.Errorf("%w: read timeout", ErrConnection)

// ErrNotIdentified indicates the peer closed or timed out before sending telemetry.
var ErrNotIdentified = errors.New("robot did not identify")

// ErrIdentityMismatch indicates telemetry for an id other than the bound one.
var ErrIdentityMismatch = errors.New("telemetry id does not match connection")
