// ABOUTME: Wire vocabulary for robot telemetry and gateway safety commands
// ABOUTME: Closed variant sets for client->gateway and gateway->client messages

package protocol

import "math"

// Default workspace dimensions shared by gateway and robots.
const (
	DefaultWorkspaceWidth  = 600.0
	DefaultWorkspaceHeight = 400.0
)

// Message type tags as they appear on the wire.
const (
	TypeTelemetry     = "Telemetry"
	TypeDisconnect    = "Disconnect"
	TypeForceStop     = "ForceStop"
	TypeResume        = "Resume"
	TypeSetSpeedLimit = "SetSpeedLimit"
	TypeWarning       = "Warning"
)

// Color is an opaque RGB triple. The gateway never interprets it.
type Color [3]uint8

// RobotState is a single telemetry snapshot reported by a robot.
type RobotState struct {
	ID     string  `json:"id"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Speed  float64 `json:"speed"`
	Angle  float64 `json:"angle"`
	Active bool    `json:"active"`
	Color  Color   `json:"color"`
}

// Point is a position in workspace coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Position returns the state's location.
func (s RobotState) Position() Point {
	return Point{X: s.X, Y: s.Y}
}

// Distance returns the Euclidean distance between two points.
func Distance(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// WrapAngle normalizes a heading in radians to [-π, π].
func WrapAngle(a float64) float64 {
	if a >= -math.Pi && a <= math.Pi {
		return a
	}
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}

// ClientMessage is a message sent by a robot to the gateway.
// The set of implementations is closed: Telemetry and Disconnect.
type ClientMessage interface {
	Kind() string
	clientMessage()
}

// ServerMessage is a message sent by the gateway to a robot.
// The set of implementations is closed: ForceStop, Resume, SetSpeedLimit and Warning.
type ServerMessage interface {
	Kind() string
	serverMessage()
}

// Telemetry carries the robot's latest state.
type Telemetry struct {
	State RobotState
}

// Disconnect announces that the robot is leaving.
type Disconnect struct{}

// ForceStop orders the addressed robot to halt.
type ForceStop struct {
	ID string
}

// Resume releases a previously stopped robot.
type Resume struct {
	ID string
}

// SetSpeedLimit caps the speed of every robot in the fleet.
type SetSpeedLimit struct {
	Value float64
}

// Warning is advisory text for the robot's operator.
type Warning struct {
	Text string
}

func (Telemetry) Kind() string     { return TypeTelemetry }
func (Disconnect) Kind() string    { return TypeDisconnect }
func (ForceStop) Kind() string     { return TypeForceStop }
func (Resume) Kind() string        { return TypeResume }
func (SetSpeedLimit) Kind() string { return TypeSetSpeedLimit }
func (Warning) Kind() string       { return TypeWarning }

func (Telemetry) clientMessage()  {}
func (Disconnect) clientMessage() {}

func (ForceStop) serverMessage()     {}
func (Resume) serverMessage()        {}
func (SetSpeedLimit) serverMessage() {}
func (Warning) serverMessage()       {}
