// ABOUTME: Robot-side reaction state machine and physics integration
// ABOUTME: ForceStop reverses and hops once; Stopped holds position until Resume

package robot

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/2389/cobot-gateway/internal/protocol"
)

// Defaults for a simulated robot.
const (
	DefaultHop          = 15.0
	DefaultWanderDelta  = 0.1
	DefaultSpeedLimit   = 200.0
	DefaultDesiredSpeed = 50.0
	DefaultLogSize      = 50
)

// Mode is the reaction state.
type Mode int

const (
	ModeNormal Mode = iota
	ModeStopped
)

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeStopped:
		return "stopped"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// MachineConfig configures a Machine. Zero fields take defaults.
type MachineConfig struct {
	Width        float64
	Height       float64
	Hop          float64
	WanderDelta  float64
	SpeedLimit   float64
	DesiredSpeed float64
	LogSize      int
	// Rand drives wandering. Nil seeds from the runtime.
	Rand *rand.Rand
}

func (c MachineConfig) withDefaults() MachineConfig {
	if c.Width <= 0 {
		c.Width = protocol.DefaultWorkspaceWidth
	}
	if c.Height <= 0 {
		c.Height = protocol.DefaultWorkspaceHeight
	}
	if c.Hop <= 0 {
		c.Hop = DefaultHop
	}
	if c.WanderDelta <= 0 {
		c.WanderDelta = DefaultWanderDelta
	}
	if c.SpeedLimit <= 0 {
		c.SpeedLimit = DefaultSpeedLimit
	}
	if c.DesiredSpeed <= 0 {
		c.DesiredSpeed = DefaultDesiredSpeed
	}
	if c.LogSize <= 0 {
		c.LogSize = DefaultLogSize
	}
	if c.Rand == nil {
		c.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return c
}

// Machine is one robot's local state. It is not safe for concurrent use; the
// Runner owns it from a single goroutine.
type Machine struct {
	cfg     MachineConfig
	state   protocol.RobotState
	mode    Mode
	wander  bool
	desired float64
	limit   float64
	log     []string
	logged  uint64
}

// NewMachine creates a Machine at initial, in ModeNormal.
func NewMachine(initial protocol.RobotState, cfg MachineConfig) *Machine {
	cfg = cfg.withDefaults()
	m := &Machine{
		cfg:     cfg,
		state:   initial,
		desired: cfg.DesiredSpeed,
		limit:   cfg.SpeedLimit,
	}
	m.state.Angle = protocol.WrapAngle(m.state.Angle)
	m.clamp()
	return m
}

// Apply reacts to one gateway command.
func (m *Machine) Apply(msg protocol.ServerMessage) {
	switch v := msg.(type) {
	case protocol.ForceStop:
		if v.ID != "" && v.ID != m.state.ID {
			m.logf("ignored stop for %s", v.ID)
			return
		}
		m.forceStop()
	case protocol.Resume:
		if v.ID != "" && v.ID != m.state.ID {
			m.logf("ignored resume for %s", v.ID)
			return
		}
		if m.mode == ModeStopped {
			m.mode = ModeNormal
			m.logf("RESUMED by gateway")
		}
	case protocol.SetSpeedLimit:
		m.limit = v.Value
		m.logf("speed limit %g", v.Value)
	case protocol.Warning:
		m.logf("WARNING: %s", v.Text)
	}
}

// forceStop turns around and hops clear, once per stop.
func (m *Machine) forceStop() {
	if m.mode == ModeStopped {
		return
	}
	m.mode = ModeStopped
	m.state.Angle = protocol.WrapAngle(m.state.Angle + math.Pi)
	m.state.X += m.cfg.Hop * math.Cos(m.state.Angle)
	m.state.Y += m.cfg.Hop * math.Sin(m.state.Angle)
	m.clamp()
	m.logf("STOPPED by gateway, reversed heading")
}

// Tick advances physics by dt.
func (m *Machine) Tick(dt time.Duration) {
	if m.wander {
		delta := (m.cfg.Rand.Float64()*2 - 1) * m.cfg.WanderDelta
		m.state.Angle = protocol.WrapAngle(m.state.Angle + delta)
	}
	if m.mode != ModeNormal {
		return
	}
	speed := m.Speed()
	secs := dt.Seconds()
	m.state.X += speed * math.Cos(m.state.Angle) * secs
	m.state.Y += speed * math.Sin(m.state.Angle) * secs
	m.clamp()
}

func (m *Machine) clamp() {
	m.state.X = math.Max(0, math.Min(m.cfg.Width, m.state.X))
	m.state.Y = math.Max(0, math.Min(m.cfg.Height, m.state.Y))
}

// Speed returns the effective speed: zero while stopped, otherwise the desired
// speed capped by the fleet limit.
func (m *Machine) Speed() float64 {
	if m.mode != ModeNormal {
		return 0
	}
	return math.Min(m.desired, m.limit)
}

// State returns the telemetry view of the robot.
func (m *Machine) State() protocol.RobotState {
	s := m.state
	s.Speed = m.Speed()
	s.Active = m.mode == ModeNormal
	return s
}

// SetDesiredSpeed sets the operator's target speed. Negative values are treated as zero.
func (m *Machine) SetDesiredSpeed(v float64) {
	m.desired = math.Max(0, v)
}

// SetHeading sets the heading in radians.
func (m *Machine) SetHeading(angle float64) {
	m.state.Angle = protocol.WrapAngle(angle)
}

// SetWander toggles random heading perturbation.
func (m *Machine) SetWander(on bool) {
	m.wander = on
}

// Halt stops the robot locally without the reversal maneuver.
func (m *Machine) Halt() {
	if m.mode != ModeStopped {
		m.mode = ModeStopped
		m.logf("halted by operator")
	}
}

// Go releases a stopped robot locally. If the gateway still considers it
// unsafe, the next reported movement gets it stopped again.
func (m *Machine) Go() {
	if m.mode != ModeNormal {
		m.mode = ModeNormal
		m.logf("released by operator")
	}
}

// Mode returns the reaction state.
func (m *Machine) Mode() Mode { return m.mode }

// Wandering reports whether wander mode is on.
func (m *Machine) Wandering() bool { return m.wander }

// SpeedLimit returns the last limit received from the gateway.
func (m *Machine) SpeedLimit() float64 { return m.limit }

// DesiredSpeed returns the operator's target speed.
func (m *Machine) DesiredSpeed() float64 { return m.desired }

// Log returns recent notable events, oldest first.
func (m *Machine) Log() []string {
	return append([]string(nil), m.log...)
}

// LogCount returns how many lines have ever been logged, including those the
// ring has since dropped.
func (m *Machine) LogCount() uint64 {
	return m.logged
}

func (m *Machine) logf(format string, args ...any) {
	m.logged++
	if len(m.log) == m.cfg.LogSize {
		copy(m.log, m.log[1:])
		m.log = m.log[:len(m.log)-1]
	}
	m.log = append(m.log, fmt.Sprintf(format, args...))
}
