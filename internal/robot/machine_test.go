// ABOUTME: Tests for the robot reaction state machine and physics
// ABOUTME: Covers single reversal, holding while stopped, speed clamping, and wander bounds

package robot

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/cobot-gateway/internal/protocol"
)

func newTestMachine(x, y, angle float64) *Machine {
	return NewMachine(
		protocol.RobotState{ID: "R1", X: x, Y: y, Angle: angle},
		MachineConfig{Rand: rand.New(rand.NewPCG(1, 2))},
	)
}

func TestMachine_ForceStopReversesExactlyOnce(t *testing.T) {
	m := newTestMachine(300, 200, 0)

	m.Apply(protocol.ForceStop{ID: "R1"})

	s := m.State()
	assert.Equal(t, ModeStopped, m.Mode())
	assert.InDelta(t, math.Pi, math.Abs(s.Angle), 1e-9, "heading reversed")
	assert.InDelta(t, 285, s.X, 1e-9, "hopped along the new heading")
	assert.InDelta(t, 200, s.Y, 1e-9)
	assert.Zero(t, s.Speed)
	assert.False(t, s.Active)

	m.Apply(protocol.ForceStop{ID: "R1"})
	again := m.State()
	assert.Equal(t, s.Angle, again.Angle, "second stop does not reverse again")
	assert.Equal(t, s.X, again.X)
	assert.Equal(t, s.Y, again.Y)
}

func TestMachine_ReversalWrapsAngle(t *testing.T) {
	m := newTestMachine(300, 200, 3*math.Pi/4)

	m.Apply(protocol.ForceStop{})

	assert.InDelta(t, -math.Pi/4, m.State().Angle, 1e-9)
}

func TestMachine_HoldsPositionWhileStopped(t *testing.T) {
	m := newTestMachine(300, 200, 0.5)
	m.SetDesiredSpeed(80)
	m.SetWander(true)
	m.Apply(protocol.ForceStop{ID: "R1"})
	held := m.State()

	for i := 0; i < 100; i++ {
		m.Tick(16 * time.Millisecond)
		s := m.State()
		assert.Equal(t, held.X, s.X)
		assert.Equal(t, held.Y, s.Y)
		assert.Zero(t, s.Speed)
	}
	assert.NotEqual(t, held.Angle, m.State().Angle, "wander still turns the heading while stopped")
}

func TestMachine_ResumeRestoresMotion(t *testing.T) {
	m := newTestMachine(300, 200, 0)
	m.SetDesiredSpeed(10)
	m.Apply(protocol.ForceStop{ID: "R1"})
	m.Apply(protocol.Resume{ID: "R1"})

	assert.Equal(t, ModeNormal, m.Mode())
	before := m.State()
	m.Tick(time.Second)
	after := m.State()

	assert.InDelta(t, before.X-10, after.X, 1e-9, "moves along the reversed heading")
	assert.True(t, after.Active)
}

func TestMachine_SpeedLimitClamps(t *testing.T) {
	m := newTestMachine(100, 100, 0)
	m.SetDesiredSpeed(5)

	m.Apply(protocol.SetSpeedLimit{Value: 2})
	assert.Equal(t, 2.0, m.State().Speed)

	m.Tick(time.Second)
	assert.InDelta(t, 102, m.State().X, 1e-9)

	m.Apply(protocol.SetSpeedLimit{Value: 50})
	assert.Equal(t, 5.0, m.State().Speed, "desired speed below the limit is kept")
}

func TestMachine_SpeedLimitAppliesWhileStopped(t *testing.T) {
	m := newTestMachine(100, 100, 0)
	m.SetDesiredSpeed(5)
	m.Apply(protocol.ForceStop{ID: "R1"})

	m.Apply(protocol.SetSpeedLimit{Value: 2})
	assert.Zero(t, m.State().Speed)
	assert.Equal(t, 2.0, m.SpeedLimit())

	m.Apply(protocol.Resume{ID: "R1"})
	assert.Equal(t, 2.0, m.State().Speed)
}

func TestMachine_PhysicsIntegration(t *testing.T) {
	m := newTestMachine(100, 100, math.Pi/2)
	m.SetDesiredSpeed(20)

	m.Tick(500 * time.Millisecond)

	s := m.State()
	assert.InDelta(t, 100, s.X, 1e-9)
	assert.InDelta(t, 110, s.Y, 1e-9)
}

func TestMachine_ClampsToWorkspace(t *testing.T) {
	m := newTestMachine(595, 395, math.Pi/4)
	m.SetDesiredSpeed(100)

	m.Tick(time.Second)

	s := m.State()
	assert.Equal(t, protocol.DefaultWorkspaceWidth, s.X)
	assert.Equal(t, protocol.DefaultWorkspaceHeight, s.Y)
}

func TestMachine_HopClampedAtEdge(t *testing.T) {
	m := newTestMachine(5, 200, 0)

	m.Apply(protocol.ForceStop{ID: "R1"})

	assert.Equal(t, 0.0, m.State().X)
}

func TestMachine_WanderBounded(t *testing.T) {
	m := newTestMachine(300, 200, 0)
	m.SetWander(true)
	m.SetDesiredSpeed(0)

	prev := m.State().Angle
	for i := 0; i < 500; i++ {
		m.Tick(16 * time.Millisecond)
		cur := m.State().Angle
		delta := math.Abs(protocol.WrapAngle(cur - prev))
		assert.LessOrEqual(t, delta, DefaultWanderDelta+1e-12)
		prev = cur
	}
}

func TestMachine_IgnoresCommandsForOtherRobots(t *testing.T) {
	m := newTestMachine(300, 200, 0)

	m.Apply(protocol.ForceStop{ID: "someone-else"})
	assert.Equal(t, ModeNormal, m.Mode())

	m.Apply(protocol.ForceStop{ID: "R1"})
	m.Apply(protocol.Resume{ID: "someone-else"})
	assert.Equal(t, ModeStopped, m.Mode())
}

func TestMachine_HaltAndGo(t *testing.T) {
	m := newTestMachine(300, 200, 1)

	m.Halt()
	assert.Equal(t, ModeStopped, m.Mode())
	assert.InDelta(t, 1.0, m.State().Angle, 1e-9, "operator halt does not reverse")

	m.Go()
	assert.Equal(t, ModeNormal, m.Mode())
}

func TestMachine_LogBounded(t *testing.T) {
	m := NewMachine(protocol.RobotState{ID: "R1", X: 100, Y: 100}, MachineConfig{LogSize: 3})

	for i := 0; i < 5; i++ {
		m.Apply(protocol.Warning{Text: string(rune('a' + i))})
	}

	assert.Equal(t, []string{"WARNING: c", "WARNING: d", "WARNING: e"}, m.Log())
	assert.Equal(t, uint64(5), m.LogCount())
}

func TestMachine_NegativeDesiredSpeed(t *testing.T) {
	m := newTestMachine(100, 100, 0)
	m.SetDesiredSpeed(-5)

	assert.Zero(t, m.DesiredSpeed())
	assert.Zero(t, m.State().Speed)
}

func TestMode_String(t *testing.T) {
	require.Equal(t, "normal", ModeNormal.String())
	require.Equal(t, "stopped", ModeStopped.String())
	require.Equal(t, "mode(7)", Mode(7).String())
}
