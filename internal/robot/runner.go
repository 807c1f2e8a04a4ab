// ABOUTME: Runner drives a Machine from a physics ticker and bridges it to a Link
// ABOUTME: The machine is owned by one goroutine; controls and status cross over channels

package robot

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/2389/cobot-gateway/internal/protocol"
)

// Default runner timing.
const (
	DefaultTickInterval      = 16 * time.Millisecond
	DefaultTelemetryInterval = 50 * time.Millisecond
)

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	TickInterval      time.Duration
	TelemetryInterval time.Duration
	Logger            *slog.Logger
}

func (o RunnerOptions) withDefaults() RunnerOptions {
	if o.TickInterval <= 0 {
		o.TickInterval = DefaultTickInterval
	}
	if o.TelemetryInterval <= 0 {
		o.TelemetryInterval = DefaultTelemetryInterval
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Status is an immutable view of the robot for presentation.
type Status struct {
	State        protocol.RobotState `json:"state"`
	Mode         string              `json:"mode"`
	Link         string              `json:"link"`
	SpeedLimit   float64             `json:"speed_limit"`
	DesiredSpeed float64             `json:"desired_speed"`
	Wandering    bool                `json:"wandering"`
	Log          []string            `json:"log"`
	LogCount     uint64              `json:"log_count"`
}

// Runner ties a Machine to a Link.
type Runner struct {
	machine  *Machine
	link     *Link
	opts     RunnerOptions
	logger   *slog.Logger
	controls chan func(*Machine)
	status   atomic.Pointer[Status]
	done     chan struct{}
}

// NewRunner creates a Runner. The Runner takes ownership of m; callers must
// use the Runner's control methods afterwards.
func NewRunner(m *Machine, l *Link, opts RunnerOptions) *Runner {
	opts = opts.withDefaults()
	r := &Runner{
		machine:  m,
		link:     l,
		opts:     opts,
		logger:   opts.Logger.With("component", "runner", "robot_id", m.State().ID),
		controls: make(chan func(*Machine), 16),
		done:     make(chan struct{}),
	}
	r.publish()
	return r
}

// Run ticks physics and exchanges messages until ctx is cancelled or the link
// goes down. On cancel it closes the link, which sends Disconnect.
func (r *Runner) Run(ctx context.Context) error {
	defer close(r.done)

	ticker := time.NewTicker(r.opts.TickInterval)
	defer ticker.Stop()

	// The first telemetry identifies us to the gateway.
	r.sendTelemetry()
	lastTick := time.Now()
	lastTelemetry := lastTick

	inbound := r.link.Inbound()
	for {
		select {
		case <-ctx.Done():
			_ = r.link.Close()
			r.publish()
			return nil

		case msg, ok := <-inbound:
			if !ok {
				inbound = nil
				continue
			}
			r.apply(msg)

		case <-r.link.Done():
			r.publish()
			err := r.link.Err()
			if err != nil {
				r.logger.Warn("link down", "error", err)
			}
			return err

		case fn := <-r.controls:
			fn(r.machine)
			r.publish()

		case now := <-ticker.C:
			r.machine.Tick(now.Sub(lastTick))
			lastTick = now
			if now.Sub(lastTelemetry) >= r.opts.TelemetryInterval {
				r.sendTelemetry()
				lastTelemetry = now
			}
			r.publish()
		}
	}
}

func (r *Runner) apply(msg protocol.ServerMessage) {
	before := r.machine.Mode()
	r.machine.Apply(msg)
	if _, ok := msg.(protocol.Warning); !ok {
		r.logger.Info("gateway command", "type", msg.Kind(), "mode", r.machine.Mode().String())
	}
	// Report a stop right away so the gateway sees us holding still.
	if before != r.machine.Mode() {
		r.sendTelemetry()
	}
	r.publish()
}

func (r *Runner) sendTelemetry() {
	if !r.link.Send(protocol.Telemetry{State: r.machine.State()}) {
		r.logger.Debug("telemetry dropped, link queue full or closing")
	}
}

func (r *Runner) publish() {
	m := r.machine
	r.status.Store(&Status{
		State:        m.State(),
		Mode:         m.Mode().String(),
		Link:         r.link.State().String(),
		SpeedLimit:   m.SpeedLimit(),
		DesiredSpeed: m.DesiredSpeed(),
		Wandering:    m.Wandering(),
		Log:          m.Log(),
		LogCount:     m.LogCount(),
	})
}

// Snapshot returns the latest published status. Safe from any goroutine.
func (r *Runner) Snapshot() Status {
	return *r.status.Load()
}

// control hands fn to the physics goroutine. Returns false once Run has ended.
func (r *Runner) control(ctx context.Context, fn func(*Machine)) bool {
	select {
	case <-r.done:
		return false
	default:
	}
	select {
	case r.controls <- fn:
		return true
	case <-r.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// SetDesiredSpeed sets the operator's target speed.
func (r *Runner) SetDesiredSpeed(ctx context.Context, v float64) bool {
	return r.control(ctx, func(m *Machine) { m.SetDesiredSpeed(v) })
}

// SetHeading sets the heading in radians.
func (r *Runner) SetHeading(ctx context.Context, angle float64) bool {
	return r.control(ctx, func(m *Machine) { m.SetHeading(angle) })
}

// SetWander toggles wander mode.
func (r *Runner) SetWander(ctx context.Context, on bool) bool {
	return r.control(ctx, func(m *Machine) { m.SetWander(on) })
}

// Halt stops the robot locally.
func (r *Runner) Halt(ctx context.Context) bool {
	return r.control(ctx, func(m *Machine) { m.Halt() })
}

// Go releases a locally stopped robot.
func (r *Runner) Go(ctx context.Context) bool {
	return r.control(ctx, func(m *Machine) { m.Go() })
}
