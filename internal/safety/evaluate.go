// ABOUTME: Pure safety evaluation over a registry snapshot
// ABOUTME: Boundary, pairwise proximity, and level-triggered resume in deterministic id order

package safety

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/2389/cobot-gateway/internal/protocol"
	"github.com/2389/cobot-gateway/internal/registry"
)

// Default thresholds, in workspace units.
const (
	DefaultMargin            = 10.0
	DefaultCollisionDistance = 50.0
	DefaultCautionDistance   = 75.0
)

// Bounds is the workspace rectangle.
type Bounds struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// Config holds the safety thresholds.
type Config struct {
	Bounds            Bounds
	Margin            float64
	CollisionDistance float64
	CautionDistance   float64
}

// DefaultConfig returns thresholds for the default 600x400 workspace.
func DefaultConfig() Config {
	return Config{
		Bounds: Bounds{
			MaxX: protocol.DefaultWorkspaceWidth,
			MaxY: protocol.DefaultWorkspaceHeight,
		},
		Margin:            DefaultMargin,
		CollisionDistance: DefaultCollisionDistance,
		CautionDistance:   DefaultCautionDistance,
	}
}

// Validate checks that the thresholds describe a usable workspace.
func (c Config) Validate() error {
	if c.Bounds.MaxX-c.Bounds.MinX <= 2*c.Margin || c.Bounds.MaxY-c.Bounds.MinY <= 2*c.Margin {
		return errors.New("workspace smaller than its margins")
	}
	if c.Margin < 0 {
		return fmt.Errorf("margin must not be negative, got %v", c.Margin)
	}
	if c.CollisionDistance <= 0 {
		return fmt.Errorf("collision distance must be positive, got %v", c.CollisionDistance)
	}
	if c.CautionDistance < c.CollisionDistance {
		return fmt.Errorf("caution distance %v is below collision distance %v", c.CautionDistance, c.CollisionDistance)
	}
	return nil
}

// InBounds reports whether p lies inside the workspace minus the margin.
func (c Config) InBounds(p protocol.Point) bool {
	return p.X >= c.Bounds.MinX+c.Margin &&
		p.X <= c.Bounds.MaxX-c.Margin &&
		p.Y >= c.Bounds.MinY+c.Margin &&
		p.Y <= c.Bounds.MaxY-c.Margin
}

// Result is the outcome of one evaluation cycle.
type Result struct {
	// Events holds force stops and resumes to deliver, in id order.
	Events []registry.Event
	// Cautions holds pairs inside the caution band, ID < Other.
	Cautions []registry.Event
	// Held is the set of robots held after this cycle.
	Held map[string]bool
}

// Evaluate applies the safety rules to snap. held is the set of robots stopped
// by earlier cycles and is not modified.
func Evaluate(snap registry.Snapshot, held map[string]bool, estop bool, cfg Config) Result {
	ids := snap.IDs()
	now := snap.Taken

	unsafe := make(map[string]registry.Event, len(ids))
	var cautions []registry.Event

	for _, id := range ids {
		switch {
		case estop:
			unsafe[id] = stopEvent(id, registry.ReasonEStop, now)
		case !cfg.InBounds(snap.Agents[id].State.Position()):
			unsafe[id] = stopEvent(id, registry.ReasonBoundary, now)
		}
	}

	for i, a := range ids {
		pa := snap.Agents[a].State.Position()
		for _, b := range ids[i+1:] {
			d := protocol.Distance(pa, snap.Agents[b].State.Position())
			switch {
			case d < cfg.CollisionDistance:
				markCollision(unsafe, a, b, d, now)
				markCollision(unsafe, b, a, d, now)
			case d < cfg.CautionDistance:
				cautions = append(cautions, registry.Event{
					Kind:     registry.EventCaution,
					ID:       a,
					Other:    b,
					Distance: d,
					At:       now,
				})
			}
		}
	}

	res := Result{
		Cautions: cautions,
		Held:     make(map[string]bool, len(held)),
	}
	for _, id := range ids {
		stop, isUnsafe := unsafe[id]
		wasHeld := held[id]
		switch {
		case isUnsafe && !wasHeld:
			res.Events = append(res.Events, stop)
			res.Held[id] = true
		case isUnsafe && wasHeld:
			if snap.Agents[id].State.Speed > 0 {
				stop.Reason = registry.ReasonReassert
				res.Events = append(res.Events, stop)
			}
			res.Held[id] = true
		case !isUnsafe && wasHeld:
			res.Events = append(res.Events, registry.Event{Kind: registry.EventResume, ID: id, At: now})
		}
	}
	return res
}

func stopEvent(id, reason string, now time.Time) registry.Event {
	return registry.Event{Kind: registry.EventForceStop, ID: id, Reason: reason, At: now}
}

// markCollision records a collision for id unless a stronger reason is already
// set. Among collisions the nearest neighbour wins.
func markCollision(unsafe map[string]registry.Event, id, other string, d float64, now time.Time) {
	prev, ok := unsafe[id]
	if ok && (prev.Reason != registry.ReasonCollision || prev.Distance <= d) {
		return
	}
	ev := stopEvent(id, registry.ReasonCollision, now)
	ev.Other = other
	ev.Distance = d
	unsafe[id] = ev
}

// ReasonText renders a force stop for the Warning sent alongside it.
func ReasonText(ev registry.Event) string {
	switch ev.Reason {
	case registry.ReasonBoundary:
		return "force stop: workspace boundary"
	case registry.ReasonCollision:
		return fmt.Sprintf("force stop: collision risk with %s (%.1f)", ev.Other, roundTenth(ev.Distance))
	case registry.ReasonEStop:
		return "force stop: emergency stop"
	case registry.ReasonReassert:
		return "force stop: moving while held"
	default:
		return "force stop"
	}
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}
