// ABOUTME: Operator-facing fleet controls: global speed limit and emergency stop
// ABOUTME: Speed limit changes are broadcast once; the e-stop latch is enforced by the safety monitor

package fleet

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/cobot-gateway/internal/protocol"
	"github.com/2389/cobot-gateway/internal/registry"
)

// ErrInvalidSpeedLimit indicates a negative or non-finite speed limit.
var ErrInvalidSpeedLimit = errors.New("invalid speed limit")

// Controller applies operator actions to the whole fleet.
type Controller struct {
	registry *registry.Registry
	logger   *slog.Logger
	now      func() time.Time

	// mu serializes limit changes so each change is broadcast exactly once and in order.
	mu      sync.Mutex
	stopped atomic.Bool
}

// New creates a Controller over reg.
func New(reg *registry.Registry, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		registry: reg,
		logger:   logger.With("component", "fleet"),
		now:      time.Now,
	}
}

// SetSpeedLimit stores v and, if it changed, broadcasts SetSpeedLimit to every
// connected robot. It returns the number of robots the message was queued for.
func (c *Controller) SetSpeedLimit(v float64) (int, error) {
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidSpeedLimit, v)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.registry.SetGlobalSpeedLimit(v) {
		return 0, nil
	}

	delivered := c.registry.Broadcast(protocol.SetSpeedLimit{Value: v})
	c.registry.RecordEvents([]registry.Event{{
		Kind:  registry.EventSpeedLimit,
		Value: v,
		At:    c.now(),
	}})
	c.logger.Info("speed limit changed", "value", v, "delivered", delivered)
	return delivered, nil
}

// SpeedLimit returns the current fleet speed limit.
func (c *Controller) SpeedLimit() float64 {
	return c.registry.GlobalSpeedLimit()
}

// EmergencyStop engages the fleet-wide stop latch. Returns false if it was
// already engaged.
func (c *Controller) EmergencyStop() bool {
	if !c.stopped.CompareAndSwap(false, true) {
		return false
	}
	c.logger.Warn("=== EMERGENCY STOP ENGAGED ===", "robots", c.registry.Len())
	return true
}

// ReleaseAll clears the stop latch. Robots are resumed by the safety monitor
// once they are individually safe. Returns false if the latch was not engaged.
func (c *Controller) ReleaseAll() bool {
	if !c.stopped.CompareAndSwap(true, false) {
		return false
	}
	c.logger.Info("emergency stop released", "robots", c.registry.Len())
	return true
}

// Stopped reports whether the emergency stop latch is engaged.
func (c *Controller) Stopped() bool {
	return c.stopped.Load()
}

// Status is a point-in-time view of the fleet controls.
type Status struct {
	SpeedLimit float64 `json:"speed_limit"`
	EStop      bool    `json:"estop"`
	Robots     int     `json:"robots"`
}

// Status returns the current fleet controls.
func (c *Controller) Status() Status {
	return Status{
		SpeedLimit: c.SpeedLimit(),
		EStop:      c.Stopped(),
		Robots:     c.registry.Len(),
	}
}
