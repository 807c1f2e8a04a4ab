// ABOUTME: Periodic safety evaluation over the shared registry
// ABOUTME: Delivers overrides without blocking, throttles warnings, and publishes frames

package safety

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/2389/cobot-gateway/internal/dedupe"
	"github.com/2389/cobot-gateway/internal/feed"
	"github.com/2389/cobot-gateway/internal/protocol"
	"github.com/2389/cobot-gateway/internal/registry"
)

// DefaultInterval is the evaluation period.
const DefaultInterval = 30 * time.Millisecond

// DefaultWarningWindow is how long a (robot, reason) warning is suppressed after it is sent.
const DefaultWarningWindow = 2 * time.Second

// Latch reports whether the fleet-wide emergency stop is engaged.
type Latch interface {
	Stopped() bool
}

// Publisher receives one frame per evaluation cycle.
type Publisher interface {
	Publish(frame feed.Frame)
}

// Options configures a Monitor.
type Options struct {
	Config   Config
	Interval time.Duration
	Latch    Latch
	Feed     Publisher
	// Warnings throttles the Warning sent with each force stop. Nil uses a
	// DefaultWarningWindow cache.
	Warnings *dedupe.Cache
	Logger   *slog.Logger
}

// Monitor evaluates the registry on a fixed period.
type Monitor struct {
	registry *registry.Registry
	cfg      Config
	interval time.Duration
	latch    Latch
	feed     Publisher
	warnings *dedupe.Cache
	logger   *slog.Logger

	mu       sync.Mutex
	held     map[string]bool
	cautions map[[2]string]bool
}

// NewMonitor creates a Monitor over reg.
func NewMonitor(reg *registry.Registry, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Warnings == nil {
		opts.Warnings = dedupe.New(DefaultWarningWindow, 1024)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Monitor{
		registry: reg,
		cfg:      opts.Config,
		interval: opts.Interval,
		latch:    opts.Latch,
		feed:     opts.Feed,
		warnings: opts.Warnings,
		logger:   opts.Logger.With("component", "safety"),
		held:     make(map[string]bool),
		cautions: make(map[[2]string]bool),
	}
}

// Run evaluates every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("safety monitor started", "interval", m.interval)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("safety monitor stopped")
			return nil
		case <-ticker.C:
			m.Step()
		}
	}
}

// Step runs one evaluation cycle synchronously.
func (m *Monitor) Step() Result {
	snap := m.registry.Snapshot()
	estop := m.latch != nil && m.latch.Stopped()

	m.mu.Lock()
	res := Evaluate(snap, m.held, estop, m.cfg)
	m.held = res.Held
	fresh := m.freshCautions(res.Cautions)
	m.mu.Unlock()

	for _, ev := range res.Events {
		m.deliver(ev)
	}

	recorded := make([]registry.Event, 0, len(res.Events)+len(fresh))
	recorded = append(recorded, res.Events...)
	recorded = append(recorded, fresh...)
	m.registry.RecordEvents(recorded)

	if m.feed != nil {
		m.feed.Publish(feed.NewFrame(snap, res.Held, res.Cautions, res.Events, estop))
	}
	return res
}

func (m *Monitor) deliver(ev registry.Event) {
	switch ev.Kind {
	case registry.EventForceStop:
		delivered := m.registry.Send(ev.ID, protocol.ForceStop{ID: ev.ID})
		if delivered && m.warnings.Allow(ev.ID+"/"+ev.Reason) {
			m.registry.Send(ev.ID, protocol.Warning{Text: ReasonText(ev)})
		}
		m.logger.Info("force stop",
			"robot_id", ev.ID,
			"reason", ev.Reason,
			"other", ev.Other,
			"distance", ev.Distance,
			"delivered", delivered,
		)
	case registry.EventResume:
		delivered := m.registry.Send(ev.ID, protocol.Resume{ID: ev.ID})
		m.logger.Info("resume", "robot_id", ev.ID, "delivered", delivered)
	}
}

// freshCautions returns the cautions that were not present last cycle and
// remembers the current set. Must be called with mu held.
func (m *Monitor) freshCautions(cautions []registry.Event) []registry.Event {
	next := make(map[[2]string]bool, len(cautions))
	var fresh []registry.Event
	for _, c := range cautions {
		key := [2]string{c.ID, c.Other}
		next[key] = true
		if !m.cautions[key] {
			fresh = append(fresh, c)
		}
	}
	m.cautions = next
	return fresh
}

// SetConfig replaces the thresholds used from the next cycle on.
func (m *Monitor) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	m.logger.Info("safety thresholds updated",
		"margin", cfg.Margin,
		"collision_distance", cfg.CollisionDistance,
		"caution_distance", cfg.CautionDistance,
	)
	return nil
}

// Config returns the thresholds currently in use.
func (m *Monitor) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Held returns the ids currently held by the monitor, sorted.
func (m *Monitor) Held() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.held))
	for id := range m.held {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	sort.Strings(ids)
	return ids
}
