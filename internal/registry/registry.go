// ABOUTME: Shared registry of connected robots, their trails, and outbound sinks
// ABOUTME: Single RWMutex around the map; the fleet speed limit lives in an atomic

package registry

import (
	"errors"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/cobot-gateway/internal/protocol"
)

// TrailLength is the number of recent positions kept per robot.
const TrailLength = 20

// DefaultEventHistory is the number of safety events kept for observers.
const DefaultEventHistory = 64

// ErrDuplicateID indicates a robot with the same id is already connected.
var ErrDuplicateID = errors.New("robot id already connected")

// Sink receives server messages destined for one robot. Enqueue must not block;
// it returns false when the message could not be queued.
type Sink interface {
	Enqueue(msg protocol.ServerMessage) bool
}

// Options configures a Registry.
type Options struct {
	// SpeedLimit is the initial fleet speed limit.
	SpeedLimit float64
	// EventHistory bounds RecentEvents. Defaults to DefaultEventHistory.
	EventHistory int
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// AgentSnapshot is a copy of one registry entry.
type AgentSnapshot struct {
	State    protocol.RobotState `json:"state"`
	Trail    []protocol.Point    `json:"trail"`
	LastSeen time.Time           `json:"last_seen"`
	Session  string              `json:"session,omitempty"`
}

// Snapshot is a consistent point-in-time copy of the registry.
type Snapshot struct {
	Agents     map[string]AgentSnapshot `json:"agents"`
	SpeedLimit float64                  `json:"speed_limit"`
	Taken      time.Time                `json:"taken"`
}

// IDs returns the snapshot's robot ids in sorted order.
func (s Snapshot) IDs() []string {
	ids := make([]string, 0, len(s.Agents))
	for id := range s.Agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type entry struct {
	state    protocol.RobotState
	trail    trail
	lastSeen time.Time
	session  string
	sink     Sink
}

// Registry is the gateway's shared store of robot state.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*entry
	events *eventLog

	speedLimit atomic.Uint64 // math.Float64bits
	now        func() time.Time
}

// New creates an empty Registry.
func New(opts Options) *Registry {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.EventHistory <= 0 {
		opts.EventHistory = DefaultEventHistory
	}
	r := &Registry{
		agents: make(map[string]*entry),
		events: newEventLog(opts.EventHistory),
		now:    opts.Now,
	}
	r.speedLimit.Store(math.Float64bits(opts.SpeedLimit))
	return r
}

// Bind registers the connection that owns id, seeding the entry with its first
// telemetry. Returns ErrDuplicateID if the id is already owned.
func (r *Registry) Bind(id, session string, sink Sink, state protocol.RobotState) error {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[id]; exists {
		return ErrDuplicateID
	}
	e := &entry{session: session, sink: sink}
	e.apply(state, now)
	r.agents[id] = e
	return nil
}

// Upsert inserts or overwrites the state for id and appends its position to the
// trail. An inserted entry has no sink until a connection binds it.
func (r *Registry) Upsert(id string, state protocol.RobotState) {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.agents[id]
	if !ok {
		e = &entry{}
		r.agents[id] = e
	}
	e.apply(state, now)
}

// Update overwrites the state for id only while session still owns it.
// Returns false if the entry is gone or owned by another session.
func (r *Registry) Update(id, session string, state protocol.RobotState) bool {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.agents[id]
	if !ok || e.session != session {
		return false
	}
	e.apply(state, now)
	return true
}

// Remove drops id unconditionally. Removing an absent id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, id)
}

// Release drops id only if it is still owned by session. Connections use it on
// teardown so that a stale session can never evict a newer owner.
// Returns true if an entry was removed.
func (r *Registry) Release(id, session string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.agents[id]
	if !ok || e.session != session {
		return false
	}
	delete(r.agents, id)
	return true
}

// Get returns a copy of one entry.
func (r *Registry) Get(id string) (AgentSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.agents[id]
	if !ok {
		return AgentSnapshot{}, false
	}
	return e.snapshot(), true
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Snapshot returns a deep copy of every entry. The read lock is held only for
// the duration of the copy.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	agents := make(map[string]AgentSnapshot, len(r.agents))
	for id, e := range r.agents {
		agents[id] = e.snapshot()
	}
	r.mu.RUnlock()

	return Snapshot{
		Agents:     agents,
		SpeedLimit: r.GlobalSpeedLimit(),
		Taken:      r.now(),
	}
}

// GlobalSpeedLimit returns the current fleet speed limit.
func (r *Registry) GlobalSpeedLimit() float64 {
	return math.Float64frombits(r.speedLimit.Load())
}

// SetGlobalSpeedLimit stores v and reports whether the value changed.
func (r *Registry) SetGlobalSpeedLimit(v float64) bool {
	next := math.Float64bits(v)
	return r.speedLimit.Swap(next) != next
}

// Send queues msg for id without blocking. Returns false if id is not connected
// or its queue is full.
func (r *Registry) Send(id string, msg protocol.ServerMessage) bool {
	r.mu.RLock()
	e, ok := r.agents[id]
	var sink Sink
	if ok {
		sink = e.sink
	}
	r.mu.RUnlock()

	if sink == nil {
		return false
	}
	return sink.Enqueue(msg)
}

// Broadcast queues msg for every connected robot and returns how many accepted it.
func (r *Registry) Broadcast(msg protocol.ServerMessage) int {
	r.mu.RLock()
	sinks := make([]Sink, 0, len(r.agents))
	for _, e := range r.agents {
		if e.sink != nil {
			sinks = append(sinks, e.sink)
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for _, sink := range sinks {
		if sink.Enqueue(msg) {
			delivered++
		}
	}
	return delivered
}

// RecordEvents appends events to the bounded history.
func (r *Registry) RecordEvents(events []Event) {
	if len(events) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range events {
		r.events.push(ev)
	}
}

// RecentEvents returns the bounded event history, oldest first.
func (r *Registry) RecentEvents() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.events.list()
}

func (e *entry) apply(state protocol.RobotState, now time.Time) {
	e.state = state
	e.lastSeen = now
	e.trail.push(state.Position())
}

func (e *entry) snapshot() AgentSnapshot {
	return AgentSnapshot{
		State:    e.state,
		Trail:    e.trail.points(),
		LastSeen: e.lastSeen,
		Session:  e.session,
	}
}
