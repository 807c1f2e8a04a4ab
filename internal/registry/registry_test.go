// ABOUTME: Tests for the shared robot registry
// ABOUTME: Validates upsert/remove properties, trail eviction, sinks, speed limit, and concurrency

package registry

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/cobot-gateway/internal/protocol"
)

// recordingSink collects enqueued messages and can simulate a full queue.
type recordingSink struct {
	mu       sync.Mutex
	messages []protocol.ServerMessage
	full     bool
}

func (s *recordingSink) Enqueue(msg protocol.ServerMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return false
	}
	s.messages = append(s.messages, msg)
	return true
}

func (s *recordingSink) received() []protocol.ServerMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.ServerMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

func stateAt(id string, x, y float64) protocol.RobotState {
	return protocol.RobotState{ID: id, X: x, Y: y}
}

func TestRegistry_UpsertRemoveProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(1097))
	ids := []string{"A", "B", "C", "D", "E"}

	for round := 0; round < 50; round++ {
		reg := New(Options{})
		expected := make(map[string]bool)

		for step := 0; step < 200; step++ {
			id := ids[rng.Intn(len(ids))]
			if rng.Intn(3) == 0 {
				reg.Remove(id)
				delete(expected, id)
			} else {
				reg.Upsert(id, stateAt(id, rng.Float64()*600, rng.Float64()*400))
				expected[id] = true
			}

			snap := reg.Snapshot()
			require.Len(t, snap.Agents, len(expected), "round %d step %d", round, step)
			for id := range expected {
				_, ok := snap.Agents[id]
				require.True(t, ok, "expected %s in snapshot", id)
			}
			for id := range snap.Agents {
				require.True(t, expected[id], "removed id %s present in snapshot", id)
			}
		}
	}
}

func TestRegistry_TrailBoundedFIFO(t *testing.T) {
	reg := New(Options{})

	for i := 0; i < 50; i++ {
		reg.Upsert("A", stateAt("A", float64(i), 0))

		got, ok := reg.Get("A")
		require.True(t, ok)
		require.LessOrEqual(t, len(got.Trail), TrailLength)
		assert.Equal(t, float64(i), got.Trail[len(got.Trail)-1].X, "newest point last")
	}

	got, _ := reg.Get("A")
	require.Len(t, got.Trail, TrailLength)
	for i, p := range got.Trail {
		assert.Equal(t, float64(30+i), p.X, "oldest points evicted first")
	}
}

func TestRegistry_SnapshotIsDeepCopy(t *testing.T) {
	reg := New(Options{})
	reg.Upsert("A", stateAt("A", 1, 1))

	snap := reg.Snapshot()
	snap.Agents["A"].Trail[0] = protocol.Point{X: 999, Y: 999}

	reg.Upsert("A", stateAt("A", 2, 2))

	again, _ := reg.Get("A")
	assert.Equal(t, protocol.Point{X: 1, Y: 1}, again.Trail[0])
	assert.Equal(t, 2.0, again.State.X)
	assert.Equal(t, 1.0, snap.Agents["A"].State.X, "earlier snapshot unaffected")
}

func TestRegistry_BindRejectsDuplicate(t *testing.T) {
	reg := New(Options{})
	first := &recordingSink{}
	second := &recordingSink{}

	require.NoError(t, reg.Bind("A", "session-1", first, stateAt("A", 10, 10)))
	err := reg.Bind("A", "session-2", second, stateAt("A", 20, 20))
	assert.ErrorIs(t, err, ErrDuplicateID)

	got, ok := reg.Get("A")
	require.True(t, ok)
	assert.Equal(t, "session-1", got.Session, "existing owner kept")
	assert.Equal(t, 10.0, got.State.X)
}

func TestRegistry_ReleaseRequiresMatchingSession(t *testing.T) {
	reg := New(Options{})
	require.NoError(t, reg.Bind("A", "session-1", &recordingSink{}, stateAt("A", 0, 0)))

	assert.False(t, reg.Release("A", "session-2"))
	assert.Equal(t, 1, reg.Len())

	assert.True(t, reg.Release("A", "session-1"))
	assert.Equal(t, 0, reg.Len())

	assert.False(t, reg.Release("A", "session-1"), "release is idempotent")
}

func TestRegistry_UpsertKeepsSink(t *testing.T) {
	reg := New(Options{})
	sink := &recordingSink{}
	require.NoError(t, reg.Bind("A", "s", sink, stateAt("A", 0, 0)))

	reg.Upsert("A", stateAt("A", 5, 5))
	require.True(t, reg.Send("A", protocol.ForceStop{ID: "A"}))
	assert.Equal(t, []protocol.ServerMessage{protocol.ForceStop{ID: "A"}}, sink.received())
}

func TestRegistry_SendUndeliverable(t *testing.T) {
	reg := New(Options{})

	assert.False(t, reg.Send("ghost", protocol.Resume{ID: "ghost"}), "unknown id")

	reg.Upsert("nosink", stateAt("nosink", 0, 0))
	assert.False(t, reg.Send("nosink", protocol.Resume{ID: "nosink"}), "entry without sink")

	full := &recordingSink{full: true}
	require.NoError(t, reg.Bind("full", "s", full, stateAt("full", 0, 0)))
	assert.False(t, reg.Send("full", protocol.Resume{ID: "full"}), "full queue")
}

func TestRegistry_Broadcast(t *testing.T) {
	reg := New(Options{})
	sinks := []*recordingSink{{}, {}, {full: true}}
	for i, s := range sinks {
		id := fmt.Sprintf("R%d", i)
		require.NoError(t, reg.Bind(id, "s-"+id, s, stateAt(id, 0, 0)))
	}

	delivered := reg.Broadcast(protocol.SetSpeedLimit{Value: 2})
	assert.Equal(t, 2, delivered)
	assert.Len(t, sinks[0].received(), 1)
	assert.Len(t, sinks[1].received(), 1)
	assert.Empty(t, sinks[2].received())
}

func TestRegistry_SpeedLimit(t *testing.T) {
	reg := New(Options{SpeedLimit: 100})
	assert.Equal(t, 100.0, reg.GlobalSpeedLimit())

	assert.True(t, reg.SetGlobalSpeedLimit(2))
	assert.False(t, reg.SetGlobalSpeedLimit(2), "unchanged value")
	assert.Equal(t, 2.0, reg.GlobalSpeedLimit())
	assert.Equal(t, 2.0, reg.Snapshot().SpeedLimit)
}

func TestRegistry_RecentEventsBounded(t *testing.T) {
	reg := New(Options{EventHistory: 3})
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		reg.RecordEvents([]Event{{Kind: EventForceStop, ID: fmt.Sprintf("R%d", i), At: base.Add(time.Duration(i) * time.Second)}})
	}

	events := reg.RecentEvents()
	require.Len(t, events, 3)
	assert.Equal(t, "R2", events[0].ID)
	assert.Equal(t, "R4", events[2].ID)
}

func TestRegistry_LastSeenUsesClock(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	reg := New(Options{Now: func() time.Time { return now }})

	reg.Upsert("A", stateAt("A", 0, 0))
	got, _ := reg.Get("A")
	assert.Equal(t, now, got.LastSeen)
	assert.Equal(t, now, reg.Snapshot().Taken)
}

func TestSnapshot_IDsSorted(t *testing.T) {
	reg := New(Options{})
	for _, id := range []string{"C", "A", "B"} {
		reg.Upsert(id, stateAt(id, 0, 0))
	}
	assert.Equal(t, []string{"A", "B", "C"}, reg.Snapshot().IDs())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := New(Options{SpeedLimit: 50})
	var wg sync.WaitGroup

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			id := fmt.Sprintf("R%d", w)
			sink := &recordingSink{}
			_ = reg.Bind(id, "s", sink, stateAt(id, 0, 0))
			for i := 0; i < 200; i++ {
				reg.Upsert(id, stateAt(id, float64(i), float64(i)))
				reg.Send(id, protocol.Resume{ID: id})
				if i%50 == 0 {
					reg.SetGlobalSpeedLimit(float64(i))
				}
			}
			reg.Release(id, "s")
		}(w)
	}

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				snap := reg.Snapshot()
				for _, a := range snap.Agents {
					if len(a.Trail) > TrailLength {
						t.Errorf("trail length %d exceeds %d", len(a.Trail), TrailLength)
					}
				}
				reg.Broadcast(protocol.SetSpeedLimit{Value: 1})
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, 0, reg.Len())
}
