// ABOUTME: Tests for the dedupe throttle used to rate-limit safety warnings.
// ABOUTME: Validates TTL expiry, size bounds, eviction order, and concurrency safety.

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestCache_AllowOncePerWindow(t *testing.T) {
	clock := newFakeClock()
	cache := New(2*time.Second, 100, WithClock(clock.Now))

	assert.True(t, cache.Allow("A/collision"))
	assert.False(t, cache.Allow("A/collision"))
	assert.True(t, cache.Allow("A/boundary"), "different reason is a different key")
	assert.True(t, cache.Allow("B/collision"))

	clock.Advance(1999 * time.Millisecond)
	assert.False(t, cache.Allow("A/collision"))

	clock.Advance(time.Millisecond)
	assert.True(t, cache.Allow("A/collision"), "allowed again once the window has passed")
}

func TestCache_Seen(t *testing.T) {
	clock := newFakeClock()
	cache := New(time.Second, 100, WithClock(clock.Now))

	assert.False(t, cache.Seen("k"))
	cache.Allow("k")
	assert.True(t, cache.Seen("k"))

	clock.Advance(time.Second)
	assert.False(t, cache.Seen("k"))
}

func TestCache_Forget(t *testing.T) {
	cache := New(time.Minute, 100)

	assert.True(t, cache.Allow("k"))
	cache.Forget("k")
	cache.Forget("missing")
	assert.True(t, cache.Allow("k"))
}

func TestCache_SizeBoundEvictsOldest(t *testing.T) {
	clock := newFakeClock()
	cache := New(time.Minute, 3, WithClock(clock.Now))

	for _, k := range []string{"a", "b", "c"} {
		cache.Allow(k)
		clock.Advance(time.Millisecond)
	}
	cache.Allow("d")

	assert.Equal(t, 3, cache.Len())
	assert.False(t, cache.Seen("a"), "oldest entry evicted")
	assert.True(t, cache.Seen("b"))
	assert.True(t, cache.Seen("d"))
}

func TestCache_LenPrunesExpired(t *testing.T) {
	clock := newFakeClock()
	cache := New(time.Second, 100, WithClock(clock.Now))

	cache.Allow("a")
	clock.Advance(500 * time.Millisecond)
	cache.Allow("b")
	assert.Equal(t, 2, cache.Len())

	clock.Advance(600 * time.Millisecond)
	assert.Equal(t, 1, cache.Len())

	clock.Advance(time.Second)
	assert.Equal(t, 0, cache.Len())
}

func TestCache_ZeroSizeStillThrottles(t *testing.T) {
	cache := New(time.Minute, 0)

	assert.True(t, cache.Allow("a"))
	assert.False(t, cache.Allow("a"))
}

func TestCache_ConcurrentAllowAdmitsExactlyOne(t *testing.T) {
	cache := New(time.Minute, 1000)

	for i := 0; i < 20; i++ {
		key := fmt.Sprintf("key-%d", i)
		var admitted atomic.Int32
		var wg sync.WaitGroup
		for g := 0; g < 16; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if cache.Allow(key) {
					admitted.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), admitted.Load(), "key %s", key)
	}
}
