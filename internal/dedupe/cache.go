// ABOUTME: Thread-safe TTL cache that throttles repeated keys.
// ABOUTME: Used by the safety monitor so a held robot is not flooded with warnings.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type cacheEntry struct {
	key       string
	timestamp time.Time
}

// Cache remembers keys for a TTL, bounded to maxSize entries. The list keeps
// entries ordered by last mark so expired entries are always at the front.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*list.Element
	order   *list.List // *cacheEntry, oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache that forgets keys ttl after they were last marked.
func New(ttl time.Duration, maxSize int, opts ...Option) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	c := &Cache{
		seen:    make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Allow reports whether key has not been seen within the TTL, marking it if so.
// The check and mark happen under one lock.
func (c *Cache) Allow(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.pruneLocked(now)

	if _, ok := c.seen[key]; ok {
		return false
	}
	if c.order.Len() >= c.maxSize {
		c.removeLocked(c.order.Front())
	}
	c.seen[key] = c.order.PushBack(&cacheEntry{key: key, timestamp: now})
	return true
}

// Seen reports whether key was marked within the TTL.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.seen[key]
	if !ok {
		return false
	}
	entry, _ := elem.Value.(*cacheEntry)
	return c.now().Sub(entry.timestamp) < c.ttl
}

// Forget drops key so the next Allow succeeds.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.seen[key]; ok {
		c.removeLocked(elem)
	}
}

// Len returns the number of unexpired keys.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pruneLocked(c.now())
	return c.order.Len()
}

func (c *Cache) pruneLocked(now time.Time) {
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		entry, _ := front.Value.(*cacheEntry)
		if now.Sub(entry.timestamp) < c.ttl {
			return
		}
		c.removeLocked(front)
	}
}

func (c *Cache) removeLocked(elem *list.Element) {
	if elem == nil {
		return
	}
	entry, _ := elem.Value.(*cacheEntry)
	c.order.Remove(elem)
	delete(c.seen, entry.key)
}
