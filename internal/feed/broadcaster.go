// ABOUTME: In-memory fan-out of fleet frames to websocket and API observers
// ABOUTME: Publish never blocks; slow subscribers simply miss frames

package feed

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 16
)

// Broadcaster provides in-memory pub/sub for fleet frames. It also keeps the
// most recent frame so new observers can render immediately.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan Frame
	latest      Frame
	hasLatest   bool
	seq         uint64
	closed      bool
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]chan Frame),
		logger:      logger.With("component", "feed"),
	}
}

// Subscribe registers a subscriber. The returned channel is closed when the
// subscription ends, which happens automatically when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan Frame, string) {
	subID := uuid.New().String()
	ch := make(chan Frame, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	b.subscribers[subID] = ch
	if b.hasLatest {
		ch <- b.latest
	}
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()

	return ch, subID
}

// Publish stamps frame with the next sequence number and sends it to every
// subscriber without blocking.
func (b *Broadcaster) Publish(frame Frame) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.seq++
	frame.Seq = b.seq
	b.latest = frame
	b.hasLatest = true

	// Sends happen under the lock so Unsubscribe cannot close a channel mid-send.
	for id, ch := range b.subscribers {
		select {
		case ch <- frame:
		default:
			b.logger.Debug("dropped frame for slow subscriber", "sub_id", id, "seq", frame.Seq)
		}
	}
	b.mu.Unlock()
}

// Latest returns the most recently published frame.
func (b *Broadcaster) Latest() (Frame, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.latest, b.hasLatest
}

// Subscribers returns the number of live subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subscribers[subID]
	if !ok {
		return
	}
	delete(b.subscribers, subID)
	close(ch)

	b.logger.Debug("subscriber removed", "sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for subID, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, subID)
	}

	b.logger.Debug("broadcaster closed")
}
