// ABOUTME: Robot-side network engine: one TCP connection to the gateway
// ABOUTME: A writer drains outbound telemetry, a reader forwards decoded commands

package robot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/cobot-gateway/internal/protocol"
)

// Default link timing and sizing.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultWriteTimeout = 2 * time.Second
	DefaultLinkQueue    = 64
)

// ErrDisconnected indicates the link to the gateway is gone.
var ErrDisconnected = errors.New("disconnected from gateway")

// ErrLinkTimeout indicates the gateway stayed silent past the read timeout.
var ErrLinkTimeout = fmt.Errorf("%w: read timeout", ErrDisconnected)

// LinkState is the link's connection state.
type LinkState int32

const (
	LinkDisconnected LinkState = iota
	LinkIdentifying
	LinkActive
)

func (s LinkState) String() string {
	switch s {
	case LinkDisconnected:
		return "disconnected"
	case LinkIdentifying:
		return "identifying"
	case LinkActive:
		return "active"
	default:
		return fmt.Sprintf("link(%d)", int32(s))
	}
}

// LinkOptions configures a Link.
type LinkOptions struct {
	DialTimeout time.Duration
	// ReadTimeout closes the link when the gateway is silent this long. The
	// gateway only speaks when it has a command, so zero disables it.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	QueueSize    int
	// OnStateChange, if set, is called on every state transition.
	OnStateChange func(from, to LinkState)
	Logger        *slog.Logger
}

func (o LinkOptions) withDefaults() LinkOptions {
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultLinkQueue
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Link is a live connection to the gateway.
type Link struct {
	conn   net.Conn
	opts   LinkOptions
	logger *slog.Logger

	state    atomic.Int32
	outbound chan protocol.ClientMessage
	inbound  chan protocol.ServerMessage

	closing   chan struct{}
	closeOnce sync.Once
	err       error
	done      chan struct{}
}

// Dial connects to the gateway at addr.
func Dial(ctx context.Context, addr string, opts LinkOptions) (*Link, error) {
	opts = opts.withDefaults()
	d := net.Dialer{Timeout: opts.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrDisconnected, addr, err)
	}
	return newLink(conn, opts), nil
}

// NewLink runs a link over an established connection.
func NewLink(conn net.Conn, opts LinkOptions) *Link {
	return newLink(conn, opts.withDefaults())
}

func newLink(conn net.Conn, opts LinkOptions) *Link {
	l := &Link{
		conn:     conn,
		opts:     opts,
		logger:   opts.Logger.With("component", "link", "gateway", conn.RemoteAddr().String()),
		outbound: make(chan protocol.ClientMessage, opts.QueueSize),
		inbound:  make(chan protocol.ServerMessage, opts.QueueSize),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	l.setState(LinkIdentifying)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		l.readLoop()
	}()
	go func() {
		defer wg.Done()
		l.writeLoop()
	}()
	go func() {
		wg.Wait()
		_ = l.conn.Close()
		close(l.inbound)
		l.setState(LinkDisconnected)
		close(l.done)
	}()
	return l
}

// State returns the current link state.
func (l *Link) State() LinkState {
	return LinkState(l.state.Load())
}

// Inbound delivers decoded gateway commands in arrival order. It is closed
// once the link is down.
func (l *Link) Inbound() <-chan protocol.ServerMessage {
	return l.inbound
}

// Done is closed once the link is down.
func (l *Link) Done() <-chan struct{} {
	return l.done
}

// Err reports why the link went down. Nil after a local Close.
func (l *Link) Err() error {
	select {
	case <-l.done:
		return l.err
	default:
		return nil
	}
}

// Send queues msg without blocking. Returns false if the link is closing or
// the queue is full.
func (l *Link) Send(msg protocol.ClientMessage) bool {
	select {
	case <-l.closing:
		return false
	default:
	}
	select {
	case l.outbound <- msg:
		return true
	default:
		return false
	}
}

// Close flushes queued messages, tells the gateway we are leaving, and waits
// for the link to shut down. It is idempotent.
func (l *Link) Close() error {
	l.fail(nil)
	<-l.done
	return nil
}

func (l *Link) fail(err error) {
	l.closeOnce.Do(func() {
		l.err = err
		close(l.closing)
		_ = l.conn.SetReadDeadline(time.Now())
	})
}

func (l *Link) isClosing() bool {
	select {
	case <-l.closing:
		return true
	default:
		return false
	}
}

func (l *Link) setState(next LinkState) {
	prev := LinkState(l.state.Swap(int32(next)))
	if prev == next {
		return
	}
	l.logger.Debug("link state changed", "from", prev.String(), "to", next.String())
	if l.opts.OnStateChange != nil {
		l.opts.OnStateChange(prev, next)
	}
}

func (l *Link) readLoop() {
	reader := protocol.NewReader(l.conn)
	for {
		if l.opts.ReadTimeout > 0 {
			if err := l.conn.SetReadDeadline(time.Now().Add(l.opts.ReadTimeout)); err != nil {
				l.fail(l.classify(err))
				return
			}
		}
		msg, err := reader.ReadServer()
		if err != nil {
			l.fail(l.classify(err))
			return
		}
		select {
		case l.inbound <- msg:
		case <-l.closing:
			return
		}
	}
}

func (l *Link) classify(err error) error {
	if l.isClosing() {
		return nil
	}
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: gateway closed the connection", ErrDisconnected)
	}
	if errors.Is(err, protocol.ErrProtocol) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrLinkTimeout
	}
	return fmt.Errorf("%w: %v", ErrDisconnected, err)
}

func (l *Link) writeLoop() {
	for {
		select {
		case msg := <-l.outbound:
			if err := l.write(msg); err != nil {
				l.fail(fmt.Errorf("%w: write: %v", ErrDisconnected, err))
				return
			}
		case <-l.closing:
			l.drain()
			return
		}
	}
}

// drain flushes the queue and, on a local close, says goodbye. Best effort.
func (l *Link) drain() {
	if l.err != nil {
		return
	}
	for {
		select {
		case msg := <-l.outbound:
			if err := l.write(msg); err != nil {
				return
			}
		default:
			_ = l.write(protocol.Disconnect{})
			return
		}
	}
}

func (l *Link) write(msg protocol.ClientMessage) error {
	line, err := protocol.EncodeClient(msg)
	if err != nil {
		l.logger.Error("dropping unencodable message", "type", msg.Kind(), "error", err)
		return nil
	}
	if err := l.conn.SetWriteDeadline(time.Now().Add(l.opts.WriteTimeout)); err != nil {
		return err
	}
	if _, err := l.conn.Write(line); err != nil {
		return err
	}
	if _, ok := msg.(protocol.Telemetry); ok && l.State() == LinkIdentifying {
		l.setState(LinkActive)
	}
	return nil
}
