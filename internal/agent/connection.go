// ABOUTME: Represents a single connected robot and drives its full-duplex TCP session.
// ABOUTME: Reader applies telemetry to the registry; writer drains the outbound queue.

package agent

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/2389/cobot-gateway/internal/protocol"
	"github.com/2389/cobot-gateway/internal/registry"
)

// Connection represents one robot's TCP session.
// It implements registry.Sink so safety commands can be queued onto it.
type Connection struct {
	Session     string
	RemoteAddr  string
	ConnectedAt time.Time

	conn     net.Conn
	registry *registry.Registry
	opts     Options
	logger   *slog.Logger

	id       atomic.Pointer[string]
	state    atomic.Int32
	outbound chan protocol.ServerMessage

	closing   chan struct{}
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

func newConnection(conn net.Conn, reg *registry.Registry, opts Options, logger *slog.Logger) *Connection {
	session := uuid.New().String()
	remote := ""
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	return &Connection{
		Session:     session,
		RemoteAddr:  remote,
		ConnectedAt: time.Now(),
		conn:        conn,
		registry:    reg,
		opts:        opts,
		logger:      logger.With("session", session, "remote_addr", remote),
		outbound:    make(chan protocol.ServerMessage, opts.QueueSize),
		closing:     make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// ID returns the robot id bound to this connection, or "" before identification.
func (c *Connection) ID() string {
	if p := c.id.Load(); p != nil {
		return *p
	}
	return ""
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	return State(c.state.Load())
}

// Done is closed once the connection reaches StateClosed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the connection closed. Nil for a clean close.
// Only meaningful after Done is closed.
func (c *Connection) Err() error {
	select {
	case <-c.done:
		return c.closeErr
	default:
		return nil
	}
}

// Enqueue queues msg for the writer without blocking.
// Returns false once the connection is closing or the queue is full.
func (c *Connection) Enqueue(msg protocol.ServerMessage) bool {
	select {
	case <-c.closing:
		return false
	default:
	}

	select {
	case c.outbound <- msg:
		return true
	default:
		c.logger.Warn("outbound queue full, dropping message",
			"robot_id", c.ID(),
			"type", msg.Kind(),
		)
		return false
	}
}

// Close begins teardown. It is idempotent and safe to call from any goroutine.
func (c *Connection) Close() {
	c.closeWith(nil)
}

func (c *Connection) closeWith(reason error) {
	c.closeOnce.Do(func() {
		c.closeErr = reason
		c.setState(StateClosing)
		close(c.closing)
		c.deregister()
		// Unblock a reader parked in Read.
		_ = c.conn.SetReadDeadline(time.Now())
	})
}

func (c *Connection) deregister() {
	id := c.ID()
	if id == "" {
		return
	}
	if c.registry.Release(id, c.Session) {
		c.logger.Debug("robot removed from registry", "robot_id", id)
	}
}

func (c *Connection) isClosing() bool {
	select {
	case <-c.closing:
		return true
	default:
		return false
	}
}

// setState advances the lifecycle. States only move forward, so a late
// transition from the reader can never undo a concurrent Close.
func (c *Connection) setState(next State) {
	for {
		prev := State(c.state.Load())
		if prev >= next {
			return
		}
		if c.state.CompareAndSwap(int32(prev), int32(next)) {
			if c.opts.OnStateChange != nil {
				c.opts.OnStateChange(c, prev, next)
			}
			return
		}
	}
}

// run drives the connection until it is Closed.
func (c *Connection) run() {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop()
	}()

	err := c.readLoop()
	c.closeWith(err)
	<-writerDone

	_ = c.conn.Close()
	c.setState(StateClosed)
	close(c.done)
}

func (c *Connection) readLoop() error {
	reader := protocol.NewReader(c.conn)

	c.setState(StateIdentifying)
	id, err := c.identify(reader)
	if err != nil || id == "" {
		return err
	}

	for {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout)); err != nil {
			return c.classify(err)
		}
		msg, err := reader.ReadClient()
		if err != nil {
			return c.classify(err)
		}

		switch m := msg.(type) {
		case protocol.Telemetry:
			if m.State.ID != id {
				return &protocol.ProtocolError{
					Op:  "telemetry",
					Err: fmt.Errorf("%w: got %q, bound to %q", ErrIdentityMismatch, m.State.ID, id),
				}
			}
			if !c.registry.Update(id, c.Session, m.State) {
				// Entry was released underneath us; teardown is already under way.
				return nil
			}
		case protocol.Disconnect:
			c.logger.Info("robot sent disconnect", "robot_id", id)
			return nil
		}
	}
}

// identify waits for the first telemetry record and binds the robot id.
func (c *Connection) identify(reader *protocol.Reader) (string, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.IdentifyTimeout)); err != nil {
		return "", c.classify(err)
	}
	msg, err := reader.ReadClient()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", ErrNotIdentified
		}
		return "", c.classify(err)
	}

	tel, ok := msg.(protocol.Telemetry)
	if !ok {
		return "", fmt.Errorf("%w: first message was %s", ErrNotIdentified, msg.Kind())
	}

	id := tel.State.ID
	if err := c.registry.Bind(id, c.Session, c, tel.State); err != nil {
		c.Enqueue(protocol.Warning{Text: fmt.Sprintf("robot id %q is already connected", id)})
		return "", fmt.Errorf("binding %q: %w", id, err)
	}
	c.id.Store(&id)

	// Close may have run between Bind and publishing the id.
	if c.isClosing() {
		c.deregister()
		return "", nil
	}

	c.setState(StateActive)
	c.Enqueue(protocol.SetSpeedLimit{Value: c.registry.GlobalSpeedLimit()})
	return id, nil
}

// classify maps a read failure onto the error taxonomy. Failures caused by our
// own teardown are reported as a clean close.
func (c *Connection) classify(err error) error {
	if c.isClosing() {
		return nil
	}
	if errors.Is(err, io.EOF) {
		return nil
	}
	if errors.Is(err, protocol.ErrProtocol) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w after %s", ErrTimeout, c.readTimeout())
	}
	return fmt.Errorf("%w: %v", ErrConnection, err)
}

func (c *Connection) readTimeout() time.Duration {
	if c.State() < StateActive {
		return c.opts.IdentifyTimeout
	}
	return c.opts.ReadTimeout
}

func (c *Connection) writeLoop() {
	for {
		select {
		case msg := <-c.outbound:
			if err := c.write(msg); err != nil {
				c.closeWith(fmt.Errorf("%w: write: %v", ErrConnection, err))
				return
			}
		case <-c.closing:
			c.flush()
			return
		}
	}
}

// flush writes whatever is still queued, best effort.
func (c *Connection) flush() {
	for {
		select {
		case msg := <-c.outbound:
			if err := c.write(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Connection) write(msg protocol.ServerMessage) error {
	line, err := protocol.EncodeServer(msg)
	if err != nil {
		c.logger.Error("dropping unencodable message", "type", msg.Kind(), "error", err)
		return nil
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return err
	}
	_, err = c.conn.Write(line)
	return err
}
