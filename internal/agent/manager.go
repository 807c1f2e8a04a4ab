// ABOUTME: Accepts robot TCP connections and tracks their sessions until they close.
// ABOUTME: The acceptor never blocks on a connection's I/O; each session runs its own reader/writer.

package agent

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/2389/cobot-gateway/internal/registry"
)

// Default timing and sizing for robot connections.
const (
	DefaultIdentifyTimeout = 5 * time.Second
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 2 * time.Second
	DefaultQueueSize       = 64
)

// Options configures robot connections.
type Options struct {
	// IdentifyTimeout bounds the wait for the first telemetry record.
	IdentifyTimeout time.Duration
	// ReadTimeout closes a connection that stays silent this long.
	ReadTimeout time.Duration
	// WriteTimeout bounds each outbound write.
	WriteTimeout time.Duration
	// QueueSize is the per-connection outbound buffer.
	QueueSize int
	// OnStateChange, if set, is called synchronously on every lifecycle transition.
	OnStateChange func(c *Connection, from, to State)
}

func (o Options) withDefaults() Options {
	if o.IdentifyTimeout <= 0 {
		o.IdentifyTimeout = DefaultIdentifyTimeout
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	return o
}

// AgentInfo contains public information about a live robot connection.
type AgentInfo struct {
	ID          string    `json:"id,omitempty"`
	Session     string    `json:"session"`
	RemoteAddr  string    `json:"remote_addr"`
	State       string    `json:"state"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Manager accepts robot connections and owns their lifecycles.
type Manager struct {
	registry *registry.Registry
	opts     Options
	logger   *slog.Logger

	mu    sync.RWMutex
	conns map[string]*Connection // session -> connection
	wg    sync.WaitGroup
}

// NewManager creates a new Manager instance.
func NewManager(reg *registry.Registry, opts Options, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		registry: reg,
		opts:     opts.withDefaults(),
		logger:   logger,
		conns:    make(map[string]*Connection),
	}
}

// Serve accepts connections on ln until ctx is canceled or ln is closed.
// It returns only after every accepted connection has reached StateClosed.
func (m *Manager) Serve(ctx context.Context, ln net.Listener) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
		case <-stop:
		}
	}()

	m.logger.Info("accepting robot connections", "addr", ln.Addr().String())

	var delay time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				m.shutdown()
				return nil
			}
			// Back off on transient accept failures, as net/http does.
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay *= 2
			}
			if delay > time.Second {
				delay = time.Second
			}
			m.logger.Warn("accept failed, retrying", "error", err, "delay", delay)
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				m.shutdown()
				return nil
			}
		}
		delay = 0
		m.Handle(nc)
	}
}

// Handle starts serving an already-accepted connection and returns immediately.
func (m *Manager) Handle(nc net.Conn) *Connection {
	opts := m.opts
	userHook := opts.OnStateChange
	opts.OnStateChange = func(c *Connection, from, to State) {
		m.logTransition(c, from, to)
		if userHook != nil {
			userHook(c, from, to)
		}
	}

	c := newConnection(nc, m.registry, opts, m.logger)

	m.mu.Lock()
	m.conns[c.Session] = c
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		c.run()

		m.mu.Lock()
		delete(m.conns, c.Session)
		m.mu.Unlock()
	}()

	return c
}

func (m *Manager) logTransition(c *Connection, from, to State) {
	switch to {
	case StateActive:
		m.logger.Info("=== ROBOT CONNECTED ===",
			"robot_id", c.ID(),
			"session", c.Session,
			"remote_addr", c.RemoteAddr,
			"total_robots", m.registry.Len(),
		)
	case StateClosed:
		if err := c.closeErr; err != nil {
			m.logger.Warn("=== ROBOT DISCONNECTED ===",
				"robot_id", c.ID(),
				"session", c.Session,
				"error", err,
				"total_robots", m.registry.Len(),
			)
			return
		}
		m.logger.Info("=== ROBOT DISCONNECTED ===",
			"robot_id", c.ID(),
			"session", c.Session,
			"total_robots", m.registry.Len(),
		)
	default:
		m.logger.Debug("connection state changed",
			"session", c.Session,
			"from", from.String(),
			"to", to.String(),
		)
	}
}

// ListAgents returns information about every live connection, sorted by id.
func (m *Manager) ListAgents() []AgentInfo {
	m.mu.RLock()
	agents := make([]AgentInfo, 0, len(m.conns))
	for _, c := range m.conns {
		agents = append(agents, AgentInfo{
			ID:          c.ID(),
			Session:     c.Session,
			RemoteAddr:  c.RemoteAddr,
			State:       c.State().String(),
			ConnectedAt: c.ConnectedAt,
		})
	}
	m.mu.RUnlock()

	sort.Slice(agents, func(i, j int) bool {
		if agents[i].ID != agents[j].ID {
			return agents[i].ID < agents[j].ID
		}
		return agents[i].Session < agents[j].Session
	})
	return agents
}

// GetAgent retrieves the active connection bound to a robot id.
func (m *Manager) GetAgent(id string) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, c := range m.conns {
		if c.ID() == id && c.State() == StateActive {
			return c, true
		}
	}
	return nil, false
}

// CloseAll begins teardown of every live connection.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	for _, c := range conns {
		c.Close()
	}
}

// Wait blocks until every handled connection has closed.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) shutdown() {
	m.logger.Info("closing robot connections")
	m.CloseAll()
	m.wg.Wait()
}
