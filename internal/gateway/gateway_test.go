// ABOUTME: End-to-end tests for the Gateway orchestrator over real TCP and HTTP listeners
// ABOUTME: Robots speak NDJSON on loopback sockets while operators drive the HTTP API

package gateway

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/cobot-gateway/internal/protocol"
)

// runGateway starts gw in the background and waits until it is listening.
// The returned stop function cancels Run and returns its error.
func runGateway(t *testing.T, gw *Gateway) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- gw.Run(ctx) }()

	select {
	case <-gw.Ready():
	case err := <-errCh:
		cancel()
		t.Fatalf("gateway failed to start: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("gateway did not become ready")
	}

	var stopped bool
	var runErr error
	stop := func() error {
		if stopped {
			return runErr
		}
		stopped = true
		cancel()
		select {
		case runErr = <-errCh:
		case <-time.After(10 * time.Second):
			t.Fatal("gateway did not stop")
		}
		return runErr
	}
	t.Cleanup(func() { _ = stop() })
	return stop
}

type robotConn struct {
	t      *testing.T
	conn   net.Conn
	reader *protocol.Reader
	state  protocol.RobotState
	// pending holds messages read while waiting for the welcome.
	pending []protocol.ServerMessage
}

func connectRobot(t *testing.T, gw *Gateway, state protocol.RobotState) *robotConn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", gw.TCPAddr().String(), 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	r := &robotConn{t: t, conn: conn, reader: protocol.NewReader(conn), state: state}
	r.report(state)

	// Every robot is greeted with the current fleet speed limit. A safety
	// command may race ahead of it, so keep anything read on the way.
	seen := r.waitFor(func(m protocol.ServerMessage) bool {
		_, ok := m.(protocol.SetSpeedLimit)
		return ok
	})
	r.pending = seen[:len(seen)-1]
	return r
}

func (r *robotConn) report(state protocol.RobotState) {
	r.t.Helper()
	r.state = state
	line, err := protocol.EncodeClient(protocol.Telemetry{State: state})
	require.NoError(r.t, err)
	require.NoError(r.t, r.conn.SetWriteDeadline(time.Now().Add(2*time.Second)))
	_, err = r.conn.Write(line)
	require.NoError(r.t, err)
}

func (r *robotConn) next() protocol.ServerMessage {
	r.t.Helper()
	if len(r.pending) > 0 {
		msg := r.pending[0]
		r.pending = r.pending[1:]
		return msg
	}
	require.NoError(r.t, r.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	msg, err := r.reader.ReadServer()
	require.NoError(r.t, err)
	return msg
}

// waitFor reads until a message matches and returns everything read on the way.
func (r *robotConn) waitFor(match func(protocol.ServerMessage) bool) []protocol.ServerMessage {
	r.t.Helper()
	var seen []protocol.ServerMessage
	for {
		msg := r.next()
		seen = append(seen, msg)
		if match(msg) {
			return seen
		}
	}
}

func postJSON(t *testing.T, gw *Gateway, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post("http://"+gw.HTTPAddr().String()+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestGateway_CollisionStopAndResume(t *testing.T) {
	gw := newTestGateway(t)
	runGateway(t, gw)

	a := connectRobot(t, gw, protocol.RobotState{ID: "A", X: 100, Y: 100, Speed: 50, Active: true})
	b := connectRobot(t, gw, protocol.RobotState{ID: "B", X: 140, Y: 100, Speed: 50, Angle: 3.14, Active: true})

	for _, r := range []*robotConn{a, b} {
		seen := r.waitFor(func(m protocol.ServerMessage) bool {
			_, ok := m.(protocol.Warning)
			return ok
		})
		assert.Contains(t, seen, protocol.ServerMessage(protocol.ForceStop{ID: r.state.ID}))
		assert.Contains(t, seen[len(seen)-1].(protocol.Warning).Text, "collision risk")
	}

	// Both robots report stationary; B is then pushed clear.
	a.report(protocol.RobotState{ID: "A", X: 100, Y: 100})
	b.report(protocol.RobotState{ID: "B", X: 300, Y: 100})

	for _, r := range []*robotConn{a, b} {
		r.waitFor(func(m protocol.ServerMessage) bool {
			return m == protocol.ServerMessage(protocol.Resume{ID: r.state.ID})
		})
	}
}

func TestGateway_SpeedLimitDeliveredOncePerRobot(t *testing.T) {
	gw := newTestGateway(t)
	runGateway(t, gw)

	a := connectRobot(t, gw, protocol.RobotState{ID: "A", X: 100, Y: 100})
	b := connectRobot(t, gw, protocol.RobotState{ID: "B", X: 400, Y: 300})

	resp := postJSON(t, gw, "/api/speed-limit", `{"value": 2.0}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body SpeedLimitResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 2, body.Delivered)

	// Repeat the same value, then move on; exactly one 2.0 arrives before 3.0.
	postJSON(t, gw, "/api/speed-limit", `{"value": 2.0}`)
	postJSON(t, gw, "/api/speed-limit", `{"value": 3.0}`)

	for _, r := range []*robotConn{a, b} {
		seen := r.waitFor(func(m protocol.ServerMessage) bool {
			return m == protocol.ServerMessage(protocol.SetSpeedLimit{Value: 3})
		})
		count := 0
		for _, m := range seen {
			if m == protocol.ServerMessage(protocol.SetSpeedLimit{Value: 2}) {
				count++
			}
		}
		assert.Equal(t, 1, count, "robot %s", r.state.ID)
	}
}

func TestGateway_EmergencyStop(t *testing.T) {
	gw := newTestGateway(t)
	runGateway(t, gw)

	a := connectRobot(t, gw, protocol.RobotState{ID: "A", X: 100, Y: 100, Speed: 50, Active: true})
	b := connectRobot(t, gw, protocol.RobotState{ID: "B", X: 400, Y: 300, Speed: 50, Active: true})

	resp := postJSON(t, gw, "/api/estop", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	for _, r := range []*robotConn{a, b} {
		seen := r.waitFor(func(m protocol.ServerMessage) bool {
			w, ok := m.(protocol.Warning)
			return ok && strings.Contains(w.Text, "emergency stop")
		})
		assert.Contains(t, seen, protocol.ServerMessage(protocol.ForceStop{ID: r.state.ID}))
		r.report(protocol.RobotState{ID: r.state.ID, X: r.state.X, Y: r.state.Y})
	}

	postJSON(t, gw, "/api/resume", "")

	for _, r := range []*robotConn{a, b} {
		r.waitFor(func(m protocol.ServerMessage) bool {
			return m == protocol.ServerMessage(protocol.Resume{ID: r.state.ID})
		})
	}
}

func TestGateway_HealthAndFleetOverHTTP(t *testing.T) {
	gw := newTestGateway(t)
	runGateway(t, gw)

	base := "http://" + gw.HTTPAddr().String()

	resp, err := http.Get(base + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	connectRobot(t, gw, protocol.RobotState{ID: "Cobot-1", X: 300, Y: 200})

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health/ready")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	resp, err = http.Get(base + "/api/agents")
	require.NoError(t, err)
	defer resp.Body.Close()
	var agents []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&agents))
	require.Len(t, agents, 1)
	assert.Equal(t, "Cobot-1", agents[0]["id"])
	assert.Equal(t, "active", agents[0]["state"])
}

func TestGateway_ShutdownClosesRobots(t *testing.T) {
	gw := newTestGateway(t)
	stop := runGateway(t, gw)

	r := connectRobot(t, gw, protocol.RobotState{ID: "A", X: 300, Y: 200})

	require.NoError(t, stop())

	require.NoError(t, r.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		if _, err := r.reader.ReadServer(); err != nil {
			break
		}
	}
	assert.Equal(t, 0, gw.registry.Len())
}

func TestGateway_TCPOnly(t *testing.T) {
	cfg := testConfig()
	cfg.Server.HTTPAddr = ""
	gw, err := New(cfg, testLogger())
	require.NoError(t, err)
	stop := runGateway(t, gw)

	assert.Nil(t, gw.HTTPAddr())
	connectRobot(t, gw, protocol.RobotState{ID: "A", X: 300, Y: 200})
	assert.NoError(t, stop())
}

func TestGateway_AppliesReloadedConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fleet:\n  speed_limit: 100\n"), 0o644))

	gw := newTestGateway(t)
	gw.WatchConfig(path)
	runGateway(t, gw)

	r := connectRobot(t, gw, protocol.RobotState{ID: "A", X: 300, Y: 200})

	// Give the watcher a moment to register before the edit.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("fleet:\n  speed_limit: 42\n"), 0o644))

	r.waitFor(func(m protocol.ServerMessage) bool {
		return m == protocol.ServerMessage(protocol.SetSpeedLimit{Value: 42})
	})
	assert.Equal(t, 42.0, gw.fleet.SpeedLimit())
}
