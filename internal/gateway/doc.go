// Package gateway orchestrates the cobot-gateway server components.
//
// # Overview
//
// The gateway package is the central coordinator of the cobot-gateway server.
// It owns the shared robot registry and wires every other component to it:
// the robot connection manager, the safety monitor, the fleet controller,
// and the observer feed.
//
// # Gateway Struct
//
// The Gateway struct is the main entry point:
//
//	type Gateway struct {
//	    config   *config.Config
//	    registry *registry.Registry
//	    agents   *agent.Manager
//	    monitor  *safety.Monitor
//	    fleet    *fleet.Controller
//	    feed     *feed.Broadcaster
//	    warnings *dedupe.Cache
//	    // ... and more
//	}
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	gw.WatchConfig(path) // optional hot reload
//	err = gw.Run(ctx)    // blocks until ctx is canceled
//
// Run binds the robot TCP listener and the HTTP listener, then runs the
// acceptor, the safety monitor, the HTTP server, and the config watcher in one
// errgroup. The first component to fail cancels the rest. On cancellation the
// feed is closed so observer streams end, and the HTTP server gets five
// seconds to drain.
//
// # HTTP API
//
// The gateway exposes HTTP endpoints in api.go:
//
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check (at least one robot connected)
//   - GET /api/fleet - Latest fleet frame
//   - GET /api/agents - List robot connections
//   - GET /api/agents/{id} - One robot's registry entry
//   - GET /api/events - Recent safety events
//   - GET /api/status - Speed limit, e-stop latch, held robots
//   - GET /api/speed-limit - Current fleet speed limit
//   - POST /api/speed-limit - Change the fleet speed limit
//   - POST /api/estop - Engage the emergency stop latch
//   - POST /api/resume - Release the emergency stop latch
//   - GET /ws/fleet - Websocket stream of fleet frames
//   - GET / - Embedded fleet viewer
//
// # Hot Reload
//
// With WatchConfig set, edits to the config file change the fleet speed limit
// and the safety thresholds live. Listener and connection settings need a
// restart.
package gateway
