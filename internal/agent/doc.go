// Package agent manages robot connections on the gateway side.
//
// # Overview
//
// The agent package accepts TCP connections from robots, binds each one to the
// robot id carried in its first telemetry record, and runs a full-duplex session
// until the robot leaves, misbehaves, or goes silent.
//
// # Manager
//
// The Manager owns the acceptor loop and tracks live sessions:
//
//	mgr := agent.NewManager(reg, agent.Options{}, logger)
//	err := mgr.Serve(ctx, listener)
//
// Key operations:
//
//   - Serve(ctx, ln): Accept connections until ctx is canceled
//   - Handle(conn): Start a session on an already-accepted net.Conn
//   - ListAgents(): Describe every live session
//   - GetAgent(id): Find the active session bound to a robot id
//   - CloseAll(): Begin teardown of every session
//
// # Connection Lifecycle
//
// Each Connection moves strictly forward through:
//
//	Accepting -> Identifying -> Active -> Closing -> Closed
//
// Identifying waits up to IdentifyTimeout for a Telemetry record. Anything else,
// a duplicate id, or a timeout closes the connection. Active runs two goroutines:
//
//   - reader: decodes records, applies telemetry to the registry, enforces ReadTimeout
//   - writer: drains the outbound queue with a per-write deadline
//
// They share only the buffered outbound queue. Safety commands reach the writer
// through Connection.Enqueue, which never blocks.
//
// # Teardown
//
// Close is idempotent. It removes the robot from the registry (only if this
// session still owns the id), unblocks the reader, and lets the writer flush
// whatever is queued before the socket is closed.
//
// # Errors
//
// Errors are contained to the session that produced them:
//
//   - protocol.ErrProtocol: malformed record or telemetry for the wrong id
//   - ErrConnection: socket failure
//   - ErrTimeout: silent peer (also matches ErrConnection)
//   - registry.ErrDuplicateID: id already connected; the existing session is kept
package agent
