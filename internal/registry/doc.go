// Package registry holds the gateway's shared view of every connected robot.
//
// # Registry
//
// The Registry maps a robot id to its latest telemetry, a bounded trail of recent
// positions and the outbound sink of the connection that owns the id:
//
//	reg := registry.New(registry.Options{SpeedLimit: 100})
//	err := reg.Bind("cobot-101", sessionID, conn, firstState)
//	reg.Upsert("cobot-101", state)
//	snap := reg.Snapshot()
//
// Key operations:
//
//   - Bind(id, session, sink, state): register a newly identified connection
//   - Upsert(id, state): insert or overwrite state, appending to the trail
//   - Remove(id) / Release(id, session): drop an entry
//   - Snapshot(): consistent point-in-time deep copy
//   - Send(id, msg) / Broadcast(msg): non-blocking delivery to sinks
//   - GlobalSpeedLimit() / SetGlobalSpeedLimit(v): fleet-wide cap
//   - RecordEvents(events) / RecentEvents(): bounded safety event history
//
// # Thread Safety
//
// All map access goes through a single RWMutex. Sinks are called only after the
// lock is released so a slow connection can never stall registry readers. The
// speed limit is an atomic value outside the lock.
package registry
