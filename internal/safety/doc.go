// Package safety derives overrides from fleet snapshots.
//
// # Rules
//
// Each evaluation cycle applies, over robots in id order:
//
//  1. Boundary: a robot outside the workspace minus Margin is stopped.
//  2. Proximity: a pair closer than CollisionDistance is stopped; a pair closer
//     than CautionDistance (but not colliding) is reported as a caution only.
//  3. Resume: a held robot that is in bounds and at least CollisionDistance
//     from every other robot is released. This is re-checked every cycle.
//
// Comparisons use <, so a distance exactly at a threshold is safe.
//
// While the emergency-stop latch is set every robot is unsafe.
//
// A held robot that is still unsafe is not stopped again unless its latest
// telemetry shows it moving, which means a stop was lost or overtaken.
//
// # Monitor
//
// Evaluate is pure. Monitor runs it on a ticker against the registry, delivers
// the resulting commands without blocking, throttles the accompanying
// warnings, and publishes a feed.Frame for observers.
package safety
