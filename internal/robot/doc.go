// Package robot is the robot side of the fleet: a simulated robot that streams
// telemetry to the gateway and reacts to its safety commands.
//
// # Machine
//
// Machine holds the robot's position, heading, and reaction state:
//
//	Normal --ForceStop--> Stopped --Resume--> Normal
//
// Entering Stopped reverses the heading by π and hops a fixed distance along
// the new heading, exactly once; repeated stops are ignored. While Stopped the
// robot does not move. SetSpeedLimit caps speed in every state. Wander mode
// nudges the heading every tick in both states.
//
// # Link
//
// Link is one TCP connection to the gateway with a reader and a writer
// goroutine. Send never blocks; commands arrive on Inbound in order.
//
// # Runner
//
// Runner owns the Machine on a single goroutine, ticks physics, applies
// inbound commands, and sends telemetry on an interval. Other goroutines
// interact with it only through its control methods and Snapshot.
package robot
