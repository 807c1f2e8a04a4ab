// Package fleet holds the operator controls that apply to every robot at once:
// the global speed limit and the emergency stop latch.
package fleet
