// Package protocol defines the newline-delimited JSON vocabulary spoken between
// robots and the cobot-gateway.
//
// # Framing
//
// Every message is a single JSON object terminated by '\n'. The encoder never
// emits an embedded newline, so a stream reader can split on the terminator
// without any further framing:
//
//	{"type":"Telemetry","payload":{"id":"cobot-101","x":120.5,"y":88,"speed":4,"angle":1.57,"color":[200,40,40]}}
//	{"type":"ForceStop","payload":{"id":"cobot-101"}}
//	{"type":"SetSpeedLimit","payload":{"value":2}}
//
// # Variants
//
// Robots send ClientMessage values:
//
//   - Telemetry: the robot's latest RobotState
//   - Disconnect: the robot is leaving; no payload
//
// The gateway sends ServerMessage values:
//
//   - ForceStop: the addressed robot must halt and perform its recovery hop
//   - Resume: the addressed robot may move again
//   - SetSpeedLimit: fleet-wide speed cap
//   - Warning: free-form advisory text, never a control action
//
// Both directions are closed sets. Decoding always yields one of the concrete
// variant types above or a *ProtocolError.
//
// # Errors
//
// Any record that is not valid JSON, names an unknown type, or carries a payload
// that violates the schema is reported as a *ProtocolError matching ErrProtocol.
// Unknown extra fields are ignored so newer senders can add fields.
package protocol
