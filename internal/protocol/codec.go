// ABOUTME: JSON line encoding and decoding for client and server messages
// ABOUTME: Decoding validates the schema; encoding always produces one '\n'-terminated line

package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// envelope is the outer wire shape shared by every message.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// telemetryPayload uses pointers so that missing required fields can be detected.
type telemetryPayload struct {
	ID     *string  `json:"id"`
	X      *float64 `json:"x"`
	Y      *float64 `json:"y"`
	Speed  *float64 `json:"speed"`
	Angle  *float64 `json:"angle"`
	Active bool     `json:"active"`
	Color  Color    `json:"color"`
}

type idPayload struct {
	ID string `json:"id"`
}

type speedLimitPayload struct {
	Value *float64 `json:"value"`
}

type warningPayload struct {
	Text string `json:"text"`
}

var (
	errUnknownType    = errors.New("unknown message type")
	errMissingPayload = errors.New("missing payload")
	errMissingField   = errors.New("missing required field")
	errInvalidValue   = errors.New("invalid field value")
)

// EncodeClient renders a client message as a single JSON line including the
// trailing newline. It fails only for non-finite floating point fields.
func EncodeClient(msg ClientMessage) ([]byte, error) {
	switch m := msg.(type) {
	case Telemetry:
		return encode(TypeTelemetry, m.State)
	case Disconnect:
		return encode(TypeDisconnect, nil)
	default:
		return nil, fmt.Errorf("encoding %T: %w", msg, errUnknownType)
	}
}

// EncodeServer renders a server message as a single JSON line including the
// trailing newline. It fails only for non-finite floating point fields.
func EncodeServer(msg ServerMessage) ([]byte, error) {
	switch m := msg.(type) {
	case ForceStop:
		return encode(TypeForceStop, idPayload{ID: m.ID})
	case Resume:
		return encode(TypeResume, idPayload{ID: m.ID})
	case SetSpeedLimit:
		return encode(TypeSetSpeedLimit, struct {
			Value float64 `json:"value"`
		}{Value: m.Value})
	case Warning:
		return encode(TypeWarning, warningPayload{Text: m.Text})
	default:
		return nil, fmt.Errorf("encoding %T: %w", msg, errUnknownType)
	}
}

func encode(kind string, payload any) ([]byte, error) {
	env := envelope{Type: kind}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", kind, err)
		}
		env.Payload = raw
	}
	line, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", kind, err)
	}
	// json.Marshal escapes control characters, so the line holds no raw newline.
	return append(line, '\n'), nil
}

// DecodeClient parses one record sent by a robot.
func DecodeClient(line []byte) (ClientMessage, error) {
	const op = "decode client"
	env, err := decodeEnvelope(line)
	if err != nil {
		return nil, newProtocolError(op, line, err)
	}

	switch env.Type {
	case TypeTelemetry:
		state, err := decodeTelemetry(env.Payload)
		if err != nil {
			return nil, newProtocolError(op, line, err)
		}
		return Telemetry{State: state}, nil
	case TypeDisconnect:
		return Disconnect{}, nil
	default:
		return nil, newProtocolError(op, line, fmt.Errorf("%w %q", errUnknownType, env.Type))
	}
}

// DecodeServer parses one record sent by the gateway.
func DecodeServer(line []byte) (ServerMessage, error) {
	const op = "decode server"
	env, err := decodeEnvelope(line)
	if err != nil {
		return nil, newProtocolError(op, line, err)
	}

	switch env.Type {
	case TypeForceStop, TypeResume:
		var p idPayload
		if err := decodePayload(env.Payload, &p); err != nil {
			return nil, newProtocolError(op, line, err)
		}
		if p.ID == "" {
			return nil, newProtocolError(op, line, fmt.Errorf("%w: id", errMissingField))
		}
		if env.Type == TypeForceStop {
			return ForceStop{ID: p.ID}, nil
		}
		return Resume{ID: p.ID}, nil
	case TypeSetSpeedLimit:
		var p speedLimitPayload
		if err := decodePayload(env.Payload, &p); err != nil {
			return nil, newProtocolError(op, line, err)
		}
		if p.Value == nil {
			return nil, newProtocolError(op, line, fmt.Errorf("%w: value", errMissingField))
		}
		if *p.Value < 0 || !finite(*p.Value) {
			return nil, newProtocolError(op, line, fmt.Errorf("%w: value %v", errInvalidValue, *p.Value))
		}
		return SetSpeedLimit{Value: *p.Value}, nil
	case TypeWarning:
		var p warningPayload
		if err := decodePayload(env.Payload, &p); err != nil {
			return nil, newProtocolError(op, line, err)
		}
		return Warning{Text: p.Text}, nil
	default:
		return nil, newProtocolError(op, line, fmt.Errorf("%w %q", errUnknownType, env.Type))
	}
}

func decodeEnvelope(line []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(bytes.TrimSpace(line), &env); err != nil {
		return env, err
	}
	if env.Type == "" {
		return env, fmt.Errorf("%w: type", errMissingField)
	}
	return env, nil
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return errMissingPayload
	}
	return json.Unmarshal(raw, v)
}

func decodeTelemetry(raw json.RawMessage) (RobotState, error) {
	var p telemetryPayload
	if err := decodePayload(raw, &p); err != nil {
		return RobotState{}, err
	}

	switch {
	case p.ID == nil || *p.ID == "":
		return RobotState{}, fmt.Errorf("%w: id", errMissingField)
	case p.X == nil:
		return RobotState{}, fmt.Errorf("%w: x", errMissingField)
	case p.Y == nil:
		return RobotState{}, fmt.Errorf("%w: y", errMissingField)
	case p.Speed == nil:
		return RobotState{}, fmt.Errorf("%w: speed", errMissingField)
	case p.Angle == nil:
		return RobotState{}, fmt.Errorf("%w: angle", errMissingField)
	}
	if *p.Speed < 0 {
		return RobotState{}, fmt.Errorf("%w: speed %v", errInvalidValue, *p.Speed)
	}

	return RobotState{
		ID:     *p.ID,
		X:      *p.X,
		Y:      *p.Y,
		Speed:  *p.Speed,
		Angle:  WrapAngle(*p.Angle),
		Active: p.Active,
		Color:  p.Color,
	}, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
