// ABOUTME: Protocol error type reported for malformed or schema-violating records
// ABOUTME: Callers match with errors.Is(err, ErrProtocol) or errors.As into *ProtocolError

package protocol

import (
	"errors"
	"fmt"
)

// ErrProtocol is the sentinel matched by every *ProtocolError.
var ErrProtocol = errors.New("protocol error")

// maxQuotedLine bounds how much of an offending record is kept for logging.
const maxQuotedLine = 120

// ProtocolError describes a record that could not be decoded.
type ProtocolError struct {
	Op   string // "decode client", "decode server", "read"
	Line string // offending record, truncated
	Err  error
}

func (e *ProtocolError) Error() string {
	if e.Line == "" {
		return fmt.Sprintf("protocol: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("protocol: %s: %v (record %q)", e.Op, e.Err, e.Line)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// Is reports true for ErrProtocol so callers need not know the concrete type.
func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

func newProtocolError(op string, line []byte, err error) *ProtocolError {
	quoted := string(line)
	if len(quoted) > maxQuotedLine {
		quoted = quoted[:maxQuotedLine] + "..."
	}
	return &ProtocolError{Op: op, Line: quoted, Err: err}
}
