// ABOUTME: Line-oriented stream reader that splits a connection into protocol records
// ABOUTME: Enforces a maximum record size and skips blank lines

package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// MaxLineSize is the largest record accepted from a peer.
const MaxLineSize = 64 * 1024

// Reader splits a byte stream into newline-terminated records and decodes them.
// It is not safe for concurrent use.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader) *Reader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 4096), MaxLineSize)
	return &Reader{scanner: s}
}

// ReadLine returns the next non-blank record without its terminator.
// The returned slice is only valid until the next call.
// It returns io.EOF when the stream ends cleanly.
func (r *Reader) ReadLine() ([]byte, error) {
	for r.scanner.Scan() {
		line := bytes.TrimSpace(r.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		return line, nil
	}
	if err := r.scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, newProtocolError("read", nil, err)
		}
		return nil, err
	}
	return nil, io.EOF
}

// ReadClient reads and decodes the next client message.
func (r *Reader) ReadClient() (ClientMessage, error) {
	line, err := r.ReadLine()
	if err != nil {
		return nil, err
	}
	return DecodeClient(line)
}

// ReadServer reads and decodes the next server message.
func (r *Reader) ReadServer() (ServerMessage, error) {
	line, err := r.ReadLine()
	if err != nil {
		return nil, err
	}
	return DecodeServer(line)
}
