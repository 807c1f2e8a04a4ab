// ABOUTME: Fixed-size position ring used for per-robot trails
// ABOUTME: Pushing past capacity overwrites the oldest point

package registry

import "github.com/2389/cobot-gateway/internal/protocol"

type trail struct {
	buf   [TrailLength]protocol.Point
	start int
	n     int
}

func (t *trail) push(p protocol.Point) {
	if t.n < TrailLength {
		t.buf[(t.start+t.n)%TrailLength] = p
		t.n++
		return
	}
	t.buf[t.start] = p
	t.start = (t.start + 1) % TrailLength
}

// points returns the trail oldest first.
func (t *trail) points() []protocol.Point {
	out := make([]protocol.Point, t.n)
	for i := 0; i < t.n; i++ {
		out[i] = t.buf[(t.start+i)%TrailLength]
	}
	return out
}
