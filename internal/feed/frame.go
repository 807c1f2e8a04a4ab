// ABOUTME: Frame is the per-cycle view of the fleet handed to observers
// ABOUTME: Built from a registry snapshot plus the safety monitor's decisions

package feed

import (
	"sort"
	"time"

	"github.com/2389/cobot-gateway/internal/protocol"
	"github.com/2389/cobot-gateway/internal/registry"
)

// Robot is one robot as observers see it.
type Robot struct {
	State    protocol.RobotState `json:"state"`
	Trail    []protocol.Point    `json:"trail"`
	LastSeen time.Time           `json:"last_seen"`
	Held     bool                `json:"held"`
}

// Frame is one evaluation cycle's view of the fleet.
type Frame struct {
	Seq        uint64           `json:"seq"`
	Taken      time.Time        `json:"taken"`
	SpeedLimit float64          `json:"speed_limit"`
	EStop      bool             `json:"estop"`
	Robots     []Robot          `json:"robots"`
	Cautions   []registry.Event `json:"cautions"`
	Events     []registry.Event `json:"events"`
}

// NewFrame builds a frame from a snapshot. Robots are ordered by id.
func NewFrame(snap registry.Snapshot, held map[string]bool, cautions, events []registry.Event, estop bool) Frame {
	robots := make([]Robot, 0, len(snap.Agents))
	for _, id := range snap.IDs() {
		a := snap.Agents[id]
		robots = append(robots, Robot{
			State:    a.State,
			Trail:    a.Trail,
			LastSeen: a.LastSeen,
			Held:     held[id],
		})
	}
	return Frame{
		Taken:      snap.Taken,
		SpeedLimit: snap.SpeedLimit,
		EStop:      estop,
		Robots:     robots,
		Cautions:   nonNil(cautions),
		Events:     nonNil(events),
	}
}

// Held returns the ids of held robots, sorted.
func (f Frame) Held() []string {
	var ids []string
	for _, r := range f.Robots {
		if r.Held {
			ids = append(ids, r.State.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

func nonNil(events []registry.Event) []registry.Event {
	if events == nil {
		return []registry.Event{}
	}
	return events
}
