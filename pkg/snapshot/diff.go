package snapshot

import (
	"github.com/danl5/gomember/pkg/model"
)

// Delta is the membership change between two snapshots
type Delta struct {
	// Left holds the nodes that were members and no longer are, in previous order
	Left []model.Node
	// Joined holds the nodes that became members, in current order
	Joined []model.Node
}

// Empty reports whether nothing changed
func (d Delta) Empty() bool {
	return len(d.Left) == 0 && len(d.Joined) == 0
}

// Diff computes the delta between two snapshots. It keeps no state, replaying
// the same pair always yields the same delta.
func Diff(previous, current Snapshot) Delta {
	var d Delta

	for _, n := range previous.nodes {
		if n.Member && !current.IsMember(n.ID) {
			d.Left = append(d.Left, n.Clone())
		}
	}

	for _, n := range current.nodes {
		if n.Member && !previous.IsMember(n.ID) {
			d.Joined = append(d.Joined, n.Clone())
		}
	}

	return d
}
