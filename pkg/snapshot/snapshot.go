package snapshot

import (
	"fmt"

	"github.com/danl5/gomember/pkg/model"
)

// Snapshot is an ordered, immutable list of nodes captured at one instant
type Snapshot struct {
	nodes []model.Node
}

// Empty is the snapshot held before the first reconciliation pass.
var Empty = Snapshot{}

// New builds a snapshot holding at most max nodes. It never truncates: a list
// longer than max or containing the same ID twice is rejected.
func New(nodes []model.Node, max int) (Snapshot, error) {
	if len(nodes) > max {
		return Snapshot{}, fmt.Errorf("new snapshot, %w: %d nodes, capacity %d", model.ErrTooManyNodes, len(nodes), max)
	}

	out := make([]model.Node, 0, len(nodes))
	for i, n := range nodes {
		for _, prev := range nodes[:i] {
			if prev.ID == n.ID {
				return Snapshot{}, fmt.Errorf("new snapshot, %w: %d", model.ErrDuplicateNode, n.ID)
			}
		}
		out = append(out, n.Clone())
	}

	return Snapshot{nodes: out}, nil
}

// Len returns the number of nodes in the snapshot
func (s Snapshot) Len() int {
	return len(s.nodes)
}

// Nodes returns a copy of the nodes in snapshot order
func (s Snapshot) Nodes() []model.Node {
	out := make([]model.Node, len(s.nodes))
	for i, n := range s.nodes {
		out[i] = n.Clone()
	}
	return out
}

// Find returns the node with the given ID
func (s Snapshot) Find(id int) (model.Node, bool) {
	for _, n := range s.nodes {
		if n.ID == id {
			return n.Clone(), true
		}
	}
	return model.Node{}, false
}

// IsMember reports whether the node is a cluster member in this snapshot.
// A node that is not present is not a member.
func (s Snapshot) IsMember(id int) bool {
	for _, n := range s.nodes {
		if n.ID == id {
			return n.Member
		}
	}
	return false
}
