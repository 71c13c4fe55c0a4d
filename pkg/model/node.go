package model

import (
	"errors"
)

// Node represents one cluster member as seen at a point in time
type Node struct {
	// ID is unique within a snapshot and stable across snapshots
	ID int `json:"id"`
	// Name is a human-readable label, it may be empty
	Name string `json:"name,omitempty"`
	// Address is the opaque transport address of the node
	Address []byte `json:"address,omitempty"`
	// Member is true if the node is currently part of the cluster
	Member bool `json:"member"`
}

func (n *Node) Validate() error {
	if n.ID <= 0 {
		return errors.New("node ID must be positive")
	}
	return nil
}

// Clone returns a deep copy of the node.
func (n Node) Clone() Node {
	if n.Address != nil {
		n.Address = append([]byte(nil), n.Address...)
	}
	return n
}
