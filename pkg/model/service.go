package model

import (
	"context"
)

// Connector opens sessions with the membership service.
type Connector interface {
	// Connect opens a new session.
	Connect(ctx context.Context) (Session, error)
}

// Session is an open handle on the membership service.
//
// Implementations may use goroutines internally to receive notifications, but
// DispatchOne must never block waiting for one.
type Session interface {
	// StartNotification registers interest in state change and shutdown callbacks.
	StartNotification(ctx context.Context) error
	// StopNotification stops the delivery of callbacks.
	StopNotification() error
	// Ready returns a channel that receives a value whenever events may be pending.
	Ready() <-chan struct{}
	// LocalNode returns the node of the running process.
	LocalNode(ctx context.Context) (Node, error)
	// Nodes returns every node known to the service. It fails with ErrTooManyNodes
	// when more than max nodes are known.
	Nodes(ctx context.Context, max int) ([]Node, error)
	// DispatchOne delivers at most one pending event. NoEvent is returned when
	// nothing is pending. An error wrapping ErrHostDown is fatal.
	DispatchOne(ctx context.Context) (Event, error)
	// ReplyToShutdown answers a try-shutdown event.
	ReplyToShutdown(ctx context.Context, approve bool) error
	// Close releases the session.
	Close() error
}

// ResourceRegistry stores per-node resource entries that track current membership.
type ResourceRegistry interface {
	// Clear removes every entry.
	Clear(ctx context.Context) error
	// AddEntry creates the entry of a node.
	AddEntry(ctx context.Context, id int, addr []byte, local bool) error
	// RemoveEntry removes the entry of a node.
	RemoveEntry(ctx context.Context, id int) error
}

// LockSpaces lists the currently active lock spaces.
type LockSpaces interface {
	// Range calls fn with the name of each lock space until fn returns false.
	Range(fn func(name string) bool) error
}
