package model

import "errors"

var (
	// ErrNotConnected is returned when no session could be opened with the membership service
	ErrNotConnected = errors.New("not connected to membership service")
	// ErrAlreadySetup is returned by Setup when a session is already open
	ErrAlreadySetup = errors.New("already set up")
	// ErrHostDown is returned by a dispatch call when the local node was expelled
	// or the cluster is gone
	ErrHostDown = errors.New("host is down")
	// ErrTooManyNodes is returned when a snapshot exceeds its capacity
	ErrTooManyNodes = errors.New("too many nodes")
	// ErrDuplicateNode is returned when a snapshot contains the same node ID twice
	ErrDuplicateNode = errors.New("duplicate node id")
	// ErrNodeNotFound is returned when a node is not known to the membership service
	ErrNodeNotFound = errors.New("node not found")
	// ErrBadCommand is returned when a transport command can not be decoded
	ErrBadCommand = errors.New("bad command")
)
