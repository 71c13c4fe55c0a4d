package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/danl5/gomember/pkg/model"
)

// Op names a session operation that can be made to fail
type Op string

const (
	OpConnect   Op = "connect"
	OpStart     Op = "start_notification"
	OpLocalNode Op = "local_node"
	OpNodes     Op = "nodes"
	OpDispatch  Op = "dispatch"
	OpReply     Op = "reply_shutdown"
)

// NewService creates an in-process membership service for the node localID.
func NewService(localID int) *Service {
	return &Service{
		localID:  localID,
		ready:    make(chan struct{}, 1),
		failures: map[Op]error{},
	}
}

// Service is an in-process membership service. It is both the Connector and
// the single Session it hands out.
type Service struct {
	mu         sync.Mutex
	localID    int
	nodes      []model.Node
	events     []model.Event
	replies    []bool
	failures   map[Op]error
	ready      chan struct{}
	notifying  bool
	closed     bool
	dispatched int
}

var _ model.Connector = (*Service)(nil)
var _ model.Session = (*Service)(nil)

// SetNodes replaces the node list reported by the service.
func (s *Service) SetNodes(nodes ...model.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes = s.nodes[:0]
	for _, n := range nodes {
		s.nodes = append(s.nodes, n.Clone())
	}
}

// Notify queues an event and signals readiness. Events are dropped while
// notification is stopped.
func (s *Service) Notify(reason model.EventReason, arg int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.notifying {
		return
	}
	s.events = append(s.events, model.Event{Reason: reason, Arg: arg})
	s.signal()
}

// Fail makes op return err until it is cleared with a nil err. Failing
// OpDispatch with model.ErrHostDown simulates the node being expelled.
func (s *Service) Fail(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
	if op == OpDispatch {
		s.signal()
	}
}

// Replies returns the shutdown votes received so far
func (s *Service) Replies() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.replies...)
}

// Pending returns the number of queued events
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// Dispatched returns the number of DispatchOne calls made so far
func (s *Service) Dispatched() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dispatched
}

// Notifying reports whether notification is started
func (s *Service) Notifying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notifying
}

// Closed reports whether the session was closed
func (s *Service) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Service) Connect(_ context.Context) (model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failures[OpConnect]; err != nil {
		return nil, err
	}
	s.closed = false
	return s, nil
}

func (s *Service) StartNotification(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failures[OpStart]; err != nil {
		return err
	}
	s.notifying = true
	return nil
}

func (s *Service) StopNotification() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.notifying = false
	s.events = nil
	return nil
}

func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

func (s *Service) LocalNode(_ context.Context) (model.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failures[OpLocalNode]; err != nil {
		return model.Node{}, err
	}
	for _, n := range s.nodes {
		if n.ID == s.localID {
			return n.Clone(), nil
		}
	}
	return model.Node{}, fmt.Errorf("local node %d: %w", s.localID, model.ErrNodeNotFound)
}

func (s *Service) Nodes(_ context.Context, max int) ([]model.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failures[OpNodes]; err != nil {
		return nil, err
	}
	if len(s.nodes) > max {
		return nil, fmt.Errorf("%w: %d nodes, capacity %d", model.ErrTooManyNodes, len(s.nodes), max)
	}

	out := make([]model.Node, len(s.nodes))
	for i, n := range s.nodes {
		out[i] = n.Clone()
	}
	return out, nil
}

func (s *Service) DispatchOne(_ context.Context) (model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dispatched++
	if err := s.failures[OpDispatch]; err != nil {
		return model.NoEvent, err
	}
	if len(s.events) == 0 {
		return model.NoEvent, nil
	}

	ev := s.events[0]
	s.events = s.events[1:]
	return ev, nil
}

func (s *Service) ReplyToShutdown(_ context.Context, approve bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failures[OpReply]; err != nil {
		return err
	}
	s.replies = append(s.replies, approve)
	return nil
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.notifying = false
	s.closed = true
	s.events = nil
	return nil
}

// signal wakes up a reader of Ready without blocking, the caller holds mu
func (s *Service) signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}
