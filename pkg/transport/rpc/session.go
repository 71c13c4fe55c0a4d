package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danl5/gomember/pkg/model"
)

// errors carried by Response.Error that map back to a sentinel
var remoteErrors = []error{
	model.ErrHostDown,
	model.ErrTooManyNodes,
	model.ErrDuplicateNode,
	model.ErrNodeNotFound,
	model.ErrBadCommand,
	model.ErrNotConnected,
}

// NewConnector creates a connector to the membership rpc server at address
func NewConnector(address string, cfg *Config, logger *slog.Logger) (*Connector, error) {
	if logger == nil {
		return nil, fmt.Errorf("new connector, logger is nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Connector{
		address: address,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// Connector opens sessions with a remote membership service
type Connector struct {
	address string
	cfg     *Config
	logger  *slog.Logger
}

func (c *Connector) Connect(ctx context.Context) (model.Session, error) {
	client, err := NewClient(c.logger)
	if err != nil {
		return nil, err
	}
	if err := client.InitConnection(c.address, c.cfg); err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, c.address); err != nil {
		client.Release()
		return nil, fmt.Errorf("connect %s: %w", c.address, err)
	}

	return &Session{
		address:  c.address,
		client:   client,
		interval: c.cfg.pollInterval(),
		ready:    make(chan struct{}, 1),
		logger:   c.logger.With("component", "rpc session"),
	}, nil
}

// Session is a membership session served by a remote rpc server. Events are
// collected by a background poller and queued until DispatchOne takes them.
type Session struct {
	address  string
	client   *Client
	interval time.Duration
	localID  atomic.Int64
	ready    chan struct{}

	mu       sync.Mutex
	events   []model.Event
	hostDown error
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	logger *slog.Logger
}

func (s *Session) StartNotification(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.poll(ctx)
	return nil
}

func (s *Session) StopNotification() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	s.mu.Lock()
	s.events = nil
	s.mu.Unlock()
	return nil
}

func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

func (s *Session) LocalNode(ctx context.Context) (model.Node, error) {
	var node model.Node
	if err := s.call(ctx, model.CommandLocalNode, nil, &node); err != nil {
		return model.Node{}, err
	}
	s.localID.Store(int64(node.ID))
	return node, nil
}

func (s *Session) Nodes(ctx context.Context, max int) ([]model.Node, error) {
	var resp model.NodesResponse
	if err := s.call(ctx, model.CommandNodes, model.NodesRequest{Max: max}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Nodes) > max {
		return nil, fmt.Errorf("%w: %d nodes, capacity %d", model.ErrTooManyNodes, len(resp.Nodes), max)
	}
	return resp.Nodes, nil
}

func (s *Session) DispatchOne(_ context.Context) (model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hostDown != nil {
		return model.NoEvent, s.hostDown
	}
	if len(s.events) == 0 {
		return model.NoEvent, nil
	}

	ev := s.events[0]
	s.events = s.events[1:]
	return ev, nil
}

func (s *Session) ReplyToShutdown(ctx context.Context, approve bool) error {
	return s.call(ctx, model.CommandReplyShutdown, model.ReplyShutdownRequest{Approve: approve}, nil)
}

func (s *Session) Close() error {
	_ = s.StopNotification()
	s.client.Release()
	return nil
}

func (s *Session) poll(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var resp model.PollResponse
		err := s.call(ctx, model.CommandPoll, nil, &resp)
		if errors.Is(err, model.ErrHostDown) {
			s.logger.Error("membership server reports host down", "error", err.Error())
			s.mu.Lock()
			s.hostDown = fmt.Errorf("rpc session, %w", model.ErrHostDown)
			s.mu.Unlock()
			s.signal()
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("failed to poll membership events", "error", err.Error())
			continue
		}
		if len(resp.Events) == 0 {
			continue
		}

		s.mu.Lock()
		s.events = append(s.events, resp.Events...)
		s.mu.Unlock()
		s.signal()
	}
}

func (s *Session) call(ctx context.Context, code model.CommandCode, command any, target any) error {
	request := &model.Request{
		Header:      model.Header{NodeID: int(s.localID.Load())},
		CommandCode: code,
		Command:     command,
	}
	response := &model.Response{}
	if err := s.client.SendRequest(ctx, s.address, request, response); err != nil {
		return err
	}
	if err := remoteError(response.Error); err != nil {
		return err
	}
	if target == nil {
		return nil
	}
	if err := Decode(response.CommandResponse, target); err != nil {
		return fmt.Errorf("%w: %s response: %w", model.ErrBadCommand, code, err)
	}
	return nil
}

func (s *Session) signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// remoteError rebuilds an error reported by the server
func remoteError(msg string) error {
	if msg == "" {
		return nil
	}
	for _, sentinel := range remoteErrors {
		if strings.Contains(msg, sentinel.Error()) {
			return fmt.Errorf("remote: %s: %w", msg, sentinel)
		}
	}
	return fmt.Errorf("remote: %s", msg)
}
