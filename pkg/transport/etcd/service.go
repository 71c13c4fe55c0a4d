package etcd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/danl5/gomember/pkg/model"
)

const revokeTimeout = 5 * time.Second

// NewConnector creates a connector registering the local node in etcd
func NewConnector(cfg *Config, logger *slog.Logger) (*Connector, error) {
	if cfg == nil {
		return nil, fmt.Errorf("new etcd connector, config is nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("new etcd connector, logger is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Connector{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Connector opens etcd backed membership sessions
type Connector struct {
	cfg    *Config
	logger *slog.Logger
}

// Connect registers the local node under a lease and keeps the lease alive
// for the lifetime of the session.
func (c *Connector) Connect(ctx context.Context) (model.Session, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   c.cfg.Endpoints,
		DialTimeout: c.cfg.dialTimeout(),
		Logger:      c.cfg.clientLogger(),
	})
	if err != nil {
		return nil, fmt.Errorf("etcd connect: %w", err)
	}

	s := &Session{
		cli:    cli,
		keys:   keys{prefix: c.cfg.prefix()},
		local:  c.cfg.Node.Clone(),
		ready:  make(chan struct{}, 1),
		logger: c.logger.With("component", "etcd session"),
	}
	s.local.Member = true

	if err := s.register(ctx, c.cfg.leaseTTL()); err != nil {
		_ = cli.Close()
		return nil, err
	}
	return s, nil
}

// Session is a membership session backed by etcd. Every node holds a leased
// key under <prefix>/nodes/, a put on <prefix>/shutdown asks the cluster to
// shut down and votes are written to <prefix>/replies/<id>.
type Session struct {
	cli   *clientv3.Client
	keys  keys
	local model.Node
	lease clientv3.LeaseID
	// rev is the revision of the registration, the watch starts after it
	rev   int64
	ready chan struct{}

	mu            sync.Mutex
	events        []model.Event
	hostDown      error
	closing       bool
	cancelKeep    context.CancelFunc
	cancelWatch   context.CancelFunc
	keepAliveDone chan struct{}
	watchDone     chan struct{}

	logger *slog.Logger
}

func (s *Session) register(ctx context.Context, ttl int64) error {
	record, err := encodeNode(s.local)
	if err != nil {
		return err
	}

	lease, err := s.cli.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("etcd grant lease: %w", err)
	}
	resp, err := s.cli.Put(ctx, s.keys.node(s.local.ID), string(record), clientv3.WithLease(lease.ID))
	if err != nil {
		return fmt.Errorf("etcd register node %d: %w", s.local.ID, err)
	}
	s.lease = lease.ID
	s.rev = resp.Header.Revision

	keepCtx, cancel := context.WithCancel(context.Background())
	ch, err := s.cli.KeepAlive(keepCtx, lease.ID)
	if err != nil {
		cancel()
		return fmt.Errorf("etcd keep alive: %w", err)
	}
	s.cancelKeep = cancel
	s.keepAliveDone = make(chan struct{})
	go s.keepAlive(ch)

	s.logger.Info("node registered", "node", s.local.ID, "lease", int64(lease.ID))
	return nil
}

func (s *Session) keepAlive(ch <-chan *clientv3.LeaseKeepAliveResponse) {
	defer close(s.keepAliveDone)
	for range ch {
	}

	s.mu.Lock()
	closing := s.closing
	s.mu.Unlock()
	if !closing {
		s.setHostDown(errors.New("lease keep alive lost"))
	}
}

func (s *Session) StartNotification(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelWatch != nil {
		return nil
	}
	watchCtx, cancel := context.WithCancel(context.Background())
	s.cancelWatch = cancel
	s.watchDone = make(chan struct{})

	wch := s.cli.Watch(watchCtx, s.keys.root(), clientv3.WithPrefix(), clientv3.WithRev(s.rev+1))
	go s.watch(watchCtx, wch)
	return nil
}

func (s *Session) StopNotification() error {
	s.mu.Lock()
	cancel, done := s.cancelWatch, s.watchDone
	s.cancelWatch, s.watchDone = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done

	s.mu.Lock()
	s.events = nil
	s.mu.Unlock()
	return nil
}

func (s *Session) watch(ctx context.Context, wch clientv3.WatchChan) {
	defer close(s.watchDone)

	for resp := range wch {
		events, err := s.classify(resp)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.setHostDown(err)
			return
		}
		if len(events) == 0 {
			continue
		}

		s.mu.Lock()
		s.events = append(s.events, events...)
		s.mu.Unlock()
		s.signal()
	}

	if ctx.Err() == nil {
		s.setHostDown(errors.New("watch closed"))
	}
}

// classify turns one watch response into membership events. All node key
// changes of a response collapse into a single state change. Removal of the
// local node key means the node was expelled.
func (s *Session) classify(resp clientv3.WatchResponse) ([]model.Event, error) {
	if err := resp.Err(); err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	if resp.Canceled {
		return nil, errors.New("watch canceled")
	}

	var (
		events  []model.Event
		changed bool
	)
	for _, ev := range resp.Events {
		key := string(ev.Kv.Key)
		if id, ok := s.keys.nodeID(key); ok {
			if id == s.local.ID && ev.Type == mvccpb.DELETE {
				return nil, fmt.Errorf("node %d key deleted", id)
			}
			changed = true
			continue
		}
		if key == s.keys.shutdown() && ev.Type == mvccpb.PUT {
			events = append(events, model.Event{Reason: model.ReasonTryShutdown})
		}
	}
	if changed {
		events = append([]model.Event{{Reason: model.ReasonStateChange}}, events...)
	}
	return events, nil
}

func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

func (s *Session) LocalNode(ctx context.Context) (model.Node, error) {
	resp, err := s.cli.Get(ctx, s.keys.node(s.local.ID))
	if err != nil {
		return model.Node{}, fmt.Errorf("etcd get local node: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return model.Node{}, fmt.Errorf("local node %d: %w", s.local.ID, model.ErrNodeNotFound)
	}
	return decodeNode(resp.Kvs[0].Value)
}

func (s *Session) Nodes(ctx context.Context, max int) ([]model.Node, error) {
	resp, err := s.cli.Get(ctx, s.keys.nodes(), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("etcd get nodes: %w", err)
	}
	if len(resp.Kvs) > max {
		return nil, fmt.Errorf("%w: %d nodes, capacity %d", model.ErrTooManyNodes, len(resp.Kvs), max)
	}

	return decodeNodes(resp.Kvs)
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
	if _, err := s.cli.Put(ctx, s.keys.reply(s.local.ID), encodeReply(approve)); err != nil {
		return fmt.Errorf("etcd reply to shutdown: %w", err)
	}
	return nil
}

// Close revokes the registration lease, which removes the node key, and
// closes the etcd client.
func (s *Session) Close() error {
	_ = s.StopNotification()

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	s.mu.Unlock()

	s.cancelKeep()
	<-s.keepAliveDone

	var errs []error
	ctx, cancel := context.WithTimeout(context.Background(), revokeTimeout)
	defer cancel()
	if _, err := s.cli.Revoke(ctx, s.lease); err != nil {
		errs = append(errs, fmt.Errorf("etcd revoke lease: %w", err))
	}
	if err := s.cli.Close(); err != nil {
		errs = append(errs, fmt.Errorf("etcd close: %w", err))
	}
	return errors.Join(errs...)
}

func (s *Session) setHostDown(cause error) {
	s.logger.Error("membership lost", "error", cause.Error())

	s.mu.Lock()
	if s.hostDown == nil {
		s.hostDown = fmt.Errorf("etcd session, %w: %w", model.ErrHostDown, cause)
	}
	s.mu.Unlock()
	s.signal()
}

func (s *Session) signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}
