package gomember

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/danl5/gomember/internal/telemetry"
	"github.com/danl5/gomember/pkg/common"
	"github.com/danl5/gomember/pkg/config"
	"github.com/danl5/gomember/pkg/dispatch"
	"github.com/danl5/gomember/pkg/model"
	"github.com/danl5/gomember/pkg/reconcile"
	"github.com/danl5/gomember/pkg/snapshot"
	"github.com/danl5/gomember/pkg/vote"
)

const (
	// snapshot capacity
	defaultMaxNodes = 128

	// node list fetch timeout
	defaultFetchTimeout = 5 * time.Second

	// exit status used when the cluster goes down
	hostDownExitCode = 1
)

// NewMember creates a new Member instance
func NewMember(
	connector model.Connector,
	registry model.ResourceRegistry,
	lockspaces model.LockSpaces,
	cfg *MemberConfig,
	logger *slog.Logger,
) (*Member, error) {
	if connector == nil {
		return nil, fmt.Errorf("new member, connector is nil")
	}
	if registry == nil {
		return nil, fmt.Errorf("new member, registry is nil")
	}
	if lockspaces == nil {
		return nil, fmt.Errorf("new member, lockspaces is nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("new member, logger is nil")
	}
	if cfg == nil {
		cfg = &MemberConfig{}
	}

	c := &config.Config{
		MaxNodes:     cfg.MaxNodes,
		ExemptPrefix: cfg.ExemptPrefix,
		Exempt:       cfg.Exempt,
		FetchTimeout: cfg.FetchTimeout,
	}
	if c.MaxNodes == 0 {
		c.MaxNodes = defaultMaxNodes
	}
	if c.FetchTimeout == 0 {
		c.FetchTimeout = defaultFetchTimeout
	}
	if c.Exempt == nil {
		c.Exempt = vote.PrefixExempt(c.ExemptPrefix)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("new member, %w", err)
	}

	policy, err := vote.NewPolicy(c.Exempt, logger)
	if err != nil {
		return nil, err
	}

	exit := cfg.Exit
	if exit == nil {
		exit = os.Exit
	}

	return &Member{
		cfg:        c,
		connector:  connector,
		registry:   registry,
		lockspaces: lockspaces,
		policy:     policy,
		store:      &snapshot.Store{},
		exit:       exit,
		logger:     logger.With("component", "member"),
		rootLogger: logger,
	}, nil
}

// Member keeps the resource registry of the local node in line with cluster
// membership and answers cluster shutdown requests.
//
// Its methods must not be called concurrently.
type Member struct {
	// cfg is the validated engine config
	cfg *config.Config
	// connector opens the membership service session
	connector model.Connector
	// registry receives the per node resource entries
	registry model.ResourceRegistry
	// lockspaces lists the active lock spaces for shutdown votes
	lockspaces model.LockSpaces
	// policy decides shutdown votes
	policy *vote.Policy
	// store holds the two most recent membership snapshots
	store *snapshot.Store
	// exit terminates the process when the cluster goes down
	exit func(code int)

	// set up by Setup
	session model.Session
	handler *handler
	loop    *dispatch.Loop
	localID int

	logger     *slog.Logger
	rootLogger *slog.Logger
}

// Setup connects to the membership service, registers for notifications,
// resolves the local node, clears the registry and runs the first
// reconciliation pass. The returned channel signals that events are ready to
// be processed with ProcessEvents.
//
// Setup fails with model.ErrAlreadySetup until Close releases the open session.
func (m *Member) Setup(ctx context.Context) (<-chan struct{}, error) {
	if m.session != nil {
		return nil, fmt.Errorf("member setup, %w", model.ErrAlreadySetup)
	}

	session, err := m.connector.Connect(ctx)
	if err != nil {
		m.logger.Error("member, failed to connect to membership service", "error", err.Error())
		return nil, fmt.Errorf("member setup, %w: %w", model.ErrNotConnected, err)
	}

	if err := session.StartNotification(ctx); err != nil {
		m.logger.Error("member, failed to start notification", "error", err.Error())
		_ = session.Close()
		return nil, fmt.Errorf("member setup, start notification: %w", err)
	}

	ready := session.Ready()

	local, err := session.LocalNode(ctx)
	if err != nil {
		m.logger.Error("member, failed to get local node", "error", err.Error())
		_ = session.StopNotification()
		_ = session.Close()
		return nil, fmt.Errorf("member setup, local node: %w", err)
	}

	reconciler, err := reconcile.NewReconciler(m.registry, local.ID, m.rootLogger)
	if err != nil {
		_ = session.StopNotification()
		_ = session.Close()
		return nil, err
	}
	h := &handler{
		session:      session,
		reconciler:   reconciler,
		policy:       m.policy,
		lockspaces:   m.lockspaces,
		store:        m.store,
		maxNodes:     m.cfg.MaxNodes,
		fetchTimeout: m.cfg.FetchTimeout,
		logger:       m.logger,
	}
	loop, err := dispatch.NewLoop(session, h, m.rootLogger)
	if err != nil {
		_ = session.StopNotification()
		_ = session.Close()
		return nil, err
	}

	m.session = session
	m.handler = h
	m.loop = loop
	m.localID = local.ID
	m.logger.Info("member, local node", "node", local.ID, "name", local.Name)

	// stale entries from a previous run
	err = m.registry.Clear(ctx)
	telemetry.RegistryOps.WithLabelValues(common.RegistryClear.String(), telemetry.Result(err)).Inc()
	if err != nil {
		m.logger.Error("member, failed to clear registry", "error", err.Error())
	}

	m.store.Reset()
	h.HandleStateChange(ctx)

	return ready, nil
}

// ProcessEvents handles the membership events that are pending now. When the
// local node is expelled or the cluster is gone it logs the reason and exits
// the process with status 1.
func (m *Member) ProcessEvents(ctx context.Context) error {
	if m.loop == nil {
		return fmt.Errorf("process events, %w", model.ErrNotConnected)
	}

	err := m.loop.Drain(ctx)
	if errors.Is(err, model.ErrHostDown) {
		m.logger.Error("cluster is down, exiting")
		m.exit(hostDownExitCode)
	}
	return err
}

// Run processes events each time the membership service signals readiness,
// until ctx is done.
func (m *Member) Run(ctx context.Context) error {
	if m.session == nil {
		return fmt.Errorf("member run, %w", model.ErrNotConnected)
	}

	ready := m.session.Ready()
	for {
		if err := m.ProcessEvents(ctx); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			m.logger.Info("member, stopped")
			return nil
		case <-ready:
		}
	}
}

// Close stops notifications and releases the membership service session
func (m *Member) Close() error {
	if m.session == nil {
		return nil
	}

	var errs []error
	if err := m.session.StopNotification(); err != nil {
		errs = append(errs, err)
	}
	if err := m.session.Close(); err != nil {
		errs = append(errs, err)
	}
	m.session = nil
	m.loop = nil
	m.handler = nil
	return errors.Join(errs...)
}

// IsClusterMember reports whether the node is a member in the current snapshot
func (m *Member) IsClusterMember(id int) bool {
	return m.store.Current().IsMember(id)
}

// NodeName returns the name of the node in the current snapshot
func (m *Member) NodeName(id int) (string, bool) {
	n, ok := m.store.Current().Find(id)
	if !ok {
		return "", false
	}
	return n.Name, true
}

// Nodes returns the nodes of the current snapshot
func (m *Member) Nodes() []model.Node {
	return m.store.Current().Nodes()
}

// LocalID returns the node ID resolved by Setup
func (m *Member) LocalID() int {
	return m.localID
}

// Visualize returns the event dispatch state machine in Graphviz format.
func (m *Member) Visualize() string {
	if m.loop == nil {
		return dispatch.Visualize()
	}
	return m.loop.Visualize()
}

// MemberConfig is a struct that represents the configuration of a Member.
type MemberConfig struct {
	// MaxNodes is the largest node list accepted from the membership service
	MaxNodes int
	// ExemptPrefix marks lock spaces that never block a cluster shutdown
	ExemptPrefix string
	// Exempt overrides ExemptPrefix when set
	Exempt func(name string) bool
	// FetchTimeout bounds a single node list fetch
	FetchTimeout time.Duration
	// Exit is called with status 1 when the cluster goes down, os.Exit by default
	Exit func(code int)
}
