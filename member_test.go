package gomember

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danl5/gomember/internal/tlog"
	"github.com/danl5/gomember/pkg/common"
	"github.com/danl5/gomember/pkg/lockspace"
	"github.com/danl5/gomember/pkg/model"
	regmemory "github.com/danl5/gomember/pkg/registry/memory"
	"github.com/danl5/gomember/pkg/transport/memory"
)

type testMember struct {
	*Member
	svc        *memory.Service
	registry   *regmemory.Registry
	lockspaces *lockspace.Set
	exits      []int
}

func newTestMember(t *testing.T, cfg *MemberConfig, nodes ...model.Node) *testMember {
	t.Helper()

	tm := &testMember{
		svc:        memory.NewService(1),
		registry:   regmemory.New(),
		lockspaces: lockspace.NewSet(),
	}
	tm.svc.SetNodes(nodes...)

	if cfg == nil {
		cfg = &MemberConfig{}
	}
	cfg.Exit = func(code int) { tm.exits = append(tm.exits, code) }

	m, err := NewMember(tm.svc, tm.registry, tm.lockspaces, cfg, tlog.New(t))
	require.NoError(t, err)
	tm.Member = m
	return tm
}

func TestNewMember(t *testing.T) {
	svc := memory.NewService(1)
	reg := regmemory.New()
	spaces := lockspace.NewSet()
	logger := tlog.New(t)

	_, err := NewMember(nil, reg, spaces, nil, logger)
	assert.EqualError(t, err, "new member, connector is nil")
	_, err = NewMember(svc, nil, spaces, nil, logger)
	assert.EqualError(t, err, "new member, registry is nil")
	_, err = NewMember(svc, reg, nil, nil, logger)
	assert.EqualError(t, err, "new member, lockspaces is nil")
	_, err = NewMember(svc, reg, spaces, nil, nil)
	assert.EqualError(t, err, "new member, logger is nil")
	_, err = NewMember(svc, reg, spaces, &MemberConfig{MaxNodes: -1}, logger)
	assert.EqualError(t, err, "new member, max nodes must be positive")

	m, err := NewMember(svc, reg, spaces, nil, logger)
	require.NoError(t, err)
	assert.Equal(t, defaultMaxNodes, m.cfg.MaxNodes)
	assert.Equal(t, defaultFetchTimeout, m.cfg.FetchTimeout)
	assert.False(t, m.cfg.Exempt("anything"))
}

func TestMember_SetupStartup(t *testing.T) {
	tm := newTestMember(t, nil,
		model.Node{ID: 1, Name: "one", Address: []byte{10, 0, 0, 1}, Member: true},
		model.Node{ID: 2, Name: "two", Address: []byte{10, 0, 0, 2}, Member: true},
		model.Node{ID: 3, Name: "three"},
	)

	ready, err := tm.Setup(context.Background())
	require.NoError(t, err)
	require.NotNil(t, ready)

	assert.Equal(t, []regmemory.Op{
		{Op: common.RegistryClear},
		{Op: common.RegistryAdd, ID: 1, Local: true},
		{Op: common.RegistryAdd, ID: 2},
	}, tm.registry.Ops())
	assert.Equal(t, []regmemory.Entry{
		{ID: 1, Address: []byte{10, 0, 0, 1}, Local: true},
		{ID: 2, Address: []byte{10, 0, 0, 2}},
	}, tm.registry.Entries())

	assert.True(t, tm.svc.Notifying())
	assert.Equal(t, 1, tm.LocalID())
	assert.True(t, tm.IsClusterMember(1))
	assert.True(t, tm.IsClusterMember(2))
	assert.False(t, tm.IsClusterMember(3))
	assert.False(t, tm.IsClusterMember(4))
	assert.Len(t, tm.Nodes(), 3)

	name, ok := tm.NodeName(2)
	assert.True(t, ok)
	assert.Equal(t, "two", name)
	name, ok = tm.NodeName(3)
	assert.True(t, ok)
	assert.Equal(t, "three", name)
	_, ok = tm.NodeName(9)
	assert.False(t, ok)
}

func TestMember_SetupTwice(t *testing.T) {
	tm := newTestMember(t, nil, model.Node{ID: 1, Member: true})
	_, err := tm.Setup(context.Background())
	require.NoError(t, err)
	ops := len(tm.registry.Ops())

	_, err = tm.Setup(context.Background())
	assert.True(t, errors.Is(err, model.ErrAlreadySetup))
	assert.False(t, tm.svc.Closed())
	assert.True(t, tm.svc.Notifying())
	assert.Len(t, tm.registry.Ops(), ops)

	require.NoError(t, tm.Close())
	_, err = tm.Setup(context.Background())
	require.NoError(t, err)
	assert.True(t, tm.svc.Notifying())
}

func TestMember_SetupFailures(t *testing.T) {
	tests := []struct {
		name       string
		op         memory.Op
		noLocal    bool
		wantIs     error
		wantClosed bool
	}{
		{
			name:   "connect",
			op:     memory.OpConnect,
			wantIs: model.ErrNotConnected,
		},
		{
			name:       "start notification",
			op:         memory.OpStart,
			wantClosed: true,
		},
		{
			name:       "local node",
			op:         memory.OpLocalNode,
			wantClosed: true,
		},
		{
			name:       "local node unknown",
			noLocal:    true,
			wantIs:     model.ErrNodeNotFound,
			wantClosed: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var nodes []model.Node
			if !tt.noLocal {
				nodes = append(nodes, model.Node{ID: 1, Member: true})
			}
			tm := newTestMember(t, nil, nodes...)

			cause := errors.New("service unavailable")
			if !tt.noLocal {
				tm.svc.Fail(tt.op, cause)
			}

			ready, err := tm.Setup(context.Background())
			require.Error(t, err)
			assert.Nil(t, ready)
			if tt.wantIs != nil {
				assert.True(t, errors.Is(err, tt.wantIs))
			}
			if !tt.noLocal {
				assert.True(t, errors.Is(err, cause))
			}
			assert.Equal(t, tt.wantClosed, tm.svc.Closed())
			assert.False(t, tm.svc.Notifying())
			assert.Empty(t, tm.registry.Ops())
		})
	}
}

type clearFailingRegistry struct {
	*regmemory.Registry
}

func (r clearFailingRegistry) Clear(context.Context) error {
	return errors.New("read-only file system")
}

func TestMember_SetupClearFailure(t *testing.T) {
	svc := memory.NewService(1)
	svc.SetNodes(model.Node{ID: 1, Member: true})
	reg := clearFailingRegistry{Registry: regmemory.New()}

	m, err := NewMember(svc, reg, lockspace.NewSet(), nil, tlog.New(t))
	require.NoError(t, err)

	_, err = m.Setup(context.Background())
	require.NoError(t, err)
	assert.True(t, m.IsClusterMember(1))
	assert.Equal(t, []regmemory.Op{{Op: common.RegistryAdd, ID: 1, Local: true}}, reg.Ops())
}

func TestMember_SetupFetchFailure(t *testing.T) {
	tm := newTestMember(t, &MemberConfig{MaxNodes: 2},
		model.Node{ID: 1, Member: true},
		model.Node{ID: 2, Member: true},
		model.Node{ID: 3, Member: true},
	)

	_, err := tm.Setup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []regmemory.Op{{Op: common.RegistryClear}}, tm.registry.Ops())
	assert.Empty(t, tm.Nodes())
}

func TestMember_ProcessEventsStateChange(t *testing.T) {
	tm := newTestMember(t, nil,
		model.Node{ID: 1, Member: true},
		model.Node{ID: 2, Member: true},
	)
	_, err := tm.Setup(context.Background())
	require.NoError(t, err)
	tm.registry.ResetOps()

	tm.svc.SetNodes(
		model.Node{ID: 1, Member: true},
		model.Node{ID: 3, Member: true},
	)
	tm.svc.Notify(model.ReasonStateChange, 0)

	require.NoError(t, tm.ProcessEvents(context.Background()))
	assert.Equal(t, []regmemory.Op{
		{Op: common.RegistryRemove, ID: 2},
		{Op: common.RegistryAdd, ID: 3},
	}, tm.registry.Ops())
	assert.False(t, tm.IsClusterMember(2))
	assert.True(t, tm.IsClusterMember(3))

	// nothing pending
	tm.registry.ResetOps()
	require.NoError(t, tm.ProcessEvents(context.Background()))
	assert.Empty(t, tm.registry.Ops())
}

func TestMember_ProcessEventsFetchFailureKeepsStore(t *testing.T) {
	tm := newTestMember(t, nil, model.Node{ID: 1, Member: true}, model.Node{ID: 2, Member: true})
	_, err := tm.Setup(context.Background())
	require.NoError(t, err)
	tm.registry.ResetOps()

	tm.svc.Fail(memory.OpNodes, errors.New("timed out"))
	tm.svc.Notify(model.ReasonStateChange, 0)
	require.NoError(t, tm.ProcessEvents(context.Background()))
	assert.Empty(t, tm.registry.Ops())
	assert.True(t, tm.IsClusterMember(2))

	// the next pass diffs against the last good snapshot
	tm.svc.Fail(memory.OpNodes, nil)
	tm.svc.SetNodes(model.Node{ID: 1, Member: true})
	tm.svc.Notify(model.ReasonStateChange, 0)
	require.NoError(t, tm.ProcessEvents(context.Background()))
	assert.Equal(t, []regmemory.Op{{Op: common.RegistryRemove, ID: 2}}, tm.registry.Ops())
}

func TestMember_ProcessEventsShutdownVote(t *testing.T) {
	tests := []struct {
		name       string
		prefix     string
		lockspaces []string
		want       bool
	}{
		{"no lock spaces", "sys-", nil, true},
		{"exempt only", "sys-", []string{"sys-a", "sys-b"}, true},
		{"held lock spaces", "sys-", []string{"app-lock", "other-lock"}, false},
		{"no exempt prefix", "", []string{"sys-a"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tm := newTestMember(t, &MemberConfig{ExemptPrefix: tt.prefix}, model.Node{ID: 1, Member: true})
			for _, name := range tt.lockspaces {
				tm.lockspaces.Add(name)
			}
			_, err := tm.Setup(context.Background())
			require.NoError(t, err)
			tm.registry.ResetOps()

			tm.svc.Notify(model.ReasonTryShutdown, 0)
			require.NoError(t, tm.ProcessEvents(context.Background()))
			assert.Equal(t, []bool{tt.want}, tm.svc.Replies())
			assert.Empty(t, tm.registry.Ops())
		})
	}
}

func TestMember_ProcessEventsHostDown(t *testing.T) {
	tm := newTestMember(t, nil, model.Node{ID: 1, Member: true})
	_, err := tm.Setup(context.Background())
	require.NoError(t, err)
	tm.registry.ResetOps()

	tm.svc.SetNodes(model.Node{ID: 1, Member: true}, model.Node{ID: 2, Member: true})
	tm.svc.Notify(model.ReasonStateChange, 0)
	tm.svc.Fail(memory.OpDispatch, model.ErrHostDown)

	err = tm.ProcessEvents(context.Background())
	assert.True(t, errors.Is(err, model.ErrHostDown))
	assert.Equal(t, []int{1}, tm.exits)
	assert.Empty(t, tm.registry.Ops())
}

func TestMember_ProcessEventsBeforeSetup(t *testing.T) {
	tm := newTestMember(t, nil)
	err := tm.ProcessEvents(context.Background())
	assert.True(t, errors.Is(err, model.ErrNotConnected))
	assert.Empty(t, tm.exits)
}

func TestMember_Run(t *testing.T) {
	tm := newTestMember(t, nil, model.Node{ID: 1, Member: true})
	_, err := tm.Setup(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- tm.Run(ctx)
	}()

	tm.svc.SetNodes(model.Node{ID: 1, Member: true}, model.Node{ID: 2, Member: true})
	tm.svc.Notify(model.ReasonStateChange, 0)
	assert.Eventually(t, func() bool {
		return tm.registry.Has(2)
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("run did not stop")
	}

	require.NoError(t, tm.Close())
	assert.True(t, tm.svc.Closed())
	assert.False(t, tm.svc.Notifying())
}

func TestMember_Visualize(t *testing.T) {
	tm := newTestMember(t, nil, model.Node{ID: 1, Member: true})
	assert.Contains(t, tm.Visualize(), "processing")
}
