package rpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danl5/gomember/internal/tlog"
	"github.com/danl5/gomember/pkg/model"
	"github.com/danl5/gomember/pkg/transport/memory"
)

func startServer(t *testing.T, svc *memory.Service) *Server {
	t.Helper()

	backend, err := svc.Connect(context.Background())
	require.NoError(t, err)
	require.NoError(t, backend.StartNotification(context.Background()))

	handler, err := NewSessionHandler(backend, tlog.New(t))
	require.NoError(t, err)

	server, err := NewServer(tlog.New(t))
	require.NoError(t, err)
	require.NoError(t, server.Start("127.0.0.1:0", handler.Handle, &Config{}))
	t.Cleanup(func() {
		assert.NoError(t, server.Close())
	})
	return server
}

func connect(t *testing.T, server *Server) *Session {
	t.Helper()

	connector, err := NewConnector(server.Addr().String(), &Config{PollInterval: 5}, tlog.New(t))
	require.NoError(t, err)
	session, err := connector.Connect(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, session.Close())
	})
	return session.(*Session)
}

func TestDecode(t *testing.T) {
	raw := map[interface{}]interface{}{
		"nodes": []interface{}{
			map[interface{}]interface{}{
				"id":      int64(2),
				"name":    []byte("two"),
				"address": []byte{10, 0, 0, 2},
				"member":  true,
			},
		},
	}

	var resp model.NodesResponse
	require.NoError(t, Decode(raw, &resp))
	assert.Equal(t, []model.Node{{ID: 2, Name: "two", Address: []byte{10, 0, 0, 2}, Member: true}}, resp.Nodes)

	var ev model.Event
	require.NoError(t, Decode(map[string]interface{}{"reason": []byte("try_shutdown"), "arg": uint64(3)}, &ev))
	assert.Equal(t, model.Event{Reason: model.ReasonTryShutdown, Arg: 3}, ev)

	assert.EqualError(t, Decode(raw, resp), "wrong receiver for decode")
	assert.EqualError(t, Decode(raw, nil), "wrong receiver for decode")
}

func TestSessionHandler_Handle(t *testing.T) {
	svc := memory.NewService(1)
	svc.SetNodes(model.Node{ID: 1, Name: "one", Member: true})
	backend, err := svc.Connect(context.Background())
	require.NoError(t, err)
	require.NoError(t, backend.StartNotification(context.Background()))

	handler, err := NewSessionHandler(backend, tlog.New(t))
	require.NoError(t, err)

	tests := []struct {
		name     string
		request  model.Request
		want     any
		wantErr  error
		wantVote []bool
	}{
		{
			name:    "local node",
			request: model.Request{CommandCode: model.CommandLocalNode},
			want:    model.Node{ID: 1, Name: "one", Member: true},
		},
		{
			name:    "nodes",
			request: model.Request{CommandCode: model.CommandNodes, Command: map[string]interface{}{"max": 4}},
			want:    model.NodesResponse{Nodes: []model.Node{{ID: 1, Name: "one", Member: true}}},
		},
		{
			name:    "nodes over capacity",
			request: model.Request{CommandCode: model.CommandNodes, Command: map[string]interface{}{"max": 0}},
			wantErr: model.ErrTooManyNodes,
		},
		{
			name:    "nodes bad payload",
			request: model.Request{CommandCode: model.CommandNodes, Command: "four"},
			wantErr: model.ErrBadCommand,
		},
		{
			name:     "reply shutdown",
			request:  model.Request{CommandCode: model.CommandReplyShutdown, Command: map[string]interface{}{"approve": true}},
			wantVote: []bool{true},
		},
		{
			name:    "unknown command",
			request: model.Request{CommandCode: "join"},
			wantErr: model.ErrBadCommand,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp model.Response
			require.NoError(t, handler.Handle(&tt.request, &resp))
			if tt.wantErr != nil {
				assert.True(t, errors.Is(remoteError(resp.Error), tt.wantErr), resp.Error)
				assert.Nil(t, resp.CommandResponse)
				return
			}
			assert.Empty(t, resp.Error)
			if tt.want != nil {
				assert.Equal(t, tt.want, resp.CommandResponse)
			}
			if tt.wantVote != nil {
				assert.Equal(t, tt.wantVote, svc.Replies())
			}
		})
	}
}

func TestSessionHandler_Poll(t *testing.T) {
	svc := memory.NewService(1)
	backend, err := svc.Connect(context.Background())
	require.NoError(t, err)
	require.NoError(t, backend.StartNotification(context.Background()))
	handler, err := NewSessionHandler(backend, tlog.New(t))
	require.NoError(t, err)

	svc.Notify(model.ReasonStateChange, 0)
	svc.Notify(model.ReasonTryShutdown, 7)

	var resp model.Response
	require.NoError(t, handler.Handle(&model.Request{CommandCode: model.CommandPoll}, &resp))
	assert.Equal(t, model.PollResponse{Events: []model.Event{
		{Reason: model.ReasonStateChange},
		{Reason: model.ReasonTryShutdown, Arg: 7},
	}}, resp.CommandResponse)

	svc.Notify(model.ReasonStateChange, 0)
	svc.Fail(memory.OpDispatch, model.ErrHostDown)
	resp = model.Response{}
	require.NoError(t, handler.Handle(&model.Request{CommandCode: model.CommandPoll}, &resp))
	assert.Equal(t, model.ErrHostDown.Error(), resp.Error)
	assert.Nil(t, resp.CommandResponse)
}

func TestSession_EndToEnd(t *testing.T) {
	svc := memory.NewService(2)
	svc.SetNodes(
		model.Node{ID: 1, Name: "one", Address: []byte{10, 0, 0, 1}, Member: true},
		model.Node{ID: 2, Name: "two", Address: []byte{10, 0, 0, 2}, Member: true},
	)
	server := startServer(t, svc)
	session := connect(t, server)
	ctx := context.Background()

	local, err := session.LocalNode(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.Node{ID: 2, Name: "two", Address: []byte{10, 0, 0, 2}, Member: true}, local)

	nodes, err := session.Nodes(ctx, 8)
	require.NoError(t, err)
	assert.Len(t, nodes, 2)
	assert.Equal(t, "one", nodes[0].Name)

	_, err = session.Nodes(ctx, 1)
	assert.True(t, errors.Is(err, model.ErrTooManyNodes))

	require.NoError(t, session.ReplyToShutdown(ctx, false))
	assert.Equal(t, []bool{false}, svc.Replies())

	// events are only collected once notification starts
	ev, err := session.DispatchOne(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.NoEvent, ev)

	require.NoError(t, session.StartNotification(ctx))
	svc.Notify(model.ReasonStateChange, 0)
	svc.Notify(model.ReasonTryShutdown, 0)

	select {
	case <-session.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("no readiness signal")
	}

	var got []model.EventReason
	require.Eventually(t, func() bool {
		ev, err := session.DispatchOne(ctx)
		if err != nil {
			return false
		}
		if ev.Reason != model.ReasonNone {
			got = append(got, ev.Reason)
		}
		return len(got) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []model.EventReason{model.ReasonStateChange, model.ReasonTryShutdown}, got)

	svc.Fail(memory.OpDispatch, model.ErrHostDown)
	require.Eventually(t, func() bool {
		_, err := session.DispatchOne(ctx)
		return errors.Is(err, model.ErrHostDown)
	}, 2*time.Second, 5*time.Millisecond)
}

func TestConnector_Unreachable(t *testing.T) {
	svc := memory.NewService(1)
	server := startServer(t, svc)
	addr := server.Addr().String()
	require.NoError(t, server.Close())

	connector, err := NewConnector(addr, &Config{ConnectTimeout: 1}, tlog.New(t))
	require.NoError(t, err)
	_, err = connector.Connect(context.Background())
	assert.Error(t, err)
}

func TestNewConnector(t *testing.T) {
	_, err := NewConnector("127.0.0.1:1", nil, nil)
	assert.EqualError(t, err, "new connector, logger is nil")

	_, err = NewConnector("127.0.0.1:1", &Config{ServerKey: "key.pem"}, tlog.New(t))
	assert.EqualError(t, err, "server, incomplete certificate configuration")
}
