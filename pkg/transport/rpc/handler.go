package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/danl5/gomember/pkg/model"
)

// maximum number of events returned by one poll
const maxPollEvents = 64

// NewSessionHandler exposes a membership session to rpc clients
func NewSessionHandler(session model.Session, logger *slog.Logger) (*SessionHandler, error) {
	if session == nil {
		return nil, fmt.Errorf("new session handler, session is nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("new session handler, logger is nil")
	}

	return &SessionHandler{
		session: session,
		logger:  logger.With("component", "rpc session handler"),
	}, nil
}

// SessionHandler serves the membership commands on top of a local session.
// Its Handle method is a model.CommandHandler.
type SessionHandler struct {
	session model.Session
	logger  *slog.Logger
}

func (h *SessionHandler) Handle(request *model.Request, response *model.Response) error {
	ctx := context.Background()
	h.logger.Debug("receive command", "command", request.CommandCode.String(), "from", request.NodeID)

	var err error
	switch request.CommandCode {
	case model.CommandLocalNode:
		var node model.Node
		node, err = h.session.LocalNode(ctx)
		response.CommandResponse = node
	case model.CommandNodes:
		var req model.NodesRequest
		if err = h.decode(request, &req); err != nil {
			break
		}
		var nodes []model.Node
		nodes, err = h.session.Nodes(ctx, req.Max)
		response.CommandResponse = model.NodesResponse{Nodes: nodes}
	case model.CommandPoll:
		var events []model.Event
		events, err = h.poll(ctx)
		response.CommandResponse = model.PollResponse{Events: events}
	case model.CommandReplyShutdown:
		var req model.ReplyShutdownRequest
		if err = h.decode(request, &req); err != nil {
			break
		}
		err = h.session.ReplyToShutdown(ctx, req.Approve)
	default:
		err = fmt.Errorf("%w: unknown command %q", model.ErrBadCommand, request.CommandCode)
	}

	if err != nil {
		h.logger.Debug("command failed", "command", request.CommandCode.String(), "error", err.Error())
		response.CommandResponse = nil
		response.Error = err.Error()
	}
	return nil
}

func (h *SessionHandler) decode(request *model.Request, target any) error {
	if err := Decode(request.Command, target); err != nil {
		return fmt.Errorf("%w: %s: %w", model.ErrBadCommand, request.CommandCode, err)
	}
	return nil
}

// poll drains the events ready on the local session. Host down discards the
// events collected so far.
func (h *SessionHandler) poll(ctx context.Context) ([]model.Event, error) {
	var events []model.Event
	for len(events) < maxPollEvents {
		ev, err := h.session.DispatchOne(ctx)
		if err != nil {
			if errors.Is(err, model.ErrHostDown) {
				return nil, err
			}
			h.logger.Error("failed to dispatch membership event", "error", err.Error())
			break
		}
		if ev.IsNone() {
			break
		}
		events = append(events, ev)
	}
	return events, nil
}
