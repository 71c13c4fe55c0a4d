package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/looplab/fsm"

	"github.com/danl5/gomember/internal/telemetry"
	"github.com/danl5/gomember/pkg/model"
)

// Handler receives the events routed by the loop
type Handler interface {
	// HandleStateChange runs a reconciliation pass
	HandleStateChange(ctx context.Context)
	// HandleTryShutdown answers a cluster shutdown request
	HandleTryShutdown(ctx context.Context)
}

func NewLoop(session model.Session, handler Handler, logger *slog.Logger) (*Loop, error) {
	if session == nil {
		return nil, fmt.Errorf("new loop, session is nil")
	}
	if handler == nil {
		return nil, fmt.Errorf("new loop, handler is nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("new loop, logger is nil")
	}

	l := &Loop{
		session: session,
		handler: handler,
		logger:  logger.With("component", "dispatch"),
	}
	l.fsm = newMachine(fsm.Callbacks{
		"enter_" + model.LoopStateProcessing.String(): l.enterProcessing,
	})
	return l, nil
}

// Loop pulls membership events one at a time and routes them.
//
// It is not safe for concurrent use: there is exactly one membership stream
// and the caller serializes calls to Drain.
type Loop struct {
	// session is the membership service session events are dispatched from
	session model.Session
	// handler receives the routed events
	handler Handler
	// fsm is the idle/processing state machine
	fsm *fsm.FSM
	// logger
	logger *slog.Logger
}

// Drain processes the events that are ready now and returns once a dispatch
// call finds nothing pending. It never waits for new events.
//
// An error wrapping model.ErrHostDown is returned as soon as it is seen. Any
// other dispatch error is logged and ends the drain.
func (l *Loop) Drain(ctx context.Context) error {
	// a pass runs to completion once an event is delivered
	passCtx := context.WithoutCancel(ctx)

	for {
		ev, err := l.session.DispatchOne(ctx)
		if err != nil {
			if errors.Is(err, model.ErrHostDown) {
				return err
			}
			l.logger.Error("failed to dispatch membership event", "error", err.Error())
			return nil
		}
		if ev.IsNone() {
			return nil
		}

		telemetry.DispatchedEvents.WithLabelValues(ev.Reason.String()).Inc()
		l.logger.Debug("membership event", "reason", ev.Reason.String(), "arg", ev.Arg)

		if err := l.fsm.Event(passCtx, model.EventDispatched.String(), ev); err != nil {
			return fmt.Errorf("dispatch loop, %s: %w", model.EventDispatched, err)
		}
		if err := l.fsm.Event(passCtx, model.EventHandled.String()); err != nil {
			return fmt.Errorf("dispatch loop, %s: %w", model.EventHandled, err)
		}
	}
}

// State returns the current loop state
func (l *Loop) State() model.LoopState {
	return model.LoopState(l.fsm.Current())
}

// Visualize returns the loop state machine in Graphviz format.
func (l *Loop) Visualize() string {
	return fsm.Visualize(l.fsm)
}

func (l *Loop) enterProcessing(ctx context.Context, e *fsm.Event) {
	if len(e.Args) == 0 {
		return
	}
	ev, ok := e.Args[0].(model.Event)
	if !ok {
		return
	}

	switch ev.Reason {
	case model.ReasonStateChange:
		l.handler.HandleStateChange(ctx)
	case model.ReasonTryShutdown:
		l.handler.HandleTryShutdown(ctx)
	default:
		l.logger.Debug("ignore membership event", "reason", ev.Reason.String())
	}
}
