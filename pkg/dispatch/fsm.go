package dispatch

import (
	"github.com/looplab/fsm"

	"github.com/danl5/gomember/pkg/model"
)

// newMachine builds the dispatch loop state machine, it starts idle
func newMachine(callbacks fsm.Callbacks) *fsm.FSM {
	if callbacks == nil {
		callbacks = fsm.Callbacks{}
	}
	return fsm.NewFSM(
		model.LoopStateIdle.String(),
		fsm.Events{
			{
				Name: model.EventDispatched.String(),
				Src:  []string{model.LoopStateIdle.String()},
				Dst:  model.LoopStateProcessing.String(),
			},
			{
				Name: model.EventHandled.String(),
				Src:  []string{model.LoopStateProcessing.String()},
				Dst:  model.LoopStateIdle.String(),
			},
		},
		callbacks,
	)
}

// Visualize returns the dispatch loop state machine in Graphviz format.
func Visualize() string {
	return fsm.Visualize(newMachine(nil))
}
