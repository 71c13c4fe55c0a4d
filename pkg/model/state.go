package model

// LoopState represents the state of the event dispatch loop
type LoopState string

const (
	// LoopStateIdle waits for the next event
	LoopStateIdle LoopState = "idle"
	// LoopStateProcessing handles one already delivered event
	LoopStateProcessing LoopState = "processing"
)

func (s LoopState) String() string {
	return string(s)
}

// LoopEvent drives the dispatch loop Finite State Machine (FSM)
type LoopEvent string

const (
	// EventDispatched represents a dispatch call that yielded a pending callback
	EventDispatched LoopEvent = "dispatched"
	// EventHandled represents the pending callback being classified and routed
	EventHandled LoopEvent = "handled"
)

func (e LoopEvent) String() string {
	return string(e)
}
