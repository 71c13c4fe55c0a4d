package model

// EventReason is the reason a membership service callback fired
type EventReason string

const (
	// ReasonNone means no callback was pending when the service was dispatched
	ReasonNone EventReason = "none"
	// ReasonStateChange represents a change in cluster membership
	ReasonStateChange EventReason = "state_change"
	// ReasonTryShutdown represents a cluster-wide shutdown request that needs a vote
	ReasonTryShutdown EventReason = "try_shutdown"
	// ReasonQuorum represents a change in quorum state
	ReasonQuorum EventReason = "quorum"
	// ReasonConfigUpdate represents a cluster configuration update
	ReasonConfigUpdate EventReason = "config_update"
)

func (r EventReason) String() string {
	return string(r)
}

// Event is a single notification delivered by the membership service
type Event struct {
	// Reason classifies the event
	Reason EventReason `json:"reason"`
	// Arg is the reason specific argument, if any
	Arg int `json:"arg,omitempty"`
}

// NoEvent is returned by a dispatch call that found nothing pending.
var NoEvent = Event{Reason: ReasonNone}

// IsNone reports whether e carries no event. The zero Event counts as none.
func (e Event) IsNone() bool {
	return e.Reason == "" || e.Reason == ReasonNone
}
