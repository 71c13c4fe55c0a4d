package model

// CommandCode identifies a membership service command carried by a transport
type CommandCode string

const (
	// CommandLocalNode asks for the node of the caller
	CommandLocalNode CommandCode = "local_node"
	// CommandNodes asks for every known node
	CommandNodes CommandCode = "nodes"
	// CommandPoll collects the pending events
	CommandPoll CommandCode = "poll"
	// CommandReplyShutdown answers a try-shutdown event
	CommandReplyShutdown CommandCode = "reply_shutdown"
)

func (c CommandCode) String() string {
	return string(c)
}

// NodesRequest is the nodes request
type NodesRequest struct {
	Max int `json:"max"`
}

// NodesResponse is the nodes response
type NodesResponse struct {
	Nodes []Node `json:"nodes"`
}

// PollResponse carries the events pending on the server side
type PollResponse struct {
	Events []Event `json:"events"`
}

// ReplyShutdownRequest is the shutdown vote
type ReplyShutdownRequest struct {
	Approve bool `json:"approve"`
}
