package model

// Header is a common structure for both requests and responses.
type Header struct {
	// NodeID is the id of the node that sent the message
	NodeID int `json:"node_id"`
}

// Request represents a structure for the requests.
type Request struct {
	Header
	// CommandCode is the command code.
	CommandCode CommandCode `json:"command_code"`
	// Command is the actual request payload.
	Command any `json:"command"`
}

// Response defines a structure for responses.
type Response struct {
	Header
	// CommandResponse holds the actual response data.
	CommandResponse any `json:"command_response"`
	// Error is the error message; if it's empty, the command was successful.
	Error string `json:"error,omitempty"`
}

// CommandHandler represents a function that handles command requests and returns responses.
type CommandHandler func(request *Request, response *Response) error

// TransportConfig is an interface representing the contract for a configuration object
// that can be validated.
type TransportConfig interface {
	Validate() error
}
