// Package transport owns the long-lived duplex chat connection to the backend.
//
// A Channel dials one websocket per identity, decodes inbound frames into
// assistant text, reports lifecycle transitions through a Handler and never
// reconnects on its own unless a ReconnectPolicy says so.
package transport

// State is the lifecycle state of a Channel. Only the Channel changes it.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Handler receives inbound content and lifecycle signals. Callbacks run on the
// channel's reader goroutine and must not call Close or Connect synchronously.
type Handler interface {
	OnMessage(content string)
	OnStateChange(state State)
	OnError(err error)
}

type noopHandler struct{}

func (noopHandler) OnMessage(string)    {}
func (noopHandler) OnStateChange(State) {}
func (noopHandler) OnError(error)       {}
