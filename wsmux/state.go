package wsmux

import "errors"

// State is the lifecycle state of the shared connection.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Closing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

// Close codes used by the manager. Only CloseNormal suppresses a retry.
const (
	CloseNormal   = 1000
	CloseAbnormal = 1006
)

var (
	ErrClosed        = errors.New("wsmux: mux is shut down")
	ErrNotSubscribed = errors.New("wsmux: identity is not subscribed")
	ErrNotConnected  = errors.New("wsmux: no open connection")
	ErrEmptyContent  = errors.New("wsmux: empty content")
	ErrNoDialer      = errors.New("wsmux: no dialer configured")
	ErrSendAttempts  = errors.New("wsmux: send attempts exhausted")
	ErrGaveUp        = errors.New("wsmux: reconnect attempts exhausted")
	ErrAbandoned     = errors.New("wsmux: send abandoned")
)
