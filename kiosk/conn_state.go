package kiosk

// ConnState represents the lifecycle stages of a kiosk session.
type ConnState uint32

// Session states.
const (
	// DisconnectedState indicates that no TCP connection is established.
	DisconnectedState ConnState = iota
	// ConnectingState indicates that a dial attempt is in progress.
	ConnectingState
	// ConnectedState indicates that the TCP connection is established and commands are written.
	ConnectedState
	// ReconnectPendingState indicates that the reconnect timer is armed.
	ReconnectPendingState
	// DestroyedState is the terminal state entered by Destroy.
	DestroyedState
)

// IsConnected returns if the state is ConnectedState.
func (cs ConnState) IsConnected() bool { return cs == ConnectedState }

// IsDestroyed returns if the state is DestroyedState.
func (cs ConnState) IsDestroyed() bool { return cs == DestroyedState }

// String returns string representation of the state.
func (cs ConnState) String() string {
	switch cs {
	case DisconnectedState:
		return "disconnected"
	case ConnectingState:
		return "connecting"
	case ConnectedState:
		return "connected"
	case ReconnectPendingState:
		return "reconnect-pending"
	case DestroyedState:
		return "destroyed"
	default:
		return "unknown"
	}
}

// ConnStateChangeHandler is invoked when the state of a session changes.
//
// Handlers run on the session's event goroutine, one transition at a time. They may
// call Send and the slideshow methods, but must not call Destroy.
type ConnStateChangeHandler func(session *Session, prevState ConnState, newState ConnState)
