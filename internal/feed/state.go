package feed

// State describes the lifecycle of a feed connection. Transitions happen only
// on socket lifecycle events or explicit Connect/Disconnect calls, and are
// owned exclusively by the Manager.
type State int

const (
	// StateDisconnected is the initial state and the state after a manual
	// Disconnect.
	StateDisconnected State = iota
	// StateConnecting is set while the transport handshake is in flight.
	StateConnecting
	// StateConnected means the socket is open but authentication has not
	// been acknowledged yet. Feeds without authentication skip this state.
	StateConnected
	// StateAuthenticated means the feed is ready: subscriptions have been
	// replayed and data frames are flowing.
	StateAuthenticated
	// StateError is set after an unexpected closure or a rejected
	// authentication while a reconnect may still be scheduled.
	StateError
	// StateFailed is terminal: the retry ceiling was reached. Only a fresh
	// manual Connect leaves this state.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateError:
		return "error"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// live reports whether a Connect call should be a no-op in this state.
func (s State) live() bool {
	switch s {
	case StateConnecting, StateConnected, StateAuthenticated:
		return true
	default:
		return false
	}
}
