package push

// State is the lifecycle state of the push connection.
type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
	StateReconnecting State = "RECONNECTING"
	// StateFailed is terminal until the next explicit Connect.
	StateFailed State = "FAILED"
)

// active reports whether a connection loop owns the state.
func (s State) active() bool {
	return s == StateConnecting || s == StateConnected || s == StateReconnecting
}

// StateChange is published on every state transition.
type StateChange struct {
	From     State
	To       State
	Attempts int
	// Err is the failure that caused the transition, if any.
	Err error
}
