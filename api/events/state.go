package events

// StreamState is the lifecycle state of the event stream.
type StreamState int

const (
	// StateIdle is a stream that has not been started.
	StateIdle StreamState = iota
	// StateConnecting is a stream performing its WebSocket handshake.
	StateConnecting
	// StateOpen is a stream with an established connection.
	StateOpen
	// StateClosing is a stream whose Close interrupted a login, handshake or backoff.
	StateClosing
	// StateReconnecting is a stream waiting out the backoff or re-logging in.
	StateReconnecting
	// StateClosed is terminal.
	StateClosed
)

func (s StreamState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// transitions lists the states reachable from each state.
var transitions = map[StreamState][]StreamState{
	StateIdle:         {StateConnecting, StateClosing, StateClosed},
	StateConnecting:   {StateOpen, StateReconnecting, StateClosing, StateClosed},
	StateOpen:         {StateReconnecting, StateClosed},
	StateReconnecting: {StateConnecting, StateClosing, StateClosed},
	StateClosing:      {StateClosed},
	StateClosed:       nil,
}

// CanTransition reports whether from → to is a valid move.
func CanTransition(from, to StreamState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
