package transport

// State represents the lifecycle of the channel.
type State int

const (
	// StateDisconnected means no connection exists and none is in progress.
	StateDisconnected State = iota

	// StateConnecting means a dial or reconnect attempt is in flight.
	StateConnecting

	// StateConnected means the channel is live and can send frames.
	StateConnected

	// StateError means the last attempt failed and the channel gave up.
	StateError
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
