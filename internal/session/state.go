package session

// State is a step of the session lifecycle. States only move forward;
// StateClosed is terminal and reachable from every other state.
type State int

const (
	StateInit State = iota
	StateLaunching
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateLaunching:
		return "LAUNCHING"
	case StateActive:
		return "ACTIVE"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}
