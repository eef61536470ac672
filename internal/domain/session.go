package domain

// ConnState is the lifecycle state of a session's duplex connection.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected // transport is up, join not yet acknowledged
	StateActive    // join emitted, events flowing
)

// String returns the lowercase state name.
func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateActive:
		return "active"
	default:
		return "disconnected"
	}
}

// Session identifies one authenticated actor and its connection state.
// Exactly one live connection exists per session at a time.
type Session struct {
	ActorID string    `json:"actorId"`
	Role    Role      `json:"role"`
	State   ConnState `json:"state"`
}
