package client

import "fmt"

// State is the lifecycle of the realtime link as seen by the controller.
type State int

const (
	Disconnected State = iota
	Connecting
	Ready
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	case Reconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CanBecome reports whether the controller may move from s to next.
// Ready is only reached through Connecting, so every connection attempt re-joins.
func (s State) CanBecome(next State) bool {
	switch s {
	case Disconnected:
		return next == Connecting
	case Connecting:
		return next == Ready || next == Reconnecting || next == Disconnected
	case Ready:
		return next == Reconnecting || next == Disconnected
	case Reconnecting:
		return next == Connecting || next == Disconnected
	default:
		return false
	}
}
