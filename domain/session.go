package domain

import (
	"fmt"

	"hr-messenger/errors"
)

// ConnectionState is the gateway-side lifecycle of one realtime connection.
type ConnectionState int

const (
	Unjoined ConnectionState = iota
	Joined
	Disconnected
)

func (s ConnectionState) String() string {
	switch s {
	case Unjoined:
		return "unjoined"
	case Joined:
		return "joined"
	case Disconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type SessionEventKind int

const (
	EventJoin SessionEventKind = iota
	EventSend
	EventClose
)

// SessionEvent drives Session transitions. UserID is only meaningful for EventJoin.
type SessionEvent struct {
	Kind   SessionEventKind
	UserID string
}

func JoinEvent(userID string) SessionEvent { return SessionEvent{Kind: EventJoin, UserID: userID} }
func SendEvent() SessionEvent              { return SessionEvent{Kind: EventSend} }
func CloseEvent() SessionEvent             { return SessionEvent{Kind: EventClose} }

// Session associates a connection with the identity it announced.
type Session struct {
	State  ConnectionState
	UserID string
}

func NewSession() Session {
	return Session{State: Unjoined}
}

// Apply returns the session after e, or an error when e is not allowed in the current state.
// A rejected event leaves the session unchanged.
func (s Session) Apply(e SessionEvent) (Session, error) {
	if e.Kind == EventClose {
		return Session{State: Disconnected, UserID: s.UserID}, nil
	}
	if s.State == Disconnected {
		return s, errors.ErrSessionClosed
	}

	switch e.Kind {
	case EventJoin:
		if err := ValidateUserID(e.UserID); err != nil {
			return s, err
		}
		if s.State == Joined && s.UserID != e.UserID {
			return s, fmt.Errorf("%w: joined as %q", errors.ErrAlreadyJoined, s.UserID)
		}
		return Session{State: Joined, UserID: e.UserID}, nil
	case EventSend:
		if s.State != Joined {
			return s, errors.ErrNotJoined
		}
		return s, nil
	default:
		return s, fmt.Errorf("unsupported session event %d", e.Kind)
	}
}

func (s Session) Room() RoomID {
	return RoomOf(s.UserID)
}
