package event

import (
	"hr-messenger/domain"
	"hr-messenger/errors"
)

// DomainEvent is anything a connection sink can be asked to deliver.
type DomainEvent interface {
	RoomID() domain.RoomID
}

// MessageReceived is pushed to every connection of the receiver's room once the message is persisted.
type MessageReceived struct {
	Message domain.Message
}

func (m MessageReceived) RoomID() domain.RoomID {
	return domain.RoomOf(m.Message.ReceiverID)
}

// MessageAcked confirms a send to the connection that issued it.
type MessageAcked struct {
	ClientID string
	Message  domain.Message
}

func (m MessageAcked) RoomID() domain.RoomID {
	return domain.RoomOf(m.Message.SenderID)
}

// MessageRejected reports a failed action to the connection that issued it, and only to it.
type MessageRejected struct {
	UserID   string
	ClientID string
	Kind     errors.Kind
	Reason   string
}

func (m MessageRejected) RoomID() domain.RoomID {
	return domain.RoomOf(m.UserID)
}

// Joined confirms a join to the connection.
type Joined struct {
	UserID string
}

func (j Joined) RoomID() domain.RoomID {
	return domain.RoomOf(j.UserID)
}

// Rejected builds the MessageRejected event for err.
func Rejected(userID, clientID string, err error) MessageRejected {
	return MessageRejected{
		UserID:   userID,
		ClientID: clientID,
		Kind:     errors.KindOf(err),
		Reason:   err.Error(),
	}
}
