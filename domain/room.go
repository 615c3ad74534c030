package domain

// RoomID is the logical room of a user. A room is keyed by the user id itself.
type RoomID string

// ConnectionID identifies one physical realtime connection.
type ConnectionID string

func RoomOf(userID string) RoomID {
	return RoomID(userID)
}
