package runtime

import (
	"sync"

	"hr-messenger/contract"
	"hr-messenger/domain"
)

type Set map[domain.ConnectionID]struct{}

type membership struct {
	room domain.RoomID
	sink contract.EventSink
}

// Registry is the in-memory room map of the gateway.
// A connection belongs to at most one room, a room holds every connection of one user.
type Registry struct {
	mu          sync.RWMutex
	sessions    map[domain.ConnectionID]membership // map connection -> room and sink
	roomMembers map[domain.RoomID]Set              // map room to connections
}

func NewRegistry() *Registry {
	return &Registry{
		sessions:    make(map[domain.ConnectionID]membership),
		roomMembers: make(map[domain.RoomID]Set),
	}
}

// GetSinksForRoom retrieves the sinks of every connection joined to roomID, except exclude.
// It performs a two-step lookup:
// 1. Identifies connection IDs associated with the room via roomMembers.
// 2. Resolves those IDs into actual EventSinks using the sessions map.
//
// Returns nil if the room doesn't exist or has no other members.
func (r *Registry) GetSinksForRoom(roomID domain.RoomID, exclude domain.ConnectionID) []contract.EventSink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.roomMembers[roomID]
	if !ok {
		return nil
	}
	var activeSinks []contract.EventSink
	for connectionID := range members {
		if connectionID == exclude {
			continue
		}
		if m, exists := r.sessions[connectionID]; exists {
			activeSinks = append(activeSinks, m.sink)
		}
	}
	return activeSinks
}

// Subscribe assigns a connection to a room. Subscribing again to the same room is a no-op,
// so a connection never holds two memberships. If the room does not yet exist in the registry,
// it is initialized on the fly. Returns true when a new membership was created.
func (r *Registry) Subscribe(connectionID domain.ConnectionID, roomID domain.RoomID, sink contract.EventSink) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.sessions[connectionID]; ok {
		if current.room == roomID {
			return false
		}
		r.leave(connectionID, current.room)
	}

	r.sessions[connectionID] = membership{room: roomID, sink: sink}
	if _, ok := r.roomMembers[roomID]; !ok {
		r.roomMembers[roomID] = make(Set)
	}
	r.roomMembers[roomID][connectionID] = struct{}{}
	return true
}

// Unsubscribe removes a connection from the registry and from its room.
// Empty rooms are removed to prevent memory leaks over time.
func (r *Registry) Unsubscribe(connectionID domain.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.sessions[connectionID]
	if !ok {
		return
	}
	delete(r.sessions, connectionID)
	r.leave(connectionID, current.room)
}

func (r *Registry) leave(connectionID domain.ConnectionID, roomID domain.RoomID) {
	if members, ok := r.roomMembers[roomID]; ok {
		delete(members, connectionID)

		// If no one is left in the room, remove the room entry entirely
		if len(members) == 0 {
			delete(r.roomMembers, roomID)
		}
	}
}

// Members lists the connections joined to roomID.
func (r *Registry) Members(roomID domain.RoomID) []domain.ConnectionID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]domain.ConnectionID, 0, len(r.roomMembers[roomID]))
	for connectionID := range r.roomMembers[roomID] {
		members = append(members, connectionID)
	}
	return members
}

// IsOnline reports whether at least one connection is joined to the user's room.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.roomMembers[domain.RoomOf(userID)]) > 0
}

func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.roomMembers)
}
