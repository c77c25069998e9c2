package server

import (
	"slices"
	"sync"
)

// RoomIndex tracks which connections share a room. A room exists only while
// it has members.
type RoomIndex struct {
	mu      sync.RWMutex
	members map[string]map[uint32]bool // roomID -> set of connIDs
	roomOf  map[uint32]string          // connID -> roomID
}

// NewRoomIndex creates an empty room index.
func NewRoomIndex() *RoomIndex {
	return &RoomIndex{
		members: make(map[string]map[uint32]bool),
		roomOf:  make(map[uint32]string),
	}
}

// Join adds a connection to a room, removing it from any previous room.
// prev is the room it left ("" if none or if it was already in roomID).
func (ri *RoomIndex) Join(connID uint32, roomID string) (prev string) {
	ri.mu.Lock()
	defer ri.mu.Unlock()

	if cur, ok := ri.roomOf[connID]; ok {
		if cur == roomID {
			return ""
		}
		ri.removeLocked(connID, cur)
		prev = cur
	}

	if _, ok := ri.members[roomID]; !ok {
		ri.members[roomID] = make(map[uint32]bool)
	}
	ri.members[roomID][connID] = true
	ri.roomOf[connID] = roomID
	return prev
}

// Leave removes a connection from its current room and returns that room.
func (ri *RoomIndex) Leave(connID uint32) (roomID string) {
	ri.mu.Lock()
	defer ri.mu.Unlock()

	roomID, ok := ri.roomOf[connID]
	if !ok {
		return ""
	}
	ri.removeLocked(connID, roomID)
	return roomID
}

func (ri *RoomIndex) removeLocked(connID uint32, roomID string) {
	delete(ri.roomOf, connID)
	if set, ok := ri.members[roomID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(ri.members, roomID)
		}
	}
}

// Members returns the connection ids in a room in ascending order.
func (ri *RoomIndex) Members(roomID string) []uint32 {
	ri.mu.RLock()
	defer ri.mu.RUnlock()

	set := ri.members[roomID]
	result := make([]uint32, 0, len(set))
	for id := range set {
		result = append(result, id)
	}
	slices.Sort(result)
	return result
}

// RoomOf returns the room a connection is in, or "" if none.
func (ri *RoomIndex) RoomOf(connID uint32) string {
	ri.mu.RLock()
	defer ri.mu.RUnlock()
	return ri.roomOf[connID]
}

// Count returns the number of non-empty rooms.
func (ri *RoomIndex) Count() int {
	ri.mu.RLock()
	defer ri.mu.RUnlock()
	return len(ri.members)
}
