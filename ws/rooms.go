package ws

import "sync"

// RoomStore tracks which handlers belong to which broadcast room. A room
// id is either a user id (personal inbox) or a conversation id.
type RoomStore struct {
	sync.RWMutex
	rooms map[string]map[*Handler]struct{}
}

func newRoomStore() *RoomStore {
	return &RoomStore{
		rooms: make(map[string]map[*Handler]struct{}),
	}
}

func (rs *RoomStore) join(room string, h *Handler) {
	rs.Lock()
	m, ok := rs.rooms[room]
	if !ok {
		m = make(map[*Handler]struct{})
		rs.rooms[room] = m
	}
	m[h] = struct{}{}
	rs.Unlock()
}

func (rs *RoomStore) leave(room string, h *Handler) {
	rs.Lock()
	if m, ok := rs.rooms[room]; ok {
		delete(m, h)
		if len(m) == 0 {
			delete(rs.rooms, room)
		}
	}
	rs.Unlock()
}

// occupied reports whether any live connection is currently in the room.
func (rs *RoomStore) occupied(room string) bool {
	rs.RLock()
	n := len(rs.rooms[room])
	rs.RUnlock()
	return n > 0
}

func (rs *RoomStore) members(room string) []*Handler {
	rs.RLock()
	defer rs.RUnlock()

	m := rs.rooms[room]
	if len(m) == 0 {
		return nil
	}
	out := make([]*Handler, 0, len(m))
	for h := range m {
		out = append(out, h)
	}
	return out
}
