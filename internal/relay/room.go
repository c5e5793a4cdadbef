package relay

import (
	"sort"
	"sync"

	"drawing-board/internal/protocol"
)

// Room is one presence channel. Membership is counted per connection.
type Room struct {
	ID      string
	clients map[*Client]protocol.Member
	mu      sync.RWMutex
}

// Hub manages all rooms. Rooms are created on first join and dropped when
// their last member leaves.
type Hub struct {
	rooms map[string]*Room
	mu    sync.Mutex
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]*Room)}
}

// Join adds c to room id and returns the room with the resulting count and
// roster, taken atomically.
func (h *Hub) Join(id string, c *Client) (*Room, int, []protocol.Member) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[id]
	if !ok {
		room = &Room{ID: id, clients: make(map[*Client]protocol.Member)}
		h.rooms[id] = room
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	room.clients[c] = c.Member
	roster := make([]protocol.Member, 0, len(room.clients))
	for _, m := range room.clients {
		roster = append(roster, m)
	}
	sort.Slice(roster, func(i, j int) bool { return roster[i].ID < roster[j].ID })
	return room, len(room.clients), roster
}

// Leave removes c from room and returns the remaining member count.
func (h *Hub) Leave(room *Room, c *Client) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	room.mu.Lock()
	delete(room.clients, c)
	n := len(room.clients)
	room.mu.Unlock()

	if n == 0 && h.rooms[room.ID] == room {
		delete(h.rooms, room.ID)
	}
	return n
}

// Count returns the number of connections in room id.
func (h *Hub) Count(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[id]
	if !ok {
		return 0
	}
	room.mu.RLock()
	defer room.mu.RUnlock()
	return len(room.clients)
}

// Rooms returns the number of live rooms.
func (h *Hub) Rooms() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// Broadcast sends a frame to all clients in the room except the sender.
func (r *Room) Broadcast(msg []byte, sender *Client) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for client := range r.clients {
		if client != sender {
			client.enqueue(msg)
		}
	}
}
