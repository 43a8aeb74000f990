package main

import (
	"sync"

	"github.com/gorilla/websocket"
)

// client is what the hub needs from a connected socket.
type client interface {
	ID() string
	Send(payload []byte) error
	Close(code int, reason string)
}

// Hub tracks live sockets and the conversation rooms they joined. A user may
// hold several sockets; each joins rooms independently.
type Hub struct {
	mu          sync.RWMutex
	clients     map[string]client
	rooms       map[string]map[string]client
	memberships map[string]map[string]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients:     make(map[string]client),
		rooms:       make(map[string]map[string]client),
		memberships: make(map[string]map[string]struct{}),
	}
}

// Register starts tracking c.
func (h *Hub) Register(c client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID()] = c
	h.memberships[c.ID()] = make(map[string]struct{})
}

// Unregister removes c and all of its room memberships.
func (h *Hub) Unregister(c client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unregisterLocked(c.ID())
}

func (h *Hub) unregisterLocked(id string) {
	if _, ok := h.clients[id]; !ok {
		return
	}
	for room := range h.memberships[id] {
		h.leaveLocked(room, id)
	}
	delete(h.memberships, id)
	delete(h.clients, id)
}

// Join adds c to room. It reports false if c is not registered.
func (h *Hub) Join(room string, c client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.ID()]; !ok {
		return false
	}
	members := h.rooms[room]
	if members == nil {
		members = make(map[string]client)
		h.rooms[room] = members
	}
	members[c.ID()] = c
	h.memberships[c.ID()][room] = struct{}{}
	return true
}

// Leave removes c from room.
func (h *Hub) Leave(room string, c client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(room, c.ID())
}

func (h *Hub) leaveLocked(room, id string) {
	if members := h.rooms[room]; members != nil {
		delete(members, id)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	if rooms := h.memberships[id]; rooms != nil {
		delete(rooms, room)
	}
}

// Broadcast delivers payload to every member of room and returns how many
// accepted it. Members that fail to accept are unregistered.
func (h *Hub) Broadcast(room string, payload []byte) int {
	h.mu.RLock()
	targets := make([]client, 0, len(h.rooms[room]))
	for _, c := range h.rooms[room] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	delivered := 0
	var failed []string
	for _, c := range targets {
		if err := c.Send(payload); err != nil {
			failed = append(failed, c.ID())
			continue
		}
		delivered++
	}

	if len(failed) > 0 {
		h.mu.Lock()
		for _, id := range failed {
			h.unregisterLocked(id)
		}
		h.mu.Unlock()
	}
	return delivered
}

// RoomSize returns the number of sockets in room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Rooms returns the rooms c has joined.
func (h *Hub) Rooms(c client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rooms := make([]string, 0, len(h.memberships[c.ID()]))
	for room := range h.memberships[c.ID()] {
		rooms = append(rooms, room)
	}
	return rooms
}

// Len returns the number of live sockets.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every socket and clears all rooms.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]client)
	h.rooms = make(map[string]map[string]client)
	h.memberships = make(map[string]map[string]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.Close(websocket.CloseGoingAway, "server shutting down")
	}
}
