// Package memory is an in-process channel.Subscriber. Every event is passed
// through the JSON envelope codec so members only ever share copies.
package memory

import (
	"context"
	"fmt"
	"sync"

	"drawing-board/internal/channel"
	"drawing-board/internal/identity"
	"drawing-board/internal/protocol"
)

// Hub manages all rooms and their members.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]map[*member]struct{}
	echo  bool
}

// Option configures a Hub.
type Option func(*Hub)

// WithEcho delivers every event back to its sender as well, the way a
// broker fan-out does.
func WithEcho() Option {
	return func(h *Hub) { h.echo = true }
}

// NewHub returns an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{rooms: make(map[string]map[*member]struct{})}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe joins room. The returned channel's first event reports the room
// size including the new member.
func (h *Hub) Subscribe(ctx context.Context, room string, id identity.Identity) (channel.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m := &member{hub: h, room: room, id: id, box: newMailbox()}

	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*member]struct{})
		h.rooms[room] = members
	}
	members[m] = struct{}{}

	roster := make([]protocol.Member, 0, len(members))
	for other := range members {
		roster = append(roster, protocol.Member{ID: other.id.ID, Name: other.id.DisplayName})
	}
	m.box.put(protocol.Subscribed{Count: len(members), Members: roster})
	h.broadcastLocked(room, m, protocol.MemberAdded{Member: m.presence(), Count: len(members)}, false)
	return m, nil
}

// Count returns the number of members in room.
func (h *Hub) Count(room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[room])
}

func (h *Hub) broadcastLocked(room string, sender *member, ev protocol.Event, echo bool) {
	for m := range h.rooms[room] {
		if m != sender || echo {
			m.box.put(ev)
		}
	}
}

func (h *Hub) leave(m *member) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.rooms[m.room]
	if _, ok := members[m]; !ok {
		return
	}
	delete(members, m)
	if len(members) == 0 {
		delete(h.rooms, m.room)
		return
	}
	h.broadcastLocked(m.room, m, protocol.MemberRemoved{Member: m.presence(), Count: len(members)}, false)
}

type member struct {
	hub       *Hub
	room      string
	id        identity.Identity
	box       *mailbox
	closeOnce sync.Once
	closed    bool
}

func (m *member) presence() protocol.Member {
	return protocol.Member{ID: m.id.ID, Name: m.id.DisplayName}
}

func (m *member) Send(ctx context.Context, ev protocol.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	env, err := protocol.Encode(ev)
	if err != nil {
		return err
	}
	cp, err := protocol.Decode(env)
	if err != nil {
		return fmt.Errorf("memory: %w", err)
	}

	m.hub.mu.Lock()
	defer m.hub.mu.Unlock()
	if m.closed {
		return channel.ErrClosed
	}
	m.hub.broadcastLocked(m.room, m, cp, m.hub.echo)
	return nil
}

func (m *member) Events() <-chan protocol.Event { return m.box.out }

func (m *member) MemberCount() int { return m.hub.Count(m.room) }

func (m *member) Close() error {
	m.closeOnce.Do(func() {
		m.hub.mu.Lock()
		m.closed = true
		m.hub.mu.Unlock()
		m.hub.leave(m)
		m.box.close()
	})
	return nil
}
