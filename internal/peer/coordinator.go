package peer

import (
	"drawing-board/internal/canvas"
	"drawing-board/internal/protocol"
)

// SyncState is the join-protocol state of a peer.
type SyncState int

// A peer starts Unsynchronized and becomes Synchronized once.
const (
	Unsynchronized SyncState = iota
	Synchronized
)

func (s SyncState) String() string {
	if s == Synchronized {
		return "synchronized"
	}
	return "unsynchronized"
}

// Coordinator runs the late-joiner protocol. A peer that joins an occupied
// room asks for history; peers holding history answer; the first answer
// addressed to the requester wins and the rest are dropped. The transition to
// Synchronized happens once and is never undone.
type Coordinator struct {
	self  string
	state SyncState
}

// NewCoordinator returns an unsynchronized coordinator for the peer self.
func NewCoordinator(self string) *Coordinator {
	return &Coordinator{self: self}
}

// State is the current sync state.
func (c *Coordinator) State() SyncState { return c.state }

// Joined handles a successful subscription observing count members. It
// returns the request to broadcast when others are present. Alone in the
// room, the empty log is authoritative and the peer is synchronized at once.
func (c *Coordinator) Joined(count int) (protocol.RequestSync, bool) {
	if c.state == Synchronized {
		return protocol.RequestSync{}, false
	}
	if count <= 1 {
		c.state = Synchronized
		return protocol.RequestSync{}, false
	}
	return protocol.RequestSync{RequesterID: c.self}, true
}

// Answer builds the reply to req from history. Requests from self and
// requests that would be answered with an empty history get no reply.
func (c *Coordinator) Answer(req protocol.RequestSync, history []canvas.Command) (protocol.SyncState, bool) {
	if req.RequesterID == c.self || len(history) == 0 {
		return protocol.SyncState{}, false
	}
	return protocol.SyncState{TargetID: req.RequesterID, History: history}, true
}

// Accept reports whether ans should replace the local history. Only the
// first answer addressed to self while unsynchronized is accepted.
func (c *Coordinator) Accept(ans protocol.SyncState) bool {
	if ans.TargetID != c.self || c.state == Synchronized {
		return false
	}
	c.state = Synchronized
	return true
}
