// Package protocol defines the events exchanged over a board channel and
// their wire encodings.
package protocol

import "drawing-board/internal/canvas"

// Event names as they appear on the wire. Names prefixed with "client-" are
// peer-to-peer events fanned out by the channel; "board:" names are emitted
// by the channel itself.
const (
	NameSegments    = "client-segments"
	NameClear       = "client-clear"
	NameRequestSync = "client-request-sync"
	NameSyncState   = "client-sync-state"

	NameConnected     = "board:connection_established"
	NameSubscribe     = "board:subscribe"
	NameSubscribed    = "board:subscription_succeeded"
	NameMemberAdded   = "board:member_added"
	NameMemberRemoved = "board:member_removed"
	NameError         = "board:error"
	NameStatus        = "board:status"
)

// ClientPrefix marks events that peers may send to each other.
const ClientPrefix = "client-"

// Event is the closed set of messages a Channel carries.
type Event interface {
	Name() string
	isEvent()
}

// SegmentsBatch carries locally drawn segments flushed together.
type SegmentsBatch struct {
	AuthorID string           `json:"authorId" msgpack:"authorId"`
	Segments []canvas.Segment `json:"segments" msgpack:"segments"`
}

// ClearBoard propagates a clear command.
type ClearBoard struct {
	canvas.Clear
}

// RequestSync asks peers holding history to send it to the requester.
type RequestSync struct {
	RequesterID string `json:"requesterId" msgpack:"requesterId"`
}

// SyncState answers a RequestSync with a full copy of the sender's log.
type SyncState struct {
	TargetID string           `json:"targetId" msgpack:"targetId"`
	History  []canvas.Command `json:"history" msgpack:"history"`
}

// Member is one entry of the presence roster.
type Member struct {
	ID   string `json:"id" msgpack:"id"`
	Name string `json:"name" msgpack:"name"`
}

// Subscribed is delivered once, first, when joining a channel succeeds.
type Subscribed struct {
	SocketID string   `json:"socketId,omitempty" msgpack:"socketId,omitempty"`
	Count    int      `json:"count" msgpack:"count"`
	Members  []Member `json:"members,omitempty" msgpack:"members,omitempty"`
}

// MemberAdded reports a peer joining the channel.
type MemberAdded struct {
	Member Member `json:"member" msgpack:"member"`
	Count  int    `json:"count" msgpack:"count"`
}

// MemberRemoved reports a peer leaving the channel.
type MemberRemoved struct {
	Member Member `json:"member" msgpack:"member"`
	Count  int    `json:"count" msgpack:"count"`
}

// LinkState describes the health of the underlying connection.
type LinkState string

// Link states.
const (
	LinkConnected    LinkState = "connected"
	LinkError        LinkState = "error"
	LinkDisconnected LinkState = "disconnected"
)

// StatusChanged is emitted by channel adapters when the link changes state.
type StatusChanged struct {
	State  LinkState `json:"state" msgpack:"state"`
	Reason string    `json:"reason,omitempty" msgpack:"reason,omitempty"`
}

// Name implementations bind each payload to its event name.

func (SegmentsBatch) Name() string { return NameSegments }
func (ClearBoard) Name() string    { return NameClear }
func (RequestSync) Name() string   { return NameRequestSync }
func (SyncState) Name() string     { return NameSyncState }
func (Subscribed) Name() string    { return NameSubscribed }
func (MemberAdded) Name() string   { return NameMemberAdded }
func (MemberRemoved) Name() string { return NameMemberRemoved }
func (StatusChanged) Name() string { return NameStatus }

func (SegmentsBatch) isEvent() {}
func (ClearBoard) isEvent()    {}
func (RequestSync) isEvent()   {}
func (SyncState) isEvent()     {}
func (Subscribed) isEvent()    {}
func (MemberAdded) isEvent()   {}
func (MemberRemoved) isEvent() {}
func (StatusChanged) isEvent() {}
