// Package channel defines the contract between a peer and the broadcast
// service that connects it to the rest of a room.
package channel

import (
	"context"
	"errors"

	"drawing-board/internal/identity"
	"drawing-board/internal/protocol"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("channel: closed")

// Channel is an owned subscription to one room. Events from a single sender
// arrive in the order they were sent; there is no ordering across senders.
type Channel interface {
	// Send publishes ev to the other members of the room.
	Send(ctx context.Context, ev protocol.Event) error
	// Events yields inbound events. The first event is always
	// protocol.Subscribed. The stream is closed when the subscription ends.
	Events() <-chan protocol.Event
	// MemberCount is the last observed size of the presence roster.
	MemberCount() int
	// Close tears the subscription down. It is safe to call more than once.
	Close() error
}

// Subscriber opens channels.
type Subscriber interface {
	Subscribe(ctx context.Context, room string, id identity.Identity) (Channel, error)
}

// PresenceName is the channel name used for a room.
func PresenceName(room string) string {
	return "presence-board-" + room
}
