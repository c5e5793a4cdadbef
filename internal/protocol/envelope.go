package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrUnknownEvent is returned when decoding an event name outside the
// protocol.
var ErrUnknownEvent = errors.New("protocol: unknown event")

// Envelope is the JSON frame used on websocket connections.
type Envelope struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	UserID  string          `json:"userId,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Connected is the first frame a relay sends on a new socket.
type Connected struct {
	SocketID string `json:"socketId"`
}

// Subscribe asks the relay to join a presence channel with a signed grant.
type Subscribe struct {
	Channel     string `json:"channel"`
	Auth        string `json:"auth"`
	ChannelData string `json:"channel_data,omitempty"`
}

// Error codes carried by board:error frames.
const (
	CodeBadRequest   = 4000
	CodeUnauthorized = 4009
	CodeRateLimited  = 4301
)

// ErrorData is the payload of a board:error frame.
type ErrorData struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewEnvelope wraps an arbitrary payload under the given event name.
func NewEnvelope(name string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", name, err)
	}
	return Envelope{Event: name, Data: data}, nil
}

// Encode wraps ev in an envelope.
func Encode(ev Event) (Envelope, error) {
	return NewEnvelope(ev.Name(), ev)
}

// Decode turns an envelope carrying a peer-visible event back into an Event.
func Decode(env Envelope) (Event, error) {
	return decode(env.Event, func(v any) error {
		if len(env.Data) == 0 {
			return fmt.Errorf("decode %s: empty payload", env.Event)
		}
		return json.Unmarshal(env.Data, v)
	})
}

// Packet is the msgpack frame used on broker channels, where every
// subscriber, including the sender, receives every publish.
type Packet struct {
	Event  string             `msgpack:"e"`
	Sender string             `msgpack:"s"`
	Data   msgpack.RawMessage `msgpack:"d"`
}

// MarshalPacket encodes ev as a msgpack packet tagged with sender.
func MarshalPacket(sender string, ev Event) ([]byte, error) {
	data, err := msgpack.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.Name(), err)
	}
	return msgpack.Marshal(Packet{Event: ev.Name(), Sender: sender, Data: data})
}

// UnmarshalPacket decodes a packet produced by MarshalPacket.
func UnmarshalPacket(b []byte) (string, Event, error) {
	var p Packet
	if err := msgpack.Unmarshal(b, &p); err != nil {
		return "", nil, fmt.Errorf("decode packet: %w", err)
	}
	ev, err := decode(p.Event, func(v any) error {
		return msgpack.Unmarshal(p.Data, v)
	})
	return p.Sender, ev, err
}

func decode(name string, unmarshal func(any) error) (Event, error) {
	switch name {
	case NameSegments:
		var e SegmentsBatch
		err := unmarshal(&e)
		return finish(e, err)
	case NameClear:
		var e ClearBoard
		err := unmarshal(&e)
		return finish(e, err)
	case NameRequestSync:
		var e RequestSync
		err := unmarshal(&e)
		return finish(e, err)
	case NameSyncState:
		var e SyncState
		err := unmarshal(&e)
		return finish(e, err)
	case NameSubscribed:
		var e Subscribed
		err := unmarshal(&e)
		return finish(e, err)
	case NameMemberAdded:
		var e MemberAdded
		err := unmarshal(&e)
		return finish(e, err)
	case NameMemberRemoved:
		var e MemberRemoved
		err := unmarshal(&e)
		return finish(e, err)
	case NameStatus:
		var e StatusChanged
		err := unmarshal(&e)
		return finish(e, err)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
}

func finish(ev Event, err error) (Event, error) {
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", ev.Name(), err)
	}
	return ev, nil
}
