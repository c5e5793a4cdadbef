package canvas

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// commandWire is the flat wire form shared by the JSON and msgpack codecs.
type commandWire struct {
	Kind      Kind    `json:"kind" msgpack:"kind"`
	From      *Point  `json:"from,omitempty" msgpack:"from,omitempty"`
	To        *Point  `json:"to,omitempty" msgpack:"to,omitempty"`
	Color     string  `json:"color,omitempty" msgpack:"color,omitempty"`
	Size      float64 `json:"size,omitempty" msgpack:"size,omitempty"`
	Mode      Mode    `json:"mode,omitempty" msgpack:"mode,omitempty"`
	AuthorID  string  `json:"authorId" msgpack:"authorId"`
	Timestamp int64   `json:"ts" msgpack:"ts"`
}

func (c Command) wire() (commandWire, error) {
	switch c.kind {
	case KindSegment:
		s := c.segment
		return commandWire{
			Kind:      KindSegment,
			From:      &s.From,
			To:        &s.To,
			Color:     s.Color,
			Size:      s.Size,
			Mode:      s.Mode,
			AuthorID:  s.AuthorID,
			Timestamp: s.Timestamp,
		}, nil
	case KindClear:
		return commandWire{Kind: KindClear, AuthorID: c.clear.AuthorID, Timestamp: c.clear.Timestamp}, nil
	default:
		return commandWire{}, fmt.Errorf("%w: %q", ErrUnknownKind, c.kind)
	}
}

func (w commandWire) command() (Command, error) {
	switch w.Kind {
	case KindSegment:
		if w.From == nil || w.To == nil {
			return Command{}, fmt.Errorf("canvas: segment without endpoints")
		}
		mode := w.Mode
		if mode != ModeErase {
			mode = ModeDraw
		}
		return SegmentCommand(Segment{
			From:      *w.From,
			To:        *w.To,
			Color:     w.Color,
			Size:      w.Size,
			Mode:      mode,
			AuthorID:  w.AuthorID,
			Timestamp: w.Timestamp,
		}), nil
	case KindClear:
		return ClearCommand(Clear{AuthorID: w.AuthorID, Timestamp: w.Timestamp}), nil
	default:
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownKind, w.Kind)
	}
}

// MarshalJSON implements json.Marshaler.
func (c Command) MarshalJSON() ([]byte, error) {
	w, err := c.wire()
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Command) UnmarshalJSON(data []byte) error {
	var w commandWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	cmd, err := w.command()
	if err != nil {
		return err
	}
	*c = cmd
	return nil
}

// EncodeMsgpack implements msgpack.CustomEncoder.
func (c Command) EncodeMsgpack(enc *msgpack.Encoder) error {
	w, err := c.wire()
	if err != nil {
		return err
	}
	return enc.Encode(w)
}

// DecodeMsgpack implements msgpack.CustomDecoder.
func (c *Command) DecodeMsgpack(dec *msgpack.Decoder) error {
	var w commandWire
	if err := dec.Decode(&w); err != nil {
		return err
	}
	cmd, err := w.command()
	if err != nil {
		return err
	}
	*c = cmd
	return nil
}
