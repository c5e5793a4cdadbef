// Package canvas holds the replicated drawing state of one peer: the command
// types, the bounded command log and the applier that feeds a renderer.
package canvas

import "errors"

// ErrUnknownKind is returned when decoding a command with an unrecognised kind.
var ErrUnknownKind = errors.New("canvas: unknown command kind")

// Point is a canvas-size independent coordinate. Both axes are in [0,1].
type Point struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
}

// Pt returns a point with both coordinates clamped into [0,1].
func Pt(x, y float64) Point {
	return Point{X: clamp01(x), Y: clamp01(y)}
}

func clamp01(v float64) float64 {
	return min(1, max(0, v))
}

// Mode selects whether a segment paints or erases.
type Mode string

// Brush modes.
const (
	ModeDraw  Mode = "draw"
	ModeErase Mode = "erase"
)

// Segment is one straight stroke segment.
type Segment struct {
	From      Point   `json:"from" msgpack:"from"`
	To        Point   `json:"to" msgpack:"to"`
	Color     string  `json:"color" msgpack:"color"`
	Size      float64 `json:"size" msgpack:"size"`
	Mode      Mode    `json:"mode" msgpack:"mode"`
	AuthorID  string  `json:"authorId" msgpack:"authorId"`
	Timestamp int64   `json:"ts" msgpack:"ts"` // unix millis
}

// Clear blanks the whole surface.
type Clear struct {
	AuthorID  string `json:"authorId" msgpack:"authorId"`
	Timestamp int64  `json:"ts" msgpack:"ts"`
}

// Kind discriminates the Command union.
type Kind string

// Command kinds.
const (
	KindSegment Kind = "segment"
	KindClear   Kind = "clear"
)

// Command is an immutable unit of canvas mutation, either a Segment or a
// Clear. The zero Command is invalid; build one with SegmentCommand or
// ClearCommand.
type Command struct {
	kind    Kind
	segment Segment
	clear   Clear
}

// SegmentCommand wraps s as a Command.
func SegmentCommand(s Segment) Command {
	return Command{kind: KindSegment, segment: s}
}

// ClearCommand wraps c as a Command.
func ClearCommand(c Clear) Command {
	return Command{kind: KindClear, clear: c}
}

// Kind reports which variant c holds.
func (c Command) Kind() Kind { return c.kind }

// Segment returns the segment payload and whether c is a segment.
func (c Command) Segment() (Segment, bool) {
	return c.segment, c.kind == KindSegment
}

// Clear returns the clear payload and whether c is a clear.
func (c Command) Clear() (Clear, bool) {
	return c.clear, c.kind == KindClear
}

// AuthorID is the id of the peer that created the command.
func (c Command) AuthorID() string {
	if c.kind == KindClear {
		return c.clear.AuthorID
	}
	return c.segment.AuthorID
}

// Timestamp is the creation time in unix milliseconds.
func (c Command) Timestamp() int64 {
	if c.kind == KindClear {
		return c.clear.Timestamp
	}
	return c.segment.Timestamp
}
