package canvas

import "fmt"

// Recorder is a Renderer that records every call as a string. It is useful
// for headless peers and for asserting on draw order.
type Recorder struct {
	Calls []string
}

// Render records cmd.
func (r *Recorder) Render(cmd Command, width, height int) {
	switch cmd.Kind() {
	case KindSegment:
		s, _ := cmd.Segment()
		r.Calls = append(r.Calls, fmt.Sprintf("segment %s %.4f,%.4f->%.4f,%.4f %s %g %s @%dx%d",
			s.AuthorID, s.From.X, s.From.Y, s.To.X, s.To.Y, s.Color, s.Size, s.Mode, width, height))
	case KindClear:
		c, _ := cmd.Clear()
		r.Calls = append(r.Calls, fmt.Sprintf("clear %s @%dx%d", c.AuthorID, width, height))
	}
}

// ClearSurface records a surface reset.
func (r *Recorder) ClearSurface(width, height int) {
	r.Calls = append(r.Calls, fmt.Sprintf("surface %dx%d", width, height))
}

// Reset forgets recorded calls.
func (r *Recorder) Reset() { r.Calls = nil }
