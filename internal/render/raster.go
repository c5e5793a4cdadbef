// Package render draws canvas commands onto concrete surfaces: an in-memory
// raster that can be saved as PNG, and a PDF page.
package render

import (
	"image"
	"io"

	"github.com/fogleman/gg"

	"drawing-board/internal/canvas"
)

// Background is the surface colour. Erasing paints with it.
const Background = "#ffffff"

// Raster is a canvas.Renderer backed by an RGBA image.
type Raster struct {
	dc     *gg.Context
	width  int
	height int
}

// NewRaster returns a blank raster of the given size.
func NewRaster(width, height int) *Raster {
	r := &Raster{}
	r.ClearSurface(width, height)
	return r
}

// ClearSurface blanks the raster, resizing it when the dimensions change.
func (r *Raster) ClearSurface(width, height int) {
	if r.dc == nil || width != r.width || height != r.height {
		r.dc = gg.NewContext(max(width, 1), max(height, 1))
		r.width, r.height = width, height
	}
	r.dc.SetHexColor(Background)
	r.dc.Clear()
}

// Render draws cmd, resizing the surface first if the size changed.
func (r *Raster) Render(cmd canvas.Command, width, height int) {
	if width != r.width || height != r.height {
		r.ClearSurface(width, height)
	}
	switch cmd.Kind() {
	case canvas.KindSegment:
		s, _ := cmd.Segment()
		color := s.Color
		if s.Mode == canvas.ModeErase {
			color = Background
		}
		w, h := float64(width), float64(height)
		r.dc.SetHexColor(color)
		r.dc.SetLineWidth(s.Size)
		r.dc.SetLineCapRound()
		r.dc.DrawLine(s.From.X*w, s.From.Y*h, s.To.X*w, s.To.Y*h)
		r.dc.Stroke()
	case canvas.KindClear:
		r.dc.SetHexColor(Background)
		r.dc.Clear()
	}
}

// Image returns the current surface.
func (r *Raster) Image() image.Image { return r.dc.Image() }

// EncodePNG writes the surface as PNG.
func (r *Raster) EncodePNG(w io.Writer) error { return r.dc.EncodePNG(w) }

// SavePNG writes the surface to path.
func (r *Raster) SavePNG(path string) error { return r.dc.SavePNG(path) }
