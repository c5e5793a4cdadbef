package render

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"drawing-board/internal/canvas"
)

// PDF is a canvas.Renderer that draws onto a single page sized in points to
// match the surface.
type PDF struct {
	doc    *gofpdf.Fpdf
	width  float64
	height float64
}

// NewPDF returns a one-page document the size of the surface, in points.
func NewPDF(width, height int) *PDF {
	w, h := float64(max(width, 1)), float64(max(height, 1))
	doc := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           gofpdf.SizeType{Wd: w, Ht: h},
	})
	doc.SetMargins(0, 0, 0)
	doc.SetAutoPageBreak(false, 0)
	doc.AddPage()
	doc.SetLineCapStyle("round")
	return &PDF{doc: doc, width: w, height: h}
}

// ClearSurface paints the page with the background colour. The page size is
// fixed at construction.
func (p *PDF) ClearSurface(width, height int) {
	p.fill()
}

func (p *PDF) fill() {
	r, g, b := hexRGB(Background)
	p.doc.SetFillColor(r, g, b)
	p.doc.Rect(0, 0, p.width, p.height, "F")
}

// Render draws cmd on the page.
func (p *PDF) Render(cmd canvas.Command, width, height int) {
	switch cmd.Kind() {
	case canvas.KindSegment:
		s, _ := cmd.Segment()
		color := s.Color
		if s.Mode == canvas.ModeErase {
			color = Background
		}
		r, g, b := hexRGB(color)
		p.doc.SetDrawColor(r, g, b)
		p.doc.SetLineWidth(s.Size)
		p.doc.Line(s.From.X*p.width, s.From.Y*p.height, s.To.X*p.width, s.To.Y*p.height)
	case canvas.KindClear:
		p.fill()
	}
}

// Output writes the document to w.
func (p *PDF) Output(w io.Writer) error {
	if err := p.doc.Output(w); err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	return nil
}

// Save writes the document to path.
func (p *PDF) Save(path string) error {
	if err := p.doc.OutputFileAndClose(path); err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	return nil
}

// hexRGB parses #rgb or #rrggbb. Anything else is black.
func hexRGB(s string) (int, int, int) {
	s = strings.TrimPrefix(s, "#")
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) != 6 {
		return 0, 0, 0
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, 0, 0
	}
	return int(v >> 16 & 0xff), int(v >> 8 & 0xff), int(v & 0xff)
}
