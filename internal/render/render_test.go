package render

import (
	"bytes"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drawing-board/internal/canvas"
)

func line(color string, mode canvas.Mode) canvas.Command {
	return canvas.SegmentCommand(canvas.Segment{
		From: canvas.Pt(0, 0.5), To: canvas.Pt(1, 0.5),
		Color: color, Size: 4, Mode: mode, AuthorID: "a",
	})
}

func rgba(c color.Color) [3]uint32 {
	r, g, b, _ := c.RGBA()
	return [3]uint32{r >> 8, g >> 8, b >> 8}
}

func TestRaster_DrawEraseClear(t *testing.T) {
	r := NewRaster(20, 20)
	assert.Equal(t, [3]uint32{255, 255, 255}, rgba(r.Image().At(10, 10)))

	r.Render(line("#ff0000", canvas.ModeDraw), 20, 20)
	assert.Equal(t, [3]uint32{255, 0, 0}, rgba(r.Image().At(10, 10)))
	assert.Equal(t, [3]uint32{255, 255, 255}, rgba(r.Image().At(10, 2)))

	r.Render(line("#ff0000", canvas.ModeErase), 20, 20)
	assert.Equal(t, [3]uint32{255, 255, 255}, rgba(r.Image().At(10, 10)))

	r.Render(line("#0000ff", canvas.ModeDraw), 20, 20)
	r.Render(canvas.ClearCommand(canvas.Clear{AuthorID: "a"}), 20, 20)
	assert.Equal(t, [3]uint32{255, 255, 255}, rgba(r.Image().At(10, 10)))
}

func TestRaster_ReplayThroughApplier(t *testing.T) {
	a := canvas.NewApplier(0)
	a.Apply(line("#00ff00", canvas.ModeDraw))

	r := NewRaster(1, 1)
	a.Mount(r, 40, 20)
	assert.Equal(t, 40, r.Image().Bounds().Dx())
	assert.Equal(t, [3]uint32{0, 255, 0}, rgba(r.Image().At(20, 10)))

	var buf bytes.Buffer
	require.NoError(t, r.EncodePNG(&buf))
	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 20, img.Bounds().Dy())
}

func TestPDF_Output(t *testing.T) {
	p := NewPDF(200, 100)
	p.ClearSurface(200, 100)
	p.Render(line("#123456", canvas.ModeDraw), 200, 100)
	p.Render(canvas.ClearCommand(canvas.Clear{AuthorID: "a"}), 200, 100)

	var buf bytes.Buffer
	require.NoError(t, p.Output(&buf))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF")))
}

func TestHexRGB(t *testing.T) {
	for in, want := range map[string][3]int{
		"#111111": {17, 17, 17},
		"#fff":    {255, 255, 255},
		"e74c3c":  {231, 76, 60},
		"#nope":   {0, 0, 0},
		"":        {0, 0, 0},
	} {
		r, g, b := hexRGB(in)
		assert.Equal(t, want, [3]int{r, g, b}, in)
	}
}
