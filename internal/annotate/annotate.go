// Package annotate renders the counting overlay onto a frame.
package annotate

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/dj-oyu/people-counter/pkg/types"
)

var (
	ColorBoundary = color.RGBA{R: 255, A: 255}
	ColorBox      = color.RGBA{G: 255, A: 255}
	ColorLabel    = color.RGBA{G: 255, B: 255, A: 255}
	ColorCenter   = color.RGBA{R: 255, G: 255, A: 255}
	ColorEntries  = color.RGBA{G: 255, A: 255}
	ColorExits    = color.RGBA{R: 255, A: 255}
)

var regular *truetype.Font

func init() {
	var err error
	regular, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

func face(size float64) font.Face {
	return truetype.NewFace(regular, &truetype.Options{Size: size})
}

// Draw returns a copy of frame with the boundary (or the fallback midline),
// one box, label and center marker per track, and the running totals.
// Coordinates are relative to the frame's top-left corner. frame, tracks and
// counters are not modified.
func Draw(frame image.Image, b *types.Boundary, tracks []types.Track, c types.Counters) image.Image {
	fb := frame.Bounds()
	canvas := image.NewRGBA(image.Rect(0, 0, fb.Dx(), fb.Dy()))
	draw.Draw(canvas, canvas.Bounds(), frame, fb.Min, draw.Src)
	dc := gg.NewContextForRGBA(canvas)

	dc.SetColor(ColorBoundary)
	if b != nil {
		dc.SetLineWidth(3)
		dc.DrawLine(float64(b.X1), float64(b.Y1), float64(b.X2), float64(b.Y2))
	} else {
		mid := float64(dc.Height() / 2)
		dc.SetLineWidth(2)
		dc.DrawLine(0, mid, float64(dc.Width()), mid)
	}
	dc.Stroke()

	dc.SetFontFace(face(14))
	for _, t := range tracks {
		x1, y1 := float64(t.BBox.X1), float64(t.BBox.Y1)
		w, h := float64(t.BBox.Width()), float64(t.BBox.Height())

		dc.SetColor(ColorBox)
		dc.SetLineWidth(2)
		dc.DrawRectangle(x1, y1, w, h)
		dc.Stroke()

		dc.SetColor(ColorLabel)
		dc.DrawString(fmt.Sprintf("ID %d", t.ID), x1, y1-10)

		cx, cy := t.BBox.Center()
		dc.SetColor(ColorCenter)
		dc.DrawCircle(float64(cx), float64(cy), 4)
		dc.Fill()
	}

	dc.SetFontFace(face(24))
	dc.SetColor(ColorEntries)
	dc.DrawString(fmt.Sprintf("Entries: %d", c.Entries), 20, 40)
	dc.SetColor(ColorExits)
	dc.DrawString(fmt.Sprintf("Exits: %d", c.Exits), 20, 80)

	return dc.Image()
}
