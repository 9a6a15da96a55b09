// Package boundary maps a counting line drawn on a scaled preview back into
// source-frame pixels.
package boundary

import (
	"image"

	"github.com/dj-oyu/people-counter/pkg/types"
)

// DefaultDisplayWidth is the widest preview shown to the drawing widget.
const DefaultDisplayWidth = 640

// Origin conventions used by the drawing widget for box-style shapes.
const (
	OriginLeft   = "left"
	OriginTop    = "top"
	OriginCenter = "center"
)

// Shape is one drawn shape in display coordinates. If HasEndpoints is set the
// explicit endpoints are used, otherwise the box (Left, Top, Width, Height)
// interpreted with OriginX/OriginY.
type Shape struct {
	HasEndpoints   bool
	X1, Y1, X2, Y2 float64

	Left, Top, Width, Height float64
	OriginX, OriginY         string
}

// LineShape returns a shape with explicit endpoints
func LineShape(x1, y1, x2, y2 float64) Shape {
	return Shape{HasEndpoints: true, X1: x1, Y1: y1, X2: x2, Y2: y2}
}

// BoxShape returns a box shape. origin is "topleft" or "center".
func BoxShape(left, top, width, height float64, origin string) Shape {
	s := Shape{Left: left, Top: top, Width: width, Height: height, OriginX: OriginLeft, OriginY: OriginTop}
	if origin == OriginCenter {
		s.OriginX, s.OriginY = OriginCenter, OriginCenter
	}
	return s
}

// Corners returns the two endpoints of the shape in display coordinates.
func (s Shape) Corners() (x1, y1, x2, y2 float64) {
	if s.HasEndpoints {
		return s.X1, s.Y1, s.X2, s.Y2
	}

	if s.OriginX == OriginCenter {
		x1, x2 = s.Left-s.Width/2, s.Left+s.Width/2
	} else {
		x1, x2 = s.Left, s.Left+s.Width
	}
	if s.OriginY == OriginCenter {
		y1, y2 = s.Top-s.Height/2, s.Top+s.Height/2
	} else {
		y1, y2 = s.Top, s.Top+s.Height
	}
	return x1, y1, x2, y2
}

// Map converts a shape drawn on a display of size display, derived from a
// source frame of size source, to a boundary in source pixels. Each axis is
// scaled independently and truncated.
func Map(s Shape, display, source image.Point) types.Boundary {
	scaleX, scaleY := 1.0, 1.0
	if display.X > 0 {
		scaleX = float64(source.X) / float64(display.X)
	}
	if display.Y > 0 {
		scaleY = float64(source.Y) / float64(display.Y)
	}

	x1, y1, x2, y2 := s.Corners()
	return types.Boundary{
		X1: int(x1 * scaleX),
		Y1: int(y1 * scaleY),
		X2: int(x2 * scaleX),
		Y2: int(y2 * scaleY),
	}
}

// DisplaySize returns the preview size for a source frame: the width is
// capped at maxWidth and the height keeps the aspect ratio.
func DisplaySize(source image.Point, maxWidth int) image.Point {
	if source.X <= 0 || source.Y <= 0 {
		return image.Point{}
	}
	if maxWidth <= 0 {
		maxWidth = DefaultDisplayWidth
	}
	w := min(maxWidth, source.X)
	h := int(float64(source.Y) * (float64(w) / float64(source.X)))
	return image.Pt(w, h)
}
