package boundary

import (
	"image"

	"golang.org/x/image/draw"
)

// Preview scales img down to the display size used by the drawing widget
// and returns it along with that size. Images narrower than maxWidth are
// copied unscaled.
func Preview(img image.Image, maxWidth int) (*image.RGBA, image.Point) {
	b := img.Bounds()
	size := DisplaySize(b.Size(), maxWidth)
	dst := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	if size == b.Size() {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
		return dst, size
	}
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst, size
}
