package boundary

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/dj-oyu/people-counter/pkg/types"
)

// ErrNoShape is returned when a drawing document contains no objects.
var ErrNoShape = errors.New("no shape drawn")

// Register holds the single authoritative shape. Every Set overwrites the
// previous one; nothing is accumulated.
type Register struct {
	mu      sync.Mutex
	shape   *Shape
	display image.Point
	source  image.Point
}

// Set stores s as the current shape together with the geometry it was drawn
// against.
func (r *Register) Set(s Shape, display, source image.Point) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shape = &s
	r.display = display
	r.source = source
}

// Clear drops the current shape.
func (r *Register) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shape = nil
}

// Shape returns the current shape, if any.
func (r *Register) Shape() (Shape, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shape == nil {
		return Shape{}, false
	}
	return *r.shape, true
}

// Boundary returns the current shape mapped into source pixels, or nil when
// nothing has been drawn (the counter then uses the midline).
func (r *Register) Boundary() *types.Boundary {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shape == nil {
		return nil
	}
	b := Map(*r.shape, r.display, r.source)
	return &b
}

// canvasObject is the subset of a drawing-widget object we read. Pointers
// tell apart "absent" from zero.
type canvasObject struct {
	X1      *float64 `json:"x1"`
	Y1      *float64 `json:"y1"`
	X2      *float64 `json:"x2"`
	Y2      *float64 `json:"y2"`
	Left    float64  `json:"left"`
	Top     float64  `json:"top"`
	Width   float64  `json:"width"`
	Height  float64  `json:"height"`
	OriginX string   `json:"originX"`
	OriginY string   `json:"originY"`
}

// ParseCanvas reads a drawing-widget document ({"objects": [...]}) and
// returns its most recent object as a Shape.
//
// Widget line objects carry x1..y2 relative to their own center, so only the
// bounding box is used unless endpoints is set.
func ParseCanvas(data []byte, endpoints bool) (Shape, error) {
	var doc struct {
		Objects []canvasObject `json:"objects"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return Shape{}, fmt.Errorf("decode canvas: %w", err)
	}
	if len(doc.Objects) == 0 {
		return Shape{}, ErrNoShape
	}

	last := doc.Objects[len(doc.Objects)-1]
	if endpoints && last.X1 != nil && last.Y1 != nil && last.X2 != nil && last.Y2 != nil {
		return LineShape(*last.X1, *last.Y1, *last.X2, *last.Y2), nil
	}

	s := Shape{
		Left:    last.Left,
		Top:     last.Top,
		Width:   last.Width,
		Height:  last.Height,
		OriginX: last.OriginX,
		OriginY: last.OriginY,
	}
	if s.OriginX == "" {
		s.OriginX = OriginLeft
	}
	if s.OriginY == "" {
		s.OriginY = OriginTop
	}
	return s, nil
}
