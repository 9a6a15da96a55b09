package types

import (
	"fmt"
	"strconv"
)

// BBox is an axis-aligned box in source-frame pixels.
type BBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Center returns the integer center of the box.
func (b BBox) Center() (int, int) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// Width returns the box width
func (b BBox) Width() int { return b.X2 - b.X1 }

// Height returns the box height
func (b BBox) Height() int { return b.Y2 - b.Y1 }

// Area returns the box area, zero for degenerate boxes.
func (b BBox) Area() int {
	if b.X2 <= b.X1 || b.Y2 <= b.Y1 {
		return 0
	}
	return b.Width() * b.Height()
}

// IOU returns the intersection over union of two boxes.
func (b BBox) IOU(o BBox) float64 {
	inter := BBox{
		X1: max(b.X1, o.X1),
		Y1: max(b.Y1, o.Y1),
		X2: min(b.X2, o.X2),
		Y2: min(b.Y2, o.Y2),
	}.Area()
	if inter == 0 {
		return 0
	}
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Track is one tracked subject in one frame. ID is assigned by the tracker
// and is stable across frames for the same subject.
type Track struct {
	ID         int     `json:"id"`
	BBox       BBox    `json:"bbox"`
	Confidence float64 `json:"confidence"`
}

// Boundary is the counting line in source-frame pixels.
// A nil *Boundary means no line was configured.
type Boundary struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// MidY returns the representative ordinate used for crossing checks
func (b Boundary) MidY() int {
	return (b.Y1 + b.Y2) / 2
}

// Slice returns the boundary as [x1, y1, x2, y2], the wire shape of boundary_line.
func (b Boundary) Slice() []int {
	return []int{b.X1, b.Y1, b.X2, b.Y2}
}

func (b Boundary) String() string {
	return fmt.Sprintf("(%d,%d)->(%d,%d)", b.X1, b.Y1, b.X2, b.Y2)
}

// Counters holds the running entry/exit totals of a session.
type Counters struct {
	Entries int `json:"entries"`
	Exits   int `json:"exits"`
}

// VideoSource identifies a capture source: either a device index or a
// path/URL.
type VideoSource struct {
	Device   int
	Path     string
	IsDevice bool
}

// DefaultVideoSource is device 0.
var DefaultVideoSource = VideoSource{Device: 0, IsDevice: true}

// DeviceSource returns a device video source
func DeviceSource(index int) VideoSource {
	return VideoSource{Device: index, IsDevice: true}
}

// PathSource returns a path or URL video source
func PathSource(path string) VideoSource {
	return VideoSource{Path: path}
}

// ParseVideoSource interprets a command-line style source: integer strings
// select a device, anything else is a path or URL.
func ParseVideoSource(s string) VideoSource {
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return DeviceSource(n)
	}
	if s == "" {
		return DefaultVideoSource
	}
	return PathSource(s)
}

// Key returns a stable identifier for the source, used to serialize access.
func (v VideoSource) Key() string {
	if v.IsDevice {
		return "device:" + strconv.Itoa(v.Device)
	}
	return "path:" + v.Path
}

func (v VideoSource) String() string {
	if v.IsDevice {
		return strconv.Itoa(v.Device)
	}
	return v.Path
}

// Value returns the JSON form of the source (int for devices, string for paths)
func (v VideoSource) Value() any {
	if v.IsDevice {
		return v.Device
	}
	return v.Path
}
