// Package detect turns frames into tracked subjects: a detector finds boxes
// in one frame and a tracker links them across frames under stable ids.
package detect

import (
	"context"
	"image"

	"github.com/dj-oyu/people-counter/pkg/types"
)

// Detection is one object found in one frame.
type Detection struct {
	BBox       types.BBox
	Class      string
	Confidence float64
}

// Detector finds objects in a frame.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]Detection, error)
}

// DetectorFunc adapts a function to Detector.
type DetectorFunc func(ctx context.Context, img image.Image) ([]Detection, error)

func (f DetectorFunc) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	return f(ctx, img)
}

// Nop never finds anything. Sessions still stream annotated frames with it.
type Nop struct{}

func (Nop) Detect(context.Context, image.Image) ([]Detection, error) { return nil, nil }

// Tracker assigns stable ids to detections across consecutive frames.
type Tracker interface {
	Update(dets []Detection) []types.Track
}
