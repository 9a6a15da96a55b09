package detect

import (
	"context"
	"fmt"
	"image"

	"github.com/dj-oyu/people-counter/pkg/types"
)

// Pipeline defaults
const (
	DefaultMinConfidence = 0.5
	DefaultClass         = "person"
)

// Pipeline runs a detector, keeps confident detections of one class and
// feeds them to a tracker. Each session owns its own Pipeline.
type Pipeline struct {
	Detector      Detector
	Tracker       Tracker
	MinConfidence float64
	// Class keeps only detections of this class; empty keeps all.
	Class string
}

// NewPipeline returns a pipeline with a fresh IoU tracker and the default filters.
func NewPipeline(d Detector) *Pipeline {
	return &Pipeline{
		Detector:      d,
		Tracker:       NewIoUTracker(),
		MinConfidence: DefaultMinConfidence,
		Class:         DefaultClass,
	}
}

// Process returns the tracks visible in img. On a detector error the
// tracker is not advanced and the error is returned.
func (p *Pipeline) Process(ctx context.Context, img image.Image) ([]types.Track, error) {
	dets, err := p.Detector.Detect(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	return p.Tracker.Update(p.Filter(dets)), nil
}

// Filter drops detections at or below MinConfidence and of other classes.
// Detections with no class are kept.
func (p *Pipeline) Filter(dets []Detection) []Detection {
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if d.Confidence <= p.MinConfidence {
			continue
		}
		if p.Class != "" && d.Class != "" && d.Class != p.Class {
			continue
		}
		out = append(out, d)
	}
	return out
}
