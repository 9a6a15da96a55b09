package detect

import (
	"sort"

	"github.com/dj-oyu/people-counter/pkg/types"
)

// Tracker defaults
const (
	DefaultMaxAge       = 15
	DefaultMinHits      = 3
	DefaultIoUThreshold = 0.3
)

// IoUTracker links detections to existing tracks by greatest box overlap.
// A track is reported once it has been matched MinHits frames in a row (or
// during the first MinHits frames of the session) and only in frames where it
// was matched. Tracks unmatched for more than MaxAge frames are dropped.
type IoUTracker struct {
	MaxAge       int
	MinHits      int
	IoUThreshold float64

	tracks []*trackState
	nextID int
	frames int
}

type trackState struct {
	id         int
	box        types.BBox
	confidence float64
	hitStreak  int
	missed     int
}

// NewIoUTracker returns a tracker with the default parameters.
func NewIoUTracker() *IoUTracker {
	return &IoUTracker{
		MaxAge:       DefaultMaxAge,
		MinHits:      DefaultMinHits,
		IoUThreshold: DefaultIoUThreshold,
		nextID:       1,
	}
}

type candidate struct {
	det, track int
	iou        float64
}

func (t *IoUTracker) Update(dets []Detection) []types.Track {
	if t.nextID == 0 {
		t.nextID = 1
	}
	t.frames++

	var pairs []candidate
	for i, d := range dets {
		for j, tr := range t.tracks {
			if iou := d.BBox.IOU(tr.box); iou >= t.IoUThreshold {
				pairs = append(pairs, candidate{det: i, track: j, iou: iou})
			}
		}
	}
	sort.SliceStable(pairs, func(a, b int) bool { return pairs[a].iou > pairs[b].iou })

	detMatched := make([]bool, len(dets))
	trackMatched := make([]bool, len(t.tracks))
	for _, p := range pairs {
		if detMatched[p.det] || trackMatched[p.track] {
			continue
		}
		detMatched[p.det] = true
		trackMatched[p.track] = true

		tr := t.tracks[p.track]
		tr.box = dets[p.det].BBox
		tr.confidence = dets[p.det].Confidence
		tr.hitStreak++
		tr.missed = 0
	}

	for j, tr := range t.tracks {
		if !trackMatched[j] {
			tr.hitStreak = 0
			tr.missed++
		}
	}

	for i, d := range dets {
		if detMatched[i] {
			continue
		}
		t.tracks = append(t.tracks, &trackState{
			id:         t.nextID,
			box:        d.BBox,
			confidence: d.Confidence,
			hitStreak:  1,
		})
		t.nextID++
	}

	var out []types.Track
	kept := t.tracks[:0]
	for _, tr := range t.tracks {
		if tr.missed > t.MaxAge {
			continue
		}
		kept = append(kept, tr)
		if tr.missed == 0 && (tr.hitStreak >= t.MinHits || t.frames <= t.MinHits) {
			out = append(out, types.Track{ID: tr.id, BBox: tr.box, Confidence: tr.confidence})
		}
	}
	t.tracks = kept
	return out
}

// Len returns the number of live tracks, confirmed or not.
func (t *IoUTracker) Len() int { return len(t.tracks) }
