// Package counter decides, frame by frame, whether tracked subjects have
// crossed the counting line and in which direction.
package counter

import "github.com/dj-oyu/people-counter/pkg/types"

// Tolerance is the half-width of the proximity band around the line, in
// source pixels. A subject is counted when its center is strictly closer
// than this to the line.
const Tolerance = 10

// Direction of a crossing
type Direction int

const (
	Entry Direction = iota // center above the line
	Exit                   // center on or below the line
)

func (d Direction) String() string {
	if d == Entry {
		return "entry"
	}
	return "exit"
}

// State is the counting state of one session. The zero value is not usable;
// create it with New. A State must not be shared between sessions.
type State struct {
	counted  map[int]Direction
	counters types.Counters
}

// New returns an empty state with zero counters.
func New() *State {
	return &State{counted: make(map[int]Direction)}
}

// ReferenceY returns the ordinate tracks are compared against: the midpoint
// of the boundary endpoints, or the frame midline when no boundary is set.
func ReferenceY(b *types.Boundary, frameHeight int) int {
	if b != nil {
		return b.MidY()
	}
	return frameHeight / 2
}

// Update evaluates the tracks of one frame and returns the updated counters.
// Each track id is counted at most once for the lifetime of the state.
func (s *State) Update(tracks []types.Track, b *types.Boundary, frameHeight int) types.Counters {
	lineY := ReferenceY(b, frameHeight)

	for _, t := range tracks {
		if _, done := s.counted[t.ID]; done {
			continue
		}

		_, cy := t.BBox.Center()
		if abs(cy-lineY) >= Tolerance {
			continue
		}

		if cy < lineY {
			s.counters.Entries++
			s.counted[t.ID] = Entry
		} else {
			s.counters.Exits++
			s.counted[t.ID] = Exit
		}
	}

	return s.counters
}

// Counters returns the current totals
func (s *State) Counters() types.Counters {
	return s.counters
}

// Counted reports whether id has been counted and in which direction.
func (s *State) Counted(id int) (Direction, bool) {
	d, ok := s.counted[id]
	return d, ok
}

// Len returns the number of counted ids
func (s *State) Len() int {
	return len(s.counted)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
