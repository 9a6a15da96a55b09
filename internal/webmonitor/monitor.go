package webmonitor

import (
	"sync"
	"time"

	"github.com/dj-oyu/people-counter/internal/viewer"
	"github.com/dj-oyu/people-counter/pkg/types"
)

// fpsSmoothing weights the newest frame interval in the moving average.
const fpsSmoothing = 0.2

// Monitor keeps statistics about the frames the viewer has received.
type Monitor struct {
	mu          sync.Mutex
	frames      int
	fps         float64
	counters    types.Counters
	lastFrameAt time.Time
	size        [2]int
}

// NewMonitor creates an empty Monitor.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// Record accounts for one rendered frame.
func (m *Monitor) Record(f viewer.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.lastFrameAt.IsZero() {
		if dt := f.Received.Sub(m.lastFrameAt).Seconds(); dt > 0 {
			inst := 1 / dt
			if m.fps == 0 {
				m.fps = inst
			} else {
				m.fps += fpsSmoothing * (inst - m.fps)
			}
		}
	}
	m.frames++
	m.counters = f.Counters
	m.lastFrameAt = f.Received
	if f.Image != nil {
		b := f.Image.Bounds()
		m.size = [2]int{b.Dx(), b.Dy()}
	}
}

// Reset clears the statistics at the start of a new session.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = 0
	m.fps = 0
	m.counters = types.Counters{}
	m.lastFrameAt = time.Time{}
	m.size = [2]int{}
}

// Counters returns the totals carried by the last frame.
func (m *Monitor) Counters() types.Counters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters
}

// Snapshot returns the current stats.
func (m *Monitor) Snapshot() MonitorStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := MonitorStats{
		FramesReceived: m.frames,
		CurrentFPS:     m.fps,
		Counters:       m.counters,
		FrameWidth:     m.size[0],
		FrameHeight:    m.size[1],
	}
	if !m.lastFrameAt.IsZero() {
		ts := float64(m.lastFrameAt.UnixMilli()) / 1000
		stats.LastFrameAt = &ts
	}
	return stats
}
