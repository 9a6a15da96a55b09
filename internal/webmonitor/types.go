package webmonitor

import "github.com/dj-oyu/people-counter/pkg/types"

// MonitorStats is the viewer side of /api/status.
type MonitorStats struct {
	FramesReceived int            `json:"frames_received"`
	CurrentFPS     float64        `json:"current_fps"`
	Counters       types.Counters `json:"counters"`
	LastFrameAt    *float64       `json:"last_frame_at"`
	FrameWidth     int            `json:"frame_width"`
	FrameHeight    int            `json:"frame_height"`
}

// CounterEvent is the payload for /api/counters/stream.
type CounterEvent struct {
	Entries   int     `json:"entries"`
	Exits     int     `json:"exits"`
	Timestamp float64 `json:"timestamp"`
}

// BoundaryState is the payload of /api/boundary.
type BoundaryState struct {
	BoundaryLine []int  `json:"boundary_line"`
	Display      [2]int `json:"display"`
	Source       [2]int `json:"source"`
}
