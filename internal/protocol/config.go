package protocol

import (
	"encoding/json"
	"math"

	"github.com/dj-oyu/people-counter/pkg/types"
)

// Config is the one configuration message a viewer sends after connecting.
type Config struct {
	VideoSource types.VideoSource
	Boundary    *types.Boundary // nil selects the midline fallback
}

// DefaultConfig is what a session runs with when the message carries nothing
// usable.
func DefaultConfig() Config {
	return Config{VideoSource: types.DefaultVideoSource}
}

type wireConfig struct {
	VideoSource  any   `json:"video_source"`
	BoundaryLine []int `json:"boundary_line"`
}

// Marshal encodes the configuration message. A nil boundary is sent as
// null.
func (c Config) Marshal() ([]byte, error) {
	w := wireConfig{VideoSource: c.VideoSource.Value()}
	if c.Boundary != nil {
		w.BoundaryLine = c.Boundary.Slice()
	}
	return json.Marshal(w)
}

// ParseConfig decodes a configuration message. It never fails: anything
// missing or malformed falls back to video_source=0 and no boundary.
func ParseConfig(data []byte) Config {
	cfg := DefaultConfig()

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return cfg
	}

	if src, ok := parseVideoSource(raw["video_source"]); ok {
		cfg.VideoSource = src
	}
	cfg.Boundary = parseBoundaryLine(raw["boundary_line"])
	return cfg
}

func parseVideoSource(v any) (types.VideoSource, bool) {
	switch src := v.(type) {
	case float64:
		if src < 0 || src != math.Trunc(src) {
			return types.VideoSource{}, false
		}
		return types.DeviceSource(int(src)), true
	case string:
		if src == "" {
			return types.VideoSource{}, false
		}
		return types.ParseVideoSource(src), true
	default:
		return types.VideoSource{}, false
	}
}

func parseBoundaryLine(v any) *types.Boundary {
	list, ok := v.([]any)
	if !ok || len(list) != 4 {
		return nil
	}

	var coords [4]int
	for i, item := range list {
		n, ok := item.(float64)
		if !ok || math.IsNaN(n) || math.IsInf(n, 0) {
			return nil
		}
		coords[i] = int(n)
	}
	return &types.Boundary{X1: coords[0], Y1: coords[1], X2: coords[2], Y2: coords[3]}
}
