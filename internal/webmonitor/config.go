package webmonitor

import (
	"time"

	"github.com/dj-oyu/people-counter/internal/boundary"
	"github.com/dj-oyu/people-counter/internal/protocol"
)

// Config defines the runtime configuration for the web monitor server.
type Config struct {
	Addr              string
	ServerURL         string
	Format            string
	DisplayWidth      int
	StatusInterval    time.Duration
	KeepaliveInterval time.Duration
	BlankInterval     time.Duration
}

// DefaultConfig returns the default monitor settings.
func DefaultConfig() Config {
	return Config{
		Addr:              ":8501",
		ServerURL:         "ws://localhost:8765/",
		Format:            protocol.FormatJSON,
		DisplayWidth:      boundary.DefaultDisplayWidth,
		StatusInterval:    2 * time.Second,
		KeepaliveInterval: 30 * time.Second,
		BlankInterval:     5 * time.Second,
	}
}
