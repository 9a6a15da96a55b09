package webmonitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dj-oyu/people-counter/internal/protocol"
)

var (
	errAlreadyRunning = errors.New("Session already running")
	errNotRunning     = errors.New("Session not running")
)

// runFunc runs one viewer session until ctx is cancelled or it ends.
type runFunc func(ctx context.Context, cfg protocol.Config) error

// SessionControl starts and stops the viewer session against the producer.
// At most one session runs at a time.
type SessionControl struct {
	mu        sync.Mutex
	run       runFunc
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	config    protocol.Config
	startedAt time.Time
	lastErr   error
	sessions  int
}

// NewSessionControl creates a control that runs sessions with run.
func NewSessionControl(run runFunc) *SessionControl {
	return &SessionControl{run: run}
}

// Start launches a session with cfg in the background.
func (c *SessionControl) Start(ctx context.Context, cfg protocol.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return errAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.running = true
	c.cancel = cancel
	c.done = done
	c.config = cfg
	c.startedAt = time.Now()
	c.lastErr = nil
	c.sessions++

	go func() {
		defer close(done)
		err := c.run(ctx, cfg)
		cancel()

		c.mu.Lock()
		if c.done == done {
			c.running = false
			c.lastErr = err
		}
		c.mu.Unlock()
	}()
	return nil
}

// Stop cancels the running session and waits for it to end.
func (c *SessionControl) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return errNotRunning
	}
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	<-done
	return nil
}

// Running reports whether a session is active.
func (c *SessionControl) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Status returns the session status payload.
func (c *SessionControl) Status() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	var source, line, started, lastErr any
	if c.sessions > 0 {
		source = c.config.VideoSource.Value()
		started = float64(c.startedAt.Unix())
		if c.config.Boundary != nil {
			line = c.config.Boundary.Slice()
		}
	}
	if c.lastErr != nil {
		lastErr = c.lastErr.Error()
	}

	return map[string]any{
		"running":       c.running,
		"video_source":  source,
		"boundary_line": line,
		"started_at":    started,
		"sessions":      c.sessions,
		"last_error":    lastErr,
	}
}
