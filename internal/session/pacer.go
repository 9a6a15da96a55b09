package session

import (
	"context"
	"fmt"
	"math"
	"time"
)

// DefaultFPS is used when the capture source does not report a frame rate.
const DefaultFPS = 30

// PacingMode selects how the loop waits between frames.
type PacingMode string

const (
	// PacingFixed sleeps the full frame interval after each send, on top of
	// the processing time.
	PacingFixed PacingMode = "fixed"
	// PacingDeadline sleeps only what is left of the interval after processing.
	PacingDeadline PacingMode = "deadline"
)

// ParsePacingMode parses a -pacing flag value.
func ParsePacingMode(s string) (PacingMode, error) {
	switch PacingMode(s) {
	case PacingFixed, "":
		return PacingFixed, nil
	case PacingDeadline:
		return PacingDeadline, nil
	default:
		return PacingFixed, fmt.Errorf("unknown pacing mode %q (want fixed or deadline)", s)
	}
}

// Interval returns the frame interval for fps, substituting fallback when
// fps is zero, negative or not a number.
func Interval(fps, fallback float64) time.Duration {
	if fps <= 0 || math.IsNaN(fps) || math.IsInf(fps, 0) {
		fps = fallback
	}
	if fps <= 0 {
		fps = DefaultFPS
	}
	return time.Duration(float64(time.Second) / fps)
}

// Pacer keeps the send rate at or below one frame per interval.
type Pacer struct {
	mode     PacingMode
	interval time.Duration
	started  time.Time
	now      func() time.Time
}

// NewPacer returns a pacer for the given mode and interval.
func NewPacer(mode PacingMode, interval time.Duration) *Pacer {
	return &Pacer{mode: mode, interval: interval, now: time.Now}
}

// Interval returns the target frame interval.
func (p *Pacer) Interval() time.Duration { return p.interval }

// Start marks the beginning of a frame.
func (p *Pacer) Start() { p.started = p.now() }

// Delay returns how long Wait would sleep now.
func (p *Pacer) Delay() time.Duration {
	if p.mode != PacingDeadline {
		return p.interval
	}
	return max(p.interval-p.now().Sub(p.started), 0)
}

// Wait sleeps for Delay or until ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	d := p.Delay()
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
