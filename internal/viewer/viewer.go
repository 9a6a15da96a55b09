// Package viewer is the display side of a session: it sends the one
// configuration message and renders every frame envelope that follows.
package viewer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"github.com/dj-oyu/people-counter/internal/logger"
	"github.com/dj-oyu/people-counter/internal/metrics"
	"github.com/dj-oyu/people-counter/internal/protocol"
	"github.com/dj-oyu/people-counter/internal/transport"
	"github.com/dj-oyu/people-counter/pkg/types"
)

// ErrStop is returned by a Surface to end the loop, e.g. when its window is closed.
var ErrStop = errors.New("viewer stopped by surface")

// Frame is one received, decoded frame.
type Frame struct {
	Image    image.Image
	JPEG     []byte
	Counters types.Counters
	Received time.Time
}

// Surface displays frames.
type Surface interface {
	Render(Frame) error
}

// SurfaceFunc adapts a function to Surface.
type SurfaceFunc func(Frame) error

func (f SurfaceFunc) Render(fr Frame) error { return f(fr) }

type multi []Surface

func (m multi) Render(f Frame) error {
	var errs []error
	for _, s := range m {
		if err := s.Render(f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Multi renders each frame on every surface in order.
func Multi(surfaces ...Surface) Surface {
	return multi(surfaces)
}

var log = logger.For("Viewer")

// Run sends cfg over conn and renders frames until the connection ends, ctx
// is cancelled or the surface returns ErrStop. Messages that are not frame
// envelopes or whose image does not decode are logged and skipped. conn is
// closed on return. m may be nil.
func Run(ctx context.Context, conn protocol.Conn, cfg protocol.Config, surface Surface, m *metrics.Metrics) error {
	if m == nil {
		m = metrics.New()
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	msg, err := cfg.Marshal()
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := conn.WriteMessage(ctx, protocol.Text, msg); err != nil {
		return fmt.Errorf("send config: %w", err)
	}
	log.Info("Sent config: source=%s boundary=%v", cfg.VideoSource, cfg.Boundary)

	for {
		kind, data, err := conn.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Info("Connection ended: %v", err)
			}
			return nil
		}

		env, err := protocol.Decode(kind, data)
		if err != nil {
			m.ParseErrors.Add(1)
			log.Warn("Skipping message: %v", err)
			continue
		}

		img, err := jpeg.Decode(bytes.NewReader(env.Frame))
		if err != nil {
			m.DecodeErrors.Add(1)
			log.Warn("Skipping undecodable frame: %v", err)
			continue
		}
		m.FramesReceived.Add(1)

		frame := Frame{
			Image:    img,
			JPEG:     env.Frame,
			Counters: types.Counters{Entries: env.Entries, Exits: env.Exits},
			Received: time.Now(),
		}
		if err := surface.Render(frame); err != nil {
			if errors.Is(err, ErrStop) {
				log.Info("Surface closed")
				return nil
			}
			log.Warn("Render failed: %v", err)
		}
	}
}

// Dial connects to the producer at url and runs the loop.
func Dial(ctx context.Context, url, format string, cfg protocol.Config, surface Surface, m *metrics.Metrics) error {
	conn, err := transport.Dial(ctx, url, format)
	if err != nil {
		return err
	}
	return Run(ctx, conn, cfg, surface, m)
}
