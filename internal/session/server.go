// Package session runs the producer side of a viewer connection: one
// configuration handshake followed by a paced stream of annotated frames.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dj-oyu/people-counter/internal/annotate"
	"github.com/dj-oyu/people-counter/internal/capture"
	"github.com/dj-oyu/people-counter/internal/counter"
	"github.com/dj-oyu/people-counter/internal/detect"
	"github.com/dj-oyu/people-counter/internal/logger"
	"github.com/dj-oyu/people-counter/internal/metrics"
	"github.com/dj-oyu/people-counter/internal/protocol"
	"github.com/dj-oyu/people-counter/pkg/types"
)

// Config holds the streaming loop settings
type Config struct {
	DefaultFPS    float64
	Pacing        PacingMode
	JPEGQuality   int
	MinConfidence float64
	Class         string
}

// DefaultConfig returns the default loop settings
func DefaultConfig() Config {
	return Config{
		DefaultFPS:    DefaultFPS,
		Pacing:        PacingFixed,
		JPEGQuality:   80,
		MinConfidence: detect.DefaultMinConfidence,
		Class:         detect.DefaultClass,
	}
}

// Info describes one live session.
type Info struct {
	ID       uint64          `json:"id"`
	Source   string          `json:"source"`
	Boundary *types.Boundary `json:"boundary"`
	Phase    string          `json:"phase"`
	Counters types.Counters  `json:"counters"`
	Frames   uint64          `json:"frames"`
	Started  time.Time       `json:"started"`
}

// Server runs sessions. Each Serve call owns its own capture source,
// crossing state and tracker; nothing is shared between sessions.
type Server struct {
	cfg      Config
	opener   capture.Opener
	detector detect.Detector
	metrics  *metrics.Metrics

	// NewTracker builds the tracker for each session.
	NewTracker func() detect.Tracker

	nextID atomic.Uint64
	active atomic.Int64
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[uint64]*Info
}

// NewServer creates a session server. A nil detector streams frames without
// tracks; a nil metrics gets a private instance.
func NewServer(cfg Config, opener capture.Opener, detector detect.Detector, m *metrics.Metrics) *Server {
	if detector == nil {
		detector = detect.Nop{}
	}
	if m == nil {
		m = metrics.New()
	}
	return &Server{
		cfg:      cfg,
		opener:   opener,
		detector: detector,
		metrics:  m,
		sessions: make(map[uint64]*Info),

		NewTracker: func() detect.Tracker { return detect.NewIoUTracker() },
	}
}

// Serve runs one session on conn until the stream ends, the viewer goes
// away or ctx is cancelled. conn is always closed on return. A non-nil
// error means the session ended before streaming started.
func (s *Server) Serve(ctx context.Context, conn protocol.Conn, codec protocol.Codec) error {
	s.wg.Add(1)
	defer s.wg.Done()

	id := s.nextID.Add(1)
	log := logger.For(fmt.Sprintf("Session#%d", id))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	phase := protocol.AwaitingConfig
	info := &Info{ID: id, Phase: phase.String(), Started: time.Now()}
	s.track(info)
	defer s.untrack(id)

	_, msg, err := conn.ReadMessage(ctx)
	if err != nil {
		s.setPhase(info, &phase, protocol.Closed, log)
		return fmt.Errorf("read config: %w", err)
	}
	cfg := protocol.ParseConfig(msg)
	log.Info("Config: source=%s boundary=%s codec=%s", cfg.VideoSource, boundaryString(cfg.Boundary), codec.Name())

	src, err := s.opener.Open(ctx, cfg.VideoSource)
	if err != nil {
		s.metrics.CaptureOpenFailures.Add(1)
		s.setPhase(info, &phase, protocol.Closed, log)
		log.Warn("Failed to open %s: %v", cfg.VideoSource, err)
		return fmt.Errorf("open capture %s: %w", cfg.VideoSource, err)
	}
	defer src.Close()

	s.mu.Lock()
	info.Source = cfg.VideoSource.String()
	info.Boundary = cfg.Boundary
	s.mu.Unlock()

	s.setPhase(info, &phase, protocol.Streaming, log)
	s.metrics.SessionStarted()
	defer s.metrics.SessionEnded()
	s.active.Add(1)
	defer s.active.Add(-1)
	defer s.setPhase(info, &phase, protocol.Closed, log)

	go discardIncoming(ctx, cancel, conn, log)

	interval := Interval(src.FPS(), s.cfg.DefaultFPS)
	log.Debug("Frame interval %v (source fps %.2f, pacing %s)", interval, src.FPS(), s.cfg.Pacing)

	l := &loop{
		server: s,
		info:   info,
		conn:   conn,
		codec:  codec,
		src:    src,
		cfg:    cfg,
		state:  counter.New(),
		pipe: &detect.Pipeline{
			Detector:      s.detector,
			Tracker:       s.NewTracker(),
			MinConfidence: s.cfg.MinConfidence,
			Class:         s.cfg.Class,
		},
		pacer: NewPacer(s.cfg.Pacing, interval),
		log:   log,
	}
	l.run(ctx)
	return nil
}

// discardIncoming drains viewer messages sent after the configuration so a
// disconnect is noticed while the loop is busy sending.
func discardIncoming(ctx context.Context, cancel context.CancelFunc, conn protocol.Conn, log logger.Module) {
	defer cancel()
	for {
		_, msg, err := conn.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Debug("Viewer read ended: %v", err)
			}
			return
		}
		log.Debug("Ignoring %d byte message from viewer", len(msg))
	}
}

type loop struct {
	server *Server
	info   *Info
	conn   protocol.Conn
	codec  protocol.Codec
	src    capture.Source
	cfg    protocol.Config
	state  *counter.State
	pipe   *detect.Pipeline
	pacer  *Pacer
	log    logger.Module
}

func (l *loop) run(ctx context.Context) {
	m := l.server.metrics
	for ctx.Err() == nil {
		l.pacer.Start()

		frame, err := l.src.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				l.log.Info("End of stream")
			} else {
				l.log.Warn("Capture read failed, ending stream: %v", err)
			}
			return
		}
		m.FramesRead.Add(1)
		start := time.Now()

		tracks, err := l.pipe.Process(ctx, frame)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.DetectErrors.Add(1)
			l.log.Warn("Detection failed, frame has no tracks: %v", err)
			tracks = nil
		}

		before := l.state.Counters()
		counters := l.state.Update(tracks, l.cfg.Boundary, frame.Bounds().Dy())
		m.AddCrossings(counters.Entries-before.Entries, counters.Exits-before.Exits)
		if counters != before {
			l.log.Info("Crossing: entries=%d exits=%d", counters.Entries, counters.Exits)
		}

		data, err := l.encode(frame, tracks, counters)
		if err != nil {
			m.EncodeErrors.Add(1)
			l.log.Error("Encode failed, skipping frame: %v", err)
		} else {
			m.UpdateProcessLatency(time.Since(start))
			sendStart := time.Now()
			if err := l.conn.WriteMessage(ctx, l.codec.Kind(), data); err != nil {
				m.SendErrors.Add(1)
				l.log.Info("Viewer gone: %v", err)
				return
			}
			m.UpdateSendLatency(time.Since(sendStart))
			m.FramesSent.Add(1)
			l.server.progress(l.info, counters)
		}

		if err := l.pacer.Wait(ctx); err != nil {
			return
		}
	}
}

func (l *loop) encode(frame image.Image, tracks []types.Track, c types.Counters) ([]byte, error) {
	annotated := annotate.Draw(frame, l.cfg.Boundary, tracks, c)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, annotated, &jpeg.Options{Quality: l.server.cfg.JPEGQuality}); err != nil {
		return nil, fmt.Errorf("jpeg: %w", err)
	}
	data, err := l.codec.Encode(protocol.Envelope{Frame: buf.Bytes(), Entries: c.Entries, Exits: c.Exits})
	if err != nil {
		return nil, fmt.Errorf("envelope: %w", err)
	}
	return data, nil
}

func (s *Server) track(info *Info) {
	s.mu.Lock()
	s.sessions[info.ID] = info
	s.mu.Unlock()
}

func (s *Server) untrack(id uint64) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

func (s *Server) progress(info *Info, c types.Counters) {
	s.mu.Lock()
	info.Counters = c
	info.Frames++
	s.mu.Unlock()
}

func (s *Server) setPhase(info *Info, phase *protocol.Phase, to protocol.Phase, log logger.Module) {
	next, err := phase.Next(to)
	if err != nil {
		log.Error("%v", err)
		return
	}
	log.Debug("%s -> %s", *phase, next)
	*phase = next
	s.mu.Lock()
	info.Phase = next.String()
	s.mu.Unlock()
}

// Sessions returns a snapshot of the live sessions ordered by id.
func (s *Server) Sessions() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Info, 0, len(s.sessions))
	for _, info := range s.sessions {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Active returns the number of sessions currently streaming.
func (s *Server) Active() int {
	return int(s.active.Load())
}

// Wait blocks until every Serve call has returned.
func (s *Server) Wait() {
	s.wg.Wait()
}

func boundaryString(b *types.Boundary) string {
	if b == nil {
		return "midline"
	}
	return b.String()
}
