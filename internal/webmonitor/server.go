package webmonitor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dj-oyu/people-counter/internal/boundary"
	"github.com/dj-oyu/people-counter/internal/capture"
	"github.com/dj-oyu/people-counter/internal/logger"
	"github.com/dj-oyu/people-counter/internal/metrics"
	"github.com/dj-oyu/people-counter/internal/protocol"
	"github.com/dj-oyu/people-counter/internal/viewer"
	"github.com/dj-oyu/people-counter/pkg/types"
)

const maxBodyBytes = 1 << 20

// ConnectFunc runs one viewer session that renders onto surface.
type ConnectFunc func(ctx context.Context, cfg protocol.Config, surface viewer.Surface) error

// Server serves the viewer web monitor: the live stream, counters, the
// boundary drawing API and session control. It is itself a viewer.Surface.
type Server struct {
	cfg                Config
	ctx                context.Context
	monitor            *Monitor
	sessions           *SessionControl
	register           *boundary.Register
	opener             capture.Opener
	metrics            *metrics.Metrics
	broadcaster        *FrameBroadcaster
	counterBroadcaster *EventBroadcaster
	blank              []byte
	log                logger.Module

	geomMu  sync.Mutex
	display image.Point
	source  image.Point

	extra []viewer.Surface
}

// NewServer returns a configured monitor server. opener serves preview
// frames for the drawing canvas; connect runs sessions against the
// producer. Sessions end when ctx is cancelled.
func NewServer(ctx context.Context, cfg Config, opener capture.Opener, connect ConnectFunc, m *metrics.Metrics) *Server {
	def := DefaultConfig()
	if cfg.DisplayWidth <= 0 {
		cfg.DisplayWidth = def.DisplayWidth
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = def.StatusInterval
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = def.KeepaliveInterval
	}
	if cfg.BlankInterval <= 0 {
		cfg.BlankInterval = def.BlankInterval
	}
	if m == nil {
		m = metrics.New()
	}

	s := &Server{
		cfg:                cfg,
		ctx:                ctx,
		monitor:            NewMonitor(),
		register:           &boundary.Register{},
		opener:             opener,
		metrics:            m,
		broadcaster:        NewFrameBroadcaster(),
		counterBroadcaster: NewEventBroadcaster("CounterBroadcaster"),
		log:                logger.For("WebMonitor"),
	}
	s.sessions = NewSessionControl(func(ctx context.Context, pc protocol.Config) error {
		s.monitor.Reset()
		return connect(ctx, pc, s)
	})

	blank, err := blankJPEG(cfg.DisplayWidth, cfg.DisplayWidth*3/4)
	if err != nil {
		s.log.Warn("Failed to render placeholder frame: %v", err)
	}
	s.blank = blank
	return s
}

// AddSurface renders every received frame on surface as well.
func (s *Server) AddSurface(surface viewer.Surface) {
	s.extra = append(s.extra, surface)
}

// Register returns the boundary drawing register.
func (s *Server) Register() *boundary.Register { return s.register }

// Sessions returns the session control.
func (s *Server) Sessions() *SessionControl { return s.sessions }

// Render implements viewer.Surface.
func (s *Server) Render(f viewer.Frame) error {
	prev := s.monitor.Counters()
	s.monitor.Record(f)
	s.broadcaster.Publish(f.JPEG)

	if f.Counters != prev || s.monitor.Snapshot().FramesReceived == 1 {
		s.publishCounters(f.Counters, f.Received)
	}

	var errs []error
	for _, extra := range s.extra {
		if err := extra.Render(f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Server) publishCounters(c types.Counters, at time.Time) {
	ev, err := NewCounterEvent(CounterEvent{
		Entries:   c.Entries,
		Exits:     c.Exits,
		Timestamp: float64(at.UnixMilli()) / 1000,
	})
	if err != nil {
		s.log.Error("Failed to serialize counters: %v", err)
		return
	}
	s.counterBroadcaster.Publish(ev)
}

// Close stops the running session and disconnects stream clients.
func (s *Server) Close() {
	if s.sessions.Running() {
		_ = s.sessions.Stop()
	}
	s.broadcaster.Close()
	s.counterBroadcaster.Close()
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/status/stream", s.handleStatusStream)
	mux.HandleFunc("/api/counters/stream", s.handleCountersStream)
	mux.HandleFunc("/api/preview", s.handlePreview)
	mux.HandleFunc("/api/boundary", s.handleBoundary)
	mux.HandleFunc("/api/session/start", s.handleSessionStart)
	mux.HandleFunc("/api/session/stop", s.handleSessionStop)
	mux.HandleFunc("/api/session/status", s.handleSessionStatus)

	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, frameCh := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(id)
	streamMJPEGFromChannel(r.Context(), w, frameCh, s.blank, s.cfg.BlankInterval)
}

func (s *Server) statusPayload() map[string]any {
	payload := map[string]any{
		"monitor":   s.monitor.Snapshot(),
		"session":   s.sessions.Status(),
		"boundary":  s.boundaryState(),
		"clients":   s.broadcaster.Clients(),
		"timestamp": float64(time.Now().Unix()),
	}
	return payload
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.statusPayload())
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		if err := writeSSE(w, s.statusPayload()); err != nil {
			return
		}
		flusher.Flush()
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) handleCountersStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.counterBroadcaster.Subscribe()
	defer s.counterBroadcaster.Unsubscribe(id)

	accept := r.Header.Get("Accept")
	useProtobuf := strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")

	streamEventsFromChannel(r.Context(), w, eventCh, useProtobuf, s.cfg.KeepaliveInterval)
}

// handlePreview grabs one frame from the requested source and returns it
// scaled to display width, for drawing the boundary on.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if s.opener == nil {
		writeJSONWithStatus(w, map[string]any{"error": "preview capture is not configured"}, http.StatusNotImplemented)
		return
	}
	src := types.ParseVideoSource(r.URL.Query().Get("source"))

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	img, err := grabFrame(ctx, s.opener, src)
	if err != nil {
		s.log.Warn("Preview of %s failed: %v", src, err)
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadGateway)
		return
	}

	preview, display := boundary.Preview(img, s.cfg.DisplayWidth)
	source := img.Bounds().Size()
	s.setGeometry(display, source)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, preview, &jpeg.Options{Quality: 85}); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("X-Source-Width", strconv.Itoa(source.X))
	w.Header().Set("X-Source-Height", strconv.Itoa(source.Y))
	w.Header().Set("X-Display-Width", strconv.Itoa(display.X))
	w.Header().Set("X-Display-Height", strconv.Itoa(display.Y))
	_, _ = w.Write(buf.Bytes())
}

func grabFrame(ctx context.Context, opener capture.Opener, src types.VideoSource) (image.Image, error) {
	source, err := opener.Open(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", src, err)
	}
	defer source.Close()

	img, err := source.Read()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", src, err)
	}
	return img, nil
}

func (s *Server) setGeometry(display, source image.Point) {
	s.geomMu.Lock()
	defer s.geomMu.Unlock()
	s.display = display
	s.source = source
}

func (s *Server) geometry() (image.Point, image.Point) {
	s.geomMu.Lock()
	defer s.geomMu.Unlock()
	return s.display, s.source
}

func (s *Server) boundaryState() BoundaryState {
	display, source := s.geometry()
	st := BoundaryState{
		Display: [2]int{display.X, display.Y},
		Source:  [2]int{source.X, source.Y},
	}
	if b := s.register.Boundary(); b != nil {
		st.BoundaryLine = b.Slice()
	}
	return st
}

// handleBoundary stores the drawn shape (POST), returns it (GET) or clears
// it (DELETE). POST takes a drawing-widget document; the display and source
// sizes default to those of the last preview and can be overridden with
// display=WxH and source=WxH. endpoints=1 reads line endpoints instead of
// the bounding box.
func (s *Server) handleBoundary(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, s.boundaryState())
		return
	case http.MethodDelete:
		s.register.Clear()
		writeJSON(w, s.boundaryState())
		return
	case http.MethodPost:
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid drawing data"}, http.StatusBadRequest)
		return
	}

	q := r.URL.Query()
	shape, err := boundary.ParseCanvas(body, q.Get("endpoints") == "1")
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}

	display, source := s.geometry()
	if v := q.Get("display"); v != "" {
		if display, err = parseSize(v); err != nil {
			writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
			return
		}
	}
	if v := q.Get("source"); v != "" {
		if source, err = parseSize(v); err != nil {
			writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
			return
		}
	}
	if display.X <= 0 || display.Y <= 0 || source.X <= 0 || source.Y <= 0 {
		writeJSONWithStatus(w, map[string]any{"error": "frame size unknown, load a preview first"}, http.StatusConflict)
		return
	}

	s.setGeometry(display, source)
	s.register.Set(shape, display, source)
	st := s.boundaryState()
	s.log.Info("Boundary set to %v (display %v, source %v)", st.BoundaryLine, display, source)
	writeJSON(w, st)
}

func parseSize(v string) (image.Point, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(v), "x")
	if !ok {
		return image.Point{}, fmt.Errorf("invalid size %q, want WxH", v)
	}
	width, err1 := strconv.Atoi(ws)
	height, err2 := strconv.Atoi(hs)
	if err1 != nil || err2 != nil || width <= 0 || height <= 0 {
		return image.Point{}, fmt.Errorf("invalid size %q, want WxH", v)
	}
	return image.Pt(width, height), nil
}

// handleSessionStart connects to the producer. The body is an optional
// configuration message; when it has no boundary_line the drawn boundary
// is used.
func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid session data"}, http.StatusBadRequest)
		return
	}
	cfg := protocol.ParseConfig(body)
	if cfg.Boundary == nil {
		cfg.Boundary = s.register.Boundary()
	}

	if err := s.sessions.Start(s.ctx, cfg); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}
	s.log.Info("Session started: source=%s", cfg.VideoSource)

	payload := map[string]any{
		"status":     "streaming",
		"session":    s.sessions.Status(),
		"started_at": float64(time.Now().Unix()),
	}
	writeJSON(w, payload)
}

func (s *Server) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.sessions.Stop(); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}
	s.log.Info("Session stopped")

	payload := map[string]any{
		"status":     "stopped",
		"session":    s.sessions.Status(),
		"counters":   s.monitor.Counters(),
		"stopped_at": float64(time.Now().Unix()),
	}
	writeJSON(w, payload)
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.sessions.Status())
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
