package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	_ "net/http/pprof" // Enable pprof
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dj-oyu/people-counter/internal/capture"
	"github.com/dj-oyu/people-counter/internal/capture/opencv"
	"github.com/dj-oyu/people-counter/internal/detect"
	"github.com/dj-oyu/people-counter/internal/logger"
	"github.com/dj-oyu/people-counter/internal/metrics"
	"github.com/dj-oyu/people-counter/internal/session"
	"github.com/dj-oyu/people-counter/internal/transport"
	"github.com/dj-oyu/people-counter/internal/webrtc"
)

var (
	// Command-line flags
	httpAddr      = flag.String("addr", ":8765", "WebSocket/HTTP server address")
	metricsAddr   = flag.String("metrics", ":9090", "Metrics server address (empty to disable)")
	pprofAddr     = flag.String("pprof", "", "pprof server address (empty to disable)")
	inferenceURL  = flag.String("inference-url", getEnv("INFERENCE_URL", ""), "Person detection endpoint (empty disables detection)")
	class         = flag.String("class", detect.DefaultClass, "Detection class to count (empty counts every class)")
	minConfidence = flag.Float64("min-confidence", detect.DefaultMinConfidence, "Keep detections strictly above this confidence")
	fps           = flag.Float64("fps", session.DefaultFPS, "Frame rate used when the source reports none")
	pacing        = flag.String("pacing", "fixed", "Frame pacing (fixed, deadline)")
	jpegQuality   = flag.Int("jpeg-quality", 80, "JPEG quality of streamed frames")
	maxClients    = flag.Int("max-clients", 10, "Maximum WebRTC clients")
	stunServers   = flag.String("stun", "stun:stun.l.google.com:19302", "STUN server URLs (comma-separated)")
	logLevel      = flag.String("log-level", "info", "Log level (debug, info, warn, error, silent)")
	logColor      = flag.Bool("log-color", true, "Enable colored log output")
)

// Server is the producer: it accepts viewer sessions over WebSocket and
// WebRTC data channels.
type Server struct {
	ctx        context.Context
	cancel     context.CancelFunc
	metrics    *metrics.Metrics
	detector   detect.Detector
	sessions   *session.Server
	webrtc     *webrtc.Server
	httpServer *http.Server
}

func main() {
	flag.Parse()

	// Initialize logger
	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, *logColor)

	logger.Info("Main", "People counter server starting...")
	logger.Info("Main", "Log level: %s", level)

	srv, err := NewServer()
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Main", "Shutting down...")

	if err := srv.Shutdown(); err != nil {
		logger.Error("Main", "Error during shutdown: %v", err)
	}

	logger.Info("Main", "Server stopped")
}

// NewServer wires capture, detection and transports together.
func NewServer() (*Server, error) {
	mode, err := session.ParsePacingMode(*pacing)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := metrics.New()

	var detector detect.Detector = detect.Nop{}
	if *inferenceURL != "" {
		detector = detect.NewHTTPDetector(*inferenceURL)
	}

	cfg := session.DefaultConfig()
	cfg.DefaultFPS = *fps
	cfg.Pacing = mode
	cfg.JPEGQuality = *jpegQuality
	cfg.MinConfidence = *minConfidence
	cfg.Class = *class

	opener := capture.NewExclusive(capture.Router{
		HTTP:  capture.MJPEGOpener{},
		Local: opencv.Opener{},
	})
	sessions := session.NewServer(cfg, opener, detector, m)

	stunURLs := strings.Split(*stunServers, ",")
	webrtcSrv := webrtc.NewServer(ctx, sessions, stunURLs, *maxClients)

	mux := http.NewServeMux()
	srv := &Server{
		ctx:      ctx,
		cancel:   cancel,
		metrics:  m,
		detector: detector,
		sessions: sessions,
		webrtc:   webrtcSrv,
		httpServer: &http.Server{
			Addr:    *httpAddr,
			Handler: mux,
		},
	}
	srv.setupRoutes(mux)
	return srv, nil
}

// Start starts all server components
func (s *Server) Start() error {
	logger.Info("Main", "Starting people counter server...")
	logger.Info("Main", "  WebSocket server: ws://%s/", *httpAddr)
	logger.Info("Main", "  Metrics server: %s", *metricsAddr)
	if *inferenceURL != "" {
		logger.Info("Main", "  Detection: %s (class=%q, confidence>%.2f)", *inferenceURL, *class, *minConfidence)
		if h, ok := s.detector.(*detect.HTTPDetector); ok {
			ctx, cancel := context.WithTimeout(s.ctx, 3*time.Second)
			if err := h.CheckHealth(ctx); err != nil {
				logger.Warn("Main", "Detection endpoint not healthy yet: %v", err)
			}
			cancel()
		}
	} else {
		logger.Warn("Main", "  Detection disabled, frames stream without tracks")
	}

	if *pprofAddr != "" {
		go func() {
			logger.Info("Main", "Starting pprof server on %s", *pprofAddr)
			if err := http.ListenAndServe(*pprofAddr, nil); err != nil {
				logger.Warn("Main", "pprof server error: %v", err)
			}
		}()
	}

	if *metricsAddr != "" {
		go func() {
			logger.Info("Main", "Starting metrics server on %s", *metricsAddr)
			if err := s.metrics.StartServer(*metricsAddr); err != nil {
				logger.Warn("Main", "Metrics server error: %v", err)
			}
		}()
	}

	go func() {
		logger.Info("Main", "Starting HTTP server on %s", *httpAddr)
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("Main", "HTTP server error: %v", err)
			s.cancel()
		}
	}()

	logger.Info("Main", "Server started successfully")
	return nil
}

// setupRoutes sets up HTTP routes
func (s *Server) setupRoutes(mux *http.ServeMux) {
	ws := transport.NewHandler(s.ctx, s.sessions)

	corsMiddleware := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next(w, r)
		}
	}

	// Viewers connect to the root path, as well as /ws
	mux.Handle("/ws", ws)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		ws.ServeHTTP(w, r)
	})

	// WebRTC signaling
	mux.HandleFunc("/offer", corsMiddleware(s.handleOffer))

	mux.HandleFunc("/sessions", s.handleSessions)
	mux.HandleFunc("/health", s.handleHealth)
}

// handleOffer handles WebRTC offer
func (s *Server) handleOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	offerJSON, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	answerJSON, err := s.webrtc.HandleOffer(offerJSON)
	if err != nil {
		logger.Warn("HTTP", "WebRTC offer error: %v", err)
		http.Error(w, fmt.Sprintf("Failed to handle offer: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(answerJSON)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.sessions.Sessions())
}

// handleHealth handles health check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":         "ok",
		"sessions":       s.sessions.Active(),
		"webrtc_clients": s.webrtc.GetClientCount(),
		"detection":      *inferenceURL != "",
	})
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.httpServer.Shutdown(ctx)

	// Cancel context to end live sessions, then wait for them
	s.cancel()
	s.webrtc.Close()

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn("Main", "Sessions did not finish before shutdown deadline")
	}
	return err
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
