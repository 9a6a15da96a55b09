package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dj-oyu/people-counter/internal/capture"
	"github.com/dj-oyu/people-counter/internal/capture/opencv"
	"github.com/dj-oyu/people-counter/internal/logger"
	"github.com/dj-oyu/people-counter/internal/metrics"
	"github.com/dj-oyu/people-counter/internal/protocol"
	"github.com/dj-oyu/people-counter/internal/viewer"
	"github.com/dj-oyu/people-counter/internal/viewer/window"
	"github.com/dj-oyu/people-counter/internal/webmonitor"
	"github.com/dj-oyu/people-counter/pkg/types"
)

func init() {
	// OpenCV windows must be driven from the main thread.
	runtime.LockOSThread()
}

func main() {
	cfg := webmonitor.DefaultConfig()

	var (
		source      string
		line        string
		showWindow  bool
		metricsAddr string
		logLevel    string
		logColor    bool
	)

	flag.StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "Producer WebSocket URL")
	flag.StringVar(&cfg.Format, "format", cfg.Format, "Frame format (json, protobuf)")
	flag.StringVar(&cfg.Addr, "http", "", "Web monitor address, e.g. :8501 (empty runs a single session)")
	flag.IntVar(&cfg.DisplayWidth, "display-width", cfg.DisplayWidth, "Preview width for drawing the boundary")
	flag.StringVar(&source, "source", "0", "Video source: device index, file path or URL")
	flag.StringVar(&line, "boundary", "", "Boundary line x1,y1,x2,y2 in source pixels (empty uses the midline)")
	flag.BoolVar(&showWindow, "window", true, "Show frames in a window (single session mode)")
	flag.StringVar(&metricsAddr, "metrics", "", "Metrics server address (empty to disable)")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error, silent)")
	flag.BoolVar(&logColor, "log-color", true, "Enable colored log output")
	flag.Parse()

	// Initialize logger
	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, logColor)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if metricsAddr != "" {
		go func() {
			logger.Info("Main", "Starting metrics server on %s", metricsAddr)
			if err := m.StartServer(metricsAddr); err != nil {
				logger.Warn("Main", "Metrics server error: %v", err)
			}
		}()
	}

	if cfg.Addr != "" {
		if err := serveMonitor(ctx, cfg, m); err != nil {
			log.Fatalf("server error: %v", err)
		}
		return
	}

	sessionCfg := protocol.Config{VideoSource: types.ParseVideoSource(source)}
	if line != "" {
		b, err := parseBoundary(line)
		if err != nil {
			log.Fatalf("Invalid boundary: %v", err)
		}
		sessionCfg.Boundary = b
	}

	surfaces := []viewer.Surface{logCounters(logger.For("Viewer"))}
	if showWindow {
		w := window.New("People Counter")
		defer w.Close()
		surfaces = append(surfaces, w)
	}

	logger.Info("Main", "Connecting to %s (source=%s, format=%s)", cfg.ServerURL, sessionCfg.VideoSource, cfg.Format)
	if err := viewer.Dial(ctx, cfg.ServerURL, cfg.Format, sessionCfg, viewer.Multi(surfaces...), m); err != nil {
		log.Fatalf("Viewer error: %v", err)
	}
	logger.Info("Main", "Session ended")
}

// serveMonitor runs the web monitor until ctx is cancelled. Sessions are
// started from the browser.
func serveMonitor(ctx context.Context, cfg webmonitor.Config, m *metrics.Metrics) error {
	opener := capture.Router{HTTP: capture.MJPEGOpener{}, Local: opencv.Opener{}}
	connect := func(ctx context.Context, pc protocol.Config, surface viewer.Surface) error {
		return viewer.Dial(ctx, cfg.ServerURL, cfg.Format, pc, surface, m)
	}

	server := webmonitor.NewServer(ctx, cfg, opener, connect, m)
	defer server.Close()

	logger.Info("Main", "Web monitor listening on %s", cfg.Addr)
	logger.Info("Main", "Producer: %s (format=%s)", cfg.ServerURL, cfg.Format)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Handler(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// logCounters logs the totals whenever they change.
func logCounters(log logger.Module) viewer.Surface {
	var last types.Counters
	first := true
	return viewer.SurfaceFunc(func(f viewer.Frame) error {
		if first || f.Counters != last {
			log.Info("Entries: %d, Exits: %d", f.Counters.Entries, f.Counters.Exits)
			last, first = f.Counters, false
		}
		return nil
	})
}

func parseBoundary(s string) (*types.Boundary, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("want x1,y1,x2,y2, got %q", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("coordinate %d: %w", i+1, err)
		}
		v[i] = n
	}
	return &types.Boundary{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3]}, nil
}
