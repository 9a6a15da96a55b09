package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Session tracking
	ActiveSessions      atomic.Int64
	TotalSessions       atomic.Uint64
	CaptureOpenFailures atomic.Uint64

	// Producer frame counters
	FramesRead   atomic.Uint64
	FramesSent   atomic.Uint64
	SendErrors   atomic.Uint64
	DetectErrors atomic.Uint64
	EncodeErrors atomic.Uint64

	// Crossing totals over all sessions
	Entries atomic.Uint64
	Exits   atomic.Uint64

	// Viewer side
	FramesReceived atomic.Uint64
	ParseErrors    atomic.Uint64
	DecodeErrors   atomic.Uint64

	// Latency tracking
	ProcessLatencyMs atomic.Uint64 // Last per-frame processing time in ms
	SendLatencyMs    atomic.Uint64 // Last envelope send time in ms

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) gauge(name, help string, value func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		value,
	))
}

func counterOf(v *atomic.Uint64) func() float64 {
	return func() float64 { return float64(v.Load()) }
}

func (m *Metrics) registerPrometheusMetrics() {
	// Sessions
	m.gauge("people_counter_active_sessions", "Number of sessions currently streaming",
		func() float64 { return float64(m.ActiveSessions.Load()) })
	m.gauge("people_counter_sessions_total", "Total sessions accepted", counterOf(&m.TotalSessions))
	m.gauge("people_counter_capture_open_failures_total", "Sessions closed because the capture source could not be opened",
		counterOf(&m.CaptureOpenFailures))

	// Frames
	m.gauge("people_counter_frames_read_total", "Total frames read from capture sources", counterOf(&m.FramesRead))
	m.gauge("people_counter_frames_sent_total", "Total frame envelopes sent to viewers", counterOf(&m.FramesSent))
	m.gauge("people_counter_send_errors_total", "Total envelope send failures", counterOf(&m.SendErrors))
	m.gauge("people_counter_detect_errors_total", "Total detector failures", counterOf(&m.DetectErrors))
	m.gauge("people_counter_encode_errors_total", "Total frame or envelope encode failures", counterOf(&m.EncodeErrors))

	// Crossings
	m.gauge("people_counter_entries_total", "Total entries counted over all sessions", counterOf(&m.Entries))
	m.gauge("people_counter_exits_total", "Total exits counted over all sessions", counterOf(&m.Exits))

	// Viewer
	m.gauge("people_counter_viewer_frames_received_total", "Total frame envelopes received by the viewer",
		counterOf(&m.FramesReceived))
	m.gauge("people_counter_viewer_parse_errors_total", "Total viewer messages that were not frame envelopes",
		counterOf(&m.ParseErrors))
	m.gauge("people_counter_viewer_decode_errors_total", "Total viewer frames that failed to decode",
		counterOf(&m.DecodeErrors))

	// Latency
	m.gauge("people_counter_process_latency_ms", "Last frame processing latency in milliseconds",
		counterOf(&m.ProcessLatencyMs))
	m.gauge("people_counter_send_latency_ms", "Last envelope send latency in milliseconds",
		counterOf(&m.SendLatencyMs))
}

// SessionStarted records a newly accepted session
func (m *Metrics) SessionStarted() {
	m.TotalSessions.Add(1)
	m.ActiveSessions.Add(1)
}

// SessionEnded records a session leaving the streaming state
func (m *Metrics) SessionEnded() {
	m.ActiveSessions.Add(-1)
}

// AddCrossings adds per-frame counter deltas to the global totals
func (m *Metrics) AddCrossings(entries, exits int) {
	if entries > 0 {
		m.Entries.Add(uint64(entries))
	}
	if exits > 0 {
		m.Exits.Add(uint64(exits))
	}
}

// UpdateProcessLatency updates the processing latency
func (m *Metrics) UpdateProcessLatency(duration time.Duration) {
	m.ProcessLatencyMs.Store(uint64(duration.Milliseconds()))
}

// UpdateSendLatency updates the send latency
func (m *Metrics) UpdateSendLatency(duration time.Duration) {
	m.SendLatencyMs.Store(uint64(duration.Milliseconds()))
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
