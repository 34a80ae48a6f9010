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
	// Frame counters
	FramesRead      atomic.Uint64
	FramesPresented atomic.Uint64

	// Decode counters
	RegionsDecoded atomic.Uint64
	RegionsSkipped atomic.Uint64 // Zero-area regions dropped before decode
	DecodeErrors   atomic.Uint64
	SymbolsFound   atomic.Uint64

	// Action counters
	ActionsDispatched atomic.Uint64
	ActionsSuppressed atomic.Uint64
	DispatchErrors    atomic.Uint64
	NotifyErrors      atomic.Uint64

	// Region filter
	FilterErrors atomic.Uint64

	// Session lifecycle
	SessionsStarted atomic.Uint64
	SessionsStopped atomic.Uint64
	SessionsFailed  atomic.Uint64
	ActiveSessions  atomic.Int64

	// Batch scans
	ImagesScanned atomic.Uint64

	// Latency tracking
	DecodeLatencyMs atomic.Uint64 // Last per-frame decode latency in ms
	FrameLatencyMs  atomic.Uint64 // Capture-to-decode latency in ms

	// Preview clients
	PreviewClients atomic.Uint64

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

type gaugeDef struct {
	name  string
	help  string
	value func() float64
}

func counter(v *atomic.Uint64) func() float64 {
	return func() float64 { return float64(v.Load()) }
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	defs := []gaugeDef{
		{"codescan_frames_read_total", "Total frames acquired from frame sources", counter(&m.FramesRead)},
		{"codescan_frames_presented_total", "Total frames presented to the display surface", counter(&m.FramesPresented)},
		{"codescan_regions_decoded_total", "Total regions passed to the decoder", counter(&m.RegionsDecoded)},
		{"codescan_regions_skipped_total", "Total zero-area regions skipped", counter(&m.RegionsSkipped)},
		{"codescan_decode_errors_total", "Total decoder failures treated as empty regions", counter(&m.DecodeErrors)},
		{"codescan_symbols_found_total", "Total symbols decoded", counter(&m.SymbolsFound)},
		{"codescan_actions_dispatched_total", "Total actions dispatched", counter(&m.ActionsDispatched)},
		{"codescan_actions_suppressed_total", "Total duplicate actions suppressed", counter(&m.ActionsSuppressed)},
		{"codescan_dispatch_errors_total", "Total action dispatch failures", counter(&m.DispatchErrors)},
		{"codescan_notify_errors_total", "Total notification failures", counter(&m.NotifyErrors)},
		{"codescan_filter_errors_total", "Total region filter failures", counter(&m.FilterErrors)},
		{"codescan_sessions_started_total", "Total scan sessions started", counter(&m.SessionsStarted)},
		{"codescan_sessions_stopped_total", "Total scan sessions stopped", counter(&m.SessionsStopped)},
		{"codescan_sessions_failed_total", "Total scan sessions failed", counter(&m.SessionsFailed)},
		{"codescan_active_sessions", "Number of running scan sessions", func() float64 { return float64(m.ActiveSessions.Load()) }},
		{"codescan_images_scanned_total", "Total single images scanned", counter(&m.ImagesScanned)},
		{"codescan_decode_latency_ms", "Last per-frame decode latency in milliseconds", counter(&m.DecodeLatencyMs)},
		{"codescan_frame_latency_ms", "Last capture-to-decode latency in milliseconds", counter(&m.FrameLatencyMs)},
		{"codescan_preview_clients", "Number of connected preview clients", counter(&m.PreviewClients)},
	}

	for _, d := range defs {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: d.name, Help: d.help},
			d.value,
		))
	}
}

// UpdateDecodeLatency records the decode time of the last frame
func (m *Metrics) UpdateDecodeLatency(duration time.Duration) {
	m.DecodeLatencyMs.Store(uint64(duration.Milliseconds()))
}

// UpdateFrameLatency records the time since the frame was captured
func (m *Metrics) UpdateFrameLatency(captureTime time.Time) {
	if captureTime.IsZero() {
		return
	}
	latency := time.Since(captureTime).Milliseconds()
	if latency < 0 {
		latency = 0
	}
	m.FrameLatencyMs.Store(uint64(latency))
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server on its own mux
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
