package webmonitor

import (
	"sync"

	"github.com/dj-oyu/codescan/internal/metrics"
	"github.com/dj-oyu/codescan/internal/scan"
)

// Hub owns the preview and event fan-out shared by the scan pipeline and the
// HTTP server. Build it first so the controller can present frames into it.
type Hub struct {
	Monitor    *Monitor
	Frames     *FrameBroadcaster
	Detections *EventBroadcaster
	Statuses   *EventBroadcaster
	Feed       *DetectionFeed

	mu         sync.Mutex
	statusFeed *StatusFeed
}

// NewHub creates the broadcasters.
func NewHub(cfg Config, m *metrics.Metrics) *Hub {
	cfg = cfg.withDefaults()
	monitor := NewMonitor(cfg.DetectionHistory)
	detections := NewEventBroadcaster("DetectionBroadcaster")
	return &Hub{
		Monitor:    monitor,
		Frames:     NewFrameBroadcaster(monitor, m, cfg.JPEGQuality),
		Detections: detections,
		Statuses:   NewEventBroadcaster("StatusBroadcaster"),
		Feed:       NewDetectionFeed(monitor, detections),
	}
}

// SessionChanged publishes a status event once the server is attached.
func (h *Hub) SessionChanged(st scan.SessionStatus) {
	h.mu.Lock()
	feed := h.statusFeed
	h.mu.Unlock()
	if feed != nil {
		feed.SessionChanged(st)
	}
}

func (h *Hub) setStatusFeed(f *StatusFeed) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statusFeed = f
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	feed := h.statusFeed
	h.mu.Unlock()
	if feed != nil {
		feed.Stop()
	}
	h.Frames.Stop()
	h.Detections.Stop()
	h.Statuses.Stop()
}
