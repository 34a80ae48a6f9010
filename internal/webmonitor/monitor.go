package webmonitor

import (
	"sync"
	"time"

	"github.com/dj-oyu/codescan/internal/scan"
	"github.com/dj-oyu/codescan/pkg/types"
)

// Monitor tracks preview statistics and the most recent detections.
type Monitor struct {
	startTime  time.Time
	historyLen int

	mu               sync.Mutex
	frameCounter     int
	fps              float64
	lastFrame        time.Time
	latestSymbols    []SymbolBox
	detectionCount   int
	detectionHistory []DetectionEvent
}

// NewMonitor creates a Monitor keeping historyLen recent detections.
func NewMonitor(historyLen int) *Monitor {
	if historyLen <= 0 {
		historyLen = 8
	}
	return &Monitor{
		startTime:  time.Now(),
		historyLen: historyLen,
	}
}

// RecordFrame counts a presented frame and keeps its symbols for the status view.
func (m *Monitor) RecordFrame(frame types.Frame, symbols []scan.Symbol) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.frameCounter++
	if !m.lastFrame.IsZero() {
		if dt := now.Sub(m.lastFrame).Seconds(); dt > 0 {
			inst := 1 / dt
			if m.fps == 0 {
				m.fps = inst
			} else {
				m.fps = 0.9*m.fps + 0.1*inst
			}
		}
	}
	m.lastFrame = now
	m.latestSymbols = symbolBoxes(symbols)
}

// RecordDetection adds a dispatched detection to the history, newest first.
func (m *Monitor) RecordDetection(ev DetectionEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.detectionCount++
	m.detectionHistory = append([]DetectionEvent{ev}, m.detectionHistory...)
	if len(m.detectionHistory) > m.historyLen {
		m.detectionHistory = m.detectionHistory[:m.historyLen]
	}
}

// Snapshot returns the current stats and a copy of the detection history.
func (m *Monitor) Snapshot() (MonitorStats, []DetectionEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fps := m.fps
	if !m.lastFrame.IsZero() && time.Since(m.lastFrame) > 2*time.Second {
		fps = 0
	}
	stats := MonitorStats{
		FramesProcessed: m.frameCounter,
		CurrentFPS:      fps,
		DetectionCount:  m.detectionCount,
		LatestSymbols:   append([]SymbolBox{}, m.latestSymbols...),
	}

	historyCopy := make([]DetectionEvent, len(m.detectionHistory))
	copy(historyCopy, m.detectionHistory)
	return stats, historyCopy
}

// Uptime returns the time since the monitor was created.
func (m *Monitor) Uptime() time.Duration {
	return time.Since(m.startTime)
}
