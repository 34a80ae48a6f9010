package webmonitor

import (
	"github.com/dj-oyu/codescan/internal/recorder"
	"github.com/dj-oyu/codescan/internal/scan"
	"github.com/dj-oyu/codescan/pkg/types"
)

// SymbolBox is a decoded symbol drawn on the preview.
type SymbolBox struct {
	Kind    string       `json:"kind"`
	Format  string       `json:"format"`
	Payload string       `json:"payload"`
	BBox    types.Region `json:"bbox"`
}

// DetectionEvent is the payload for /api/detections/stream.
type DetectionEvent struct {
	Type        string  `json:"type"`
	ID          string  `json:"id"`
	SessionID   string  `json:"session_id,omitempty"`
	Kind        string  `json:"kind"`
	Format      string  `json:"format,omitempty"`
	Payload     string  `json:"payload"`
	Destination string  `json:"destination"`
	URL         string  `json:"url,omitempty"`
	Timestamp   float64 `json:"timestamp"`
	Error       string  `json:"error,omitempty"`
}

// MonitorStats summarizes the preview pipeline.
type MonitorStats struct {
	FramesProcessed int         `json:"frames_processed"`
	CurrentFPS      float64     `json:"current_fps"`
	DetectionCount  int         `json:"detection_count"`
	PreviewClients  int         `json:"preview_clients"`
	LatestSymbols   []SymbolBox `json:"latest_symbols"`
}

// StatusEvent is the payload for /api/status and /api/status/stream.
type StatusEvent struct {
	Type             string             `json:"type"`
	Session          scan.SessionStatus `json:"session"`
	Active           bool               `json:"active"`
	Monitor          MonitorStats       `json:"monitor"`
	DetectionHistory []DetectionEvent   `json:"detection_history"`
	Timestamp        float64            `json:"timestamp"`
}

func detectionEventFromEntry(e recorder.Entry) DetectionEvent {
	return DetectionEvent{
		Type:        "detection",
		ID:          e.ID,
		SessionID:   e.SessionID,
		Kind:        e.Kind.String(),
		Format:      e.Format,
		Payload:     e.Payload,
		Destination: e.Destination.String(),
		URL:         e.URL,
		Timestamp:   unixSeconds(e.DetectedAt),
		Error:       e.Error,
	}
}

func symbolBoxes(symbols []scan.Symbol) []SymbolBox {
	boxes := make([]SymbolBox, 0, len(symbols))
	for _, s := range symbols {
		boxes = append(boxes, SymbolBox{
			Kind:    s.Kind.String(),
			Format:  s.Format,
			Payload: s.Payload,
			BBox:    s.Region,
		})
	}
	return boxes
}
