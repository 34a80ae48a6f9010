package webmonitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/dj-oyu/codescan/internal/logger"
	"github.com/dj-oyu/codescan/internal/recorder"
	"github.com/dj-oyu/codescan/internal/scan"
	"github.com/dj-oyu/codescan/internal/scanner"
	"github.com/dj-oyu/codescan/internal/source"
	"github.com/dj-oyu/codescan/pkg/types"
)

var log = logger.For("WebMonitor")

// Controller is the scan control surface used by the HTTP handlers.
type Controller interface {
	Start(req scanner.StartRequest) (scan.SessionStatus, error)
	Stop() (scan.SessionStatus, error)
	IsActive() bool
	Status() (scan.SessionStatus, bool)
	ScanImage(ctx context.Context, frame types.Frame, dest scan.Destination, recordTimestamp bool) (scan.ImageResult, error)
}

// History lists dispatched actions.
type History interface {
	List(limit int) ([]recorder.Entry, error)
	GetStatus() recorder.RecordingStatus
}

// OfferHandler answers WebRTC preview offers.
type OfferHandler interface {
	HandleOffer(offerJSON []byte) ([]byte, error)
	GetClientCount() int
}

// Deps are the collaborators of a Server. History, WebRTC and Metrics are optional.
type Deps struct {
	Controller Controller
	History    History
	WebRTC     OfferHandler
	Metrics    http.Handler

	// Defaults fill in start requests that omit a field.
	Defaults scanner.StartRequest
}

// Server serves the scanner page, preview streams and the control API.
type Server struct {
	cfg        Config
	hub        *Hub
	deps       Deps
	statusFeed *StatusFeed
}

// NewServer returns a configured server and starts its status publisher.
func NewServer(cfg Config, hub *Hub, deps Deps) *Server {
	cfg = cfg.withDefaults()
	s := &Server{cfg: cfg, hub: hub, deps: deps}
	s.statusFeed = NewStatusFeed(s.statusEvent, hub.Statuses, cfg.StatusInterval)
	hub.setStatusFeed(s.statusFeed)
	s.statusFeed.Start()
	return s
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.PathPrefix("/assets/").Handler(http.StripPrefix("/assets/", newAssetHandler(s.cfg.AssetsDir)))
	r.HandleFunc("/stream", s.handleStream).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/status/stream", s.handleStatusStream).Methods(http.MethodGet)
	r.HandleFunc("/api/detections/stream", s.handleDetectionsStream).Methods(http.MethodGet)
	r.HandleFunc("/api/scan/start", s.handleScanStart).Methods(http.MethodPost)
	r.HandleFunc("/api/scan/stop", s.handleScanStop).Methods(http.MethodPost)
	r.HandleFunc("/api/scan/status", s.handleScanStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/scan/image", s.handleScanImage).Methods(http.MethodPost)
	r.HandleFunc("/api/history", s.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/api/webrtc/offer", s.handleWebRTCOffer).Methods(http.MethodPost)

	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics).Methods(http.MethodGet)
	}

	return r
}

// Close stops the status publisher and disconnects streaming clients.
func (s *Server) Close() {
	s.hub.Close()
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(s.hub.Monitor.Uptime().Seconds()),
		"scanning":       s.deps.Controller != nil && s.deps.Controller.IsActive(),
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, frameCh := s.hub.Frames.Subscribe()
	defer s.hub.Frames.Unsubscribe(id)
	streamMJPEGFromChannel(w, r, frameCh, s.cfg.KeepaliveInterval)
}

func (s *Server) statusEvent() StatusEvent {
	stats, history := s.hub.Monitor.Snapshot()
	stats.PreviewClients = s.hub.Frames.ClientCount()
	if s.deps.WebRTC != nil {
		stats.PreviewClients += s.deps.WebRTC.GetClientCount()
	}

	ev := StatusEvent{
		Type:             "status",
		Session:          scan.SessionStatus{State: scan.Idle},
		Monitor:          stats,
		DetectionHistory: history,
		Timestamp:        unixSeconds(time.Now()),
	}
	if s.deps.Controller != nil {
		ev.Session, _ = s.deps.Controller.Status()
		ev.Active = s.deps.Controller.IsActive()
	}
	return ev
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.statusEvent())
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	// Publish a fresh snapshot so the new client starts with current state.
	s.hub.Statuses.Publish(s.statusEvent())

	id, eventCh := s.hub.Statuses.Subscribe(true)
	defer s.hub.Statuses.Unsubscribe(id)
	streamEventsFromChannel(w, r, eventCh, wantsProtobuf(r), s.cfg.KeepaliveInterval)
}

func (s *Server) handleDetectionsStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.hub.Detections.Subscribe(false)
	defer s.hub.Detections.Unsubscribe(id)
	streamEventsFromChannel(w, r, eventCh, wantsProtobuf(r), s.cfg.KeepaliveInterval)
}

// wantsProtobuf performs content negotiation on the Accept header.
func wantsProtobuf(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")
}

// startBody is the JSON body of POST /api/scan/start. Omitted fields use the
// server defaults.
type startBody struct {
	Kind            *scan.SymbolKind  `json:"kind"`
	Destination     *scan.Destination `json:"destination"`
	RecordTimestamp *bool             `json:"record_timestamp"`
	Policy          *scan.Policy      `json:"policy"`
	CooldownMs      *int64            `json:"cooldown_ms"`
}

func (b startBody) request(def scanner.StartRequest) scanner.StartRequest {
	req := def
	if b.Kind != nil {
		req.Kind = *b.Kind
	}
	if b.Destination != nil {
		req.Destination = *b.Destination
	}
	if b.RecordTimestamp != nil {
		req.RecordTimestamp = *b.RecordTimestamp
	}
	if b.Policy != nil {
		req.Policy = *b.Policy
	}
	if b.CooldownMs != nil {
		req.Cooldown = time.Duration(*b.CooldownMs) * time.Millisecond
	}
	return req
}

func (s *Server) handleScanStart(w http.ResponseWriter, r *http.Request) {
	if s.deps.Controller == nil {
		writeJSONWithStatus(w, map[string]any{"error": "scanner is not configured"}, http.StatusServiceUnavailable)
		return
	}

	var body startBody
	if r.ContentLength != 0 {
		dec := json.NewDecoder(io.LimitReader(r.Body, 64<<10))
		if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeJSONWithStatus(w, map[string]any{"error": fmt.Sprintf("invalid request: %v", err)}, http.StatusBadRequest)
			return
		}
	}

	st, err := s.deps.Controller.Start(body.request(s.deps.Defaults))
	if err != nil {
		log.Warn("Scan start rejected: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": err.Error(), "session": st}, statusForError(err))
		return
	}
	writeJSON(w, map[string]any{"status": "started", "session": st})
}

func (s *Server) handleScanStop(w http.ResponseWriter, r *http.Request) {
	if s.deps.Controller == nil {
		writeJSONWithStatus(w, map[string]any{"error": "scanner is not configured"}, http.StatusServiceUnavailable)
		return
	}
	st, err := s.deps.Controller.Stop()
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, statusForError(err))
		return
	}
	writeJSON(w, map[string]any{"status": "stopping", "session": st})
}

func (s *Server) handleScanStatus(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"active":  false,
		"session": scan.SessionStatus{State: scan.Idle},
	}
	if s.deps.Controller != nil {
		st, _ := s.deps.Controller.Status()
		payload["active"] = s.deps.Controller.IsActive()
		payload["session"] = st
	}
	writeJSON(w, payload)
}

func (s *Server) handleScanImage(w http.ResponseWriter, r *http.Request) {
	if s.deps.Controller == nil {
		writeJSONWithStatus(w, map[string]any{"error": "scanner is not configured"}, http.StatusServiceUnavailable)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	data, name, err := readUpload(r)
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}

	dest := s.deps.Defaults.Destination
	if v := r.FormValue("destination"); v != "" {
		if dest, err = scan.ParseDestination(v); err != nil {
			writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
			return
		}
	}
	recordTs := s.deps.Defaults.RecordTimestamp
	if v := r.FormValue("record_timestamp"); v != "" {
		if recordTs, err = strconv.ParseBool(v); err != nil {
			writeJSONWithStatus(w, map[string]any{"error": "invalid record_timestamp"}, http.StatusBadRequest)
			return
		}
	}

	frame, err := source.FrameFromBytes(data, name)
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusUnsupportedMediaType)
		return
	}

	res, err := s.deps.Controller.ScanImage(r.Context(), frame, dest, recordTs)
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, statusForError(err))
		return
	}

	warnings := make([]string, 0, len(res.Warnings))
	for _, wrn := range res.Warnings {
		warnings = append(warnings, wrn.Error())
	}
	writeJSON(w, map[string]any{
		"file":     name,
		"symbols":  nonNil(res.Symbols),
		"actions":  nonNil(res.Actions),
		"warnings": warnings,
	})
}

// readUpload accepts a multipart form with an "image" file or a raw image body.
func readUpload(r *http.Request) ([]byte, string, error) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		file, header, err := r.FormFile("image")
		if err != nil {
			return nil, "", fmt.Errorf("missing image upload: %w", err)
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return nil, "", fmt.Errorf("read upload: %w", err)
		}
		return data, header.Filename, nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return nil, "", errors.New("empty upload")
	}
	return data, "upload", nil
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeJSON(w, map[string]any{"entries": []recorder.Entry{}})
		return
	}

	limit := s.cfg.HistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSONWithStatus(w, map[string]any{"error": "invalid limit"}, http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := s.deps.History.List(limit)
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"entries": entries,
		"status":  s.deps.History.GetStatus(),
	})
}

func (s *Server) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	if s.deps.WebRTC == nil {
		writeJSONWithStatus(w, map[string]any{"error": "WebRTC preview is disabled"}, http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil || payload["sdp"] == nil || payload["type"] == nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	answer, err := s.deps.WebRTC.HandleOffer(body)
	if err != nil {
		log.Warn("WebRTC offer failed: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(answer)
}

// statusForError maps control errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, scan.ErrSessionActive), errors.Is(err, scan.ErrNotRunning), errors.Is(err, scan.ErrSessionNotIdle):
		return http.StatusConflict
	case errors.Is(err, scan.ErrFrameUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
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
