package webmonitor

import (
	"sync"
	"time"

	"github.com/dj-oyu/codescan/internal/logger"
	"github.com/dj-oyu/codescan/internal/metrics"
	"github.com/dj-oyu/codescan/internal/recorder"
	"github.com/dj-oyu/codescan/internal/scan"
	"github.com/dj-oyu/codescan/pkg/types"
)

// FrameSink receives rendered preview frames in addition to the MJPEG clients.
type FrameSink interface {
	SendFrame(jpegData []byte, seq uint64)
	GetClientCount() int
}

// FrameBroadcaster renders presented frames and fans them out to MJPEG clients
// and frame sinks. It implements scan.Display.
type FrameBroadcaster struct {
	mu        sync.Mutex
	clients   map[int]chan []byte
	nextID    int
	sinks     []FrameSink
	monitor   *Monitor
	metrics   *metrics.Metrics
	quality   int
	stopped   bool
	skipCount int // Frames not rendered because nobody was watching
}

// NewFrameBroadcaster creates a broadcaster that renders frames at the given JPEG quality.
func NewFrameBroadcaster(monitor *Monitor, m *metrics.Metrics, quality int) *FrameBroadcaster {
	return &FrameBroadcaster{
		clients: make(map[int]chan []byte),
		monitor: monitor,
		metrics: m,
		quality: quality,
	}
}

// AddSink registers a sink for every rendered frame.
func (fb *FrameBroadcaster) AddSink(s FrameSink) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.sinks = append(fb.sinks, s)
}

// Subscribe adds a new client and returns a channel for receiving frames.
func (fb *FrameBroadcaster) Subscribe() (int, <-chan []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	id := fb.nextID
	fb.nextID++
	ch := make(chan []byte, 2)
	if fb.stopped {
		close(ch)
		return id, ch
	}
	fb.clients[id] = ch
	fb.updateClientGauge()

	logger.Debug("FrameBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(fb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (fb *FrameBroadcaster) Unsubscribe(id int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if ch, ok := fb.clients[id]; ok {
		close(ch)
		delete(fb.clients, id)
		fb.updateClientGauge()
		logger.Debug("FrameBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(fb.clients))

		if len(fb.clients) == 0 {
			logger.Info("FrameBroadcaster", "No clients remaining - frame rendering will be skipped")
		}
	}
}

// ClientCount returns the number of MJPEG clients.
func (fb *FrameBroadcaster) ClientCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.clients)
}

// Stop disconnects every client. Later frames are dropped.
func (fb *FrameBroadcaster) Stop() {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if fb.stopped {
		return
	}
	fb.stopped = true
	for id, ch := range fb.clients {
		close(ch)
		delete(fb.clients, id)
	}
	fb.updateClientGauge()
}

// Present records the frame and, when someone is watching, renders and
// broadcasts it with its symbols drawn on top.
func (fb *FrameBroadcaster) Present(frame types.Frame, symbols []scan.Symbol) {
	if fb.monitor != nil {
		fb.monitor.RecordFrame(frame, symbols)
	}

	fb.mu.Lock()
	watching := len(fb.clients)
	sinks := make([]FrameSink, 0, len(fb.sinks))
	for _, s := range fb.sinks {
		if s.GetClientCount() > 0 {
			sinks = append(sinks, s)
		}
	}
	stopped := fb.stopped
	if watching == 0 && len(sinks) == 0 {
		fb.skipCount++
		if fb.skipCount%100 == 0 {
			logger.Debug("FrameBroadcaster", "No clients connected, skipped %d frames", fb.skipCount)
		}
	} else {
		fb.skipCount = 0
	}
	fb.mu.Unlock()

	if stopped || (watching == 0 && len(sinks) == 0) {
		return
	}

	jpegData, err := encodeJPEG(frame, symbols, fb.quality)
	if err != nil {
		logger.Warn("FrameBroadcaster", "Failed to render frame #%d: %v", frame.Seq, err)
		return
	}

	fb.broadcast(jpegData)
	for _, s := range sinks {
		s.SendFrame(jpegData, frame.Seq)
	}
}

func (fb *FrameBroadcaster) broadcast(data []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	for _, ch := range fb.clients {
		select {
		case ch <- data:
		default:
			// Client too slow, skip this frame for this client
		}
	}
}

func (fb *FrameBroadcaster) updateClientGauge() {
	if fb.metrics != nil {
		fb.metrics.PreviewClients.Store(uint64(len(fb.clients)))
	}
}

// EventSink receives serialized JSON events in addition to the SSE clients.
type EventSink interface {
	SendEvent(eventJSON []byte)
}

// EventBroadcaster manages fanout of events to multiple SSE clients.
// Events are serialized once, in both formats, before fanout.
type EventBroadcaster struct {
	name    string
	mu      sync.Mutex
	clients map[int]chan *SerializedEvent
	nextID  int
	sinks   []EventSink
	last    *SerializedEvent
	stopped bool
}

// NewEventBroadcaster creates an event broadcaster; name tags its log lines.
func NewEventBroadcaster(name string) *EventBroadcaster {
	return &EventBroadcaster{
		name:    name,
		clients: make(map[int]chan *SerializedEvent),
	}
}

// AddSink registers a sink for every published event.
func (eb *EventBroadcaster) AddSink(s EventSink) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.sinks = append(eb.sinks, s)
}

// Subscribe adds a new client. When replayLast is set, the most recent event is
// queued immediately.
func (eb *EventBroadcaster) Subscribe(replayLast bool) (int, <-chan *SerializedEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	id := eb.nextID
	eb.nextID++
	ch := make(chan *SerializedEvent, 8)
	if eb.stopped {
		close(ch)
		return id, ch
	}
	if replayLast && eb.last != nil {
		ch <- eb.last
	}
	eb.clients[id] = ch

	logger.Debug(eb.name, "Client #%d subscribed (total clients: %d)", id, len(eb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (eb *EventBroadcaster) Unsubscribe(id int) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if ch, ok := eb.clients[id]; ok {
		close(ch)
		delete(eb.clients, id)
		logger.Debug(eb.name, "Client #%d unsubscribed (remaining clients: %d)", id, len(eb.clients))
	}
}

// ClientCount returns the number of SSE clients.
func (eb *EventBroadcaster) ClientCount() int {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	return len(eb.clients)
}

// Stop disconnects every client.
func (eb *EventBroadcaster) Stop() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.stopped {
		return
	}
	eb.stopped = true
	for id, ch := range eb.clients {
		close(ch)
		delete(eb.clients, id)
	}
}

// Publish serializes v and sends it to every client.
func (eb *EventBroadcaster) Publish(v any) {
	event, err := serializeEvent(v)
	if err != nil {
		logger.Error(eb.name, "Failed to serialize event: %v", err)
		return
	}

	eb.mu.Lock()
	eb.last = event
	sinks := append([]EventSink(nil), eb.sinks...)
	for _, ch := range eb.clients {
		select {
		case ch <- event:
		default:
			// Client too slow, drop this event for it
		}
	}
	eb.mu.Unlock()

	for _, s := range sinks {
		s.SendEvent(event.JSONData)
	}
}

// DetectionFeed turns dispatched actions into detection events. It implements
// action.Observer.
type DetectionFeed struct {
	monitor     *Monitor
	broadcaster *EventBroadcaster
}

// NewDetectionFeed creates a feed publishing to b.
func NewDetectionFeed(monitor *Monitor, b *EventBroadcaster) *DetectionFeed {
	return &DetectionFeed{monitor: monitor, broadcaster: b}
}

// Observe publishes e as a detection event.
func (f *DetectionFeed) Observe(e recorder.Entry) {
	ev := detectionEventFromEntry(e)
	if f.monitor != nil {
		f.monitor.RecordDetection(ev)
	}
	f.broadcaster.Publish(ev)
}

// StatusFeed publishes session status events on every session change and on a
// fixed interval while clients are connected.
type StatusFeed struct {
	status      func() StatusEvent
	broadcaster *EventBroadcaster
	interval    time.Duration
	stop        chan struct{}
	stopOnce    sync.Once
}

// NewStatusFeed creates a feed that builds events with status.
func NewStatusFeed(status func() StatusEvent, b *EventBroadcaster, interval time.Duration) *StatusFeed {
	return &StatusFeed{
		status:      status,
		broadcaster: b,
		interval:    interval,
		stop:        make(chan struct{}),
	}
}

// Start begins the periodic publisher.
func (f *StatusFeed) Start() {
	go f.run()
}

// Stop halts the periodic publisher.
func (f *StatusFeed) Stop() {
	f.stopOnce.Do(func() { close(f.stop) })
}

// SessionChanged publishes a status event immediately.
func (f *StatusFeed) SessionChanged(scan.SessionStatus) {
	f.broadcaster.Publish(f.status())
}

func (f *StatusFeed) run() {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stop:
			return
		case <-ticker.C:
			if f.broadcaster.ClientCount() == 0 {
				continue
			}
			f.broadcaster.Publish(f.status())
		}
	}
}
