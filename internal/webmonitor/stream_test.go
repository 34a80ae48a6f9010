package webmonitor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/codescan/internal/metrics"
	"github.com/dj-oyu/codescan/internal/recorder"
	"github.com/dj-oyu/codescan/internal/scan"
	"github.com/dj-oyu/codescan/internal/scanner"
	"github.com/dj-oyu/codescan/pkg/types"
)

func decodeProtobufEvent(t *testing.T, data []byte) *structpb.Struct {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(string(data))
	require.NoError(t, err)
	st := &structpb.Struct{}
	require.NoError(t, proto.Unmarshal(raw, st))
	return st
}

func sampleEntry() recorder.Entry {
	return recorder.Entry{
		ID:          "e-1",
		SessionID:   "s-1",
		Kind:        scan.QRCode,
		Format:      "QR_CODE",
		Payload:     "HELLO",
		Destination: scan.Google,
		URL:         "https://www.google.com/search?q=HELLO",
		DetectedAt:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSerializeEventFormats(t *testing.T) {
	ev := detectionEventFromEntry(sampleEntry())
	serialized, err := serializeEvent(ev)
	require.NoError(t, err)

	assert.Contains(t, string(serialized.JSONData), `"payload":"HELLO"`)
	assert.Contains(t, string(serialized.JSONData), `"kind":"qrcode"`)

	st := decodeProtobufEvent(t, serialized.ProtobufData)
	fields := st.GetFields()
	assert.Equal(t, "detection", fields["type"].GetStringValue())
	assert.Equal(t, "HELLO", fields["payload"].GetStringValue())
	assert.Equal(t, "Google", fields["destination"].GetStringValue())
	assert.InDelta(t, float64(sampleEntry().DetectedAt.Unix()), fields["timestamp"].GetNumberValue(), 0.001)
}

func TestSerializeEventRejectsNonObject(t *testing.T) {
	_, err := serializeEvent([]int{1, 2})
	assert.Error(t, err)
}

func TestMonitorHistoryNewestFirst(t *testing.T) {
	m := NewMonitor(2)
	for _, p := range []string{"A", "B", "C"} {
		m.RecordDetection(DetectionEvent{Payload: p})
	}
	m.RecordFrame(types.Frame{Image: image.NewGray(image.Rect(0, 0, 4, 4))}, []scan.Symbol{{Kind: scan.Barcode, Payload: "C"}})

	stats, history := m.Snapshot()
	assert.Equal(t, 3, stats.DetectionCount)
	assert.Equal(t, 1, stats.FramesProcessed)
	require.Len(t, history, 2)
	assert.Equal(t, "C", history[0].Payload)
	assert.Equal(t, "B", history[1].Payload)
	require.Len(t, stats.LatestSymbols, 1)
	assert.Equal(t, "barcode", stats.LatestSymbols[0].Kind)
}

type captureFrameSink struct {
	clients int
	frames  [][]byte
	seqs    []uint64
}

func (s *captureFrameSink) SendFrame(data []byte, seq uint64) {
	s.frames = append(s.frames, data)
	s.seqs = append(s.seqs, seq)
}

func (s *captureFrameSink) GetClientCount() int { return s.clients }

func colorFrame(seq uint64) types.Frame {
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := range 48 {
		for x := range 64 {
			img.Set(x, y, color.RGBA{R: 40, G: 80, B: 120, A: 255})
		}
	}
	return types.Frame{Image: img, Seq: seq, Timestamp: time.Now()}
}

func TestFrameBroadcasterRendersOnlyWhenWatched(t *testing.T) {
	m := metrics.New()
	monitor := NewMonitor(4)
	fb := NewFrameBroadcaster(monitor, m, 70)
	sink := &captureFrameSink{}
	fb.AddSink(sink)

	fb.Present(colorFrame(1), nil)
	assert.Empty(t, sink.frames, "nobody watching")
	stats, _ := monitor.Snapshot()
	assert.Equal(t, 1, stats.FramesProcessed, "frames are counted even when not rendered")

	id, ch := fb.Subscribe()
	assert.Equal(t, uint64(1), m.PreviewClients.Load())
	sink.clients = 1

	symbols := []scan.Symbol{{Kind: scan.QRCode, Payload: "HELLO", Region: types.Region{X: 4, Y: 4, W: 20, H: 20}}}
	fb.Present(colorFrame(2), symbols)

	select {
	case data := <-ch:
		img, err := jpeg.Decode(bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, 64, img.Bounds().Dx())
	case <-time.After(time.Second):
		t.Fatal("no frame delivered")
	}
	require.Len(t, sink.frames, 1)
	assert.Equal(t, []uint64{2}, sink.seqs)

	fb.Unsubscribe(id)
	assert.Equal(t, uint64(0), m.PreviewClients.Load())
	fb.Stop()
	_, closed := fb.Subscribe()
	_, ok := <-closed
	assert.False(t, ok, "subscriptions after stop are closed")
}

type captureEventSink struct{ events [][]byte }

func (s *captureEventSink) SendEvent(data []byte) { s.events = append(s.events, data) }

func TestEventBroadcasterReplayAndSinks(t *testing.T) {
	eb := NewEventBroadcaster("test")
	sink := &captureEventSink{}
	eb.AddSink(sink)

	eb.Publish(map[string]any{"type": "status", "n": 1})
	require.Len(t, sink.events, 1)

	id, ch := eb.Subscribe(true)
	defer eb.Unsubscribe(id)
	select {
	case ev := <-ch:
		assert.JSONEq(t, `{"type":"status","n":1}`, string(ev.JSONData))
	default:
		t.Fatal("last event not replayed")
	}

	_, fresh := eb.Subscribe(false)
	select {
	case <-fresh:
		t.Fatal("unexpected replay")
	default:
	}
	assert.Equal(t, 2, eb.ClientCount())
}

func TestDetectionFeedRecordsAndPublishes(t *testing.T) {
	monitor := NewMonitor(4)
	eb := NewEventBroadcaster("detections")
	feed := NewDetectionFeed(monitor, eb)
	id, ch := eb.Subscribe(false)
	defer eb.Unsubscribe(id)

	feed.Observe(sampleEntry())

	ev := <-ch
	assert.Contains(t, string(ev.JSONData), `"id":"e-1"`)
	_, history := monitor.Snapshot()
	require.Len(t, history, 1)
	assert.Equal(t, "HELLO", history[0].Payload)
}

func readSSEData(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}
}

func TestDetectionStreamNegotiatesFormat(t *testing.T) {
	ts := newTestServer(t, Deps{})
	httpSrv := httptest.NewServer(ts.handler)
	defer httpSrv.Close()

	for _, tc := range []struct {
		name     string
		accept   string
		protobuf bool
	}{
		{"json", "text/event-stream", false},
		{"protobuf", "application/protobuf", true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpSrv.URL+"/api/detections/stream", nil)
			require.NoError(t, err)
			req.Header.Set("Accept", tc.accept)

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

			ts.hub.Feed.Observe(sampleEntry())
			data := readSSEData(t, bufio.NewReader(resp.Body))

			if tc.protobuf {
				assert.Equal(t, "application/protobuf", resp.Header.Get("X-Content-Format"))
				st := decodeProtobufEvent(t, []byte(data))
				assert.Equal(t, "HELLO", st.GetFields()["payload"].GetStringValue())
			} else {
				assert.Contains(t, data, `"payload":"HELLO"`)
			}
		})
	}
}

func TestStatusStreamSendsSnapshotAndChanges(t *testing.T) {
	ts := newTestServer(t, Deps{})
	httpSrv := httptest.NewServer(ts.handler)
	defer httpSrv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpSrv.URL+"/api/status/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body := bufio.NewReader(resp.Body)

	first := readSSEData(t, body)
	assert.Contains(t, first, `"type":"status"`)
	assert.Contains(t, first, `"active":false`)

	_, err = ts.ctrl.Start(scanner.StartRequest{Kind: scan.QRCode})
	require.NoError(t, err)
	ts.hub.SessionChanged(scan.SessionStatus{})

	next := readSSEData(t, body)
	assert.Contains(t, next, `"active":true`)
}

func TestMJPEGStreamSendsIdleFrame(t *testing.T) {
	ts := newTestServer(t, Deps{})
	httpSrv := httptest.NewServer(ts.handler)
	defer httpSrv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpSrv.URL+"/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "multipart/x-mixed-replace; boundary=frame", resp.Header.Get("Content-Type"))
	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "--frame\r\n", line)
	line, err = r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "Content-Type: image/jpeg\r\n", line)
}

func TestBlankJPEGDecodes(t *testing.T) {
	data, err := blankJPEG()
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 640, img.Bounds().Dx())
}
