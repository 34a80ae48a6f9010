package action

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/codescan/internal/recorder"
	"github.com/dj-oyu/codescan/internal/scan"
)

type calls struct {
	beeps    [][2]float64
	opened   []string
	notified []string
	entries  []recorder.Entry
}

func newTestSink(cfg Config, openErr error) (*Sink, *calls) {
	c := &calls{}
	s := NewSink(cfg, ObserverFunc(func(e recorder.Entry) { c.entries = append(c.entries, e) }))
	s.beep = func(freq float64, d int) error {
		c.beeps = append(c.beeps, [2]float64{freq, float64(d)})
		return nil
	}
	s.openURL = func(url string) error {
		c.opened = append(c.opened, url)
		return openErr
	}
	s.notify = func(title, msg, icon string) error {
		c.notified = append(c.notified, title+": "+msg)
		return nil
	}
	s.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	return s, c
}

func TestNotifyBeeps(t *testing.T) {
	s, c := newTestSink(DefaultConfig(), nil)
	require.NoError(t, s.Notify())
	assert.Equal(t, [][2]float64{{2500, 500}}, c.beeps)

	quiet, c2 := newTestSink(Config{}, nil)
	require.NoError(t, quiet.Notify())
	assert.Empty(t, c2.beeps)
}

func TestNotifyError(t *testing.T) {
	s, _ := newTestSink(DefaultConfig(), nil)
	s.beep = func(float64, int) error { return errors.New("no audio device") }
	assert.ErrorContains(t, s.Notify(), "no audio device")
}

func TestDispatchOpensDestination(t *testing.T) {
	s, c := newTestSink(DefaultConfig(), nil)

	err := s.Dispatch(context.Background(), scan.Action{Destination: scan.Google, Payload: "HELLO", Kind: scan.QRCode})
	require.NoError(t, err)

	assert.Equal(t, []string{"https://www.google.com/search?q=HELLO"}, c.opened)
	require.Len(t, c.entries, 1)
	assert.Equal(t, "HELLO", c.entries[0].Payload)
	assert.Empty(t, c.entries[0].Error)
	assert.Empty(t, c.notified)
}

func TestDispatchFailureStillObserved(t *testing.T) {
	s, c := newTestSink(DefaultConfig(), errors.New("no display"))

	err := s.Dispatch(context.Background(), scan.Action{Destination: scan.Amazon, Payload: "X"})
	require.Error(t, err)
	assert.ErrorContains(t, err, "no display")

	require.Len(t, c.entries, 1)
	assert.Contains(t, c.entries[0].Error, "no display")
}

func TestDispatchDesktopNotification(t *testing.T) {
	cfg := Config{Desktop: true}
	s, c := newTestSink(cfg, nil)

	require.NoError(t, s.Dispatch(context.Background(), scan.Action{Payload: "4006381333931", Kind: scan.Barcode}))
	assert.Empty(t, c.opened)
	assert.Equal(t, []string{"Barcode detected: 4006381333931"}, c.notified)
}

func TestDispatchCancelled(t *testing.T) {
	s, c := newTestSink(DefaultConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Dispatch(ctx, scan.Action{Payload: "X"}), context.Canceled)
	assert.Empty(t, c.opened)
	assert.Empty(t, c.entries)
}

func TestAddObserver(t *testing.T) {
	s, _ := newTestSink(Config{}, nil)
	var got []string
	s.AddObserver(ObserverFunc(func(e recorder.Entry) { got = append(got, e.Payload) }))

	require.NoError(t, s.Dispatch(context.Background(), scan.Action{Payload: "late"}))
	assert.Equal(t, []string{"late"}, got)
}
