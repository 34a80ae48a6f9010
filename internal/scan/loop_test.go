package scan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/codescan/internal/metrics"
	"github.com/dj-oyu/codescan/pkg/types"
)

type harness struct {
	source  *fakeSource
	decoder *markerDecoder
	sink    *fakeSink
	display *fakeDisplay
	clock   *fakeClock
	metrics *metrics.Metrics
	loop    *Loop
	session *Session
}

func newHarness(t *testing.T, cfg SessionConfig, filter RegionFilter, frames ...types.Frame) *harness {
	t.Helper()
	h := &harness{
		source:  &fakeSource{frames: frames},
		decoder: newMarkerDecoder(),
		sink:    &fakeSink{},
		display: &fakeDisplay{},
		clock:   &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		metrics: metrics.New(),
	}
	loop, err := NewLoop(Options{
		Source:  h.source,
		Filter:  filter,
		Decoder: h.decoder,
		Sink:    h.sink,
		Display: h.display,
		Metrics: h.metrics,
		Now:     h.clock.Now,
	})
	require.NoError(t, err)
	h.loop = loop
	h.session = NewSession(cfg)
	require.NoError(t, loop.Start(h.session))
	return h
}

func TestSingleQRStopsAfterFirstDetection(t *testing.T) {
	h := newHarness(t, SessionConfig{Kind: QRCode}, nil, grayFrame(1, 32, 32, 7))
	h.decoder.on(7, "HELLO")

	res, err := h.loop.Step(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Stopped, res.State)
	assert.Equal(t, Stopped, h.session.State())
	assert.Equal(t, 1, h.sink.notifies)
	assert.Equal(t, []string{"HELLO"}, h.sink.payloads())
	assert.Equal(t, 1, h.source.released)
	assert.Equal(t, []uint64{1}, h.display.frames, "detecting frame is still presented")
	assert.Equal(t, Google, h.sink.dispatched[0].Destination)
	assert.Nil(t, h.sink.dispatched[0].Timestamp)

	_, err = h.loop.Step(context.Background())
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.Equal(t, 1, h.source.released, "terminal session must not release twice")
}

func TestFramesWithoutSymbolsNeverAct(t *testing.T) {
	h := newHarness(t, SessionConfig{}, nil,
		grayFrame(1, 16, 16, 0), grayFrame(2, 16, 16, 0), grayFrame(3, 16, 16, 0))

	for i := 0; i < 3; i++ {
		res, err := h.loop.Step(context.Background())
		require.NoError(t, err)
		assert.Equal(t, Running, res.State)
		assert.Empty(t, res.Actions)
	}

	assert.Zero(t, h.sink.notifies)
	assert.Empty(t, h.sink.dispatched)
	assert.Equal(t, []uint64{1, 2, 3}, h.display.frames)
	assert.Zero(t, h.source.released)
}

func TestFirstSymbolInRegionOrderWins(t *testing.T) {
	left := types.Region{X: 0, Y: 0, W: 8, H: 8}
	right := types.Region{X: 16, Y: 0, W: 8, H: 8}
	frame := grayFrame(1, 32, 16, 0, patch{left, 10}, patch{right, 20})

	h := newHarness(t, SessionConfig{}, fixedFilter{regions: []types.Region{right, left}}, frame)
	h.decoder.on(10, "LEFT").on(20, "RIGHT")

	res, err := h.loop.Step(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"RIGHT"}, h.sink.payloads())
	require.Len(t, res.Symbols, 1)
	assert.Equal(t, right, res.Symbols[0].Region, "symbol carries its source region")
	assert.Len(t, h.decoder.calls, 1, "decoding stops at the first hit")
}

func TestZeroAreaRegionsNeverReachDecoder(t *testing.T) {
	valid := types.Region{X: 4, Y: 4, W: 8, H: 8}
	filter := fixedFilter{regions: []types.Region{
		{X: 0, Y: 0, W: 0, H: 10},
		{X: 0, Y: 0, W: 10, H: 0},
		{X: 100, Y: 100, W: 5, H: 5}, // outside the frame
		valid,
	}}
	h := newHarness(t, SessionConfig{}, filter, grayFrame(1, 32, 32, 0))

	_, err := h.loop.Step(context.Background())
	require.NoError(t, err)

	require.Len(t, h.decoder.calls, 1)
	assert.Equal(t, 8, h.decoder.calls[0].Dx())
	assert.Equal(t, 8, h.decoder.calls[0].Dy())
	assert.EqualValues(t, 3, h.metrics.RegionsSkipped.Load())
}

func TestStopRequestedBeforeAnySymbol(t *testing.T) {
	h := newHarness(t, SessionConfig{}, nil, grayFrame(1, 16, 16, 0), grayFrame(2, 16, 16, 0))

	res, err := h.loop.Step(context.Background())
	require.NoError(t, err)
	require.Equal(t, Running, res.State)

	h.session.RequestStop()

	res, err = h.loop.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stopped, res.State)
	assert.Equal(t, 1, h.source.next, "no frame acquired after stop")
	assert.Empty(t, h.sink.dispatched)
	assert.Equal(t, 1, h.source.released)
}

func TestStopObservedAtEndOfIteration(t *testing.T) {
	h := newHarness(t, SessionConfig{}, nil, grayFrame(1, 16, 16, 0))
	h.display = nil
	h.loop.display = stopOnPresent{h.session}

	res, err := h.loop.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stopped, res.State)
	assert.Equal(t, 1, h.source.released)
}

// stopOnPresent raises the stop flag mid-iteration, as a UI thread would.
type stopOnPresent struct{ s *Session }

func (d stopOnPresent) Present(types.Frame, []Symbol) { d.s.RequestStop() }

func TestContextCancelStopsSession(t *testing.T) {
	h := newHarness(t, SessionConfig{}, nil, grayFrame(1, 16, 16, 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := h.loop.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stopped, res.State)
	assert.Equal(t, 1, h.source.released)
}

func TestEndOfStreamFailsSession(t *testing.T) {
	h := newHarness(t, SessionConfig{}, nil)

	res, err := h.loop.Step(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFrameUnavailable)
	assert.Equal(t, Failed, res.State)
	assert.Equal(t, Failed, h.session.State())
	assert.Empty(t, h.sink.dispatched)
	assert.Equal(t, 1, h.source.released)

	h.loop.Close()
	assert.Equal(t, 1, h.source.released, "Close after failure must not release again")
	assert.Contains(t, h.session.Snapshot().Error, "end of stream")
}

func TestSourceErrorFailsSession(t *testing.T) {
	h := newHarness(t, SessionConfig{}, nil)
	h.source.err = errBoom

	err := h.loop.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFrameUnavailable)
	assert.EqualValues(t, 1, h.metrics.SessionsFailed.Load())
	assert.EqualValues(t, 0, h.metrics.ActiveSessions.Load())
}

func TestDecoderFailuresAreSkipped(t *testing.T) {
	a := types.Region{X: 0, Y: 0, W: 8, H: 8}
	b := types.Region{X: 8, Y: 0, W: 8, H: 8}
	c := types.Region{X: 16, Y: 0, W: 8, H: 8}
	frame := grayFrame(1, 24, 8, 0, patch{a, 1}, patch{b, 2}, patch{c, 3})

	h := newHarness(t, SessionConfig{}, fixedFilter{regions: []types.Region{a, b, c}}, frame)
	h.decoder.failOn[1] = errBoom
	h.decoder.panicOn[2] = true
	h.decoder.on(3, "OK")

	res, err := h.loop.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stopped, res.State)
	assert.Equal(t, []string{"OK"}, h.sink.payloads())
	assert.EqualValues(t, 2, h.metrics.DecodeErrors.Load())
}

func TestDispatchFailureStillStops(t *testing.T) {
	h := newHarness(t, SessionConfig{}, nil, grayFrame(1, 16, 16, 5))
	h.decoder.on(5, "OFFLINE")
	h.sink.dispatchErr = errBoom

	res, err := h.loop.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stopped, res.State)
	require.Len(t, res.Warnings, 1)

	var derr *DispatchError
	require.True(t, errors.As(res.Warnings[0], &derr))
	assert.Equal(t, "OFFLINE", derr.Action.Payload)
	assert.ErrorIs(t, res.Warnings[0], errBoom)
	assert.Equal(t, 1, h.session.Snapshot().Actions)
}

func TestReportAllInFrame(t *testing.T) {
	a := types.Region{X: 0, Y: 0, W: 8, H: 8}
	b := types.Region{X: 8, Y: 0, W: 8, H: 8}
	frame := grayFrame(1, 16, 8, 0, patch{a, 1}, patch{b, 2})

	h := newHarness(t, SessionConfig{Policy: ReportAllInFrame}, fixedFilter{regions: []types.Region{a, b}}, frame)
	h.decoder.on(1, "A111").on(2, "B222")

	res, err := h.loop.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stopped, res.State)
	assert.Equal(t, []string{"A111", "B222"}, h.sink.payloads())
	assert.Equal(t, 1, h.sink.notifies)
}

func TestContinuousSuppressesRepeatsWithinCooldown(t *testing.T) {
	frames := []types.Frame{
		grayFrame(1, 16, 16, 9),
		grayFrame(2, 16, 16, 9),
		grayFrame(3, 16, 16, 9),
	}
	h := newHarness(t, SessionConfig{Policy: Continuous, Cooldown: 2 * time.Second}, nil, frames...)
	h.decoder.on(9, "SAME")

	_, err := h.loop.Step(context.Background())
	require.NoError(t, err)

	h.clock.Advance(time.Second)
	res, err := h.loop.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Running, res.State)
	assert.Empty(t, res.Actions)

	h.clock.Advance(2 * time.Second)
	_, err = h.loop.Step(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"SAME", "SAME"}, h.sink.payloads())
	assert.EqualValues(t, 1, h.metrics.ActionsSuppressed.Load())
	assert.Equal(t, Running, h.session.State())
}

func TestRecordTimestamp(t *testing.T) {
	h := newHarness(t, SessionConfig{RecordTimestamp: true, Destination: Amazon}, nil, grayFrame(1, 16, 16, 4))
	h.decoder.on(4, "4006381333931")

	_, err := h.loop.Step(context.Background())
	require.NoError(t, err)

	require.Len(t, h.sink.dispatched, 1)
	a := h.sink.dispatched[0]
	require.NotNil(t, a.Timestamp)
	assert.True(t, a.Timestamp.Equal(h.clock.t))
	assert.Equal(t, Amazon, a.Destination)
	assert.Equal(t, h.session.ID, a.SessionID)
}

func TestStartTwiceFails(t *testing.T) {
	h := newHarness(t, SessionConfig{}, nil)
	assert.ErrorIs(t, h.loop.Start(NewSession(SessionConfig{})), ErrSessionNotIdle)
}

func TestNewLoopValidatesCollaborators(t *testing.T) {
	_, err := NewLoop(Options{Decoder: newMarkerDecoder(), Sink: &fakeSink{}})
	assert.Error(t, err)
	_, err = NewLoop(Options{Source: &fakeSource{}, Sink: &fakeSink{}})
	assert.Error(t, err)
	_, err = NewLoop(Options{Source: &fakeSource{}, Decoder: newMarkerDecoder()})
	assert.Error(t, err)
}

func TestFilterErrorSkipsFrame(t *testing.T) {
	h := newHarness(t, SessionConfig{}, fixedFilter{err: errBoom}, grayFrame(1, 16, 16, 4))
	h.decoder.on(4, "HIDDEN")

	res, err := h.loop.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Running, res.State)
	assert.Empty(t, h.decoder.calls)
	assert.Len(t, res.Warnings, 1)
}

// stoppingSource raises the stop flag while a read is in flight, then fails the read.
type stoppingSource struct {
	fakeSource
	session *Session
}

func (s *stoppingSource) NextFrame(context.Context) (types.Frame, error) {
	s.session.RequestStop()
	return types.Frame{}, context.Canceled
}

func TestReadAbortedByStopIsNotFailure(t *testing.T) {
	src := &stoppingSource{}
	loop, err := NewLoop(Options{Source: src, Decoder: newMarkerDecoder(), Sink: &fakeSink{}})
	require.NoError(t, err)
	s := NewSession(SessionConfig{})
	src.session = s
	require.NoError(t, loop.Start(s))

	res, err := loop.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stopped, res.State)
	assert.Equal(t, 1, src.released)
}

// cancelOnRead cancels the step context right after handing out a frame.
type cancelOnRead struct {
	*fakeSource
	cancel context.CancelFunc
}

func (s cancelOnRead) NextFrame(ctx context.Context) (types.Frame, error) {
	f, err := s.fakeSource.NextFrame(ctx)
	s.cancel()
	return f, err
}

// ctxFilter records whether the context was already cancelled.
type ctxFilter struct {
	errs *[]error
}

func (f ctxFilter) Regions(ctx context.Context, frame types.Frame) ([]types.Region, error) {
	*f.errs = append(*f.errs, ctx.Err())
	return []types.Region{frame.Bounds()}, nil
}

func TestCancelAfterAcquireFinishesIteration(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var filterErrs []error
	src := &fakeSource{frames: []types.Frame{grayFrame(1, 16, 16, 7), grayFrame(2, 16, 16, 7)}}
	sink := &fakeSink{}
	dec := newMarkerDecoder().on(7, "HELLO")
	loop, err := NewLoop(Options{
		Source:  cancelOnRead{fakeSource: src, cancel: cancel},
		Filter:  ctxFilter{errs: &filterErrs},
		Decoder: dec,
		Sink:    sink,
	})
	require.NoError(t, err)
	session := NewSession(SessionConfig{Policy: Continuous})
	require.NoError(t, loop.Start(session))

	res, err := loop.Step(ctx)
	require.NoError(t, err)

	assert.Equal(t, Stopped, res.State, "ends at the iteration boundary")
	assert.Equal(t, []string{"HELLO"}, sink.payloads())
	assert.Empty(t, sink.ctxErrs)
	assert.Equal(t, []error{nil}, filterErrs)
	assert.Equal(t, 1, src.next, "no second frame is read")
	assert.Equal(t, 1, src.released)
}
