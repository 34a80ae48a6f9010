package scan

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"time"

	"github.com/dj-oyu/codescan/pkg/types"
)

// patch paints a rectangle of a gray frame with a marker value.
type patch struct {
	r types.Region
	v uint8
}

func grayFrame(seq uint64, w, h int, fill uint8, patches ...patch) types.Frame {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = fill
	}
	for _, p := range patches {
		for y := p.r.Y; y < p.r.Y+p.r.H; y++ {
			for x := p.r.X; x < p.r.X+p.r.W; x++ {
				img.SetGray(x, y, color.Gray{Y: p.v})
			}
		}
	}
	return types.Frame{Image: img, Seq: seq, Timestamp: time.Now()}
}

type fakeSource struct {
	frames   []types.Frame
	err      error // returned once frames run out; io.EOF when nil
	next     int
	released int
}

func (s *fakeSource) NextFrame(ctx context.Context) (types.Frame, error) {
	if s.next >= len(s.frames) {
		if s.err != nil {
			return types.Frame{}, s.err
		}
		return types.Frame{}, io.EOF
	}
	f := s.frames[s.next]
	s.next++
	return f, nil
}

func (s *fakeSource) Release() error {
	s.released++
	return nil
}

// markerDecoder maps the gray value at the image origin to symbols.
type markerDecoder struct {
	symbols map[uint8][]Symbol
	failOn  map[uint8]error
	panicOn map[uint8]bool
	calls   []image.Rectangle
}

func newMarkerDecoder() *markerDecoder {
	return &markerDecoder{
		symbols: make(map[uint8][]Symbol),
		failOn:  make(map[uint8]error),
		panicOn: make(map[uint8]bool),
	}
}

func (d *markerDecoder) on(v uint8, payloads ...string) *markerDecoder {
	for _, p := range payloads {
		d.symbols[v] = append(d.symbols[v], Symbol{Kind: QRCode, Format: "QR_CODE", Payload: p})
	}
	return d
}

func (d *markerDecoder) Decode(img image.Image) ([]Symbol, error) {
	b := img.Bounds()
	d.calls = append(d.calls, b)
	v := color.GrayModel.Convert(img.At(b.Min.X, b.Min.Y)).(color.Gray).Y
	if d.panicOn[v] {
		panic("corrupt region")
	}
	if err, ok := d.failOn[v]; ok {
		return nil, err
	}
	return append([]Symbol(nil), d.symbols[v]...), nil
}

type fixedFilter struct {
	regions []types.Region
	err     error
}

func (f fixedFilter) Regions(context.Context, types.Frame) ([]types.Region, error) {
	return f.regions, f.err
}

type fakeSink struct {
	notifies    int
	dispatched  []Action
	dispatchErr error
	notifyErr   error
	ctxErrs     []error
}

func (s *fakeSink) Notify() error {
	s.notifies++
	return s.notifyErr
}

func (s *fakeSink) Dispatch(ctx context.Context, a Action) error {
	if err := ctx.Err(); err != nil {
		s.ctxErrs = append(s.ctxErrs, err)
	}
	s.dispatched = append(s.dispatched, a)
	return s.dispatchErr
}

func (s *fakeSink) payloads() []string {
	out := make([]string, 0, len(s.dispatched))
	for _, a := range s.dispatched {
		out = append(out, a.Payload)
	}
	return out
}

type fakeDisplay struct {
	frames  []uint64
	symbols [][]Symbol
}

func (d *fakeDisplay) Present(f types.Frame, syms []Symbol) {
	d.frames = append(d.frames, f.Seq)
	d.symbols = append(d.symbols, syms)
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

var errBoom = errors.New("boom")
