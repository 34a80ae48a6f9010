package scan

import (
	"context"
	"image"

	"github.com/dj-oyu/codescan/pkg/types"
)

// FrameSource produces frames for a scan session.
//
// NextFrame returns io.EOF at end of stream. Release frees the underlying device;
// the loop calls it exactly once after the session ends.
type FrameSource interface {
	NextFrame(ctx context.Context) (types.Frame, error)
	Release() error
}

// Decoder finds symbols in an image. An empty result is not an error.
// Symbol regions, when set, are relative to img's origin.
type Decoder interface {
	Decode(img image.Image) ([]Symbol, error)
}

// RegionFilter selects the parts of a frame worth decoding, in decode order.
type RegionFilter interface {
	Regions(ctx context.Context, frame types.Frame) ([]types.Region, error)
}

// ActionSink performs the side effects of a detection.
type ActionSink interface {
	// Notify emits an audible or visual alert.
	Notify() error
	// Dispatch opens the external resource for the action.
	Dispatch(ctx context.Context, a Action) error
}

// Display receives every processed frame with the symbols found in it.
type Display interface {
	Present(frame types.Frame, symbols []Symbol)
}

// FullFrame is the region filter used when no detector is configured.
type FullFrame struct{}

// Regions returns the whole frame as a single region.
func (FullFrame) Regions(_ context.Context, frame types.Frame) ([]types.Region, error) {
	b := frame.Bounds()
	if b.Empty() {
		return nil, nil
	}
	return []types.Region{b}, nil
}
