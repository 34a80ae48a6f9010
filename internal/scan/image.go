package scan

import (
	"context"
	"fmt"
	"time"

	"github.com/dj-oyu/codescan/internal/metrics"
	"github.com/dj-oyu/codescan/pkg/types"
)

// ImageOptions configures a single-image scan.
type ImageOptions struct {
	Destination     Destination
	RecordTimestamp bool
	Metrics         *metrics.Metrics
	Now             func() time.Time
}

// ImageResult is the outcome of a single-image scan.
type ImageResult struct {
	Symbols  []Symbol `json:"symbols"`
	Actions  []Action `json:"actions"`
	Warnings []error  `json:"-"`
}

// ScanImage decodes the whole frame once and dispatches every symbol found, in
// decode order. Unlike a live session there is no state and no alert. A nil sink
// only reports the symbols.
func ScanImage(ctx context.Context, frame types.Frame, dec Decoder, sink ActionSink, opts ImageOptions) (ImageResult, error) {
	if frame.Image == nil || frame.Bounds().Empty() {
		return ImageResult{}, fmt.Errorf("%w: empty image", ErrFrameUnavailable)
	}
	if dec == nil {
		return ImageResult{}, fmt.Errorf("scan: decoder is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	m := opts.Metrics
	if m != nil {
		m.ImagesScanned.Add(1)
	}

	var res ImageResult
	res.Symbols = decodeRegion(dec, frame.Image, frame.Bounds(), m)
	if m != nil && len(res.Symbols) > 0 {
		m.SymbolsFound.Add(uint64(len(res.Symbols)))
	}

	for _, sym := range res.Symbols {
		log.Info("Detected %s: %s", sym.Format, sym.Payload)
		a := newAction("", opts.Destination, sym, opts.RecordTimestamp, now())
		res.Actions = append(res.Actions, a)

		if sink == nil {
			continue
		}
		if err := sink.Dispatch(ctx, a); err != nil {
			if m != nil {
				m.DispatchErrors.Add(1)
			}
			derr := &DispatchError{Action: a, Err: err}
			log.Warn("%v", derr)
			res.Warnings = append(res.Warnings, derr)
			continue
		}
		if m != nil {
			m.ActionsDispatched.Add(1)
		}
	}
	return res, nil
}
