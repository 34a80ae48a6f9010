package scan

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"time"

	"golang.org/x/image/draw"

	"github.com/dj-oyu/codescan/internal/logger"
	"github.com/dj-oyu/codescan/internal/metrics"
	"github.com/dj-oyu/codescan/pkg/types"
)

var log = logger.For("Scan")

// Options wires the collaborators of a Loop.
type Options struct {
	Source  FrameSource  // Required; owned by the loop once Start succeeds
	Filter  RegionFilter // Optional; defaults to FullFrame
	Decoder Decoder      // Required
	Sink    ActionSink   // Required
	Display Display      // Optional
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Loop drives one scan session frame by frame.
type Loop struct {
	source  FrameSource
	filter  RegionFilter
	decoder Decoder
	sink    ActionSink
	display Display
	metrics *metrics.Metrics
	now     func() time.Time

	session  *Session
	released bool
}

// StepResult describes one iteration.
type StepResult struct {
	State    State
	Frame    types.Frame
	Symbols  []Symbol // Symbols decoded in this frame, region order
	Actions  []Action // Actions dispatched in this iteration
	Warnings []error  // Non-fatal problems (dispatch, notify, filter)
}

// NewLoop creates a loop from opts
func NewLoop(opts Options) (*Loop, error) {
	if opts.Source == nil {
		return nil, errors.New("scan: frame source is required")
	}
	if opts.Decoder == nil {
		return nil, errors.New("scan: decoder is required")
	}
	if opts.Sink == nil {
		return nil, errors.New("scan: action sink is required")
	}
	if opts.Filter == nil {
		opts.Filter = FullFrame{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Loop{
		source:  opts.Source,
		filter:  opts.Filter,
		decoder: opts.Decoder,
		sink:    opts.Sink,
		display: opts.Display,
		metrics: opts.Metrics,
		now:     opts.Now,
	}, nil
}

// Session returns the session bound by Start, or nil
func (l *Loop) Session() *Session {
	return l.session
}

// Start moves an idle session to Running.
func (l *Loop) Start(s *Session) error {
	if s == nil {
		return errors.New("scan: nil session")
	}
	if l.session != nil || s.State() != Idle {
		return ErrSessionNotIdle
	}

	l.session = s
	s.transition(Running, l.now(), nil)
	if l.metrics != nil {
		l.metrics.SessionsStarted.Add(1)
		l.metrics.ActiveSessions.Add(1)
	}

	log.Info("Session %s started (kind=%s, destination=%s, policy=%s)",
		s.ID, s.Config.Kind, s.Config.Destination, s.Config.Policy)
	return nil
}

// Step runs one iteration. The returned error is non-nil only when the session
// fails (wrapping ErrFrameUnavailable) or is not running.
func (l *Loop) Step(ctx context.Context) (StepResult, error) {
	s := l.session
	if s == nil || s.State() != Running {
		return StepResult{State: l.state()}, ErrNotRunning
	}

	// Stop requests are honoured between iterations only.
	if l.stopWanted(ctx) {
		l.finish(Stopped, nil)
		return StepResult{State: Stopped}, nil
	}

	frame, err := l.source.NextFrame(ctx)
	if err == nil && frame.Image == nil {
		err = errors.New("empty frame")
	}
	if err != nil {
		// A read aborted by a stop request is not a source failure.
		if l.stopWanted(ctx) {
			l.finish(Stopped, nil)
			return StepResult{State: Stopped}, nil
		}
		if errors.Is(err, io.EOF) {
			err = fmt.Errorf("%w: end of stream", ErrFrameUnavailable)
		} else {
			err = fmt.Errorf("%w: %v", ErrFrameUnavailable, err)
		}
		log.Warn("Session %s: %v", s.ID, err)
		l.finish(Failed, err)
		return StepResult{State: Failed}, err
	}

	s.countFrame()
	if l.metrics != nil {
		l.metrics.FramesRead.Add(1)
		l.metrics.UpdateFrameLatency(frame.Timestamp)
	}

	res := StepResult{State: Running, Frame: frame}

	// Once a frame is in hand the iteration runs to completion; cancellation
	// only interrupts the frame read.
	work := context.WithoutCancel(ctx)

	regions, err := l.filter.Regions(work, frame)
	if err != nil {
		if l.metrics != nil {
			l.metrics.FilterErrors.Add(1)
		}
		log.Warn("Region filter failed on frame #%d: %v", frame.Seq, err)
		res.Warnings = append(res.Warnings, fmt.Errorf("region filter: %w", err))
		regions = nil
	}

	policy := s.Config.Policy
	start := time.Now()
	res.Symbols = l.decodeRegions(frame, regions, policy != ReportAllInFrame)
	if l.metrics != nil {
		l.metrics.UpdateDecodeLatency(time.Since(start))
	}

	if len(res.Symbols) > 0 {
		hits := res.Symbols
		if policy != ReportAllInFrame {
			hits = hits[:1]
		}
		res.Actions, res.Warnings = l.act(work, hits, res.Warnings)
		if policy.stopsOnDetect() {
			l.present(frame, res.Symbols)
			l.finish(Stopped, nil)
			res.State = Stopped
			return res, nil
		}
	}

	l.present(frame, res.Symbols)

	if l.stopWanted(ctx) {
		l.finish(Stopped, nil)
		res.State = Stopped
	}
	return res, nil
}

// Run steps until the session ends. It returns the fatal error of a failed session.
// Dispatch warnings are logged and otherwise ignored.
func (l *Loop) Run(ctx context.Context) error {
	for {
		res, err := l.Step(ctx)
		if err != nil {
			return err
		}
		if res.State.IsTerminal() {
			return nil
		}
	}
}

// Close ends a running session as Stopped and releases the source.
// It must not be called concurrently with Step.
func (l *Loop) Close() {
	if l.session != nil && l.session.State() == Running {
		l.finish(Stopped, nil)
		return
	}
	l.release()
}

func (l *Loop) state() State {
	if l.session == nil {
		return Idle
	}
	return l.session.State()
}

func (l *Loop) stopWanted(ctx context.Context) bool {
	return l.session.StopRequested() || ctx.Err() != nil
}

// decodeRegions decodes regions in order. With firstOnly, decoding stops at the
// first region that yields symbols.
func (l *Loop) decodeRegions(frame types.Frame, regions []types.Region, firstOnly bool) []Symbol {
	bounds := frame.Bounds()
	var found []Symbol

	for _, r := range regions {
		r = r.Clip(bounds)
		if r.Empty() {
			if l.metrics != nil {
				l.metrics.RegionsSkipped.Add(1)
			}
			continue
		}

		syms := decodeRegion(l.decoder, frame.Image, r, l.metrics)
		found = append(found, syms...)
		if firstOnly && len(found) > 0 {
			break
		}
	}

	if l.metrics != nil && len(found) > 0 {
		l.metrics.SymbolsFound.Add(uint64(len(found)))
	}
	return found
}

// act notifies once and dispatches each symbol as an action.
func (l *Loop) act(ctx context.Context, symbols []Symbol, warnings []error) ([]Action, []error) {
	s := l.session
	var actions []Action
	notified := false

	for _, sym := range symbols {
		now := l.now()
		if s.Config.Policy == Continuous && s.suppressed(sym.Payload, now) {
			if l.metrics != nil {
				l.metrics.ActionsSuppressed.Add(1)
			}
			log.Debug("Suppressed repeat of %q", sym.Payload)
			continue
		}

		a := newAction(s.ID, s.Config.Destination, sym, s.Config.RecordTimestamp, now)
		logDetection(kindLabel(s.Config.Kind, sym.Kind), a)

		if !notified {
			notified = true
			if err := l.sink.Notify(); err != nil {
				if l.metrics != nil {
					l.metrics.NotifyErrors.Add(1)
				}
				log.Warn("Notify failed: %v", err)
				warnings = append(warnings, &NotifyError{Err: err})
			}
		}

		s.recordAction(sym.Payload, now)
		actions = append(actions, a)

		if err := l.sink.Dispatch(ctx, a); err != nil {
			if l.metrics != nil {
				l.metrics.DispatchErrors.Add(1)
			}
			derr := &DispatchError{Action: a, Err: err}
			log.Warn("%v", derr)
			warnings = append(warnings, derr)
			continue
		}
		if l.metrics != nil {
			l.metrics.ActionsDispatched.Add(1)
		}
	}
	return actions, warnings
}

func (l *Loop) present(frame types.Frame, symbols []Symbol) {
	if l.display == nil {
		return
	}
	l.display.Present(frame, symbols)
	if l.metrics != nil {
		l.metrics.FramesPresented.Add(1)
	}
}

// finish moves the session to a terminal state and releases the source.
func (l *Loop) finish(to State, err error) {
	l.session.transition(to, l.now(), err)
	l.release()

	if l.metrics != nil {
		l.metrics.ActiveSessions.Add(-1)
		if to == Failed {
			l.metrics.SessionsFailed.Add(1)
		} else {
			l.metrics.SessionsStopped.Add(1)
		}
	}
	log.Info("Session %s %s", l.session.ID, to)
}

func (l *Loop) release() {
	if l.released {
		return
	}
	l.released = true
	if err := l.source.Release(); err != nil {
		log.Warn("Frame source release failed: %v", err)
	}
}

func newAction(sessionID string, dest Destination, sym Symbol, record bool, now time.Time) Action {
	a := Action{
		SessionID:   sessionID,
		Destination: dest,
		Payload:     sym.Payload,
		Kind:        sym.Kind,
		Format:      sym.Format,
	}
	if record {
		t := now
		a.Timestamp = &t
	}
	return a
}

func kindLabel(requested, found SymbolKind) string {
	if requested != UnknownKind {
		return requested.Label()
	}
	return found.Label()
}

func logDetection(label string, a Action) {
	log.Info("%s detected: %s", label, a.Payload)
	if a.Timestamp != nil {
		log.Info("Detected at: %s", a.Timestamp.Format("2006-01-02 15:04:05"))
	}
}

// decodeRegion decodes one region of img. Decoder errors and panics yield no symbols.
func decodeRegion(dec Decoder, img image.Image, r types.Region, m *metrics.Metrics) (syms []Symbol) {
	if m != nil {
		m.RegionsDecoded.Add(1)
	}

	defer func() {
		if p := recover(); p != nil {
			if m != nil {
				m.DecodeErrors.Add(1)
			}
			log.Warn("Decoder panicked on region %+v: %v", r, p)
			syms = nil
		}
	}()

	found, err := dec.Decode(crop(img, r))
	if err != nil {
		if m != nil {
			m.DecodeErrors.Add(1)
		}
		log.Debug("Decode failed on region %+v: %v", r, err)
		return nil
	}

	for i := range found {
		if found[i].Region.Empty() {
			found[i].Region = r
		} else {
			found[i].Region = found[i].Region.Offset(r.X, r.Y)
		}
	}
	return found
}

// crop returns region r of img as an image whose bounds start at the origin.
func crop(img image.Image, r types.Region) image.Image {
	rect := r.Rect()
	if rect == img.Bounds() && rect.Min == (image.Point{}) {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.W, r.H))
	draw.Draw(dst, dst.Bounds(), img, rect.Min, draw.Src)
	return dst
}
