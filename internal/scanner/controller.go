// Package scanner owns the active scan session and exposes the control surface
// used by the HTTP server and the command line.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dj-oyu/codescan/internal/logger"
	"github.com/dj-oyu/codescan/internal/metrics"
	"github.com/dj-oyu/codescan/internal/scan"
	"github.com/dj-oyu/codescan/pkg/types"
)

var log = logger.For("Scanner")

// SourceFactory opens the frame source for a new session.
type SourceFactory func() (scan.FrameSource, error)

// DecoderFactory creates a decoder for every supported symbology. Each session
// and each image scan gets its own decoder.
type DecoderFactory func() scan.Decoder

// Options wires a Controller.
type Options struct {
	OpenSource SourceFactory     // Required for live sessions
	NewDecoder DecoderFactory    // Required
	Filter     scan.RegionFilter // Optional
	Sink       scan.ActionSink   // Required
	Display    scan.Display      // Optional
	Metrics    *metrics.Metrics
	Cooldown   time.Duration // Used by continuous sessions that do not set one

	// OnChange is called from the session goroutine when a session starts and
	// when it ends.
	OnChange func(scan.SessionStatus)
}

// StartRequest holds the caller's choices for a new session. Kind names the
// code type in detection messages; every symbology is decoded regardless.
type StartRequest struct {
	Kind            scan.SymbolKind
	Destination     scan.Destination
	RecordTimestamp bool
	Policy          scan.Policy
	Cooldown        time.Duration
}

// Controller runs at most one scan session at a time.
type Controller struct {
	opts Options

	mu      sync.Mutex
	session *scan.Session // Current or most recent session
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr error
}

// New creates a controller.
func New(opts Options) (*Controller, error) {
	if opts.NewDecoder == nil {
		return nil, errors.New("scanner: decoder factory is required")
	}
	if opts.Sink == nil {
		return nil, errors.New("scanner: action sink is required")
	}
	return &Controller{opts: opts}, nil
}

// Start opens the frame source and runs a new session in the background.
func (c *Controller) Start(req StartRequest) (scan.SessionStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil && c.session.IsActive() {
		return c.session.Snapshot(), scan.ErrSessionActive
	}
	if c.opts.OpenSource == nil {
		return scan.SessionStatus{}, fmt.Errorf("%w: no frame source configured", scan.ErrFrameUnavailable)
	}

	src, err := c.opts.OpenSource()
	if err != nil {
		return scan.SessionStatus{}, fmt.Errorf("%w: %v", scan.ErrFrameUnavailable, err)
	}

	cooldown := req.Cooldown
	if cooldown == 0 {
		cooldown = c.opts.Cooldown
	}
	session := scan.NewSession(scan.SessionConfig{
		Kind:            req.Kind,
		Destination:     req.Destination,
		RecordTimestamp: req.RecordTimestamp,
		Policy:          req.Policy,
		Cooldown:        cooldown,
	})

	loop, err := scan.NewLoop(scan.Options{
		Source:  src,
		Filter:  c.opts.Filter,
		Decoder: c.opts.NewDecoder(),
		Sink:    c.opts.Sink,
		Display: c.opts.Display,
		Metrics: c.opts.Metrics,
	})
	if err != nil {
		_ = src.Release()
		return scan.SessionStatus{}, err
	}
	if err := loop.Start(session); err != nil {
		_ = src.Release()
		return scan.SessionStatus{}, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.session = session
	c.cancel = cancel
	c.done = done
	c.lastErr = nil

	go c.run(ctx, cancel, loop, session, done)

	return session.Snapshot(), nil
}

func (c *Controller) run(ctx context.Context, cancel context.CancelFunc, loop *scan.Loop, session *scan.Session, done chan struct{}) {
	defer close(done)
	defer cancel()

	c.notify(session.Snapshot())
	err := loop.Run(ctx)
	loop.Close()
	if err != nil {
		log.Warn("Session %s failed: %v", session.ID, err)
	}

	c.mu.Lock()
	if c.session == session {
		c.lastErr = err
	}
	c.mu.Unlock()

	c.notify(session.Snapshot())
}

func (c *Controller) notify(st scan.SessionStatus) {
	if c.opts.OnChange != nil {
		c.opts.OnChange(st)
	}
}

// Stop asks the active session to stop at the next iteration boundary and
// interrupts a pending frame read. It does not wait; use Wait for that.
func (c *Controller) Stop() (scan.SessionStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil || !c.session.IsActive() {
		return scan.SessionStatus{}, scan.ErrNotRunning
	}
	c.session.RequestStop()
	c.cancel()
	log.Info("Stop requested for session %s", c.session.ID)
	return c.session.Snapshot(), nil
}

// Wait blocks until the current session ends or ctx is done. It returns the
// session's fatal error, if any.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// IsActive reports whether a session is running.
func (c *Controller) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil && c.session.IsActive()
}

// Status returns the current or most recent session. ok is false before the
// first session.
func (c *Controller) Status() (st scan.SessionStatus, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return scan.SessionStatus{State: scan.Idle}, false
	}
	return c.session.Snapshot(), true
}

// ScanImage decodes every symbol in frame and dispatches each one. It does not
// touch the live session.
func (c *Controller) ScanImage(ctx context.Context, frame types.Frame, dest scan.Destination, recordTimestamp bool) (scan.ImageResult, error) {
	return scan.ScanImage(ctx, frame, c.opts.NewDecoder(), c.opts.Sink, scan.ImageOptions{
		Destination:     dest,
		RecordTimestamp: recordTimestamp,
		Metrics:         c.opts.Metrics,
	})
}

// Close stops any active session and waits for it to end.
func (c *Controller) Close(ctx context.Context) error {
	if _, err := c.Stop(); err != nil && !errors.Is(err, scan.ErrNotRunning) {
		return err
	}
	if err := c.Wait(ctx); err != nil && !errors.Is(err, scan.ErrFrameUnavailable) {
		return err
	}
	return nil
}
