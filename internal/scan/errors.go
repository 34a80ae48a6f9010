package scan

import (
	"errors"
	"fmt"
)

var (
	// ErrFrameUnavailable ends a session: the frame source could not produce a frame.
	ErrFrameUnavailable = errors.New("frame unavailable")
	// ErrNotRunning is returned when stepping a session that is not running.
	ErrNotRunning = errors.New("session not running")
	// ErrSessionNotIdle is returned when starting a session twice.
	ErrSessionNotIdle = errors.New("session already started")
	// ErrSessionActive is returned when a controller already runs a session.
	ErrSessionActive = errors.New("a scan session is already active")
)

// DispatchError reports an action the sink could not complete.
// It is a warning: the detection still counts for policy purposes.
type DispatchError struct {
	Action Action
	Err    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %q to %s: %v", e.Action.Payload, e.Action.Destination, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// NotifyError reports a failed alert.
type NotifyError struct {
	Err error
}

func (e *NotifyError) Error() string {
	return fmt.Sprintf("notify: %v", e.Err)
}

func (e *NotifyError) Unwrap() error {
	return e.Err
}
