package scan

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// SessionConfig holds the caller's choices for a scan session
type SessionConfig struct {
	Kind            SymbolKind    // Requested code kind (labels detections)
	Destination     Destination   // Where payloads are opened
	RecordTimestamp bool          // Attach detection time to actions
	Policy          Policy        // What happens after a detection
	Cooldown        time.Duration // Continuous: suppress repeats of the same payload within this window
}

// Session is the mutable state of one scan session.
//
// The loop that runs the session is the only writer of everything except the stop
// flag, which any goroutine may raise with RequestStop.
type Session struct {
	ID     string
	Config SessionConfig

	stopRequested atomic.Bool

	mu             sync.Mutex
	state          State
	startedAt      time.Time
	endedAt        time.Time
	lastActionTime *time.Time
	lastPayload    string
	actions        int
	frames         uint64
	lastErr        error
}

// NewSession creates an idle session
func NewSession(cfg SessionConfig) *Session {
	return &Session{
		ID:     uuid.NewString(),
		Config: cfg,
		state:  Idle,
	}
}

// RequestStop asks the loop to stop at the next iteration boundary.
func (s *Session) RequestStop() {
	s.stopRequested.Store(true)
}

// StopRequested reports whether a stop was requested
func (s *Session) StopRequested() bool {
	return s.stopRequested.Load()
}

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsActive reports whether the session is running
func (s *Session) IsActive() bool {
	return s.State() == Running
}

// Snapshot returns a copy of the session status
func (s *Session) Snapshot() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := SessionStatus{
		ID:              s.ID,
		State:           s.state,
		Kind:            s.Config.Kind,
		Destination:     s.Config.Destination,
		Policy:          s.Config.Policy,
		RecordTimestamp: s.Config.RecordTimestamp,
		StopRequested:   s.stopRequested.Load(),
		Actions:         s.actions,
		Frames:          s.frames,
		StartedAt:       s.startedAt,
		EndedAt:         s.endedAt,
		LastPayload:     s.lastPayload,
	}
	if s.lastActionTime != nil {
		t := *s.lastActionTime
		st.LastActionTime = &t
	}
	if s.lastErr != nil {
		st.Error = s.lastErr.Error()
	}
	return st
}

func (s *Session) transition(to State, now time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = to
	switch to {
	case Running:
		s.startedAt = now
	case Stopped, Failed:
		s.endedAt = now
	}
	if err != nil {
		s.lastErr = err
	}
}

func (s *Session) countFrame() {
	s.mu.Lock()
	s.frames++
	s.mu.Unlock()
}

// suppressed reports whether payload repeats the last action inside the cooldown window.
func (s *Session) suppressed(payload string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Config.Cooldown <= 0 || s.lastActionTime == nil {
		return false
	}
	return payload == s.lastPayload && now.Sub(*s.lastActionTime) < s.Config.Cooldown
}

func (s *Session) recordAction(payload string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := now
	s.lastActionTime = &t
	s.lastPayload = payload
	s.actions++
}

// SessionStatus is a point-in-time view of a session.
type SessionStatus struct {
	ID              string      `json:"id"`
	State           State       `json:"state"`
	Kind            SymbolKind  `json:"kind"`
	Destination     Destination `json:"destination"`
	Policy          Policy      `json:"policy"`
	RecordTimestamp bool        `json:"record_timestamp"`
	StopRequested   bool        `json:"stop_requested"`
	Actions         int         `json:"actions"`
	Frames          uint64      `json:"frames"`
	StartedAt       time.Time   `json:"started_at"`
	EndedAt         time.Time   `json:"ended_at"`
	LastActionTime  *time.Time  `json:"last_action_time,omitempty"`
	LastPayload     string      `json:"last_payload,omitempty"`
	Error           string      `json:"error,omitempty"`
}
