package recorder

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dj-oyu/codescan/internal/logger"
	"github.com/dj-oyu/codescan/internal/scan"
)

var log = logger.For("History")

// Entry is one dispatched action in the scan history.
type Entry struct {
	ID          string           `json:"id"`
	SessionID   string           `json:"session_id,omitempty"`
	Kind        scan.SymbolKind  `json:"kind"`
	Format      string           `json:"format,omitempty"`
	Payload     string           `json:"payload"`
	Destination scan.Destination `json:"destination"`
	URL         string           `json:"url,omitempty"`
	DetectedAt  time.Time        `json:"detected_at"`
	Error       string           `json:"error,omitempty"`
}

// NewEntry builds a history entry for an action. dispatchErr is recorded, not returned.
func NewEntry(a scan.Action, now time.Time, dispatchErr error) Entry {
	e := Entry{
		ID:          uuid.NewString(),
		SessionID:   a.SessionID,
		Kind:        a.Kind,
		Format:      a.Format,
		Payload:     a.Payload,
		Destination: a.Destination,
		DetectedAt:  now,
	}
	if a.Timestamp != nil {
		e.DetectedAt = *a.Timestamp
	}
	if u, err := a.URL(); err == nil {
		e.URL = u
	}
	if dispatchErr != nil {
		e.Error = dispatchErr.Error()
	}
	return e
}

// Recorder appends history entries to a JSON Lines file from a background writer.
type Recorder struct {
	mu           sync.RWMutex
	file         *os.File
	path         string
	recording    bool
	entryCount   uint64
	dropped      uint64
	bytesWritten uint64
	startTime    time.Time
	entryChan    chan Entry
	wg           sync.WaitGroup
}

// NewRecorder creates a recorder for the history file at path.
func NewRecorder(path string) *Recorder {
	return &Recorder{
		path:      path,
		entryChan: make(chan Entry, 64),
	}
}

// Path returns the history file path
func (r *Recorder) Path() string {
	return r.path
}

// Start opens the history file for appending and starts the writer.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return fmt.Errorf("already recording")
	}

	if dir := filepath.Dir(r.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create history dir: %w", err)
		}
	}
	file, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open history file: %w", err)
	}

	r.file = file
	r.recording = true
	r.entryCount = 0
	r.bytesWritten = 0
	r.startTime = time.Now()

	r.wg.Add(1)
	go r.writeEntries()

	log.Info("Recording history to %s", r.path)
	return nil
}

// Stop drains pending entries and closes the file.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return fmt.Errorf("not recording")
	}
	r.recording = false
	r.mu.Unlock()

	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		if err := r.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync history file: %w", err)
		}
		if err := r.file.Close(); err != nil {
			return fmt.Errorf("failed to close history file: %w", err)
		}
		r.file = nil
	}
	return nil
}

// Record queues an entry (non-blocking). It returns false when not recording
// or when the queue is full.
func (r *Recorder) Record(e Entry) bool {
	r.mu.RLock()
	recording := r.recording
	r.mu.RUnlock()

	if !recording {
		return false
	}

	select {
	case r.entryChan <- e:
		return true
	default:
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()
		log.Warn("History queue full, dropping %q", e.Payload)
		return false
	}
}

// Observe records e; it lets the recorder act as a dispatch observer.
func (r *Recorder) Observe(e Entry) {
	r.Record(e)
}

func (r *Recorder) writeEntries() {
	defer r.wg.Done()

	for {
		r.mu.RLock()
		recording := r.recording
		r.mu.RUnlock()

		if !recording {
			for len(r.entryChan) > 0 {
				r.writeEntry(<-r.entryChan)
			}
			return
		}

		select {
		case e := <-r.entryChan:
			r.writeEntry(e)
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (r *Recorder) writeEntry(e Entry) {
	data, err := json.Marshal(e)
	if err != nil {
		log.Error("Failed to encode entry: %v", err)
		return
	}
	data = append(data, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return
	}
	n, err := r.file.Write(data)
	if err != nil {
		log.Error("Failed to write entry: %v", err)
		return
	}
	r.bytesWritten += uint64(n)
	r.entryCount++
}

// IsRecording returns true while the writer runs
func (r *Recorder) IsRecording() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recording
}

// GetStatus returns the current recorder status
func (r *Recorder) GetStatus() RecordingStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var duration time.Duration
	if r.recording {
		duration = time.Since(r.startTime)
	}
	return RecordingStatus{
		Recording:    r.recording,
		Filename:     r.path,
		EntryCount:   r.entryCount,
		Dropped:      r.dropped,
		BytesWritten: r.bytesWritten,
		Duration:     duration,
		StartTime:    r.startTime,
	}
}

// List returns the most recent entries in the history file, newest first.
// limit <= 0 returns all of them. A missing file is an empty history.
func (r *Recorder) List(limit int) ([]Entry, error) {
	f, err := os.Open(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Entry{}, nil
		}
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			log.Debug("Skipping malformed history line: %v", err)
			continue
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Close stops the recorder if it is running
func (r *Recorder) Close() error {
	if r.IsRecording() {
		return r.Stop()
	}
	return nil
}

// RecordingStatus holds the current recorder status
type RecordingStatus struct {
	Recording    bool          `json:"recording"`
	Filename     string        `json:"filename"`
	EntryCount   uint64        `json:"entry_count"`
	Dropped      uint64        `json:"dropped"`
	BytesWritten uint64        `json:"bytes_written"`
	Duration     time.Duration `json:"duration_ms"`
	StartTime    time.Time     `json:"start_time"`
}
