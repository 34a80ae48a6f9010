// Package action performs the side effects of a detection: the alert tone,
// opening the payload in a browser, and fanning the result out to observers.
package action

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/beeep"
	"github.com/pkg/browser"

	"github.com/dj-oyu/codescan/internal/logger"
	"github.com/dj-oyu/codescan/internal/recorder"
	"github.com/dj-oyu/codescan/internal/scan"
)

var log = logger.For("Action")

// Alert tone
const (
	ToneFrequency = 2500.0 // Hz
	ToneDuration  = 500    // ms
)

// Config selects which side effects run.
type Config struct {
	Tone        bool   `yaml:"tone"`         // Beep on detection
	Desktop     bool   `yaml:"desktop"`      // Desktop notification on dispatch
	OpenBrowser bool   `yaml:"open_browser"` // Open the destination URL
	NotifyTitle string `yaml:"notify_title"` // Desktop notification title
	NotifyIcon  string `yaml:"notify_icon"`  // Optional icon path
}

// DefaultConfig matches the desktop scanner behaviour: beep and open the browser.
func DefaultConfig() Config {
	return Config{
		Tone:        true,
		OpenBrowser: true,
		NotifyTitle: "Code detected",
	}
}

// Observer receives every dispatched action as a history entry.
type Observer interface {
	Observe(e recorder.Entry)
}

// Sink implements scan.ActionSink.
type Sink struct {
	cfg Config

	// Swappable for tests
	beep    func(freq float64, duration int) error
	notify  func(title, message, icon string) error
	openURL func(url string) error
	now     func() time.Time

	mu        sync.RWMutex
	observers []Observer
}

// NewSink creates a sink using the system beeper and browser.
func NewSink(cfg Config, observers ...Observer) *Sink {
	return &Sink{
		cfg:       cfg,
		beep:      beeep.Beep,
		notify:    beeep.Notify,
		openURL:   browser.OpenURL,
		now:       time.Now,
		observers: observers,
	}
}

// AddObserver registers o for subsequent dispatches.
func (s *Sink) AddObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Notify sounds the alert tone.
func (s *Sink) Notify() error {
	if !s.cfg.Tone {
		return nil
	}
	if err := s.beep(ToneFrequency, ToneDuration); err != nil {
		return fmt.Errorf("beep: %w", err)
	}
	return nil
}

// Dispatch opens the action's destination URL and reports the entry to observers.
// Observers see the entry even when opening fails.
func (s *Sink) Dispatch(ctx context.Context, a scan.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	url, err := a.URL()
	if err == nil && s.cfg.OpenBrowser {
		log.Info("Opening %s", url)
		if openErr := s.openURL(url); openErr != nil {
			err = fmt.Errorf("open browser: %w", openErr)
		}
	}

	if err == nil && s.cfg.Desktop {
		title := s.cfg.NotifyTitle
		if title == "" {
			title = a.Kind.Label() + " detected"
		}
		if nerr := s.notify(title, a.Payload, s.cfg.NotifyIcon); nerr != nil {
			log.Warn("Desktop notification failed: %v", nerr)
		}
	}

	entry := recorder.NewEntry(a, s.now(), err)
	s.mu.RLock()
	observers := append([]Observer(nil), s.observers...)
	s.mu.RUnlock()
	for _, o := range observers {
		o.Observe(entry)
	}
	return err
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(e recorder.Entry)

func (f ObserverFunc) Observe(e recorder.Entry) { f(e) }
