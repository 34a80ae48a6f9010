// Package config holds the scanner service settings: defaults, an optional YAML
// file and the command-line overrides applied by main.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dj-oyu/codescan/internal/action"
	"github.com/dj-oyu/codescan/internal/detect"
	"github.com/dj-oyu/codescan/internal/logger"
	"github.com/dj-oyu/codescan/internal/scan"
	"github.com/dj-oyu/codescan/internal/scanner"
	"github.com/dj-oyu/codescan/internal/webmonitor"
	"github.com/dj-oyu/codescan/pkg/types"
)

// Config is the complete service configuration.
type Config struct {
	Log      LogConfig               `yaml:"log"`
	Metrics  MetricsConfig           `yaml:"metrics"`
	Source   types.FrameSourceConfig `yaml:"source"`
	Scan     ScanConfig              `yaml:"scan"`
	Detector detect.Config           `yaml:"detector"`
	Action   action.Config           `yaml:"action"`
	History  HistoryConfig           `yaml:"history"`
	Web      webmonitor.Config       `yaml:"web"`
	WebRTC   WebRTCConfig            `yaml:"webrtc"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	Color bool   `yaml:"color"`
}

// MetricsConfig configures the standalone metrics listener. /metrics is always
// served by the web server; Addr adds a second listener.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// ScanConfig holds the session defaults used when a start request omits a field.
type ScanConfig struct {
	Kind            string        `yaml:"kind"`        // any, barcode, qrcode
	Destination     string        `yaml:"destination"` // google, amazon
	Policy          string        `yaml:"policy"`      // stop_after_first, report_all_in_frame, continuous
	RecordTimestamp bool          `yaml:"record_timestamp"`
	Cooldown        time.Duration `yaml:"cooldown"`
	AutoStart       bool          `yaml:"auto_start"` // Start a session when the service starts
}

type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type WebRTCConfig struct {
	Enabled     bool     `yaml:"enabled"`
	STUNServers []string `yaml:"stun_servers"`
	MaxClients  int      `yaml:"max_clients"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level: "info",
			Color: true,
		},
		Source: types.FrameSourceConfig{
			Kind:     "camera",
			Interval: 500 * time.Millisecond,
		},
		Scan: ScanConfig{
			Kind:        "any",
			Destination: "google",
			Policy:      "stop_after_first",
			Cooldown:    3 * time.Second,
		},
		Detector: detect.DefaultConfig(),
		Action:   action.DefaultConfig(),
		History: HistoryConfig{
			Enabled: true,
			Path:    "./scan_history.jsonl",
		},
		Web: webmonitor.DefaultConfig(),
		WebRTC: WebRTCConfig{
			Enabled:     true,
			STUNServers: []string{"stun:stun.l.google.com:19302"},
			MaxClients:  4,
		},
	}
}

// Load reads a YAML file over the defaults. Keys missing from the file keep
// their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the values that cannot be defaulted.
func (c *Config) Validate() error {
	var errs []error
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.StartRequest(); err != nil {
		errs = append(errs, err)
	}
	switch c.Source.Kind {
	case "", "camera", "shm":
	case "mjpeg":
		if c.Source.URL == "" {
			errs = append(errs, errors.New("source.url is required for an mjpeg source"))
		}
	case "dir", "image":
		if c.Source.Path == "" {
			errs = append(errs, fmt.Errorf("source.path is required for a %s source", c.Source.Kind))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown source kind %q", c.Source.Kind))
	}
	if c.Detector.URL != "" && (c.Detector.Threshold < 0 || c.Detector.Threshold > 1) {
		errs = append(errs, fmt.Errorf("detector.threshold %v out of range [0,1]", c.Detector.Threshold))
	}
	if c.History.Enabled && c.History.Path == "" {
		errs = append(errs, errors.New("history.path is required when history is enabled"))
	}
	if c.WebRTC.Enabled && c.WebRTC.MaxClients <= 0 {
		errs = append(errs, errors.New("webrtc.max_clients must be positive"))
	}
	return errors.Join(errs...)
}

// StartRequest converts the scan defaults into a session start request.
func (c *Config) StartRequest() (scanner.StartRequest, error) {
	kind, err := scan.ParseKind(c.Scan.Kind)
	if err != nil {
		return scanner.StartRequest{}, err
	}
	dest, err := scan.ParseDestination(c.Scan.Destination)
	if err != nil {
		return scanner.StartRequest{}, err
	}
	policy, err := scan.ParsePolicy(c.Scan.Policy)
	if err != nil {
		return scanner.StartRequest{}, err
	}
	return scanner.StartRequest{
		Kind:            kind,
		Destination:     dest,
		RecordTimestamp: c.Scan.RecordTimestamp,
		Policy:          policy,
		Cooldown:        c.Scan.Cooldown,
	}, nil
}

// DetectorEnabled reports whether frames are gated by the detector.
func (c *Config) DetectorEnabled() bool {
	return c.Detector.URL != ""
}
