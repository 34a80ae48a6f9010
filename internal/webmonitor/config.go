package webmonitor

import (
	"time"
)

// Config defines the runtime configuration for the web monitor server.
type Config struct {
	Addr              string        `yaml:"addr"`
	AssetsDir         string        `yaml:"assets_dir"`
	StatusInterval    time.Duration `yaml:"status_interval"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
	JPEGQuality       int           `yaml:"jpeg_quality"`
	MaxUploadBytes    int64         `yaml:"max_upload_bytes"`
	HistoryLimit      int           `yaml:"history_limit"`
	DetectionHistory  int           `yaml:"detection_history"`
}

// DefaultConfig returns the default web monitor settings.
func DefaultConfig() Config {
	return Config{
		Addr:              ":8080",
		AssetsDir:         "./web_assets",
		StatusInterval:    2 * time.Second,
		KeepaliveInterval: 30 * time.Second,
		JPEGQuality:       75,
		MaxUploadBytes:    16 << 20,
		HistoryLimit:      50,
		DetectionHistory:  8,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.StatusInterval <= 0 {
		c.StatusInterval = def.StatusInterval
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = def.KeepaliveInterval
	}
	if c.JPEGQuality <= 0 || c.JPEGQuality > 100 {
		c.JPEGQuality = def.JPEGQuality
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = def.MaxUploadBytes
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = def.HistoryLimit
	}
	if c.DetectionHistory <= 0 {
		c.DetectionHistory = def.DetectionHistory
	}
	return c
}
