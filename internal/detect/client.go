// Package detect restricts decoding to the objects found by an external
// detector service.
package detect

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/dj-oyu/codescan/internal/logger"
	"github.com/dj-oyu/codescan/pkg/types"
)

var log = logger.For("Detect")

// Config holds detector client settings.
type Config struct {
	URL         string        `yaml:"url"`          // Endpoint accepting a JPEG body
	Threshold   float64       `yaml:"threshold"`    // Minimum confidence
	Classes     []string      `yaml:"classes"`      // Accepted class names; empty accepts all
	Padding     int           `yaml:"padding"`      // Pixels added around each box
	MaxRegions  int           `yaml:"max_regions"`  // 0 = unlimited
	Timeout     time.Duration `yaml:"timeout"`      // Per-request timeout
	JPEGQuality int           `yaml:"jpeg_quality"` // Upload quality
}

// DefaultConfig returns the default detector client settings.
func DefaultConfig() Config {
	return Config{
		Threshold:   0.5,
		Padding:     16,
		Timeout:     2 * time.Second,
		JPEGQuality: 85,
	}
}

// Client posts frames to the detector and turns detections into regions.
type Client struct {
	cfg     Config
	http    *resty.Client
	classes map[string]bool
}

// New creates a client. A nil http client gets a fresh resty client.
func New(cfg Config, http *resty.Client) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("detect: url is required")
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 85
	}
	if http == nil {
		http = resty.New()
	}
	if cfg.Timeout > 0 {
		http.SetTimeout(cfg.Timeout)
	}

	c := &Client{cfg: cfg, http: http}
	if len(cfg.Classes) > 0 {
		c.classes = make(map[string]bool, len(cfg.Classes))
		for _, name := range cfg.Classes {
			c.classes[strings.ToLower(name)] = true
		}
	}
	return c, nil
}

// Detect sends frame to the detector and returns its raw detections.
func (c *Client) Detect(ctx context.Context, frame types.Frame) ([]types.Detection, error) {
	if frame.Image == nil {
		return nil, errors.New("detect: empty frame")
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame.Image, &jpeg.Options{Quality: c.cfg.JPEGQuality}); err != nil {
		return nil, fmt.Errorf("detect: encode frame: %w", err)
	}

	var result types.DetectionResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "image/jpeg").
		SetHeader("X-Frame-Number", fmt.Sprintf("%d", frame.Seq)).
		SetBody(buf.Bytes()).
		SetResult(&result).
		Post(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("detect: detector returned %d", resp.StatusCode())
	}
	return result.Detections, nil
}

// Regions implements scan.RegionFilter. Accepted detections are padded and
// clipped to the frame and returned in reading order: top to bottom, then left
// to right. Boxes with no area, before or after clipping, are dropped.
func (c *Client) Regions(ctx context.Context, frame types.Frame) ([]types.Region, error) {
	dets, err := c.Detect(ctx, frame)
	if err != nil {
		return nil, err
	}
	regions := c.Select(dets, frame.Bounds())
	log.Debug("Frame #%d: %d detections, %d regions", frame.Seq, len(dets), len(regions))
	return regions, nil
}

// Select filters detections and converts them to regions inside bounds. With
// MaxRegions set, the most confident detections are kept.
func (c *Client) Select(dets []types.Detection, bounds types.Region) []types.Region {
	accepted := make([]types.Detection, 0, len(dets))
	for _, d := range dets {
		if d.BBox.Empty() || d.Confidence < c.cfg.Threshold {
			continue
		}
		if c.classes != nil && !c.classes[strings.ToLower(d.ClassName)] {
			continue
		}
		accepted = append(accepted, d)
	}
	sort.SliceStable(accepted, func(i, j int) bool {
		return accepted[i].Confidence > accepted[j].Confidence
	})

	var regions []types.Region
	for _, d := range accepted {
		r := d.BBox.Pad(c.cfg.Padding).Clip(bounds)
		if r.Empty() {
			continue
		}
		regions = append(regions, r)
		if c.cfg.MaxRegions > 0 && len(regions) == c.cfg.MaxRegions {
			break
		}
	}
	sort.SliceStable(regions, func(i, j int) bool {
		if regions[i].Y != regions[j].Y {
			return regions[i].Y < regions[j].Y
		}
		return regions[i].X < regions[j].X
	})
	return regions
}
