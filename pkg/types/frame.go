package types

import (
	"image"
	"time"
)

// Frame represents a single captured image with metadata.
// Image must not be modified once the frame has been handed to a consumer.
type Frame struct {
	Image     image.Image // Pixel data (any image.Image implementation)
	Timestamp time.Time   // Frame capture timestamp
	Seq       uint64      // Sequential frame number
	Source    string      // Source name (e.g. "camera:0", "upload")
}

// Width returns the frame width in pixels
func (f Frame) Width() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dx()
}

// Height returns the frame height in pixels
func (f Frame) Height() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dy()
}

// Bounds returns the region covering the whole frame
func (f Frame) Bounds() Region {
	if f.Image == nil {
		return Region{}
	}
	return RegionFromRect(f.Image.Bounds())
}

// Region is a rectangle in frame coordinates.
type Region struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// RegionFromRect converts an image.Rectangle to a Region
func RegionFromRect(r image.Rectangle) Region {
	r = r.Canon()
	return Region{X: r.Min.X, Y: r.Min.Y, W: r.Dx(), H: r.Dy()}
}

// Rect returns the region as an image.Rectangle
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

// Area returns W*H, or 0 for degenerate regions.
func (r Region) Area() int {
	if r.W <= 0 || r.H <= 0 {
		return 0
	}
	return r.W * r.H
}

// Empty reports whether the region has no area
func (r Region) Empty() bool {
	return r.Area() == 0
}

// Clip returns the intersection of r with bounds.
func (r Region) Clip(bounds Region) Region {
	if r.Empty() || bounds.Empty() {
		return Region{}
	}
	return RegionFromRect(r.Rect().Intersect(bounds.Rect()))
}

// Pad grows the region by n pixels on every side.
func (r Region) Pad(n int) Region {
	if n <= 0 {
		return r
	}
	return Region{X: r.X - n, Y: r.Y - n, W: r.W + 2*n, H: r.H + 2*n}
}

// Offset translates r by (dx, dy).
func (r Region) Offset(dx, dy int) Region {
	return Region{X: r.X + dx, Y: r.Y + dy, W: r.W, H: r.H}
}

// FrameSourceConfig holds configuration for a frame source
type FrameSourceConfig struct {
	Kind     string        `yaml:"kind"`     // "camera", "mjpeg", "dir" or "image"
	Device   int           `yaml:"device"`   // Camera device index (camera)
	URL      string        `yaml:"url"`      // MJPEG stream URL (mjpeg)
	Path     string        `yaml:"path"`     // Directory or image path (dir, image)
	Interval time.Duration `yaml:"interval"` // Delay between directory frames
	Loop     bool          `yaml:"loop"`     // Restart the directory at the end (dir)
}
