// Package source provides frame sources for scan sessions.
package source

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/dj-oyu/codescan/internal/logger"
	"github.com/dj-oyu/codescan/pkg/types"
)

var log = logger.For("Source")

// Extensions lists the image file extensions the decoders are registered for.
var Extensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tif", ".tiff", ".webp"}

// IsImageFile reports whether path has a supported image extension.
func IsImageFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// DecodeImage decodes any registered image format.
func DecodeImage(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return img, format, nil
}

// LoadFrame reads an image file as a single frame.
func LoadFrame(path string) (types.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.Frame{}, err
	}
	defer f.Close()

	img, _, err := DecodeImage(f)
	if err != nil {
		return types.Frame{}, fmt.Errorf("%s: %w", path, err)
	}
	return types.Frame{Image: img, Timestamp: time.Now(), Seq: 1, Source: "file:" + path}, nil
}

// FrameFromBytes decodes an uploaded image.
func FrameFromBytes(data []byte, name string) (types.Frame, error) {
	img, _, err := DecodeImage(bytes.NewReader(data))
	if err != nil {
		return types.Frame{}, err
	}
	return types.Frame{Image: img, Timestamp: time.Now(), Seq: 1, Source: "upload:" + name}, nil
}

// ImageSource yields one still frame, then io.EOF.
type ImageSource struct {
	frame    types.Frame
	consumed bool
}

// NewImageSource wraps an already decoded frame.
func NewImageSource(frame types.Frame) *ImageSource {
	return &ImageSource{frame: frame}
}

// NextFrame returns the frame once.
func (s *ImageSource) NextFrame(ctx context.Context) (types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return types.Frame{}, err
	}
	if s.consumed {
		return types.Frame{}, io.EOF
	}
	s.consumed = true
	return s.frame, nil
}

// Release is a no-op.
func (s *ImageSource) Release() error {
	return nil
}

// DirSource replays the image files of a directory in name order.
type DirSource struct {
	dir      string
	files    []string
	interval time.Duration
	loop     bool

	mu       sync.Mutex
	next     int
	seq      uint64
	last     time.Time
	released bool
}

// NewDirSource lists the images in dir. With loop set, playback restarts at
// the first file instead of ending. interval paces frames; zero means no delay.
func NewDirSource(dir string, interval time.Duration, loop bool) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !IsImageFile(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("no images in %s", dir)
	}

	log.Info("Directory source %s: %d images", dir, len(files))
	return &DirSource{dir: dir, files: files, interval: interval, loop: loop}, nil
}

// Len returns the number of images found.
func (s *DirSource) Len() int {
	return len(s.files)
}

// NextFrame decodes the next image. Unreadable files are skipped.
func (s *DirSource) NextFrame(ctx context.Context) (types.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return types.Frame{}, io.EOF
	}
	if err := s.pace(ctx); err != nil {
		return types.Frame{}, err
	}

	for attempts := 0; attempts < len(s.files); attempts++ {
		if s.next >= len(s.files) {
			if !s.loop {
				return types.Frame{}, io.EOF
			}
			s.next = 0
		}
		path := s.files[s.next]
		s.next++

		frame, err := LoadFrame(path)
		if err != nil {
			log.Warn("Skipping %s: %v", path, err)
			continue
		}
		s.seq++
		frame.Seq = s.seq
		s.last = time.Now()
		return frame, nil
	}
	return types.Frame{}, io.EOF
}

func (s *DirSource) pace(ctx context.Context) error {
	if s.interval <= 0 || s.last.IsZero() {
		return ctx.Err()
	}
	wait := s.interval - time.Since(s.last)
	if wait <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Release ends playback.
func (s *DirSource) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
	return nil
}
