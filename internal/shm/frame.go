// Package shm reads camera frames that a capture daemon publishes into a POSIX
// shared-memory ring buffer. The reader needs cgo and the "shm" build tag; the
// pixel conversion in this file is portable.
package shm

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"github.com/dj-oyu/codescan/pkg/types"
)

// Pixel formats written by the capture daemon.
const (
	FormatJPEG = 0
	FormatNV12 = 1
	FormatRGB  = 2
	FormatH264 = 3

	RingBufferSize = 30
	MaxFrameSize   = 1920 * 1080 * 3 / 2

	DefaultName = "/codescan_frames"
)

// ErrUnsupportedFormat is returned for slots that hold no decodable still image.
var ErrUnsupportedFormat = errors.New("unsupported frame format")

// RawFrame is one ring-buffer slot copied out of shared memory.
type RawFrame struct {
	Number    uint64
	Timestamp time.Time
	CameraID  int
	Width     int
	Height    int
	Format    int
	Data      []byte
}

// ToImage converts the slot's pixel data.
func (f RawFrame) ToImage() (image.Image, error) {
	switch f.Format {
	case FormatNV12:
		return nv12ToImage(f.Data, f.Width, f.Height)
	case FormatRGB:
		return rgbToImage(f.Data, f.Width, f.Height)
	case FormatJPEG:
		img, err := jpeg.Decode(bytes.NewReader(f.Data))
		if err != nil {
			return nil, fmt.Errorf("decode jpeg slot: %w", err)
		}
		return img, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedFormat, f.Format)
	}
}

// Frame converts the slot into a scan frame.
func (f RawFrame) Frame(source string) (types.Frame, error) {
	img, err := f.ToImage()
	if err != nil {
		return types.Frame{}, err
	}
	return types.Frame{
		Image:     img,
		Timestamp: f.Timestamp,
		Seq:       f.Number,
		Source:    source,
	}, nil
}

// nv12ToImage wraps a semi-planar 4:2:0 buffer: a full-size Y plane followed by
// interleaved Cb/Cr samples at half resolution.
func nv12ToImage(data []byte, w, h int) (*image.YCbCr, error) {
	if w <= 0 || h <= 0 || w%2 != 0 || h%2 != 0 {
		return nil, fmt.Errorf("nv12: invalid size %dx%d", w, h)
	}
	ySize := w * h
	if len(data) < ySize+ySize/2 {
		return nil, fmt.Errorf("nv12: short buffer (%d bytes for %dx%d)", len(data), w, h)
	}

	img := image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio420)
	copy(img.Y, data[:ySize])

	uv := data[ySize:]
	for j := 0; j < h/2; j++ {
		row := uv[j*w : (j+1)*w]
		for i := 0; i < w/2; i++ {
			img.Cb[j*img.CStride+i] = row[2*i]
			img.Cr[j*img.CStride+i] = row[2*i+1]
		}
	}
	return img, nil
}

func rgbToImage(data []byte, w, h int) (*image.RGBA, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("rgb: invalid size %dx%d", w, h)
	}
	if len(data) < w*h*3 {
		return nil, fmt.Errorf("rgb: short buffer (%d bytes for %dx%d)", len(data), w, h)
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for p := 0; p < w*h; p++ {
		img.Pix[4*p] = data[3*p]
		img.Pix[4*p+1] = data[3*p+1]
		img.Pix[4*p+2] = data[3*p+2]
		img.Pix[4*p+3] = 0xff
	}
	return img, nil
}
