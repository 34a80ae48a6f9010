//go:build gocv

package source

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/dj-oyu/codescan/pkg/types"
)

// CameraSupported reports whether the binary was built with camera support.
const CameraSupported = true

// CameraSource captures frames from a local video device through OpenCV.
type CameraSource struct {
	device int

	mu       sync.Mutex
	cap      *gocv.VideoCapture
	mat      gocv.Mat
	seq      uint64
	released bool
}

// OpenCamera opens video device index device.
func OpenCamera(device int) (*CameraSource, error) {
	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("open camera %d: %w", device, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("open camera %d: device not available", device)
	}
	log.Info("Camera %d opened", device)
	return &CameraSource{device: device, cap: vc, mat: gocv.NewMat()}, nil
}

// NextFrame reads one frame from the device.
func (s *CameraSource) NextFrame(ctx context.Context) (types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return types.Frame{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return types.Frame{}, io.EOF
	}
	if ok := s.cap.Read(&s.mat); !ok {
		return types.Frame{}, fmt.Errorf("camera %d: read failed", s.device)
	}
	if s.mat.Empty() {
		return types.Frame{}, fmt.Errorf("camera %d: empty frame", s.device)
	}

	img, err := s.mat.ToImage()
	if err != nil {
		return types.Frame{}, fmt.Errorf("camera %d: convert frame: %w", s.device, err)
	}
	s.seq++
	return types.Frame{
		Image:     img,
		Timestamp: time.Now(),
		Seq:       s.seq,
		Source:    fmt.Sprintf("camera:%d", s.device),
	}, nil
}

// Release closes the device.
func (s *CameraSource) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return nil
	}
	s.released = true
	s.mat.Close()
	log.Info("Camera %d released", s.device)
	return s.cap.Close()
}
