//go:build !gocv

package source

import (
	"context"
	"errors"

	"github.com/dj-oyu/codescan/pkg/types"
)

// CameraSupported reports whether the binary was built with camera support.
const CameraSupported = false

// ErrNoCamera is returned when the binary was built without the gocv tag.
var ErrNoCamera = errors.New("camera support not built in (rebuild with -tags gocv)")

// CameraSource is unavailable in this build.
type CameraSource struct{}

// OpenCamera always fails without the gocv build tag.
func OpenCamera(device int) (*CameraSource, error) {
	return nil, ErrNoCamera
}

func (s *CameraSource) NextFrame(ctx context.Context) (types.Frame, error) {
	return types.Frame{}, ErrNoCamera
}

func (s *CameraSource) Release() error {
	return nil
}
