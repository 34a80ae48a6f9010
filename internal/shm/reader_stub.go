//go:build !(shm && linux && cgo)

package shm

import (
	"context"
	"errors"
	"time"

	"github.com/dj-oyu/codescan/pkg/types"
)

// Supported reports whether the binary was built with shared-memory support.
const Supported = false

// ErrNotSupported is returned when the binary lacks shared-memory support.
var ErrNotSupported = errors.New("shared memory source not available (build with -tags shm on linux)")

// Reader is unavailable in this build.
type Reader struct{}

// Open always fails in this build.
func Open(name string, wait time.Duration) (*Reader, error) {
	return nil, ErrNotSupported
}

func (r *Reader) NextFrame(ctx context.Context) (types.Frame, error) {
	return types.Frame{}, ErrNotSupported
}

func (r *Reader) Release() error {
	return nil
}
