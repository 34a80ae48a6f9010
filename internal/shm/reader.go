//go:build shm && linux && cgo

package shm

/*
#cgo LDFLAGS: -lrt -lpthread

#include <stdlib.h>
#include <stdint.h>
#include <time.h>
#include <sys/mman.h>
#include <fcntl.h>
#include <unistd.h>
#include <string.h>
#include <semaphore.h>
#include <errno.h>

#define RING_BUFFER_SIZE 30
#define MAX_FRAME_SIZE (1920 * 1080 * 3 / 2)

typedef struct {
    uint64_t frame_number;
    struct timespec timestamp;
    int camera_id;
    int width;
    int height;
    int format;
    size_t data_size;
    uint8_t data[MAX_FRAME_SIZE];
} Frame;

typedef struct {
    volatile uint32_t write_index;
    volatile uint32_t frame_interval_ms;
    uint8_t new_frame_sem[32];  // sem_t
    Frame frames[RING_BUFFER_SIZE];
} SharedFrameBuffer;

// RDWR is required for sem_timedwait.
SharedFrameBuffer* open_shm(const char* name) {
    int fd = shm_open(name, O_RDWR, 0666);
    if (fd == -1) {
        return NULL;
    }
    SharedFrameBuffer* shm = (SharedFrameBuffer*)mmap(
        NULL, sizeof(SharedFrameBuffer), PROT_READ | PROT_WRITE, MAP_SHARED, fd, 0);
    close(fd);
    if (shm == MAP_FAILED) {
        return NULL;
    }
    return shm;
}

// Returns 0 on a new frame, otherwise a negative errno (-ETIMEDOUT on timeout).
int wait_new_frame(SharedFrameBuffer* shm, int timeout_ms) {
    if (shm == NULL) {
        return -EINVAL;
    }
    struct timespec ts;
    if (clock_gettime(CLOCK_REALTIME, &ts) != 0) {
        return -errno;
    }
    ts.tv_sec += timeout_ms / 1000;
    ts.tv_nsec += (timeout_ms % 1000) * 1000000;
    if (ts.tv_nsec >= 1000000000) {
        ts.tv_sec += 1;
        ts.tv_nsec -= 1000000000;
    }
    if (sem_timedwait((sem_t*)&shm->new_frame_sem, &ts) == -1) {
        return -errno;
    }
    return 0;
}

void close_shm(SharedFrameBuffer* shm) {
    if (shm != NULL) {
        munmap((void*)shm, sizeof(SharedFrameBuffer));
    }
}

uint32_t get_write_index(SharedFrameBuffer* shm) {
    return shm->write_index;
}

int read_frame(SharedFrameBuffer* shm, uint32_t index, Frame* out) {
    if (index >= RING_BUFFER_SIZE) {
        return -1;
    }
    memcpy(out, &shm->frames[index], sizeof(Frame));
    return 0;
}
*/
import "C"

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
	"unsafe"

	"github.com/dj-oyu/codescan/internal/logger"
	"github.com/dj-oyu/codescan/pkg/types"
)

// Supported reports whether the binary was built with shared-memory support.
const Supported = true

var log = logger.For("SharedMemory")

const (
	pollTimeout = 200 * time.Millisecond
	etimedout   = 110
	eintr       = 4
)

var errTimeout = errors.New("timeout")

// Reader delivers the newest still frame of the ring on every NextFrame call.
type Reader struct {
	name string

	mu       sync.Mutex
	shm      *C.SharedFrameBuffer
	slot     *C.Frame
	seen     bool
	lastNum  uint64
	skipH264 int
}

// Open maps the ring buffer, waiting up to wait for the capture daemon to create it.
func Open(name string, wait time.Duration) (*Reader, error) {
	if name == "" {
		name = DefaultName
	}
	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))

	deadline := time.Now().Add(wait)
	var shm *C.SharedFrameBuffer
	for attempt := 0; ; attempt++ {
		shm = C.open_shm(cName)
		if shm != nil || time.Now().After(deadline) {
			break
		}
		if attempt%5 == 0 {
			log.Info("Waiting for shared memory %s to appear...", name)
		}
		time.Sleep(time.Second)
	}
	if shm == nil {
		return nil, fmt.Errorf("failed to open shared memory %s", name)
	}

	log.Info("Opened shared memory: %s", name)
	return &Reader{name: name, shm: shm, slot: new(C.Frame)}, nil
}

// NextFrame blocks until the daemon publishes a new still frame or ctx is done.
// H.264 slots are skipped.
func (r *Reader) NextFrame(ctx context.Context) (types.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return types.Frame{}, err
		}

		r.mu.Lock()
		raw, fresh, err := r.poll()
		r.mu.Unlock()
		if err != nil {
			return types.Frame{}, err
		}
		if !fresh {
			continue
		}
		if raw.Format == FormatH264 {
			r.skipH264++
			if r.skipH264%100 == 1 {
				log.Warn("Skipping H.264 slots in %s; configure the daemon for NV12, RGB or JPEG", r.name)
			}
			continue
		}

		frame, err := raw.Frame("shm:" + r.name)
		if err != nil {
			log.Warn("Dropping frame #%d: %v", raw.Number, err)
			continue
		}
		return frame, nil
	}
}

// poll waits for the semaphore and copies the newest slot. fresh is false when
// nothing new was published.
func (r *Reader) poll() (RawFrame, bool, error) {
	if r.shm == nil {
		return RawFrame{}, false, io.EOF
	}

	if err := r.waitNewFrame(pollTimeout); err != nil && !errors.Is(err, errTimeout) {
		return RawFrame{}, false, err
	}

	writeIndex := uint32(C.get_write_index(r.shm))
	if writeIndex == 0 {
		return RawFrame{}, false, nil
	}
	index := (writeIndex - 1) % RingBufferSize
	if C.read_frame(r.shm, C.uint32_t(index), r.slot) != 0 {
		return RawFrame{}, false, fmt.Errorf("failed to read frame at index %d", index)
	}

	num := uint64(r.slot.frame_number)
	if r.seen && num == r.lastNum {
		return RawFrame{}, false, nil
	}
	r.seen = true
	r.lastNum = num

	size := int(r.slot.data_size)
	if size < 0 || size > MaxFrameSize {
		return RawFrame{}, false, fmt.Errorf("frame #%d: invalid size %d", num, size)
	}
	data := make([]byte, size)
	copy(data, unsafe.Slice((*byte)(unsafe.Pointer(&r.slot.data[0])), size))

	return RawFrame{
		Number:    num,
		Timestamp: time.Unix(int64(r.slot.timestamp.tv_sec), int64(r.slot.timestamp.tv_nsec)),
		CameraID:  int(r.slot.camera_id),
		Width:     int(r.slot.width),
		Height:    int(r.slot.height),
		Format:    int(r.slot.format),
		Data:      data,
	}, true, nil
}

func (r *Reader) waitNewFrame(timeout time.Duration) error {
	result := int(C.wait_new_frame(r.shm, C.int(timeout.Milliseconds())))
	if result == 0 {
		return nil
	}

	switch errNum := -result; errNum {
	case etimedout, eintr:
		return errTimeout
	default:
		return fmt.Errorf("semaphore wait failed (errno %d)", errNum)
	}
}

// Release unmaps the ring buffer. Later reads return io.EOF.
func (r *Reader) Release() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shm != nil {
		C.close_shm(r.shm)
		r.shm = nil
	}
	return nil
}
