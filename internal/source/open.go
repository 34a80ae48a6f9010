package source

import (
	"fmt"

	"github.com/go-resty/resty/v2"

	"github.com/dj-oyu/codescan/internal/scan"
	"github.com/dj-oyu/codescan/internal/shm"
	"github.com/dj-oyu/codescan/pkg/types"
)

// Open creates the frame source described by cfg.
func Open(cfg types.FrameSourceConfig, client *resty.Client) (scan.FrameSource, error) {
	switch cfg.Kind {
	case "", "camera":
		cam, err := OpenCamera(cfg.Device)
		if err != nil {
			return nil, err
		}
		return cam, nil
	case "mjpeg":
		if cfg.URL == "" {
			return nil, fmt.Errorf("mjpeg source: url is required")
		}
		return NewMJPEGSource(cfg.URL, client), nil
	case "dir":
		return NewDirSource(cfg.Path, cfg.Interval, cfg.Loop)
	case "shm":
		// Path names the shared-memory ring; Interval bounds the wait for the daemon.
		reader, err := shm.Open(cfg.Path, cfg.Interval)
		if err != nil {
			return nil, err
		}
		return reader, nil
	case "image":
		frame, err := LoadFrame(cfg.Path)
		if err != nil {
			return nil, err
		}
		return NewImageSource(frame), nil
	default:
		return nil, fmt.Errorf("unknown frame source kind %q", cfg.Kind)
	}
}
