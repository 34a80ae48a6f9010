package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/dj-oyu/codescan/pkg/types"
)

// maxPartSize bounds a single JPEG part.
const maxPartSize = 16 << 20

// MJPEGSource reads frames from a multipart/x-mixed-replace HTTP stream,
// such as an IP camera or another scanner's /stream endpoint.
type MJPEGSource struct {
	url    string
	client *resty.Client

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	body     io.ReadCloser
	parts    *multipart.Reader
	seq      uint64
	released bool
}

// NewMJPEGSource creates a source for url. The connection is opened on the
// first NextFrame call. A nil client uses a fresh resty client.
func NewMJPEGSource(url string, client *resty.Client) *MJPEGSource {
	if client == nil {
		client = resty.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &MJPEGSource{
		url:    url,
		client: client,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *MJPEGSource) open() error {
	resp, err := s.client.R().
		SetContext(s.ctx).
		SetDoNotParseResponse(true).
		SetHeader("Accept", "multipart/x-mixed-replace").
		Get(s.url)
	if err != nil {
		return fmt.Errorf("connect %s: %w", s.url, err)
	}

	body := resp.RawBody()
	if resp.StatusCode() != http.StatusOK {
		body.Close()
		return fmt.Errorf("connect %s: unexpected status %d", s.url, resp.StatusCode())
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header().Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		body.Close()
		return fmt.Errorf("connect %s: not a multipart stream (%q)", s.url, resp.Header().Get("Content-Type"))
	}
	boundary := strings.TrimPrefix(params["boundary"], "--")
	if boundary == "" {
		body.Close()
		return fmt.Errorf("connect %s: missing multipart boundary", s.url)
	}

	s.body = body
	s.parts = multipart.NewReader(body, boundary)
	log.Info("Connected to MJPEG stream %s", s.url)
	return nil
}

// NextFrame reads and decodes the next JPEG part. Cancelling ctx closes the stream.
func (s *MJPEGSource) NextFrame(ctx context.Context) (types.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return types.Frame{}, io.EOF
	}
	stop := context.AfterFunc(ctx, s.cancel)
	defer stop()

	if s.parts == nil {
		if err := s.open(); err != nil {
			return types.Frame{}, err
		}
	}

	for {
		part, err := s.parts.NextPart()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return types.Frame{}, io.EOF
			}
			if ctx.Err() != nil {
				return types.Frame{}, ctx.Err()
			}
			return types.Frame{}, fmt.Errorf("read part: %w", err)
		}

		ct := part.Header.Get("Content-Type")
		if ct != "" && !strings.HasPrefix(ct, "image/") {
			part.Close()
			continue
		}

		img, _, err := DecodeImage(io.LimitReader(part, maxPartSize))
		part.Close()
		if err != nil {
			log.Debug("Skipping undecodable part: %v", err)
			continue
		}

		s.seq++
		return types.Frame{
			Image:     img,
			Timestamp: time.Now(),
			Seq:       s.seq,
			Source:    "mjpeg:" + s.url,
		}, nil
	}
}

// Release closes the stream.
func (s *MJPEGSource) Release() error {
	s.cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil
	}
	s.released = true
	if s.body != nil {
		return s.body.Close()
	}
	return nil
}
