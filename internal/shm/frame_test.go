package shm

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNV12Conversion(t *testing.T) {
	const w, h = 4, 2
	data := []byte{
		10, 20, 30, 40,
		50, 60, 70, 80,
		// one chroma row: (Cb, Cr) pairs for two 2x2 blocks
		100, 150, 110, 160,
	}

	img, err := nv12ToImage(data, w, h)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, w, h), img.Bounds())
	assert.Equal(t, uint8(60), img.Y[img.YOffset(1, 1)])
	assert.Equal(t, uint8(100), img.Cb[img.COffset(1, 1)])
	assert.Equal(t, uint8(150), img.Cr[img.COffset(1, 1)])
	assert.Equal(t, uint8(110), img.Cb[img.COffset(3, 0)])
	assert.Equal(t, uint8(160), img.Cr[img.COffset(3, 0)])
}

func TestNV12RejectsBadInput(t *testing.T) {
	_, err := nv12ToImage(make([]byte, 10), 4, 2)
	assert.Error(t, err, "short buffer")
	_, err = nv12ToImage(make([]byte, 100), 3, 2)
	assert.Error(t, err, "odd width")
}

func TestRGBConversion(t *testing.T) {
	data := []byte{255, 0, 0, 0, 255, 0}
	img, err := rgbToImage(data, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 255, A: 255}, img.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{G: 255, A: 255}, img.RGBAAt(1, 0))

	_, err = rgbToImage(data, 2, 2)
	assert.Error(t, err)
}

func TestRawFrameToFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 16, 8)), nil))

	ts := time.Unix(1700000000, 0)
	frame, err := RawFrame{Number: 42, Timestamp: ts, Width: 16, Height: 8, Format: FormatJPEG, Data: buf.Bytes()}.Frame("shm:/test")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), frame.Seq)
	assert.Equal(t, ts, frame.Timestamp)
	assert.Equal(t, 16, frame.Width())
	assert.Equal(t, "shm:/test", frame.Source)

	_, err = RawFrame{Format: FormatH264, Data: []byte{0, 0, 0, 1}}.ToImage()
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
