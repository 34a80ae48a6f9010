package webmonitor

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/dj-oyu/codescan/internal/scan"
	"github.com/dj-oyu/codescan/pkg/types"
)

var (
	boxColor   = color.RGBA{R: 0, G: 230, B: 64, A: 255}
	textColor  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	labelColor = color.RGBA{R: 0, G: 230, B: 64, A: 255}
	bgColor    = color.RGBA{R: 0, G: 0, B: 0, A: 200}
)

const boxThickness = 3

// renderOverlay copies the frame and draws the symbol boxes, their payloads and
// a stats line.
func renderOverlay(frame types.Frame, symbols []scan.Symbol) *image.RGBA {
	b := frame.Image.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), frame.Image, b.Min, draw.Src)

	stats := fmt.Sprintf("Frame: %d  Time: %s", frame.Seq, frame.Timestamp.Format("2006/01/02 15:04:05"))
	drawTextWithBackground(dst, 10, 10, stats, textColor)

	for _, s := range symbols {
		r := s.Region.Clip(types.RegionFromRect(dst.Bounds()))
		if r.Empty() {
			continue
		}
		drawRect(dst, r, boxColor, boxThickness)

		labelY := r.Y - 20
		if labelY < 5 {
			labelY = r.Y + r.H + 5
		}
		drawTextWithBackground(dst, r.X, labelY, s.Kind.Label()+": "+s.Payload, labelColor)
	}
	return dst
}

func drawRect(img *image.RGBA, r types.Region, c color.Color, thickness int) {
	src := image.NewUniform(c)
	rect := r.Rect()
	edges := []image.Rectangle{
		image.Rect(rect.Min.X, rect.Min.Y, rect.Max.X, rect.Min.Y+thickness),
		image.Rect(rect.Min.X, rect.Max.Y-thickness, rect.Max.X, rect.Max.Y),
		image.Rect(rect.Min.X, rect.Min.Y, rect.Min.X+thickness, rect.Max.Y),
		image.Rect(rect.Max.X-thickness, rect.Min.Y, rect.Max.X, rect.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(img, e.Intersect(img.Bounds()), src, image.Point{}, draw.Src)
	}
}

// drawTextWithBackground draws text with its top-left corner at (x, y).
func drawTextWithBackground(img *image.RGBA, x, y int, text string, c color.Color) {
	face := basicfont.Face7x13
	d := &font.Drawer{Dst: img, Src: image.NewUniform(c), Face: face}

	width := d.MeasureString(text).Ceil()
	height := face.Metrics().Height.Ceil()
	const pad = 2

	bg := image.Rect(x-pad, y-pad, x+width+pad, y+height+pad).Intersect(img.Bounds())
	draw.Draw(img, bg, image.NewUniform(bgColor), image.Point{}, draw.Over)

	d.Dot = fixed.P(x, y+face.Metrics().Ascent.Ceil())
	d.DrawString(text)
}

// encodeJPEG renders the overlay for frame and encodes it.
func encodeJPEG(frame types.Frame, symbols []scan.Symbol, quality int) ([]byte, error) {
	if frame.Image == nil {
		return nil, fmt.Errorf("empty frame")
	}
	img := renderOverlay(frame, symbols)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
